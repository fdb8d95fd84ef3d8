// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts JWT from Authorization header and adds the caller's company to context

package auth

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// CompanyHeader names the company when auth is disabled.
const CompanyHeader = "X-Company-ID"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// CompanyVerifier verifies a token and returns the company it is scoped to.
type CompanyVerifier interface {
	VerifyCompany(tokenString string) (int64, error)
}

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates JWT tokens.
// A token is accepted when it verifies and its subject is a company id.
// SSE clients that cannot set headers may pass the token as ?access_token=.
func HTTPAuthMiddleware(verifier CompanyVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				if qt := r.URL.Query().Get("access_token"); qt != "" {
					header = "Bearer " + qt
				}
			}
			token, errMsg := extractBearerToken(header)
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			companyID, err := verifier.VerifyCompany(token)
			if err != nil {
				logger.Debug("rejected api token", "path", r.URL.Path, "error", err)
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			authCtx := &AuthContext{CompanyID: companyID, Subject: strconv.FormatInt(companyID, 10)}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// NoAuthMiddleware scopes requests to the company in the X-Company-ID header.
func NoAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			companyID, err := ParseCompanyID(r.Header.Get(CompanyHeader))
			if err != nil {
				http.Error(w, `{"error":"missing or invalid `+CompanyHeader+` header"}`, http.StatusBadRequest)
				return
			}
			authCtx := &AuthContext{CompanyID: companyID, Subject: strconv.FormatInt(companyID, 10), Anonymous: true}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}
