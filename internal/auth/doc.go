// Package auth provides API authentication for wbot-gateway.
//
// # Tokens
//
// API clients authenticate with HS256 JWTs signed with the configured
// jwt_secret. The "sub" claim carries the company id the caller acts for:
//
//	verifier, err := NewJWTVerifier(secret)
//	token, err := verifier.GenerateForCompany(42, 24*time.Hour)
//
// # HTTP Middleware
//
// HTTPAuthMiddleware extracts the bearer token, verifies it, and attaches an
// AuthContext to the request context. Handlers read it with FromContext and
// must scope every lookup to AuthContext.CompanyID.
//
// When no secret is configured the gateway runs with NoAuthMiddleware, which
// scopes requests to the company named in the X-Company-ID header. This is
// meant for local development against the simulator engine only.
package auth
