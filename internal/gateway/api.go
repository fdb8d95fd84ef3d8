// ABOUTME: HTTP API handlers for session control and the notification SSE stream
// ABOUTME: Every route is scoped to the caller's company from the auth context

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/coven-wbot/internal/auth"
	"github.com/2389/coven-wbot/internal/session"
	"github.com/2389/coven-wbot/internal/store"
	"github.com/2389/coven-wbot/internal/transport"
	"github.com/2389/coven-wbot/internal/transport/simulator"
	"github.com/2389/coven-wbot/internal/wbot"
)

// sseHeartbeat is the interval between keep-alive comments on /api/events.
const sseHeartbeat = 25 * time.Second

// CreateSessionRequest is the JSON request body for POST /api/sessions.
type CreateSessionRequest struct {
	Name string `json:"name"`
}

// PairRequest is the JSON request body for POST /api/sessions/{id}/pair.
type PairRequest struct {
	Number string `json:"number"`
}

// KickRequest is the JSON request body for POST /api/sessions/{id}/kick.
type KickRequest struct {
	Code int `json:"code"`
}

// SessionsResponse is the JSON response for GET /api/sessions.
type SessionsResponse struct {
	Sessions []wbot.SessionInfo `json:"sessions"`
}

// RestartResponse is the JSON response for POST /api/companies/{id}/restart.
type RestartResponse struct {
	Restarted []int64 `json:"restarted"`
}

// Kicker is implemented by engines that can force a disconnect.
type Kicker interface {
	Kick(accountID int64, code int) error
}

// registerAPIRoutes registers API routes on the mux behind the auth middleware.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux, mw func(http.Handler) http.Handler) {
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, mw(h))
	}
	handle("GET /api/sessions", g.handleListSessions)
	handle("POST /api/sessions", g.handleCreateSession)
	handle("POST /api/sessions/{id}/start", g.handleStartSession)
	handle("POST /api/sessions/{id}/logout", g.handleLogoutSession)
	handle("POST /api/sessions/{id}/pair", g.handlePairSession)
	handle("POST /api/sessions/{id}/kick", g.handleKickSession)
	handle("POST /api/companies/{id}/restart", g.handleRestartCompany)
	handle("GET /api/events", g.handleEvents)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK with the number of live sessions.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d sessions)", g.registry.Len())
}

// handleListSessions handles GET /api/sessions.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	caller := auth.FromContext(r.Context())

	infos, err := g.service.Sessions(r.Context(), caller.CompanyID)
	if err != nil {
		g.logger.Error("failed to list sessions", "company_id", caller.CompanyID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, SessionsResponse{Sessions: infos})
}

// handleCreateSession handles POST /api/sessions.
func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	caller := auth.FromContext(r.Context())

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		g.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	acct := &store.Account{CompanyID: caller.CompanyID, Name: req.Name}
	if err := g.store.CreateAccount(r.Context(), acct); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			g.sendJSONError(w, http.StatusConflict, "session name already in use")
			return
		}
		g.logger.Error("failed to create account", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusCreated, acct)
}

// ownedAccount resolves the {id} path value to an account of the caller's
// company. It writes the error response and returns nil on failure.
func (g *Gateway) ownedAccount(w http.ResponseWriter, r *http.Request) *store.Account {
	caller := auth.FromContext(r.Context())

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid session id")
		return nil
	}
	acct, err := g.store.GetAccount(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && acct.CompanyID != caller.CompanyID) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return nil
	}
	if err != nil {
		g.logger.Error("failed to load account", "account_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return nil
	}
	return acct
}

// handleStartSession handles POST /api/sessions/{id}/start.
func (g *Gateway) handleStartSession(w http.ResponseWriter, r *http.Request) {
	acct := g.ownedAccount(w, r)
	if acct == nil {
		return
	}
	if err := g.service.Start(r.Context(), acct.ID); err != nil {
		g.sendServiceError(w, acct.ID, "start", err)
		return
	}
	g.sendJSON(w, http.StatusAccepted, map[string]any{"id": acct.ID, "status": store.StatusOpening})
}

// handleLogoutSession handles POST /api/sessions/{id}/logout.
func (g *Gateway) handleLogoutSession(w http.ResponseWriter, r *http.Request) {
	acct := g.ownedAccount(w, r)
	if acct == nil {
		return
	}
	if err := g.service.Logout(r.Context(), acct.ID); err != nil {
		g.sendServiceError(w, acct.ID, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePairSession handles POST /api/sessions/{id}/pair.
func (g *Gateway) handlePairSession(w http.ResponseWriter, r *http.Request) {
	acct := g.ownedAccount(w, r)
	if acct == nil {
		return
	}
	var req PairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Number == "" {
		g.sendJSONError(w, http.StatusBadRequest, "number is required")
		return
	}
	if err := g.service.Pair(acct.ID, req.Number); err != nil {
		g.sendServiceError(w, acct.ID, "pair", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleKickSession handles POST /api/sessions/{id}/kick.
func (g *Gateway) handleKickSession(w http.ResponseWriter, r *http.Request) {
	acct := g.ownedAccount(w, r)
	if acct == nil {
		return
	}
	kicker, ok := g.dialer.(Kicker)
	if !ok {
		g.sendJSONError(w, http.StatusNotImplemented, "engine does not support kicking")
		return
	}
	var req KickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Code == 0 {
		req.Code = transport.ReasonConnectionClosed
	}
	if err := kicker.Kick(acct.ID, req.Code); err != nil {
		g.sendServiceError(w, acct.ID, "kick", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleRestartCompany handles POST /api/companies/{id}/restart.
func (g *Gateway) handleRestartCompany(w http.ResponseWriter, r *http.Request) {
	caller := auth.FromContext(r.Context())

	companyID, err := auth.ParseCompanyID(r.PathValue("id"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid company id")
		return
	}
	if companyID != caller.CompanyID {
		g.sendJSONError(w, http.StatusForbidden, "company mismatch")
		return
	}

	ids, err := g.service.RestartCompany(r.Context(), companyID)
	if err != nil {
		g.logger.Warn("company restart incomplete", "company_id", companyID, "error", err)
	}
	g.sendJSON(w, http.StatusOK, RestartResponse{Restarted: ids})
}

// handleEvents handles GET /api/events, streaming the caller's company
// notifications as SSE until the client disconnects.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	caller := auth.FromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events, _ := g.broadcaster.Subscribe(ctx, caller.CompanyID)

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case n, ok := <-events:
			if !ok {
				return
			}
			g.writeSSEEvent(w, n.Event, n)
			flusher.Flush()
		}
	}
}

// sendServiceError maps service errors to HTTP statuses.
func (g *Gateway) sendServiceError(w http.ResponseWriter, accountID int64, op string, err error) {
	switch {
	case errors.Is(err, wbot.ErrPairingUnsupported):
		g.sendJSONError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, wbot.ErrShuttingDown):
		g.sendJSONError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, simulator.ErrNoSocket), errors.Is(err, session.ErrNotInitialized):
		g.sendJSONError(w, http.StatusConflict, "session is not live")
	default:
		g.logger.Error("session operation failed", "op", op, "account_id", accountID, "error", err)
		g.sendJSONError(w, http.StatusBadGateway, "session operation failed")
	}
}

// writeSSEEvent writes a single SSE event.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// sendJSON writes a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
