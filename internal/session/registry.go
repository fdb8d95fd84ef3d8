// ABOUTME: Process-wide index of live connections keyed by account id
// ABOUTME: Register is idempotent; Remove closes the socket with optional logout

package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// ErrNotInitialized is returned by Lookup when no connection is registered
// for the account.
var ErrNotInitialized = errors.New("session not initialized")

// Registry holds the live connections.
type Registry struct {
	conns  map[int64]*Connection
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[int64]*Connection),
		logger: logger.With("component", "session"),
	}
}

// Register adds conn unless a connection is already registered for its
// account. It reports whether conn was added.
func (r *Registry) Register(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.AccountID]; exists {
		return false
	}

	r.conns[conn.AccountID] = conn
	r.logger.Info("session registered",
		"account_id", conn.AccountID,
		"company_id", conn.CompanyID,
		"total_sessions", len(r.conns),
	)
	return true
}

// Lookup returns the connection for an account.
func (r *Registry) Lookup(accountID int64) (*Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[accountID]
	if !ok {
		return nil, ErrNotInitialized
	}
	return conn, nil
}

// Has reports whether conn is the registered connection of its account.
func (r *Registry) Has(conn *Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[conn.AccountID] == conn
}

// Remove unregisters the account's connection and closes it, sending a
// protocol logout first when sendLogout is set. Failures are logged only.
// Removing an unknown account is a no-op.
func (r *Registry) Remove(ctx context.Context, accountID int64, sendLogout bool) {
	r.mu.Lock()
	conn, ok := r.conns[accountID]
	if ok {
		delete(r.conns, accountID)
	}
	total := len(r.conns)
	r.mu.Unlock()

	if !ok {
		return
	}

	conn.close(ctx, sendLogout)
	r.logger.Info("session removed",
		"account_id", accountID,
		"logout", sendLogout,
		"total_sessions", total,
	)
}

// Detach closes conn if it is still registered, or closes it without
// touching the registry when a newer connection replaced it.
func (r *Registry) Detach(ctx context.Context, conn *Connection, sendLogout bool) {
	r.mu.Lock()
	if r.conns[conn.AccountID] == conn {
		delete(r.conns, conn.AccountID)
	}
	r.mu.Unlock()
	conn.close(ctx, sendLogout)
}

// ListIDs returns the registered account ids in ascending order.
func (r *Registry) ListIDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseCompany removes every connection of a company without logging out and
// returns the affected account ids in ascending order.
func (r *Registry) CloseCompany(ctx context.Context, companyID int64) []int64 {
	r.mu.Lock()
	var victims []*Connection
	for id, conn := range r.conns {
		if conn.CompanyID == companyID {
			victims = append(victims, conn)
			delete(r.conns, id)
		}
	}
	r.mu.Unlock()

	ids := make([]int64, 0, len(victims))
	for _, conn := range victims {
		conn.close(ctx, false)
		ids = append(ids, conn.AccountID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	r.logger.Info("company sessions closed", "company_id", companyID, "count", len(ids))
	return ids
}

// CloseAll removes and closes every connection without logging out.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[int64]*Connection)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.close(ctx, false)
	}
	r.logger.Info("all sessions closed", "count", len(conns))
}
