// ABOUTME: One live engine connection and the per-account state hanging off it
// ABOUTME: Ready signal, detach flag, key store handle, and lazy identity mapping

package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/2389/coven-wbot/internal/authstate"
	"github.com/2389/coven-wbot/internal/transport"
)

// IdentityMapping translates between phone addresses and opaque identifiers.
type IdentityMapping interface {
	PhoneForOpaque(ctx context.Context, opaque string) (string, error)
	OpaqueForPhone(ctx context.Context, phone string) (string, error)
}

// ConnectionParams holds everything needed to create a Connection.
type ConnectionParams struct {
	AccountID int64
	CompanyID int64
	Name      string
	Socket    transport.Socket
	Keys      *authstate.KeyStore

	// NewMapping builds the identity mapping on first use.
	NewMapping func() IdentityMapping

	Logger *slog.Logger
}

// Connection is a live socket bound to an account.
type Connection struct {
	AccountID int64
	CompanyID int64
	Name      string

	socket transport.Socket
	keys   *authstate.KeyStore

	ready     chan struct{}
	readyOnce sync.Once
	detached  atomic.Bool
	closeOnce sync.Once

	mappingOnce sync.Once
	newMapping  func() IdentityMapping
	mapping     IdentityMapping

	logger *slog.Logger
}

// NewConnection creates a Connection.
func NewConnection(p ConnectionParams) *Connection {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		AccountID:  p.AccountID,
		CompanyID:  p.CompanyID,
		Name:       p.Name,
		socket:     p.Socket,
		keys:       p.Keys,
		ready:      make(chan struct{}),
		newMapping: p.NewMapping,
		logger:     logger.With("account_id", p.AccountID, "company_id", p.CompanyID),
	}
}

// Socket returns the engine socket.
func (c *Connection) Socket() transport.Socket { return c.socket }

// Keys returns the account's key store, or nil.
func (c *Connection) Keys() *authstate.KeyStore { return c.keys }

// Logger returns a logger carrying the account and company ids.
func (c *Connection) Logger() *slog.Logger { return c.logger }

// MarkReady closes the ready signal. Later calls are no-ops.
func (c *Connection) MarkReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// Ready is closed once the connection has opened.
func (c *Connection) Ready() <-chan struct{} { return c.ready }

// IsReady reports whether the connection has opened.
func (c *Connection) IsReady() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

// WaitReady blocks until the connection opens or ctx is done.
func (c *Connection) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Detach marks the connection's listeners as removed. Events arriving after
// detach must be ignored.
func (c *Connection) Detach() { c.detached.Store(true) }

// Detached reports whether Detach was called.
func (c *Connection) Detached() bool { return c.detached.Load() }

// Mapping returns the identity mapping, building it on first use. It returns
// nil when the connection has no mapping constructor.
func (c *Connection) Mapping() IdentityMapping {
	c.mappingOnce.Do(func() {
		if c.newMapping != nil {
			c.mapping = c.newMapping()
		}
	})
	return c.mapping
}

// close detaches and closes the socket, optionally logging out first. Only
// the first call reaches the socket.
func (c *Connection) close(ctx context.Context, sendLogout bool) {
	c.Detach()
	if c.socket == nil {
		return
	}
	c.closeOnce.Do(func() {
		if sendLogout {
			if err := c.socket.Logout(ctx); err != nil {
				c.logger.Warn("logout failed", "error", err)
			}
		}
		if err := c.socket.Close(); err != nil {
			c.logger.Warn("closing socket failed", "error", err)
		}
	})
}
