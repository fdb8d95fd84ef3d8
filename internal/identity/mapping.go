// ABOUTME: Phone address to opaque identifier mapping backed by the account key store
// ABOUTME: Cached pairs, lid-mapping category persistence, and an engine fallback lookup

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-wbot/internal/authstate"
	"github.com/2389/coven-wbot/internal/cache"
	"github.com/2389/coven-wbot/internal/jid"
	"github.com/2389/coven-wbot/internal/session"
	"github.com/2389/coven-wbot/internal/transport"
)

// ErrMappingUnavailable is returned when no mapping exists or the lookup failed.
var ErrMappingUnavailable = errors.New("identity mapping unavailable")

// Default cache parameters.
const (
	DefaultMappingTTL  = 3 * 24 * time.Hour
	DefaultMappingSize = 10000
)

// reverseSuffix marks opaque→phone entries in the lid-mapping category.
const reverseSuffix = "_reverse"

// Existence answers the engine's "is this address registered" query.
type Existence interface {
	OnWhatsApp(ctx context.Context, jids ...string) ([]transport.Existence, error)
}

// MappingStore implements session.IdentityMapping.
type MappingStore struct {
	keys   transport.KeyStore
	engine Existence
	cache  *cache.TTL[string]
	logger *slog.Logger
}

var _ session.IdentityMapping = (*MappingStore)(nil)

// NewMappingStore creates a mapping store over keys with the default cache
// bounds. engine may be nil.
func NewMappingStore(keys transport.KeyStore, engine Existence, logger *slog.Logger) *MappingStore {
	return NewMappingStoreSized(keys, engine, DefaultMappingTTL, DefaultMappingSize, logger)
}

// NewMappingStoreSized is NewMappingStore with explicit cache bounds.
func NewMappingStoreSized(keys transport.KeyStore, engine Existence, ttl time.Duration, size int, logger *slog.Logger) *MappingStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MappingStore{
		keys:   keys,
		engine: engine,
		cache:  cache.NewTTL[string](ttl, size),
		logger: logger.With("component", "identity"),
	}
}

// Close stops the cache sweeper.
func (m *MappingStore) Close() { m.cache.Close() }

// Store records a phone/opaque pair in both directions.
func (m *MappingStore) Store(ctx context.Context, phone, opaque string) error {
	pnUser := jid.User(phone)
	lidUser := jid.User(opaque)
	if pnUser == "" || lidUser == "" {
		return fmt.Errorf("storing mapping %q/%q: empty identifier", phone, opaque)
	}

	entries := make(map[string]any, 2)
	entries[pnUser] = lidUser
	entries[lidUser+reverseSuffix] = pnUser

	err := m.keys.Set(ctx, map[authstate.Category]map[string]any{
		authstate.CategoryIdentityMapping: entries,
	})
	if err != nil {
		return fmt.Errorf("storing mapping: %w", err)
	}
	m.cache.Set(pnUser, lidUser)
	m.cache.Set(lidUser+reverseSuffix, pnUser)
	return nil
}

// PhoneForOpaque returns the phone address mapped to an opaque identifier.
func (m *MappingStore) PhoneForOpaque(ctx context.Context, opaque string) (string, error) {
	if !jid.IsOpaqueID(opaque) {
		return "", fmt.Errorf("%q is not an opaque id: %w", opaque, ErrMappingUnavailable)
	}
	user, err := m.lookup(ctx, jid.User(opaque)+reverseSuffix)
	if err != nil {
		return "", err
	}
	return user + "@" + jid.PhoneServer, nil
}

// OpaqueForPhone returns the opaque identifier mapped to a phone address,
// asking the engine when nothing is stored.
func (m *MappingStore) OpaqueForPhone(ctx context.Context, phone string) (string, error) {
	if !jid.IsPhoneAddress(phone) {
		return "", fmt.Errorf("%q is not a phone address: %w", phone, ErrMappingUnavailable)
	}
	pnUser := jid.User(phone)

	user, err := m.lookup(ctx, pnUser)
	if err == nil {
		return user + "@" + jid.OpaqueServer, nil
	}
	if m.engine == nil {
		return "", err
	}

	results, qerr := m.engine.OnWhatsApp(ctx, pnUser+"@"+jid.PhoneServer)
	if qerr != nil {
		return "", fmt.Errorf("querying engine: %v: %w", qerr, ErrMappingUnavailable)
	}
	for _, r := range results {
		if !r.Exists || !jid.IsOpaqueID(r.LID) {
			continue
		}
		if serr := m.Store(ctx, phone, r.LID); serr != nil {
			m.logger.Warn("persisting engine mapping failed", "error", serr)
		}
		return jid.Normalize(r.LID), nil
	}
	return "", err
}

func (m *MappingStore) lookup(ctx context.Context, id string) (string, error) {
	if v, ok := m.cache.Get(id); ok {
		return v, nil
	}

	found, err := m.keys.Get(ctx, authstate.CategoryIdentityMapping, []string{id})
	if err != nil {
		return "", fmt.Errorf("reading mapping %s: %v: %w", id, err, ErrMappingUnavailable)
	}
	v, ok := found[id].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("no mapping for %s: %w", id, ErrMappingUnavailable)
	}
	m.cache.Set(id, v)
	return v, nil
}
