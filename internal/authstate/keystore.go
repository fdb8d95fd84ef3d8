// ABOUTME: Key store adapter serving batched get/set over the bundle's key partitions
// ABOUTME: Merges writes per category and triggers a background save of the whole bundle

package authstate

import (
	"context"
	"log/slog"
	"sync"
)

// KeyStore serves the engine's key reads and writes against a Bundle.
type KeyStore struct {
	mu        sync.RWMutex
	bundle    *Bundle
	persister *persister
	logger    *slog.Logger
}

// State is the credential state handed to the engine.
type State struct {
	Creds *Creds
	Keys  *KeyStore
}

// Load decodes blob and wraps it in a KeyStore that persists through save.
// A blob that cannot be decoded is logged and replaced by a fresh bundle.
func Load(blob string, save SaveFunc, logger *slog.Logger) (*State, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bundle, err := Decode(blob, logger)
	if err != nil {
		logger.Error("persisted session unreadable, starting fresh", "error", err)
		bundle, err = NewBundle()
		if err != nil {
			return nil, err
		}
	}
	ks := NewKeyStore(bundle, save, logger)
	return &State{Creds: bundle.Creds, Keys: ks}, nil
}

// NewKeyStore wraps bundle. A nil save disables persistence.
func NewKeyStore(bundle *Bundle, save SaveFunc, logger *slog.Logger) *KeyStore {
	if logger == nil {
		logger = slog.Default()
	}
	if bundle.Keys == nil {
		bundle.Keys = make(map[string]map[string]any)
	}
	ks := &KeyStore{
		bundle: bundle,
		logger: logger,
	}
	ks.persister = newPersister(save, ks.encode, logger)
	return ks
}

// Get returns the stored values for ids in category. Unknown ids are absent
// from the result. App-state sync keys are returned as *AppStateSyncKeyData.
func (s *KeyStore) Get(ctx context.Context, category Category, ids []string) (map[string]any, error) {
	partition, err := category.Partition()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(ids))
	stored := s.bundle.Keys[partition]
	for _, id := range ids {
		value, ok := stored[id]
		if !ok || value == nil {
			continue
		}
		if category == CategoryAppStateSyncKey {
			canonical, err := CanonicalAppStateSyncKey(value)
			if err != nil {
				s.logger.Warn("skipping malformed app state sync key", "id", id, "error", err)
				continue
			}
			value = canonical
		}
		out[id] = value
	}
	return out, nil
}

// Set merges updates into the bundle. A nil value removes the id. The bundle
// is persisted in the background; persistence errors never surface here.
func (s *KeyStore) Set(ctx context.Context, updates map[Category]map[string]any) error {
	s.mu.Lock()
	for category, entries := range updates {
		partition, err := category.Partition()
		if err != nil {
			s.mu.Unlock()
			return err
		}
		stored := s.bundle.Keys[partition]
		if stored == nil {
			stored = make(map[string]any, len(entries))
			s.bundle.Keys[partition] = stored
		}
		for id, value := range entries {
			if value == nil {
				delete(stored, id)
				continue
			}
			stored[id] = value
		}
	}
	s.mu.Unlock()

	s.persister.Trigger()
	return nil
}

// SaveCreds replaces the bundle's creds with c, when non-nil, and schedules a
// write. The engine calls it on creds.update.
func (s *KeyStore) SaveCreds(c *Creds) {
	if c != nil {
		s.mu.Lock()
		s.bundle.Creds = c
		s.mu.Unlock()
	}
	s.persister.Trigger()
}

// Flush writes the current bundle synchronously.
func (s *KeyStore) Flush(ctx context.Context) error {
	return s.persister.write(ctx)
}

// Encoded returns the current bundle as a persisted blob.
func (s *KeyStore) Encoded() (string, error) {
	return s.encode()
}

// Creds returns the bundle's creds.
func (s *KeyStore) Creds() *Creds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bundle.Creds
}

// Discard stops persistence without a final write. Teardown uses it so a
// stale bundle cannot overwrite the cleared session.
func (s *KeyStore) Discard() {
	s.persister.Discard()
}

// Close stops the background writer after a final flush.
func (s *KeyStore) Close(ctx context.Context) error {
	err := s.persister.write(ctx)
	s.persister.Close()
	return err
}

func (s *KeyStore) encode() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Encode(s.bundle)
}
