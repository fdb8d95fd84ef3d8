// ABOUTME: Recently sent message bodies and engine retry counters
// ABOUTME: Both are thin typed wrappers over TTL with the lifetimes the engine expects

package cache

import (
	"encoding/json"
	"time"

	"github.com/2389/coven-wbot/internal/transport"
)

// Default lifetimes and caps.
const (
	MessageTTL     = 60 * time.Second
	MessageMaxSize = 1000
	RetryTTL       = 600 * time.Second
	RetryMaxSize   = 1000
	GroupTTL       = 3600 * time.Second
	GroupMaxSize   = 10000
)

// MessageCache holds outbound messages so the engine can re-send them when a
// peer requests a retry. Messages are stored serialized.
type MessageCache struct {
	c *TTL[[]byte]
}

// NewMessageCache creates a message cache. Zero values select the defaults.
func NewMessageCache(ttl time.Duration, maxSize int) *MessageCache {
	if ttl == 0 {
		ttl = MessageTTL
	}
	if maxSize == 0 {
		maxSize = MessageMaxSize
	}
	return &MessageCache{c: NewTTL[[]byte](ttl, maxSize)}
}

// Put stores msg under its message id.
func (m *MessageCache) Put(msg *transport.Message) error {
	if msg == nil || msg.Key.ID == "" {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	m.c.Set(msg.Key.ID, data)
	return nil
}

// Get returns the content of the cached message for key, or nil when it is
// absent, expired, or unreadable.
func (m *MessageCache) Get(key transport.MessageKey) json.RawMessage {
	data, ok := m.c.Get(key.ID)
	if !ok {
		return nil
	}
	var msg transport.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil
	}
	return msg.Message
}

// Len returns the number of cached messages.
func (m *MessageCache) Len() int { return m.c.Len() }

// Close stops the sweeper.
func (m *MessageCache) Close() { m.c.Close() }

// RetryCounters counts delivery retries per message. It satisfies
// transport.CounterStore.
type RetryCounters struct {
	c *TTL[int]
}

var _ transport.CounterStore = (*RetryCounters)(nil)

// NewRetryCounters creates a counter cache. Zero values select the defaults.
func NewRetryCounters(ttl time.Duration, maxSize int) *RetryCounters {
	if ttl == 0 {
		ttl = RetryTTL
	}
	if maxSize == 0 {
		maxSize = RetryMaxSize
	}
	return &RetryCounters{c: NewTTL[int](ttl, maxSize)}
}

// Get returns the counter for key.
func (r *RetryCounters) Get(key string) (int, bool) { return r.c.Get(key) }

// Set stores the counter for key.
func (r *RetryCounters) Set(key string, value int) { r.c.Set(key, value) }

// Delete drops the counter for key.
func (r *RetryCounters) Delete(key string) { r.c.Delete(key) }

// Flush drops every counter.
func (r *RetryCounters) Flush() { r.c.Flush() }

// Close stops the sweeper.
func (r *RetryCounters) Close() { r.c.Close() }
