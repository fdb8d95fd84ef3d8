// ABOUTME: Thread-safe generic TTL cache with a capacity cap
// ABOUTME: Evicts the oldest-added entry when full and sweeps expired entries in the background

package cache

import (
	"container/list"
	"sync"
	"time"
)

// DefaultCleanupInterval is how often expired entries are swept.
const DefaultCleanupInterval = time.Minute

// entry stores a cached value, its creation time, and its list element.
type entry[V any] struct {
	value     V
	createdAt time.Time
	element   *list.Element
}

// TTL is a thread-safe, TTL-based, size-limited cache.
// A zero ttl means entries never expire; a zero maxSize means no cap.
type TTL[V any] struct {
	mu      sync.RWMutex
	items   map[string]*entry[V]
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// NewTTL creates a cache with the given TTL and capacity and starts the
// background sweeper. Call Close to stop it.
func NewTTL[V any](ttl time.Duration, maxSize int) *TTL[V] {
	return newTTL[V](ttl, maxSize, DefaultCleanupInterval)
}

func newTTL[V any](ttl time.Duration, maxSize int, interval time.Duration) *TTL[V] {
	c := &TTL[V]{
		items:   make(map[string]*entry[V]),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if ttl > 0 {
		go c.cleanup(interval)
	}
	return c
}

// Get returns the value for key if present and not expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	e, ok := c.items[key]
	if !ok || c.expired(e) {
		return zero, false
	}
	return e.value, true
}

// Set stores value under key. Re-setting a key refreshes its creation time.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, exists := c.items[key]; exists {
		e.value = value
		e.createdAt = c.now()
		c.order.MoveToBack(e.element)
		return
	}

	if c.maxSize > 0 && len(c.items) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.items[key] = &entry[V]{
		value:     value,
		createdAt: c.now(),
		element:   elem,
	}
}

// Delete removes key from the cache.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.order.Remove(e.element)
		delete(c.items, key)
	}
}

// Flush removes every entry.
func (c *TTL[V]) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*entry[V])
	c.order.Init()
}

// Len returns the number of stored entries, expired ones included until swept.
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// expired must be called with mu held.
func (c *TTL[V]) expired(e *entry[V]) bool {
	return c.ttl > 0 && c.now().Sub(e.createdAt) >= c.ttl
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *TTL[V]) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.items, key)
}

func (c *TTL[V]) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes all expired entries.
func (c *TTL[V]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.items {
		if c.expired(e) {
			c.order.Remove(e.element)
			delete(c.items, key)
		}
	}
}

// Close stops the background sweeper. It is safe to call multiple times.
func (c *TTL[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
