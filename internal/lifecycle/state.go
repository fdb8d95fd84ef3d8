// ABOUTME: Lifecycle states, retry counters, and the timing configuration
// ABOUTME: Counters are an injectable object so tests and the admin API can inspect them

package lifecycle

import (
	"sync"
	"time"
)

// State is an account's lifecycle state.
type State int

const (
	StateInitializing State = iota
	StateQRPending
	StateConnected
	StateReconnecting
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateQRPending:
		return "QR_PENDING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config holds the retry bounds.
type Config struct {
	// MaxQR is the number of QR presentations after which the account is
	// terminated. The MaxQR-th presentation triggers the teardown.
	MaxQR int

	// ReconnectSchedule is the delay before each retry after revoked
	// authorization. Its length bounds the retries.
	ReconnectSchedule []time.Duration

	// RestartDelay is the delay before restarting after any other close.
	RestartDelay time.Duration
}

// DefaultConfig returns the production bounds.
func DefaultConfig() Config {
	return Config{
		MaxQR: 3,
		ReconnectSchedule: []time.Duration{
			2 * time.Second,
			5 * time.Second,
			10 * time.Second,
			30 * time.Second,
			60 * time.Second,
		},
		RestartDelay: 2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxQR <= 0 {
		c.MaxQR = d.MaxQR
	}
	if len(c.ReconnectSchedule) == 0 {
		c.ReconnectSchedule = d.ReconnectSchedule
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = d.RestartDelay
	}
	return c
}

// Counters tracks QR presentations and reconnect attempts per account.
// Entries exist only while an account is neither connected nor torn down.
type Counters struct {
	mu        sync.Mutex
	qr        map[int64]int
	reconnect map[int64]int
}

// NewCounters creates empty counters.
func NewCounters() *Counters {
	return &Counters{
		qr:        make(map[int64]int),
		reconnect: make(map[int64]int),
	}
}

// QR returns the QR presentation count.
func (c *Counters) QR(id int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.qr[id]
}

// IncQR increments and returns the QR presentation count.
func (c *Counters) IncQR(id int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.qr[id]++
	return c.qr[id]
}

// Reconnect returns the reconnect attempt count.
func (c *Counters) Reconnect(id int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnect[id]
}

// IncReconnect increments the reconnect attempt count and returns the value
// it had before.
func (c *Counters) IncReconnect(id int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.reconnect[id]
	c.reconnect[id] = prev + 1
	return prev
}

// Reset drops both counters of an account.
func (c *Counters) Reset(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.qr, id)
	delete(c.reconnect, id)
}

// Has reports whether any counter entry exists for the account.
func (c *Counters) Has(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, q := c.qr[id]
	_, r := c.reconnect[id]
	return q || r
}
