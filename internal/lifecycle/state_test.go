// ABOUTME: Tests for lifecycle states, counters, and config defaults
// ABOUTME: Covers counter increments, reset, and partial config fill-in

package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	c := NewCounters()
	assert.False(t, c.Has(1))

	assert.Equal(t, 1, c.IncQR(1))
	assert.Equal(t, 2, c.IncQR(1))
	assert.Equal(t, 0, c.IncReconnect(1))
	assert.Equal(t, 1, c.IncReconnect(1))
	assert.Equal(t, 2, c.Reconnect(1))
	assert.Equal(t, 0, c.QR(2))
	assert.True(t, c.Has(1))

	c.Reset(1)
	assert.False(t, c.Has(1))
	assert.Equal(t, 0, c.QR(1))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{RestartDelay: time.Second}.withDefaults()
	assert.Equal(t, 3, cfg.MaxQR)
	assert.Len(t, cfg.ReconnectSchedule, 5)
	assert.Equal(t, time.Second, cfg.RestartDelay)
}

func TestStateText(t *testing.T) {
	b, err := StateQRPending.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "QR_PENDING", string(b))
	assert.Equal(t, "UNKNOWN", State(99).String())
}
