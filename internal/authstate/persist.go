// ABOUTME: Background writer that persists the credential bundle after every mutation
// ABOUTME: Coalesces triggers, serializes writes, and logs failures without propagating them

package authstate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SaveFunc writes an encoded bundle to durable storage.
type SaveFunc func(ctx context.Context, blob string) error

// persistTimeout bounds a single background write.
const persistTimeout = 10 * time.Second

// persister runs at most one write at a time and collapses triggers that
// arrive while a write is in flight into one follow-up write.
type persister struct {
	save     SaveFunc
	snapshot func() (string, error)
	logger   *slog.Logger

	writeMu   sync.Mutex
	discarded bool
	trigger   chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	once      sync.Once
}

func newPersister(save SaveFunc, snapshot func() (string, error), logger *slog.Logger) *persister {
	p := &persister{
		save:     save,
		snapshot: snapshot,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go p.loop()
	return p
}

// Trigger schedules a write without blocking.
func (p *persister) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

func (p *persister) loop() {
	defer close(p.stopped)
	for {
		select {
		case <-p.trigger:
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			if err := p.write(ctx); err != nil {
				p.logger.Error("saving credentials failed", "error", err)
			}
			cancel()
		case <-p.done:
			return
		}
	}
}

// write encodes the current bundle and saves it.
func (p *persister) write(ctx context.Context) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.save == nil || p.discarded {
		return nil
	}
	blob, err := p.snapshot()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	if err := p.save(ctx, blob); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	return nil
}

// Discard stops the worker and turns every later write into a no-op. It
// waits for an in-flight write to finish.
func (p *persister) Discard() {
	p.writeMu.Lock()
	p.discarded = true
	p.writeMu.Unlock()
	p.Close()
}

// Close stops the worker. Pending triggers are dropped; call write first to flush.
func (p *persister) Close() {
	p.once.Do(func() {
		close(p.done)
		<-p.stopped
	})
}
