// ABOUTME: In-memory fan-out of notifications to per-company subscribers
// ABOUTME: Non-blocking publish with automatic unsubscribe on context cancellation

package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Broadcaster provides in-memory pub/sub for notifications. Subscribers
// register for a company id and receive every notification of that company.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[int64]map[string]chan *Notification // companyID -> subID -> ch
	logger      *slog.Logger
}

var _ Notifier = (*Broadcaster)(nil)

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[int64]map[string]chan *Notification),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for a company's notifications. It returns
// the receive channel and a subscription id. The subscription is removed when
// ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, companyID int64) (<-chan *Notification, string) {
	subID := uuid.New().String()
	ch := make(chan *Notification, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[companyID]; !ok {
		b.subscribers[companyID] = make(map[string]chan *Notification)
	}
	b.subscribers[companyID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "company_id", companyID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(companyID, subID)
	}()

	return ch, subID
}

// Notify implements Notifier by publishing n.
func (b *Broadcaster) Notify(ctx context.Context, n *Notification) {
	b.Publish(n)
}

// Publish sends n to every subscriber of its company. Events are dropped for
// subscribers whose channels are full.
func (b *Broadcaster) Publish(n *Notification) {
	if n == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers[n.CompanyID] {
		select {
		case ch <- n:
		default:
			b.logger.Debug("dropped notification for slow subscriber",
				"company_id", n.CompanyID,
				"topic", n.Topic,
				"sub_id", subID)
		}
	}
}

// Subscribers returns the number of subscribers of a company.
func (b *Broadcaster) Subscribers(companyID int64) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[companyID])
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(companyID int64, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[companyID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, companyID)
	}

	b.logger.Debug("subscriber removed", "company_id", companyID, "sub_id", subID)
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for companyID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, companyID)
	}

	b.logger.Debug("broadcaster closed")
}
