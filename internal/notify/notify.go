// ABOUTME: Notification shapes, topic naming, and the Notifier interface
// ABOUTME: Session updates and presence notices addressed per company

package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/coven-wbot/internal/store"
)

// Event names carried in Notification.Event.
const (
	EventSession  = "whatsappSession"
	EventPresence = "presence"
)

// ActionUpdate is the only session update action emitted.
const ActionUpdate = "update"

// Notification is one message to subscribers of a company.
type Notification struct {
	CompanyID int64     `json:"companyId"`
	Event     string    `json:"event"`
	Topic     string    `json:"topic"`
	Rooms     []string  `json:"rooms,omitempty"`
	Payload   any       `json:"payload"`
	At        time.Time `json:"at"`
}

// SessionUpdate is the payload of a session notification.
type SessionUpdate struct {
	Action  string         `json:"action"`
	Session *store.Account `json:"session"`
}

// PresenceNotice is the payload of a presence notification.
type PresenceNotice struct {
	TicketID int64  `json:"ticketId"`
	Presence string `json:"presence"`
}

// Notifier delivers notifications. Implementations must not block the caller
// for long and must not fail it; delivery errors are theirs to log.
type Notifier interface {
	Notify(ctx context.Context, n *Notification)
}

// Topic returns "company-{id}-{event}".
func Topic(companyID int64, event string) string {
	return fmt.Sprintf("company-%d-%s", companyID, event)
}

// SessionChanged builds the notification for a changed account.
func SessionChanged(account *store.Account) *Notification {
	return &Notification{
		CompanyID: account.CompanyID,
		Event:     EventSession,
		Topic:     Topic(account.CompanyID, EventSession),
		Payload:   &SessionUpdate{Action: ActionUpdate, Session: account},
		At:        time.Now().UTC(),
	}
}

// PresenceChanged builds the notification for a peer's presence on a ticket.
// It is addressed to the ticket room, the company status room, and the
// queue status room.
func PresenceChanged(ticket *store.Ticket, presence string) *Notification {
	rooms := []string{
		fmt.Sprintf("%d", ticket.ID),
		Topic(ticket.CompanyID, ticket.Status),
	}
	if ticket.QueueID != nil {
		rooms = append(rooms, fmt.Sprintf("queue-%d-%s", *ticket.QueueID, ticket.Status))
	}
	return &Notification{
		CompanyID: ticket.CompanyID,
		Event:     EventPresence,
		Topic:     Topic(ticket.CompanyID, EventPresence),
		Rooms:     rooms,
		Payload:   &PresenceNotice{TicketID: ticket.ID, Presence: presence},
		At:        time.Now().UTC(),
	}
}

// Multi fans a notification out to several notifiers in order.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, n *Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n *Notification)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n *Notification) { f(ctx, n) }
