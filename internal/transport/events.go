// ABOUTME: Event types emitted by the protocol engine socket
// ABOUTME: Connection updates, presence updates, and credential update notifications

package transport

import "github.com/2389/coven-wbot/internal/authstate"

// EventType names an engine event.
type EventType string

const (
	EventConnectionUpdate EventType = "connection.update"
	EventCredsUpdate      EventType = "creds.update"
	EventPresenceUpdate   EventType = "presence.update"
)

// ConnectionState is the connection field of a connection.update event.
type ConnectionState string

const (
	ConnectionConnecting ConnectionState = "connecting"
	ConnectionOpen       ConnectionState = "open"
	ConnectionClose      ConnectionState = "close"
)

// Event is a single engine event. Exactly one payload is set, matching Type.
// creds.update carries the engine's current creds.
type Event struct {
	Type       EventType
	Connection *ConnectionUpdate
	Presence   *PresenceUpdate
	Creds      *authstate.Creds
}

// ConnectionUpdate reports a change in connection state. QR is non-empty when
// the engine wants a QR code presented; it may arrive without a state change.
type ConnectionUpdate struct {
	Connection     ConnectionState
	LastDisconnect *Disconnect
	QR             string
}

// Disconnect describes why the socket closed.
type Disconnect struct {
	StatusCode int
	Err        error
}

// PresenceUpdate carries peer presence for a chat, keyed by participant address.
type PresenceUpdate struct {
	ID        string
	Presences map[string]PresenceData
}

// PresenceData is the last known presence of one participant.
type PresenceData struct {
	LastKnownPresence string `json:"lastKnownPresence,omitempty"`
	LastSeen          int64  `json:"lastSeen,omitempty"`
}

// QREvent builds a connection.update carrying a QR code.
func QREvent(code string) Event {
	return Event{Type: EventConnectionUpdate, Connection: &ConnectionUpdate{QR: code}}
}

// OpenEvent builds a connection.update reporting an open connection.
func OpenEvent() Event {
	return Event{Type: EventConnectionUpdate, Connection: &ConnectionUpdate{Connection: ConnectionOpen}}
}

// CloseEvent builds a connection.update reporting a close with the given status code.
func CloseEvent(statusCode int) Event {
	return Event{Type: EventConnectionUpdate, Connection: &ConnectionUpdate{
		Connection:     ConnectionClose,
		LastDisconnect: &Disconnect{StatusCode: statusCode},
	}}
}

// CredsEvent builds a creds.update carrying c.
func CredsEvent(c *authstate.Creds) Event {
	return Event{Type: EventCredsUpdate, Creds: c}
}
