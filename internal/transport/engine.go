// ABOUTME: Contract between the session core and the protocol engine
// ABOUTME: Dialer, Socket, dial Options, and the message/group payload shapes they exchange

package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/2389/coven-wbot/internal/authstate"
)

// KeyStore is the batched key access the engine performs during the protocol.
type KeyStore interface {
	Get(ctx context.Context, category authstate.Category, ids []string) (map[string]any, error)
	Set(ctx context.Context, updates map[authstate.Category]map[string]any) error
}

// AuthState is the credential state handed to the engine. The engine may
// mutate Creds in place; it must emit creds.update afterwards.
type AuthState struct {
	Creds *authstate.Creds
	Keys  KeyStore
}

// CounterStore is a small key/value cache owned by the engine (message retry
// counters, user device lists).
type CounterStore interface {
	Get(key string) (int, bool)
	Set(key string, value int)
	Delete(key string)
	Flush()
}

// Options configures a dial.
type Options struct {
	AccountID int64
	Auth      AuthState
	Version   []int
	Browser   [3]string

	// GetMessage returns the content of a recently sent message, or nil.
	GetMessage func(key MessageKey) json.RawMessage

	// CachedGroupMetadata is consulted before the engine fetches group metadata itself.
	CachedGroupMetadata func(ctx context.Context, jid string) (*GroupMetadata, error)

	MsgRetryCounters CounterStore

	// ShouldIgnoreJID filters inbound traffic by address.
	ShouldIgnoreJID func(jid string) bool

	ConnectTimeout      time.Duration
	RetryRequestDelay   time.Duration
	MarkOnlineOnConnect bool
	EmitOwnEvents       bool
	FireInitQueries     bool

	Logger *slog.Logger
}

// Dialer opens engine connections.
type Dialer interface {
	Dial(ctx context.Context, opts Options) (Socket, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, opts Options) (Socket, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, opts Options) (Socket, error) {
	return f(ctx, opts)
}

// Socket is one live engine connection.
type Socket interface {
	// Events delivers engine events in order. The channel is closed when the
	// socket is closed.
	Events() <-chan Event

	// User returns the account's own identity once the connection is open.
	User() *authstate.Contact

	// Logout performs a protocol-level logout.
	Logout(ctx context.Context) error

	// Close closes the underlying connection.
	Close() error

	// GroupMetadata fetches metadata for a group from the network.
	GroupMetadata(ctx context.Context, jid string) (*GroupMetadata, error)

	// OnWhatsApp asks the network which of jids exist and returns their
	// opaque identifiers where known.
	OnWhatsApp(ctx context.Context, jids ...string) ([]Existence, error)
}

// Existence is one OnWhatsApp result.
type Existence struct {
	JID    string `json:"jid"`
	Exists bool   `json:"exists"`
	LID    string `json:"lid,omitempty"`
}

// MessageKey addresses a message and carries every identifier the network
// attached to its sender.
type MessageKey struct {
	RemoteJID      string `json:"remoteJid,omitempty"`
	RemoteJIDAlt   string `json:"remoteJidAlt,omitempty"`
	Participant    string `json:"participant,omitempty"`
	ParticipantAlt string `json:"participantAlt,omitempty"`
	FromMe         bool   `json:"fromMe,omitempty"`
	ID             string `json:"id,omitempty"`
}

// Message is a network message. Content is opaque to the session core.
type Message struct {
	Key              MessageKey      `json:"key"`
	Message          json.RawMessage `json:"message,omitempty"`
	MessageTimestamp int64           `json:"messageTimestamp,omitempty"`
	PushName         string          `json:"pushName,omitempty"`
}

// GroupParticipant is one member of a group.
type GroupParticipant struct {
	ID    string `json:"id"`
	LID   string `json:"lid,omitempty"`
	Admin string `json:"admin,omitempty"`
}

// GroupMetadata describes a group.
type GroupMetadata struct {
	ID           string             `json:"id"`
	Subject      string             `json:"subject"`
	Owner        string             `json:"owner,omitempty"`
	Creation     int64              `json:"creation,omitempty"`
	Desc         string             `json:"desc,omitempty"`
	Participants []GroupParticipant `json:"participants"`
}
