// ABOUTME: Store interface and data types for wbot persistence
// ABOUTME: Defines Account, Contact, Ticket, ProtocolSession and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique constraint would be violated
var ErrDuplicate = errors.New("already exists")

// Account status values persisted in Account.Status.
const (
	StatusOpening      = "OPENING"
	StatusQRCode       = "qrcode"
	StatusConnected    = "CONNECTED"
	StatusPending      = "PENDING"
	StatusDisconnected = "DISCONNECTED"
)

// Account is one messaging account (one phone number) owned by a company.
type Account struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"companyId"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	QRCode    string `json:"qrcode"`
	Retries   int    `json:"retries"`
	Number    string `json:"number"`
	Provider  string `json:"provider"`

	// Session is the encoded credential bundle. It never leaves the process.
	Session string `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AccountUpdate is a partial update. Nil fields are left untouched.
type AccountUpdate struct {
	Name    *string
	Status  *string
	QRCode  *string
	Retries *int
	Number  *string
	Session *string
}

// String returns a pointer to s, for AccountUpdate literals.
func String(s string) *string { return &s }

// Int returns a pointer to i, for AccountUpdate literals.
func Int(i int) *int { return &i }

// apply copies the set fields of u onto a.
func (u AccountUpdate) apply(a *Account) {
	if u.Name != nil {
		a.Name = *u.Name
	}
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.QRCode != nil {
		a.QRCode = *u.QRCode
	}
	if u.Retries != nil {
		a.Retries = *u.Retries
	}
	if u.Number != nil {
		a.Number = *u.Number
	}
	if u.Session != nil {
		a.Session = *u.Session
	}
}

// Contact is a chat peer known to a company.
type Contact struct {
	ID        int64
	CompanyID int64
	Name      string
	Number    string // digits only, or the group id for groups
	LID       string // opaque identifier, when known
	IsGroup   bool
	CreatedAt time.Time
}

// Ticket status values.
const (
	TicketOpen    = "open"
	TicketPending = "pending"
	TicketClosed  = "closed"
)

// Ticket is a support conversation between a contact and an account.
type Ticket struct {
	ID        int64
	CompanyID int64
	ContactID int64
	AccountID int64
	QueueID   *int64
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProtocolSession is an engine-side record kept for an account (contact or
// identity snapshots). Teardown deletes every row of the account.
type ProtocolSession struct {
	ID        string
	AccountID int64
	Kind      string
	Payload   string
	UpdatedAt time.Time
}

// Store defines the interface for account, contact, and ticket persistence
type Store interface {
	// Accounts
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id int64) (*Account, error)
	UpdateAccount(ctx context.Context, id int64, update AccountUpdate) (*Account, error)
	ListAccounts(ctx context.Context) ([]*Account, error)
	ListAccountsByCompany(ctx context.Context, companyID int64) ([]*Account, error)

	// Protocol rows
	SaveProtocolSession(ctx context.Context, row *ProtocolSession) error
	ListProtocolSessions(ctx context.Context, accountID int64) ([]*ProtocolSession, error)
	DeleteProtocolSessions(ctx context.Context, accountID int64) error

	// Contacts and tickets
	CreateContact(ctx context.Context, contact *Contact) error
	FindContactByNumber(ctx context.Context, companyID int64, number string) (*Contact, error)
	CreateTicket(ctx context.Context, ticket *Ticket) error
	FindOpenTicket(ctx context.Context, contactID, accountID int64) (*Ticket, error)

	// Close releases any resources held by the store
	Close() error
}
