// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	accounts  map[int64]*Account
	protocol  map[int64]map[string]*ProtocolSession // account ID -> kind -> row
	contacts  map[int64]*Contact
	tickets   map[int64]*Ticket
	nextID    int64
	updates   []AccountUpdate // every UpdateAccount call, in order
	updateErr error
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		accounts: make(map[int64]*Account),
		protocol: make(map[int64]map[string]*ProtocolSession),
		contacts: make(map[int64]*Contact),
		tickets:  make(map[int64]*Ticket),
	}
}

// FailUpdates makes every subsequent UpdateAccount return err. Pass nil to reset.
func (m *MockStore) FailUpdates(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateErr = err
}

// Updates returns every update applied so far.
func (m *MockStore) Updates() []AccountUpdate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AccountUpdate(nil), m.updates...)
}

func (m *MockStore) id() int64 {
	m.nextID++
	return m.nextID
}

// CreateAccount stores a new account.
func (m *MockStore) CreateAccount(ctx context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.accounts {
		if a.CompanyID == account.CompanyID && a.Name == account.Name {
			return ErrDuplicate
		}
	}

	now := time.Now().UTC().Truncate(time.Second)
	if account.ID == 0 {
		account.ID = m.id()
	} else if account.ID > m.nextID {
		m.nextID = account.ID
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	if account.Status == "" {
		account.Status = StatusOpening
	}

	// Make a copy to avoid external modification
	a := *account
	m.accounts[a.ID] = &a
	return nil
}

// GetAccount retrieves an account by ID.
func (m *MockStore) GetAccount(ctx context.Context, id int64) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	result := *a
	return &result, nil
}

// UpdateAccount applies a partial update.
func (m *MockStore) UpdateAccount(ctx context.Context, id int64, update AccountUpdate) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return nil, m.updateErr
	}
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	update.apply(a)
	a.UpdatedAt = time.Now().UTC()
	m.updates = append(m.updates, update)

	result := *a
	return &result, nil
}

// ListAccounts returns all accounts ordered by ID.
func (m *MockStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	return m.listAccounts(func(*Account) bool { return true }), nil
}

// ListAccountsByCompany returns a company's accounts ordered by ID.
func (m *MockStore) ListAccountsByCompany(ctx context.Context, companyID int64) ([]*Account, error) {
	return m.listAccounts(func(a *Account) bool { return a.CompanyID == companyID }), nil
}

func (m *MockStore) listAccounts(keep func(*Account) bool) []*Account {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Account
	for _, a := range m.accounts {
		if keep(a) {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SaveProtocolSession upserts a protocol row.
func (m *MockStore) SaveProtocolSession(ctx context.Context, row *ProtocolSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	row.UpdatedAt = time.Now().UTC()
	rows := m.protocol[row.AccountID]
	if rows == nil {
		rows = make(map[string]*ProtocolSession)
		m.protocol[row.AccountID] = rows
	}
	r := *row
	rows[r.Kind] = &r
	return nil
}

// ListProtocolSessions returns the account's protocol rows ordered by kind.
func (m *MockStore) ListProtocolSessions(ctx context.Context, accountID int64) ([]*ProtocolSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ProtocolSession
	for _, r := range m.protocol[accountID] {
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

// DeleteProtocolSessions drops the account's protocol rows.
func (m *MockStore) DeleteProtocolSessions(ctx context.Context, accountID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.protocol, accountID)
	return nil
}

// CreateContact stores a contact.
func (m *MockStore) CreateContact(ctx context.Context, contact *Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.contacts {
		if c.CompanyID == contact.CompanyID && c.Number == contact.Number {
			return ErrDuplicate
		}
	}
	if contact.ID == 0 {
		contact.ID = m.id()
	}
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now().UTC()
	}
	c := *contact
	m.contacts[c.ID] = &c
	return nil
}

// FindContactByNumber looks up a contact by company and number.
func (m *MockStore) FindContactByNumber(ctx context.Context, companyID int64, number string) (*Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.contacts {
		if c.CompanyID == companyID && c.Number == number {
			result := *c
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// CreateTicket stores a ticket.
func (m *MockStore) CreateTicket(ctx context.Context, ticket *Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ticket.ID == 0 {
		ticket.ID = m.id()
	}
	if ticket.Status == "" {
		ticket.Status = TicketPending
	}
	now := time.Now().UTC()
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = now
	}
	ticket.UpdatedAt = now
	t := *ticket
	m.tickets[t.ID] = &t
	return nil
}

// FindOpenTicket returns the newest open or pending ticket for the pair.
func (m *MockStore) FindOpenTicket(ctx context.Context, contactID, accountID int64) (*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *Ticket
	for _, t := range m.tickets {
		if t.ContactID != contactID || t.AccountID != accountID {
			continue
		}
		if t.Status != TicketOpen && t.Status != TicketPending {
			continue
		}
		if best == nil || t.ID > best.ID {
			best = t
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	result := *best
	return &result, nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}
