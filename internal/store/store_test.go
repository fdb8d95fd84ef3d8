// ABOUTME: Behavioural tests run against every Store implementation
// ABOUTME: Keeps SQLiteStore and MockStore in agreement on account, contact, and ticket semantics

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// forEachStore runs fn against a fresh SQLite store and a fresh mock.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, setupTestStore(t)) })
	t.Run("mock", func(t *testing.T) { fn(t, NewMockStore()) })
}

func TestStore_CreateAndGetAccount(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		acct := &Account{CompanyID: 1, Name: "support"}
		require.NoError(t, s.CreateAccount(ctx, acct))
		require.NotZero(t, acct.ID)

		got, err := s.GetAccount(ctx, acct.ID)
		require.NoError(t, err)
		assert.Equal(t, "support", got.Name)
		assert.Equal(t, int64(1), got.CompanyID)
		assert.Equal(t, StatusOpening, got.Status)
	})
}

func TestStore_CreateAccount_Duplicate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.CreateAccount(ctx, &Account{CompanyID: 1, Name: "sales"}))
		err := s.CreateAccount(ctx, &Account{CompanyID: 1, Name: "sales"})
		assert.ErrorIs(t, err, ErrDuplicate)

		assert.NoError(t, s.CreateAccount(ctx, &Account{CompanyID: 2, Name: "sales"}))
	})
}

func TestStore_GetAccount_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetAccount(context.Background(), 404)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_UpdateAccount_Partial(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		acct := &Account{CompanyID: 1, Name: "support", Number: "551100", Session: "blob"}
		require.NoError(t, s.CreateAccount(ctx, acct))

		got, err := s.UpdateAccount(ctx, acct.ID, AccountUpdate{
			Status: String(StatusQRCode),
			QRCode: String("2@abc"),
			Number: String(""),
		})
		require.NoError(t, err)
		assert.Equal(t, StatusQRCode, got.Status)
		assert.Equal(t, "2@abc", got.QRCode)
		assert.Empty(t, got.Number)
		assert.Equal(t, "blob", got.Session, "unset fields are untouched")

		got, err = s.UpdateAccount(ctx, acct.ID, AccountUpdate{Retries: Int(3)})
		require.NoError(t, err)
		assert.Equal(t, 3, got.Retries)
		assert.Equal(t, "2@abc", got.QRCode)
	})
}

func TestStore_UpdateAccount_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.UpdateAccount(context.Background(), 99, AccountUpdate{Status: String(StatusPending)})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ListAccounts(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		for _, a := range []*Account{
			{CompanyID: 1, Name: "a"},
			{CompanyID: 2, Name: "b"},
			{CompanyID: 1, Name: "c"},
		} {
			require.NoError(t, s.CreateAccount(ctx, a))
		}

		all, err := s.ListAccounts(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "a", all[0].Name)
		assert.Equal(t, "c", all[2].Name)

		byCompany, err := s.ListAccountsByCompany(ctx, 1)
		require.NoError(t, err)
		require.Len(t, byCompany, 2)
		assert.Equal(t, "a", byCompany[0].Name)
		assert.Equal(t, "c", byCompany[1].Name)

		none, err := s.ListAccountsByCompany(ctx, 42)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestStore_ProtocolSessions(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		acct := &Account{CompanyID: 1, Name: "support"}
		require.NoError(t, s.CreateAccount(ctx, acct))

		require.NoError(t, s.SaveProtocolSession(ctx, &ProtocolSession{AccountID: acct.ID, Kind: "me", Payload: `{"id":"1"}`}))
		require.NoError(t, s.SaveProtocolSession(ctx, &ProtocolSession{AccountID: acct.ID, Kind: "me", Payload: `{"id":"2"}`}))
		require.NoError(t, s.SaveProtocolSession(ctx, &ProtocolSession{AccountID: acct.ID, Kind: "contacts", Payload: `[]`}))

		rows, err := s.ListProtocolSessions(ctx, acct.ID)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "contacts", rows[0].Kind)
		assert.Equal(t, `{"id":"2"}`, rows[1].Payload, "save upserts by kind")

		require.NoError(t, s.DeleteProtocolSessions(ctx, acct.ID))
		rows, err = s.ListProtocolSessions(ctx, acct.ID)
		require.NoError(t, err)
		assert.Empty(t, rows)

		assert.NoError(t, s.DeleteProtocolSessions(ctx, acct.ID), "deleting nothing is fine")
	})
}

func TestStore_ContactsAndTickets(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		contact := &Contact{CompanyID: 1, Name: "Ana", Number: "5511999990000"}
		require.NoError(t, s.CreateContact(ctx, contact))
		assert.ErrorIs(t, s.CreateContact(ctx, &Contact{CompanyID: 1, Number: "5511999990000"}), ErrDuplicate)

		got, err := s.FindContactByNumber(ctx, 1, "5511999990000")
		require.NoError(t, err)
		assert.Equal(t, contact.ID, got.ID)

		_, err = s.FindContactByNumber(ctx, 2, "5511999990000")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.FindOpenTicket(ctx, contact.ID, 7)
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.CreateTicket(ctx, &Ticket{CompanyID: 1, ContactID: contact.ID, AccountID: 7, Status: TicketClosed}))
		_, err = s.FindOpenTicket(ctx, contact.ID, 7)
		assert.ErrorIs(t, err, ErrNotFound, "closed tickets are ignored")

		queue := int64(3)
		open := &Ticket{CompanyID: 1, ContactID: contact.ID, AccountID: 7, Status: TicketOpen, QueueID: &queue}
		require.NoError(t, s.CreateTicket(ctx, open))

		ticket, err := s.FindOpenTicket(ctx, contact.ID, 7)
		require.NoError(t, err)
		assert.Equal(t, open.ID, ticket.ID)
		require.NotNil(t, ticket.QueueID)
		assert.Equal(t, int64(3), *ticket.QueueID)

		_, err = s.FindOpenTicket(ctx, contact.ID, 8)
		assert.ErrorIs(t, err, ErrNotFound, "other accounts' tickets are ignored")
	})
}
