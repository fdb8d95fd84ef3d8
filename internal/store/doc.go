// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// Store is the single interface the session core depends on. SQLiteStore
// implements it on modernc.org/sqlite; MockStore implements it in memory for
// tests.
//
// # Data Models
//
//   - Account: one messaging account of a company, with its lifecycle status,
//     last QR code, phone number, and encoded credential bundle (Session)
//   - ProtocolSession: engine-side rows kept per account, removed on teardown
//   - Contact: a chat peer of a company, keyed by digits-only number
//   - Ticket: a support conversation between a contact and an account
//
// Account status values are OPENING, qrcode, CONNECTED, PENDING, and
// DISCONNECTED. Updates are partial: UpdateAccount only writes the fields set
// on AccountUpdate.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode and a single connection:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicate: Unique constraint would be violated
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	s := store.NewMockStore()
//
// Use NewSQLiteStore(filepath.Join(t.TempDir(), "test.db")) for integration
// tests with real SQLite.
package store
