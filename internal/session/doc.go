// Package session tracks the live engine connections of every account.
//
// Registry is the single process-wide index from account id to Connection.
// Lookup of an unknown account fails with ErrNotInitialized. Remove
// optionally sends a protocol logout, then closes the socket; both steps are
// best effort and never fail the caller.
//
// A Connection carries the socket, the account and company ids, the account's
// key store, a ready signal closed on the first open event, and a lazily
// built identity mapping handle.
package session
