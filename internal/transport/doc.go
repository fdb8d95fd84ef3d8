// Package transport defines the contract with the protocol engine.
//
// The engine (frame encoding, the encryption handshake, the binary wire
// format) is a black box. This package specifies what the session core hands
// it (Options: credentials, key store, version, message and group caches) and
// what it hands back (a Socket emitting Events).
//
// # Events
//
// Exactly three event types matter for the connection lifecycle:
//
//   - connection.update: connecting / open / close, an optional QR code, and
//     the disconnect cause for close
//   - presence.update: peer presence keyed by peer address
//   - creds.update: fires after any credential mutation
//
// # Disconnect causes
//
// ClassifyDisconnect maps a close status code onto a Cause. 403 means the
// authorization was revoked and is retried with backoff, 401 is an explicit
// logout, and everything else is a transient disconnect.
package transport
