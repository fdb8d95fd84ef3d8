// Package authstate holds an account's credential bundle and serves its keys.
//
// # Persisted layout
//
// One JSON blob per account:
//
//	{"creds": {...}, "keys": {"preKeys": {"1": {...}}, "sessions": {...}, ...}}
//
// Binary fields are written as tagged wrappers so arbitrary key material
// survives a text column:
//
//	{"type": "Buffer", "data": "<base64>"}
//
// On read the reviver also accepts the wrapper with a numeric array, bare
// numeric arrays, and numeric-indexed objects ({"0": 12, "1": 250}), which
// older writers produced for byte buffers.
//
// A blob whose creds lack a self identity (creds.me.id) is treated as absent
// and fresh creds are generated; that case is logged, never returned.
//
// # Key store
//
// KeyStore maps the fixed key categories onto partitions of the bundle and
// serves batched Get/Set. Every Set merges into the partition and schedules a
// write of the whole bundle on a background worker. Write failures are logged;
// the in-memory bundle stays authoritative.
package authstate
