// Package jid classifies and normalizes network addresses.
//
// A peer is reachable through two non-interchangeable identifiers: a phone
// address ("5511999990000@s.whatsapp.net") and an opaque identifier
// ("190283764512@lid"). Both may carry a device qualifier after a colon
// ("5511999990000:12@s.whatsapp.net"). Classify returns a tagged Kind so
// resolution code never sniffs suffixes inline.
package jid
