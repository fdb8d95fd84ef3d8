// ABOUTME: Address classification and normalization for phone and opaque identifiers
// ABOUTME: Provides Kind variants, device-suffix stripping, and domain reattachment

package jid

import (
	"strings"
)

// Address domains used by the network.
const (
	PhoneServer     = "s.whatsapp.net"
	OpaqueServer    = "lid"
	GroupServer     = "g.us"
	BroadcastServer = "broadcast"
)

// Kind tags an identifier with the shape it was recognised as.
type Kind int

const (
	KindUnknown Kind = iota
	KindPhoneAddress
	KindOpaqueID
)

// String returns a stable name for logging.
func (k Kind) String() string {
	switch k {
	case KindPhoneAddress:
		return "phone_address"
	case KindOpaqueID:
		return "opaque_id"
	default:
		return "unknown"
	}
}

// Classify reports the shape of an identifier.
func Classify(s string) Kind {
	switch {
	case s == "":
		return KindUnknown
	case strings.Contains(s, "@"+PhoneServer):
		return KindPhoneAddress
	case strings.Contains(s, "@"+OpaqueServer):
		return KindOpaqueID
	default:
		return KindUnknown
	}
}

// IsPhoneAddress reports whether s is phone-address shaped.
func IsPhoneAddress(s string) bool { return Classify(s) == KindPhoneAddress }

// IsOpaqueID reports whether s is opaque-identifier shaped.
func IsOpaqueID(s string) bool { return Classify(s) == KindOpaqueID }

// IsBroadcast reports whether s addresses a broadcast list or status feed.
func IsBroadcast(s string) bool {
	return strings.HasSuffix(s, "@"+BroadcastServer)
}

// IsGroup reports whether s addresses a group.
func IsGroup(s string) bool {
	return strings.HasSuffix(s, "@"+GroupServer)
}

// Split returns the user and server parts of s. The device qualifier, if any,
// stays on the user part.
func Split(s string) (user, server string) {
	user, server, _ = strings.Cut(s, "@")
	return user, server
}

// Normalize strips a device qualifier and reattaches the domain of the
// original identifier when stripping removed it.
//
//	"5511999:12@s.whatsapp.net" -> "5511999@s.whatsapp.net"
//	"5511999@s.whatsapp.net"    -> "5511999@s.whatsapp.net"
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	head, _, _ := strings.Cut(s, ":")
	if strings.Contains(head, "@") {
		return s
	}
	_, server := Split(s)
	if server == "" {
		return head
	}
	return head + "@" + server
}

// User returns the normalized user part, the form persisted as an account's
// phone number.
func User(s string) string {
	user, _ := Split(Normalize(s))
	return user
}

// Digits keeps only the decimal digits of s.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
