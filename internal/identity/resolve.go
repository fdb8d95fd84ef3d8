// ABOUTME: Resolves a message sender to its phone address or opaque identifier
// ABOUTME: First matching candidate wins, the mapping store overrides, device suffixes are stripped

package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/2389/coven-wbot/internal/jid"
	"github.com/2389/coven-wbot/internal/session"
	"github.com/2389/coven-wbot/internal/store"
	"github.com/2389/coven-wbot/internal/transport"
)

// candidates returns the sender identifiers of key in priority order.
func candidates(key transport.MessageKey) []string {
	return []string{key.RemoteJID, key.RemoteJIDAlt, key.Participant, key.ParticipantAlt}
}

func firstOfKind(key transport.MessageKey, kind jid.Kind) string {
	for _, c := range candidates(key) {
		if c != "" && jid.Classify(c) == kind {
			return c
		}
	}
	return ""
}

func mappingOf(conn *session.Connection) session.IdentityMapping {
	if conn == nil {
		return nil
	}
	return conn.Mapping()
}

func loggerOf(conn *session.Connection) *slog.Logger {
	if conn == nil {
		return slog.Default()
	}
	return conn.Logger()
}

// ResolvePhoneAddress returns the sender's phone address, normalized, or ""
// when none is known.
func ResolvePhoneAddress(ctx context.Context, msg *transport.Message, conn *session.Connection) string {
	if msg == nil {
		return ""
	}
	logger := loggerOf(conn)
	best := firstOfKind(msg.Key, jid.KindPhoneAddress)

	mapping := mappingOf(conn)
	switch {
	case mapping == nil:
		logger.Warn("resolving phone address", "error", ErrMappingUnavailable, "have_candidate", best != "")
	case jid.IsOpaqueID(msg.Key.RemoteJID):
		pn, err := mapping.PhoneForOpaque(ctx, msg.Key.RemoteJID)
		if err != nil {
			logMappingMiss(logger, "phone", msg.Key.RemoteJID, err)
		} else if jid.IsPhoneAddress(pn) {
			best = pn
		}
	}

	return jid.Normalize(best)
}

// ResolveOpaqueID returns the sender's opaque identifier, normalized, or ""
// when none is known.
func ResolveOpaqueID(ctx context.Context, msg *transport.Message, conn *session.Connection) string {
	if msg == nil {
		return ""
	}
	logger := loggerOf(conn)
	best := firstOfKind(msg.Key, jid.KindOpaqueID)

	mapping := mappingOf(conn)
	switch {
	case mapping == nil:
		logger.Warn("resolving opaque id", "error", ErrMappingUnavailable, "have_candidate", best != "")
	case jid.IsPhoneAddress(msg.Key.RemoteJID):
		lid, err := mapping.OpaqueForPhone(ctx, msg.Key.RemoteJID)
		if err != nil {
			logMappingMiss(logger, "opaque", msg.Key.RemoteJID, err)
		} else if jid.IsOpaqueID(lid) {
			best = lid
		}
	}

	return jid.Normalize(best)
}

// logMappingMiss logs a plain miss at debug and a failed lookup at warn.
func logMappingMiss(logger *slog.Logger, want, from string, err error) {
	if errors.Is(err, ErrMappingUnavailable) {
		logger.Debug("no identity mapping", "want", want, "jid", from, "error", err)
		return
	}
	logger.Warn("identity mapping lookup failed", "want", want, "jid", from, "error", err)
}

// ContactAddress builds the outbound address of a contact. The opaque id is
// preferred over the number. An id that already carries a domain is kept;
// otherwise groups get the group domain and everything else the phone domain.
func ContactAddress(contact *store.Contact, isGroup bool) string {
	if contact == nil {
		return ""
	}
	id := contact.LID
	if id == "" {
		id = contact.Number
	}
	switch {
	case id == "" || strings.Contains(id, "@"):
		return id
	case isGroup:
		return id + "@" + jid.GroupServer
	default:
		return id + "@" + jid.PhoneServer
	}
}
