// ABOUTME: Tests for sender resolution and the identity mapping store
// ABOUTME: Uses a real key store with the fake engine socket as the existence oracle

package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-wbot/internal/authstate"
	"github.com/2389/coven-wbot/internal/session"
	"github.com/2389/coven-wbot/internal/store"
	"github.com/2389/coven-wbot/internal/transport"
	"github.com/2389/coven-wbot/internal/transport/transporttest"
)

func newKeyStore(t *testing.T) *authstate.KeyStore {
	t.Helper()
	bundle, err := authstate.NewBundle()
	require.NoError(t, err)
	ks := authstate.NewKeyStore(bundle, nil, nil)
	t.Cleanup(func() { _ = ks.Close(context.Background()) })
	return ks
}

func newMapping(t *testing.T, engine Existence) *MappingStore {
	t.Helper()
	m := NewMappingStore(newKeyStore(t), engine, nil)
	t.Cleanup(m.Close)
	return m
}

func connWith(m session.IdentityMapping) *session.Connection {
	return session.NewConnection(session.ConnectionParams{
		AccountID: 1,
		CompanyID: 1,
		NewMapping: func() session.IdentityMapping {
			return m
		},
	})
}

func msg(key transport.MessageKey) *transport.Message {
	return &transport.Message{Key: key}
}

func TestResolvePhoneAddress_FirstPhoneCandidateWins(t *testing.T) {
	conn := connWith(newMapping(t, nil))

	got := ResolvePhoneAddress(context.Background(), msg(transport.MessageKey{
		RemoteJID:      "120363@g.us",
		Participant:    "5511111110000:3@s.whatsapp.net",
		ParticipantAlt: "5522222220000@s.whatsapp.net",
	}), conn)

	assert.Equal(t, "5511111110000@s.whatsapp.net", got)
}

func TestResolvePhoneAddress_MappingOverridesCandidates(t *testing.T) {
	m := newMapping(t, nil)
	require.NoError(t, m.Store(context.Background(), "5533333330000@s.whatsapp.net", "987654:2@lid"))
	conn := connWith(m)

	got := ResolvePhoneAddress(context.Background(), msg(transport.MessageKey{
		RemoteJID:    "987654@lid",
		RemoteJIDAlt: "5544444440000@s.whatsapp.net",
	}), conn)

	assert.Equal(t, "5533333330000@s.whatsapp.net", got)
}

func TestResolvePhoneAddress_PhonePrimaryBeatsMapping(t *testing.T) {
	m := newMapping(t, nil)
	require.NoError(t, m.Store(context.Background(), "5577777770000@s.whatsapp.net", "987654:3@lid"))
	conn := connWith(m)

	got := ResolvePhoneAddress(context.Background(), msg(transport.MessageKey{
		RemoteJID:    "5511999990000:3@s.whatsapp.net",
		RemoteJIDAlt: "987654@lid",
	}), conn)

	assert.Equal(t, "5511999990000@s.whatsapp.net", got)

	mapped, err := m.PhoneForOpaque(context.Background(), "987654@lid")
	require.NoError(t, err)
	assert.Equal(t, "5577777770000@s.whatsapp.net", mapped, "mapping holds a different phone for the peer")
}

func TestResolvePhoneAddress_MissingMappingFallsBack(t *testing.T) {
	conn := connWith(newMapping(t, nil))

	got := ResolvePhoneAddress(context.Background(), msg(transport.MessageKey{
		RemoteJID:    "111@lid",
		RemoteJIDAlt: "5544444440000:7@s.whatsapp.net",
	}), conn)

	assert.Equal(t, "5544444440000@s.whatsapp.net", got)
}

func TestResolvePhoneAddress_NoMappingHandle(t *testing.T) {
	conn := session.NewConnection(session.ConnectionParams{AccountID: 1})

	got := ResolvePhoneAddress(context.Background(), msg(transport.MessageKey{
		RemoteJID: "5511999990000:12@s.whatsapp.net",
	}), conn)
	assert.Equal(t, "5511999990000@s.whatsapp.net", got)

	assert.Empty(t, ResolvePhoneAddress(context.Background(), msg(transport.MessageKey{RemoteJID: "1@lid"}), conn))
	assert.Empty(t, ResolvePhoneAddress(context.Background(), nil, conn))
}

func TestResolveOpaqueID(t *testing.T) {
	conn := connWith(newMapping(t, nil))

	got := ResolveOpaqueID(context.Background(), msg(transport.MessageKey{
		RemoteJID:   "5511999990000@s.whatsapp.net",
		Participant: "4455:9@lid",
	}), conn)

	assert.Equal(t, "4455@lid", got)
}

func TestResolveOpaqueID_EngineFallbackIsPersisted(t *testing.T) {
	sock := transporttest.NewSocket()
	sock.SetExistence(transport.Existence{JID: "5511999990000@s.whatsapp.net", Exists: true, LID: "777@lid"})
	m := newMapping(t, sock)
	conn := connWith(m)

	got := ResolveOpaqueID(context.Background(), msg(transport.MessageKey{
		RemoteJID: "5511999990000:4@s.whatsapp.net",
	}), conn)
	assert.Equal(t, "777@lid", got)

	pn, err := m.PhoneForOpaque(context.Background(), "777@lid")
	require.NoError(t, err)
	assert.Equal(t, "5511999990000@s.whatsapp.net", pn)
}

func TestMappingStore_PersistsThroughKeyStore(t *testing.T) {
	ks := newKeyStore(t)
	m := NewMappingStore(ks, nil, nil)
	defer m.Close()

	require.NoError(t, m.Store(context.Background(), "5511999990000:1@s.whatsapp.net", "42:1@lid"))

	got, err := ks.Get(context.Background(), authstate.CategoryIdentityMapping, []string{"5511999990000", "42_reverse"})
	require.NoError(t, err)
	assert.Equal(t, "42", got["5511999990000"])
	assert.Equal(t, "5511999990000", got["42_reverse"])

	fresh := NewMappingStore(ks, nil, nil)
	defer fresh.Close()
	lid, err := fresh.OpaqueForPhone(context.Background(), "5511999990000@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, "42@lid", lid)
}

func TestMappingStore_Unavailable(t *testing.T) {
	m := newMapping(t, nil)

	_, err := m.PhoneForOpaque(context.Background(), "123@lid")
	assert.ErrorIs(t, err, ErrMappingUnavailable)

	_, err = m.OpaqueForPhone(context.Background(), "5511@s.whatsapp.net")
	assert.ErrorIs(t, err, ErrMappingUnavailable)

	_, err = m.PhoneForOpaque(context.Background(), "5511@s.whatsapp.net")
	assert.ErrorIs(t, err, ErrMappingUnavailable)

	assert.Error(t, m.Store(context.Background(), "", "1@lid"))
}

func TestContactAddress(t *testing.T) {
	tests := []struct {
		name    string
		contact *store.Contact
		isGroup bool
		want    string
	}{
		{"opaque preferred", &store.Contact{Number: "5511", LID: "99@lid"}, false, "99@lid"},
		{"bare number", &store.Contact{Number: "5511"}, false, "5511@s.whatsapp.net"},
		{"group", &store.Contact{Number: "120363"}, true, "120363@g.us"},
		{"already addressed", &store.Contact{Number: "120363@g.us"}, true, "120363@g.us"},
		{"nil", nil, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ContactAddress(tt.contact, tt.isGroup))
		})
	}
}
