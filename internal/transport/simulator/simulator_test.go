// ABOUTME: Tests for the simulated engine
// ABOUTME: Drives the QR, pair, and kick flows through real goroutines

package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-wbot/internal/authstate"
	"github.com/2389/coven-wbot/internal/transport"
)

func next(t *testing.T, sock transport.Socket) transport.Event {
	t.Helper()
	select {
	case ev, ok := <-sock.Events():
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return transport.Event{}
}

func dial(t *testing.T, e *Engine, id int64, creds *authstate.Creds) transport.Socket {
	t.Helper()
	sock, err := e.Dial(context.Background(), transport.Options{
		AccountID: id,
		Auth:      transport.AuthState{Creds: creds},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sock.Close() })
	return sock
}

func TestEngine_QRThenPair(t *testing.T) {
	e := New(time.Hour, nil)
	creds, err := authstate.InitCreds()
	require.NoError(t, err)

	sock := dial(t, e, 7, creds)

	ev := next(t, sock)
	assert.Equal(t, transport.ConnectionConnecting, ev.Connection.Connection)

	ev = next(t, sock)
	require.NotNil(t, ev.Connection)
	assert.NotEmpty(t, ev.Connection.QR)

	require.NoError(t, e.Pair(7, "+55 11 99999-0000"))

	ev = next(t, sock)
	require.Equal(t, transport.EventCredsUpdate, ev.Type)
	require.NotNil(t, ev.Creds)
	assert.True(t, ev.Creds.Registered)
	assert.Equal(t, "5511999990000:1@s.whatsapp.net", ev.Creds.Me.ID)
	assert.False(t, creds.Registered, "dialed creds must not be mutated")

	ev = next(t, sock)
	assert.Equal(t, transport.ConnectionOpen, ev.Connection.Connection)
	require.NotNil(t, sock.User())
	assert.Equal(t, "5511999990000:1@s.whatsapp.net", sock.User().ID)
}

func TestEngine_PairedCredsOpenImmediately(t *testing.T) {
	e := New(time.Hour, nil)
	creds, err := authstate.InitCreds()
	require.NoError(t, err)
	creds.Me = &authstate.Contact{ID: "5511888880000:3@s.whatsapp.net"}
	creds.Registered = true

	sock := dial(t, e, 1, creds)
	next(t, sock)
	ev := next(t, sock)
	assert.Equal(t, transport.ConnectionOpen, ev.Connection.Connection)
}

func TestEngine_Kick(t *testing.T) {
	e := New(time.Hour, nil)
	creds, err := authstate.InitCreds()
	require.NoError(t, err)

	sock := dial(t, e, 3, creds)
	next(t, sock)
	next(t, sock)

	require.NoError(t, e.Kick(3, transport.ReasonForbidden))
	ev := next(t, sock)
	assert.Equal(t, transport.ConnectionClose, ev.Connection.Connection)
	assert.Equal(t, transport.ReasonForbidden, ev.Connection.LastDisconnect.Code())

	_, ok := <-sock.Events()
	assert.False(t, ok)
	require.Eventually(t, func() bool { return e.Live() == 0 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, e.Kick(3, 500), ErrNoSocket)
}

func TestEngine_PeriodicQR(t *testing.T) {
	e := New(10*time.Millisecond, nil)
	creds, err := authstate.InitCreds()
	require.NoError(t, err)

	sock := dial(t, e, 4, creds)
	next(t, sock)
	first := next(t, sock).Connection.QR
	second := next(t, sock).Connection.QR
	assert.NotEmpty(t, second)
	assert.NotEqual(t, first, second)
}

func TestEngine_UnknownAccount(t *testing.T) {
	e := New(0, nil)
	assert.ErrorIs(t, e.Pair(99, "123"), ErrNoSocket)
}

func TestSocket_OnWhatsApp(t *testing.T) {
	e := New(time.Hour, nil)
	creds, err := authstate.InitCreds()
	require.NoError(t, err)
	sock := dial(t, e, 5, creds)

	res, err := sock.OnWhatsApp(context.Background(), "5511999990000@s.whatsapp.net", "123@g.us")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.True(t, res[0].Exists)
	assert.Contains(t, res[0].LID, "@lid")

	again, err := sock.OnWhatsApp(context.Background(), "5511999990000@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, res[0].LID, again[0].LID)
}
