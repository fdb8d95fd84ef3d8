// ABOUTME: Tests for the lifecycle manager's transitions and restart scheduling
// ABOUTME: Drives events through fake sockets with a manual scheduler and the in-memory store

package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-wbot/internal/authstate"
	"github.com/2389/coven-wbot/internal/notify"
	"github.com/2389/coven-wbot/internal/session"
	"github.com/2389/coven-wbot/internal/store"
	"github.com/2389/coven-wbot/internal/transport"
	"github.com/2389/coven-wbot/internal/transport/transporttest"
)

// fakeScheduler records scheduled calls and runs them on demand.
type fakeScheduler struct {
	mu    sync.Mutex
	calls []*fakeTimer
}

type fakeTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, f: f}
	s.calls = append(s.calls, t)
	return t
}

func (s *fakeScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.delay
	}
	return out
}

func (s *fakeScheduler) last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return nil
	}
	return s.calls[len(s.calls)-1]
}

// recorder collects notifications.
type recorder struct {
	mu    sync.Mutex
	notes []*notify.Notification
}

func (r *recorder) Notify(ctx context.Context, n *notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) all() []*notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*notify.Notification(nil), r.notes...)
}

func (r *recorder) lastSession(t *testing.T) *store.Account {
	t.Helper()
	notes := r.all()
	for i := len(notes) - 1; i >= 0; i-- {
		if upd, ok := notes[i].Payload.(*notify.SessionUpdate); ok {
			return upd.Session
		}
	}
	t.Fatal("no session notification")
	return nil
}

type harness struct {
	t      *testing.T
	store  *store.MockStore
	reg    *session.Registry
	sched  *fakeScheduler
	notes  *recorder
	m      *Manager
	acct   *store.Account
	mu     sync.Mutex
	starts []int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		store: store.NewMockStore(),
		reg:   session.NewRegistry(nil),
		sched: &fakeScheduler{},
		notes: &recorder{},
	}
	h.acct = &store.Account{CompanyID: 10, Name: "support", Session: "persisted-blob", Number: "5500"}
	require.NoError(t, h.store.CreateAccount(context.Background(), h.acct))

	h.m = NewManager(ManagerParams{
		Accounts:  h.store,
		Directory: h.store,
		Registry:  h.reg,
		Notifier:  h.notes,
		Scheduler: h.sched,
		Starter: StarterFunc(func(ctx context.Context, id int64) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.starts = append(h.starts, id)
			return nil
		}),
	})
	return h
}

func (h *harness) startCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.starts)
}

// dial builds a connection the way the bootstrap would, with a key store
// persisting into the account row.
func (h *harness) dial() (*session.Connection, *transporttest.Socket) {
	h.t.Helper()
	bundle, err := authstate.NewBundle()
	require.NoError(h.t, err)
	id := h.acct.ID
	ks := authstate.NewKeyStore(bundle, func(ctx context.Context, blob string) error {
		_, err := h.store.UpdateAccount(ctx, id, store.AccountUpdate{Session: store.String(blob)})
		return err
	}, nil)
	h.t.Cleanup(func() { _ = ks.Close(context.Background()) })

	sock := transporttest.NewSocket()
	conn := session.NewConnection(session.ConnectionParams{
		AccountID: id,
		CompanyID: h.acct.CompanyID,
		Socket:    sock,
		Keys:      ks,
	})
	h.m.BeginStart(id, false)
	return conn, sock
}

func (h *harness) send(conn *session.Connection, ev transport.Event) error {
	return h.m.HandleEvent(context.Background(), conn, ev)
}

func (h *harness) account() *store.Account {
	h.t.Helper()
	a, err := h.store.GetAccount(context.Background(), h.acct.ID)
	require.NoError(h.t, err)
	return a
}

func TestQR_FirstPresentation(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.dial()

	require.NoError(t, h.send(conn, transport.QREvent("2@first")))

	a := h.account()
	assert.Equal(t, store.StatusQRCode, a.Status)
	assert.Equal(t, "2@first", a.QRCode)
	assert.Equal(t, 0, a.Retries)
	assert.Empty(t, a.Number)
	assert.Equal(t, StateQRPending, h.m.State(a.ID))
	assert.Equal(t, 1, h.m.Counters().QR(a.ID))

	got, err := h.reg.Lookup(a.ID)
	require.NoError(t, err)
	assert.Same(t, conn, got)

	notes := h.notes.all()
	require.Len(t, notes, 1)
	assert.Equal(t, "company-10-whatsappSession", notes[0].Topic)
}

func TestQR_ThirdPresentationTerminates(t *testing.T) {
	h := newHarness(t)
	conn, sock := h.dial()
	require.NoError(t, h.store.SaveProtocolSession(context.Background(), &store.ProtocolSession{AccountID: h.acct.ID, Kind: "contacts", Payload: "[]"}))

	require.NoError(t, h.send(conn, transport.QREvent("2@a")))
	require.NoError(t, h.send(conn, transport.QREvent("2@b")))
	require.NoError(t, h.send(conn, transport.QREvent("2@c")))

	a := h.account()
	assert.Equal(t, store.StatusDisconnected, a.Status)
	assert.Empty(t, a.Session)
	assert.Empty(t, a.QRCode)
	assert.Equal(t, StateTerminated, h.m.State(a.ID))
	assert.False(t, h.m.Counters().Has(a.ID))

	assert.True(t, sock.Closed())
	assert.Equal(t, 0, sock.Logouts())
	_, err := h.reg.Lookup(a.ID)
	assert.ErrorIs(t, err, session.ErrNotInitialized)

	rows, err := h.store.ListProtocolSessions(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	assert.Empty(t, h.sched.delays(), "no restart after qr exhaustion")
	assert.Equal(t, store.StatusDisconnected, h.notes.lastSession(t).Status)
}

func TestQR_TerminatedBlocksImplicitStart(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.dial()
	for _, code := range []string{"a", "b", "c"} {
		require.NoError(t, h.send(conn, transport.QREvent(code)))
	}

	assert.False(t, h.m.BeginStart(h.acct.ID, false))
	assert.True(t, h.m.BeginStart(h.acct.ID, true))
	assert.Equal(t, StateInitializing, h.m.State(h.acct.ID))
}

func TestOpen(t *testing.T) {
	h := newHarness(t)
	conn, sock := h.dial()
	sock.SetUser(&authstate.Contact{ID: "5511999990000:12@s.whatsapp.net", LID: "42:12@lid"})

	require.NoError(t, h.send(conn, transport.QREvent("2@a")))
	require.NoError(t, h.send(conn, transport.OpenEvent()))

	a := h.account()
	assert.Equal(t, store.StatusConnected, a.Status)
	assert.Equal(t, "5511999990000", a.Number)
	assert.Empty(t, a.QRCode)
	assert.Equal(t, 0, a.Retries)
	assert.Equal(t, StateConnected, h.m.State(a.ID))
	assert.False(t, h.m.Counters().Has(a.ID))
	assert.True(t, conn.IsReady())

	got, err := h.reg.Lookup(a.ID)
	require.NoError(t, err)
	assert.Same(t, conn, got)

	rows, err := h.store.ListProtocolSessions(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ProtocolKindSelf, rows[0].Kind)
	assert.Contains(t, rows[0].Payload, "5511999990000:12@s.whatsapp.net")
}

func TestOpen_Idempotent(t *testing.T) {
	h := newHarness(t)
	conn, sock := h.dial()
	sock.SetUser(&authstate.Contact{ID: "5511999990000:12@s.whatsapp.net"})

	require.NoError(t, h.send(conn, transport.OpenEvent()))
	require.NotPanics(t, func() {
		require.NoError(t, h.send(conn, transport.OpenEvent()))
	})

	assert.Equal(t, 1, h.reg.Len())
	assert.True(t, conn.IsReady())
	select {
	case <-conn.Ready():
	default:
		t.Fatal("ready channel not closed")
	}
	assert.Equal(t, StateConnected, h.m.State(h.acct.ID))
	assert.Len(t, h.notes.all(), 1, "second open is not announced")

	rows, err := h.store.ListProtocolSessions(context.Background(), h.acct.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestOpen_ClearsReconnectAttempts(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.dial()
	require.NoError(t, h.send(conn, transport.CloseEvent(transport.ReasonForbidden)))
	require.Equal(t, 1, h.m.Counters().Reconnect(h.acct.ID))

	conn, _ = h.dial()
	require.NoError(t, h.send(conn, transport.OpenEvent()))
	assert.Equal(t, 0, h.m.Counters().Reconnect(h.acct.ID))
}

func TestRevoked_BackoffSchedule(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 5; i++ {
		conn, sock := h.dial()
		require.NoError(t, h.send(conn, transport.CloseEvent(transport.ReasonForbidden)))
		assert.True(t, sock.Closed())
		assert.Equal(t, 0, sock.Logouts())
	}

	assert.Equal(t, []time.Duration{
		2 * time.Second,
		5 * time.Second,
		10 * time.Second,
		30 * time.Second,
		60 * time.Second,
	}, h.sched.delays())

	a := h.account()
	assert.Equal(t, store.StatusOpening, a.Status, "status untouched while retrying")
	assert.Equal(t, "persisted-blob", a.Session)
	assert.Equal(t, "5500", a.Number)
	assert.Equal(t, 5, h.m.Counters().Reconnect(a.ID))
	assert.Equal(t, StateReconnecting, h.m.State(a.ID))

	conn, _ := h.dial()
	require.NoError(t, h.send(conn, transport.CloseEvent(transport.ReasonForbidden)))

	a = h.account()
	assert.Equal(t, store.StatusPending, a.Status)
	assert.Empty(t, a.Session)
	assert.Empty(t, a.Number)
	assert.False(t, h.m.Counters().Has(a.ID))
	assert.Equal(t, 2*time.Second, h.sched.last().delay)
	assert.Equal(t, StateReconnecting, h.m.State(a.ID))
	assert.Equal(t, store.StatusPending, h.notes.lastSession(t).Status)
}

func TestRevoked_ThreeTimes(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		conn, _ := h.dial()
		require.NoError(t, h.send(conn, transport.CloseEvent(transport.ReasonForbidden)))
	}

	assert.Equal(t, 3, h.m.Counters().Reconnect(h.acct.ID))
	assert.Len(t, h.sched.delays(), 3)
	a := h.account()
	assert.Equal(t, store.StatusOpening, a.Status)
	assert.Equal(t, "persisted-blob", a.Session)
	assert.Empty(t, h.notes.all())
}

func TestLoggedOut_TearsDownAndRestarts(t *testing.T) {
	h := newHarness(t)
	conn, sock := h.dial()
	require.NoError(t, h.send(conn, transport.OpenEvent()))

	require.NoError(t, h.send(conn, transport.CloseEvent(transport.ReasonLoggedOut)))

	a := h.account()
	assert.Equal(t, store.StatusPending, a.Status)
	assert.Empty(t, a.Session)
	assert.Empty(t, a.Number)
	assert.True(t, sock.Closed())
	assert.Equal(t, 0, sock.Logouts())
	assert.Equal(t, []time.Duration{2 * time.Second}, h.sched.delays())

	rows, err := h.store.ListProtocolSessions(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestTransientClose_RestartsWithCredentials(t *testing.T) {
	for _, code := range []int{transport.ReasonConnectionClosed, transport.ReasonRestartRequired, 0} {
		h := newHarness(t)
		conn, sock := h.dial()
		require.NoError(t, h.send(conn, transport.OpenEvent()))

		require.NoError(t, h.send(conn, transport.CloseEvent(code)))

		assert.True(t, sock.Closed(), "code %d", code)
		assert.Equal(t, 0, sock.Logouts())
		assert.Equal(t, []time.Duration{2 * time.Second}, h.sched.delays())
		assert.Equal(t, "persisted-blob", h.account().Session)
		_, err := h.reg.Lookup(h.acct.ID)
		assert.ErrorIs(t, err, session.ErrNotInitialized)
	}
}

func TestRestart_FiresStarter(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.dial()
	require.NoError(t, h.send(conn, transport.CloseEvent(transport.ReasonConnectionLost)))

	h.sched.last().f()
	assert.Equal(t, 1, h.startCount())
}

func TestRestart_StaleTimerSkipped(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.dial()
	require.NoError(t, h.send(conn, transport.CloseEvent(transport.ReasonConnectionLost)))
	stale := h.sched.last()

	// An explicit start supersedes the pending restart.
	h.m.BeginStart(h.acct.ID, true)
	assert.True(t, stale.stopped)

	stale.f()
	assert.Equal(t, 0, h.startCount())
}

func TestRestart_SkippedWhenConnected(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.dial()
	require.NoError(t, h.send(conn, transport.CloseEvent(transport.ReasonConnectionLost)))
	pending := h.sched.last()

	// The account came up through another path before the timer fired.
	st := h.m.account(h.acct.ID)
	st.mu.Lock()
	st.state = StateConnected
	st.mu.Unlock()

	pending.f()
	assert.Equal(t, 0, h.startCount())
}

func TestDetachedConnectionIgnored(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.dial()
	conn.Detach()

	require.NoError(t, h.send(conn, transport.QREvent("2@a")))
	assert.Equal(t, store.StatusOpening, h.account().Status)
	assert.Empty(t, h.notes.all())
}

func TestCredsUpdatePersists(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.dial()

	creds, err := authstate.InitCreds()
	require.NoError(t, err)
	creds.Me = &authstate.Contact{ID: "5511:1@s.whatsapp.net"}
	creds.Registered = true

	require.NoError(t, h.send(conn, transport.CredsEvent(creds)))

	require.Eventually(t, func() bool {
		return strings.Contains(h.account().Session, "5511:1@s.whatsapp.net")
	}, time.Second, 5*time.Millisecond)
}

func TestTeardownSurvivesStoreFailure(t *testing.T) {
	h := newHarness(t)
	conn, sock := h.dial()
	h.store.FailUpdates(errors.New("db down"))

	err := h.send(conn, transport.CloseEvent(transport.ReasonLoggedOut))
	require.Error(t, err)

	assert.True(t, sock.Closed())
	assert.Equal(t, []time.Duration{2 * time.Second}, h.sched.delays())
}

func TestPresence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	contact := &store.Contact{CompanyID: 10, Number: "5511999990000"}
	require.NoError(t, h.store.CreateContact(ctx, contact))
	ticket := &store.Ticket{CompanyID: 10, ContactID: contact.ID, AccountID: h.acct.ID, Status: store.TicketOpen}
	require.NoError(t, h.store.CreateTicket(ctx, ticket))

	conn, _ := h.dial()
	peer := "5511999990000@s.whatsapp.net"
	ev := transport.Event{Type: transport.EventPresenceUpdate, Presence: &transport.PresenceUpdate{
		ID:        peer,
		Presences: map[string]transport.PresenceData{peer: {LastKnownPresence: "composing"}},
	}}
	require.NoError(t, h.send(conn, ev))

	notes := h.notes.all()
	require.Len(t, notes, 1)
	assert.Equal(t, "company-10-presence", notes[0].Topic)
	assert.Equal(t, &notify.PresenceNotice{TicketID: ticket.ID, Presence: "composing"}, notes[0].Payload)
}

func TestPresence_Ignored(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.dial()
	peer := "5511999990000@s.whatsapp.net"

	// No presence for the chat itself.
	require.NoError(t, h.send(conn, transport.Event{Type: transport.EventPresenceUpdate, Presence: &transport.PresenceUpdate{
		ID:        peer,
		Presences: map[string]transport.PresenceData{"other@s.whatsapp.net": {LastKnownPresence: "available"}},
	}}))
	// Unknown contact.
	require.NoError(t, h.send(conn, transport.Event{Type: transport.EventPresenceUpdate, Presence: &transport.PresenceUpdate{
		ID:        peer,
		Presences: map[string]transport.PresenceData{peer: {LastKnownPresence: "available"}},
	}}))

	assert.Empty(t, h.notes.all())
}

func TestStates(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.dial()
	require.NoError(t, h.send(conn, transport.QREvent("2@a")))

	assert.Equal(t, map[int64]State{h.acct.ID: StateQRPending}, h.m.States())

	h.m.Forget(h.acct.ID)
	assert.Empty(t, h.m.States())
}

func TestStopCancelsRestarts(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.dial()
	require.NoError(t, h.send(conn, transport.CloseEvent(transport.ReasonConnectionLost)))
	pending := h.sched.last()

	h.m.Stop()
	assert.True(t, pending.stopped)
	pending.f()
	assert.Equal(t, 0, h.startCount())
}
