// ABOUTME: Connection lifecycle manager consuming engine events per account
// ABOUTME: Applies QR, open, close, presence, and creds transitions and schedules restarts

package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/coven-wbot/internal/jid"
	"github.com/2389/coven-wbot/internal/notify"
	"github.com/2389/coven-wbot/internal/session"
	"github.com/2389/coven-wbot/internal/store"
	"github.com/2389/coven-wbot/internal/transport"
)

// ErrQRExhausted is logged when an account runs out of QR presentations.
var ErrQRExhausted = errors.New("qr presentations exhausted")

// ProtocolKindSelf is the protocol row holding the account's own identity.
const ProtocolKindSelf = "me"

// Accounts is the part of the store the manager writes.
type Accounts interface {
	UpdateAccount(ctx context.Context, id int64, update store.AccountUpdate) (*store.Account, error)
	SaveProtocolSession(ctx context.Context, row *store.ProtocolSession) error
	DeleteProtocolSessions(ctx context.Context, accountID int64) error
}

// Directory finds the ticket a presence update belongs to.
type Directory interface {
	FindContactByNumber(ctx context.Context, companyID int64, number string) (*store.Contact, error)
	FindOpenTicket(ctx context.Context, contactID, accountID int64) (*store.Ticket, error)
}

// Starter runs the full session bootstrap for an account.
type Starter interface {
	StartSession(ctx context.Context, accountID int64) error
}

// StarterFunc adapts a function to Starter.
type StarterFunc func(ctx context.Context, accountID int64) error

// StartSession calls f.
func (f StarterFunc) StartSession(ctx context.Context, accountID int64) error {
	return f(ctx, accountID)
}

// ManagerParams holds the manager's collaborators.
type ManagerParams struct {
	Accounts  Accounts
	Directory Directory
	Registry  *session.Registry
	Notifier  notify.Notifier
	Starter   Starter
	Scheduler Scheduler
	Counters  *Counters
	Config    Config
	Logger    *slog.Logger
}

// accountState is the in-memory lifecycle record of one account.
type accountState struct {
	mu         sync.Mutex
	state      State
	generation uint64
	timer      Timer
}

// Manager applies engine events to account state.
type Manager struct {
	accounts  Accounts
	directory Directory
	registry  *session.Registry
	notifier  notify.Notifier
	scheduler Scheduler
	counters  *Counters
	cfg       Config
	logger    *slog.Logger

	starterMu sync.RWMutex
	starter   Starter

	mu     sync.Mutex
	states map[int64]*accountState
}

// NewManager creates a manager.
func NewManager(p ManagerParams) *Manager {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scheduler := p.Scheduler
	if scheduler == nil {
		scheduler = RealScheduler{}
	}
	counters := p.Counters
	if counters == nil {
		counters = NewCounters()
	}
	notifier := p.Notifier
	if notifier == nil {
		notifier = notify.Multi(nil)
	}
	return &Manager{
		accounts:  p.Accounts,
		directory: p.Directory,
		registry:  p.Registry,
		notifier:  notifier,
		starter:   p.Starter,
		scheduler: scheduler,
		counters:  counters,
		cfg:       p.Config.withDefaults(),
		logger:    logger.With("component", "lifecycle"),
		states:    make(map[int64]*accountState),
	}
}

// SetStarter installs the restart collaborator. The bootstrap service and
// the manager reference each other, so one of them is wired late.
func (m *Manager) SetStarter(s Starter) {
	m.starterMu.Lock()
	defer m.starterMu.Unlock()
	m.starter = s
}

func (m *Manager) getStarter() Starter {
	m.starterMu.RLock()
	defer m.starterMu.RUnlock()
	return m.starter
}

// Counters returns the retry counters.
func (m *Manager) Counters() *Counters { return m.counters }

func (m *Manager) account(id int64) *accountState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		st = &accountState{state: StateInitializing}
		m.states[id] = st
	}
	return st
}

// State returns an account's lifecycle state. Unknown accounts are
// INITIALIZING.
func (m *Manager) State(id int64) State {
	st := m.account(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// States returns a snapshot of every known account's state.
func (m *Manager) States() map[int64]State {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make(map[int64]State, len(ids))
	for _, id := range ids {
		out[id] = m.State(id)
	}
	return out
}

// BeginStart is called by the bootstrap before dialing. It cancels any
// pending restart and moves the account to INITIALIZING. A TERMINATED
// account only starts when explicit is set; an explicit start also clears
// the counters. It reports whether the start may proceed.
func (m *Manager) BeginStart(id int64, explicit bool) bool {
	st := m.account(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.state == StateTerminated && !explicit {
		m.logger.Info("account terminated, start skipped", "account_id", id)
		return false
	}
	if explicit {
		m.counters.Reset(id)
	}
	m.cancelRestartLocked(st)
	st.state = StateInitializing
	return true
}

// Forget drops every trace of an account, e.g. after an explicit logout.
func (m *Manager) Forget(id int64) {
	st := m.account(id)
	st.mu.Lock()
	m.cancelRestartLocked(st)
	st.mu.Unlock()

	m.counters.Reset(id)
	m.mu.Lock()
	delete(m.states, id)
	m.mu.Unlock()
}

// HandleEvent applies one engine event for conn's account. Events of a
// detached connection are ignored. The returned error has already been
// logged.
func (m *Manager) HandleEvent(ctx context.Context, conn *session.Connection, ev transport.Event) error {
	if conn == nil || conn.Detached() {
		return nil
	}

	var err error
	switch ev.Type {
	case transport.EventConnectionUpdate:
		err = m.handleConnection(ctx, conn, ev.Connection)
	case transport.EventCredsUpdate:
		if ks := conn.Keys(); ks != nil {
			ks.SaveCreds(ev.Creds)
		}
	case transport.EventPresenceUpdate:
		err = m.handlePresence(ctx, conn, ev.Presence)
	}

	if err != nil {
		conn.Logger().Error("handling engine event failed", "event", ev.Type, "error", err)
	}
	return err
}

func (m *Manager) handleConnection(ctx context.Context, conn *session.Connection, upd *transport.ConnectionUpdate) error {
	if upd == nil {
		return nil
	}

	st := m.account(conn.AccountID)
	st.mu.Lock()
	defer st.mu.Unlock()

	// A newer event may have detached conn while this one waited.
	if conn.Detached() {
		return nil
	}

	var errs []error
	switch upd.Connection {
	case transport.ConnectionClose:
		errs = append(errs, m.handleClose(ctx, st, conn, upd.LastDisconnect))
	case transport.ConnectionOpen:
		errs = append(errs, m.handleOpen(ctx, st, conn))
	}
	if upd.QR != "" && !conn.Detached() {
		errs = append(errs, m.handleQR(ctx, st, conn, upd.QR))
	}
	return errors.Join(errs...)
}

func (m *Manager) handleQR(ctx context.Context, st *accountState, conn *session.Connection, code string) error {
	id := conn.AccountID
	n := m.counters.IncQR(id)

	if n >= m.cfg.MaxQR {
		conn.Logger().Warn("terminating account", "error", ErrQRExhausted, "presentations", n)
		err := m.teardown(ctx, conn, store.AccountUpdate{
			Status:  store.String(store.StatusDisconnected),
			QRCode:  store.String(""),
			Session: store.String(""),
		})
		m.cancelRestartLocked(st)
		st.state = StateTerminated
		return err
	}

	conn.Logger().Info("qr code generated", "presentation", n)
	acct, err := m.accounts.UpdateAccount(ctx, id, store.AccountUpdate{
		QRCode:  store.String(code),
		Status:  store.String(store.StatusQRCode),
		Retries: store.Int(0),
		Number:  store.String(""),
	})
	m.registry.Register(conn)
	st.state = StateQRPending
	if err != nil {
		return fmt.Errorf("persisting qr state: %w", err)
	}
	m.notify(ctx, acct)
	return nil
}

func (m *Manager) handleOpen(ctx context.Context, st *accountState, conn *session.Connection) error {
	id := conn.AccountID
	if st.state == StateConnected && m.registry.Has(conn) {
		conn.Logger().Debug("duplicate open ignored")
		return nil
	}
	m.counters.Reset(id)

	number := ""
	var self *selfIdentity
	if sock := conn.Socket(); sock != nil {
		if u := sock.User(); u != nil {
			number = jid.User(u.ID)
			self = &selfIdentity{ID: u.ID, LID: u.LID, Name: u.Name}
		}
	}

	acct, err := m.accounts.UpdateAccount(ctx, id, store.AccountUpdate{
		Status:  store.String(store.StatusConnected),
		QRCode:  store.String(""),
		Retries: store.Int(0),
		Number:  store.String(number),
	})
	m.registry.Register(conn)
	m.cancelRestartLocked(st)
	st.state = StateConnected
	conn.MarkReady()

	if self != nil {
		if perr := m.saveSelf(ctx, id, self); perr != nil {
			conn.Logger().Warn("saving self identity failed", "error", perr)
		}
	}

	if err != nil {
		return fmt.Errorf("persisting connected state: %w", err)
	}
	conn.Logger().Info("session connected", "number", number)
	m.notify(ctx, acct)
	return nil
}

// selfIdentity is the persisted form of the account's own identity.
type selfIdentity struct {
	ID   string `json:"id"`
	LID  string `json:"lid,omitempty"`
	Name string `json:"name,omitempty"`
}

func (m *Manager) saveSelf(ctx context.Context, id int64, self *selfIdentity) error {
	payload, err := json.Marshal(self)
	if err != nil {
		return err
	}
	return m.accounts.SaveProtocolSession(ctx, &store.ProtocolSession{
		AccountID: id,
		Kind:      ProtocolKindSelf,
		Payload:   string(payload),
	})
}

func (m *Manager) handleClose(ctx context.Context, st *accountState, conn *session.Connection, d *transport.Disconnect) error {
	id := conn.AccountID
	code := d.Code()
	cause := transport.ClassifyDisconnect(code)
	logger := conn.Logger().With("status_code", code, "cause", cause.String())

	switch cause {
	case transport.CauseAuthRevoked:
		attempts := m.counters.IncReconnect(id)
		if attempts < len(m.cfg.ReconnectSchedule) {
			delay := m.cfg.ReconnectSchedule[attempts]
			logger.Warn("authorization revoked, retrying with credentials kept",
				"attempt", attempts+1, "delay", delay)
			m.registry.Detach(ctx, conn, false)
			m.scheduleRestartLocked(st, id, delay)
			return nil
		}

		logger.Error("reconnect attempts exhausted, tearing down session", "attempts", attempts)
		err := m.teardown(ctx, conn, store.AccountUpdate{
			Status:  store.String(store.StatusPending),
			Session: store.String(""),
			Number:  store.String(""),
		})
		m.scheduleRestartLocked(st, id, m.cfg.RestartDelay)
		return err

	case transport.CauseLoggedOut:
		logger.Warn("logged out by peer, tearing down session")
		err := m.teardown(ctx, conn, store.AccountUpdate{
			Status:  store.String(store.StatusPending),
			Session: store.String(""),
			Number:  store.String(""),
		})
		m.scheduleRestartLocked(st, id, m.cfg.RestartDelay)
		return err

	default:
		logger.Info("connection closed, restarting")
		m.registry.Detach(ctx, conn, false)
		m.scheduleRestartLocked(st, id, m.cfg.RestartDelay)
		return nil
	}
}

// teardown stops credential persistence, applies update, drops the
// connection without logout, deletes protocol rows, clears the counters, and
// notifies. Every step runs even when an earlier one fails.
func (m *Manager) teardown(ctx context.Context, conn *session.Connection, update store.AccountUpdate) error {
	id := conn.AccountID
	if ks := conn.Keys(); ks != nil {
		ks.Discard()
	}

	var errs []error
	acct, err := m.accounts.UpdateAccount(ctx, id, update)
	if err != nil {
		errs = append(errs, fmt.Errorf("persisting teardown state: %w", err))
	}
	m.registry.Detach(ctx, conn, false)
	if err := m.accounts.DeleteProtocolSessions(ctx, id); err != nil {
		errs = append(errs, fmt.Errorf("deleting protocol rows: %w", err))
	}
	m.counters.Reset(id)

	if acct != nil {
		m.notify(ctx, acct)
	}
	return errors.Join(errs...)
}

func (m *Manager) handlePresence(ctx context.Context, conn *session.Connection, p *transport.PresenceUpdate) error {
	if p == nil || m.directory == nil {
		return nil
	}
	data, ok := p.Presences[p.ID]
	if !ok || data.LastKnownPresence == "" {
		return nil
	}

	contact, err := m.directory.FindContactByNumber(ctx, conn.CompanyID, jid.Digits(p.ID))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("presence contact lookup: %w", err)
	}

	ticket, err := m.directory.FindOpenTicket(ctx, contact.ID, conn.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("presence ticket lookup: %w", err)
	}

	m.notifier.Notify(ctx, notify.PresenceChanged(ticket, data.LastKnownPresence))
	return nil
}

func (m *Manager) notify(ctx context.Context, acct *store.Account) {
	if acct == nil {
		return
	}
	m.notifier.Notify(ctx, notify.SessionChanged(acct))
}

// scheduleRestartLocked replaces any pending restart. st.mu must be held.
func (m *Manager) scheduleRestartLocked(st *accountState, id int64, delay time.Duration) {
	m.cancelRestartLocked(st)
	st.state = StateReconnecting
	gen := st.generation

	st.timer = m.scheduler.AfterFunc(delay, func() {
		m.fireRestart(id, gen)
	})
	m.logger.Info("restart scheduled", "account_id", id, "delay", delay)
}

// cancelRestartLocked stops the pending restart and invalidates any timer
// already firing. st.mu must be held.
func (m *Manager) cancelRestartLocked(st *accountState) {
	st.generation++
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}

func (m *Manager) fireRestart(id int64, gen uint64) {
	st := m.account(id)
	st.mu.Lock()
	switch {
	case st.generation != gen:
		st.mu.Unlock()
		m.logger.Debug("stale restart skipped", "account_id", id)
		return
	case st.state == StateTerminated, st.state == StateConnected:
		state := st.state
		st.mu.Unlock()
		m.logger.Info("restart skipped", "account_id", id, "state", state.String())
		return
	}
	st.timer = nil
	st.mu.Unlock()

	starter := m.getStarter()
	if starter == nil {
		m.logger.Error("restart due but no starter configured", "account_id", id)
		return
	}
	if err := starter.StartSession(context.Background(), id); err != nil {
		m.logger.Error("restarting session failed", "account_id", id, "error", err)
	}
}

// Stop cancels every pending restart. Timers already firing are skipped.
func (m *Manager) Stop() {
	m.mu.Lock()
	states := make([]*accountState, 0, len(m.states))
	for _, st := range m.states {
		states = append(states, st)
	}
	m.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		m.cancelRestartLocked(st)
		st.mu.Unlock()
	}
}
