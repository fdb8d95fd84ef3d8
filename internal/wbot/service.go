// ABOUTME: Session bootstrap service wiring store, engine, caches, and lifecycle manager
// ABOUTME: Starts, restarts, logs out, and shuts down account connections

package wbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-wbot/internal/authstate"
	"github.com/2389/coven-wbot/internal/cache"
	"github.com/2389/coven-wbot/internal/identity"
	"github.com/2389/coven-wbot/internal/jid"
	"github.com/2389/coven-wbot/internal/lifecycle"
	"github.com/2389/coven-wbot/internal/notify"
	"github.com/2389/coven-wbot/internal/session"
	"github.com/2389/coven-wbot/internal/store"
	"github.com/2389/coven-wbot/internal/transport"
)

// Service errors
var (
	ErrShuttingDown        = errors.New("service is shutting down")
	ErrTerminated          = errors.New("account terminated, explicit start required")
	ErrPairingUnsupported  = errors.New("engine does not support pairing")
	errDialedAfterShutdown = errors.New("dialed after shutdown")
)

// flushTimeout bounds the final credential write when a socket ends.
const flushTimeout = 5 * time.Second

// startConcurrency bounds parallel bootstraps in StartAll.
const startConcurrency = 4

// Pairer is implemented by engines that can complete pairing without a phone.
type Pairer interface {
	Pair(accountID int64, number string) error
}

// EngineOptions are the dial options shared by every account.
type EngineOptions struct {
	Version             []int
	Browser             [3]string
	ConnectTimeout      time.Duration
	RetryRequestDelay   time.Duration
	MarkOnlineOnConnect bool
}

// CacheBounds sizes the per-connection caches. Zero values select defaults.
type CacheBounds struct {
	MessageTTL  time.Duration
	MessageSize int
	RetryTTL    time.Duration
	RetrySize   int
	GroupTTL    time.Duration
	GroupSize   int
	MappingTTL  time.Duration
	MappingSize int
}

// Options holds the service's collaborators.
type Options struct {
	Store    store.Store
	Dialer   transport.Dialer
	Manager  *lifecycle.Manager
	Registry *session.Registry
	Notifier notify.Notifier
	Engine   EngineOptions
	Caches   CacheBounds
	Logger   *slog.Logger
}

// Service starts and stops account connections.
type Service struct {
	store    store.Store
	dialer   transport.Dialer
	manager  *lifecycle.Manager
	registry *session.Registry
	notifier notify.Notifier
	engine   EngineOptions
	caches   CacheBounds
	logger   *slog.Logger

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	// pumped holds each account's newest connection, registered or not,
	// until its pump finishes.
	pumpedMu sync.Mutex
	pumped   map[int64]*session.Connection

	closed atomic.Bool
	pumps  sync.WaitGroup
}

var _ lifecycle.Starter = (*Service)(nil)

// New creates a Service and installs it as the manager's restart starter.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Multi(nil)
	}
	s := &Service{
		store:    opts.Store,
		dialer:   opts.Dialer,
		manager:  opts.Manager,
		registry: opts.Registry,
		notifier: notifier,
		engine:   opts.Engine,
		caches:   opts.Caches,
		logger:   logger.With("component", "wbot"),
		locks:    make(map[int64]*sync.Mutex),
		pumped:   make(map[int64]*session.Connection),
	}
	opts.Manager.SetStarter(s)
	return s
}

// StartSession bootstraps an account. It is the restart path: a TERMINATED
// account is left alone.
func (s *Service) StartSession(ctx context.Context, accountID int64) error {
	return s.start(ctx, accountID, false)
}

// Start bootstraps an account on operator request, reviving a TERMINATED
// account and clearing its retry counters.
func (s *Service) Start(ctx context.Context, accountID int64) error {
	return s.start(ctx, accountID, true)
}

func (s *Service) lock(accountID int64) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[accountID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[accountID] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// resources are the per-connection caches released when the socket ends.
type resources struct {
	messages *cache.MessageCache
	retries  *cache.RetryCounters
	groups   *cache.GroupMetadataCache
	mapping  atomic.Pointer[identity.MappingStore]
}

func (r *resources) close() {
	r.messages.Close()
	r.retries.Close()
	r.groups.Close()
	if m := r.mapping.Load(); m != nil {
		m.Close()
	}
}

func (s *Service) start(ctx context.Context, accountID int64, explicit bool) error {
	if s.closed.Load() {
		return ErrShuttingDown
	}
	unlock := s.lock(accountID)
	defer unlock()

	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("loading account %d: %w", accountID, err)
	}
	if !s.manager.BeginStart(accountID, explicit) {
		return ErrTerminated
	}

	// A fresh start supersedes whatever connection the account still has.
	s.registry.Remove(ctx, accountID, false)
	if prev := s.tracked(accountID); prev != nil {
		s.registry.Detach(ctx, prev, false)
	}

	logger := s.logger.With("account_id", accountID, "company_id", acct.CompanyID)
	acct, err = s.store.UpdateAccount(ctx, accountID, store.AccountUpdate{Status: store.String(store.StatusOpening)})
	if err != nil {
		return fmt.Errorf("marking account opening: %w", err)
	}
	s.notifier.Notify(ctx, notify.SessionChanged(acct))

	state, err := authstate.Load(acct.Session, s.saveSession(accountID), logger)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	res := &resources{
		messages: cache.NewMessageCache(s.caches.MessageTTL, s.caches.MessageSize),
		retries:  cache.NewRetryCounters(s.caches.RetryTTL, s.caches.RetrySize),
		groups:   cache.NewGroupMetadataCache(s.caches.GroupTTL, s.caches.GroupSize),
	}

	var live atomic.Pointer[session.Connection]
	opts := transport.Options{
		AccountID:        accountID,
		Auth:             transport.AuthState{Creds: state.Creds, Keys: state.Keys},
		Version:          s.engine.Version,
		Browser:          s.engine.Browser,
		GetMessage:       res.messages.Get,
		MsgRetryCounters: res.retries,
		ShouldIgnoreJID:  jid.IsBroadcast,
		CachedGroupMetadata: func(ctx context.Context, group string) (*transport.GroupMetadata, error) {
			conn := live.Load()
			if conn == nil {
				return nil, transport.ErrNotFound
			}
			return res.groups.Fetch(ctx, group, conn.Socket().GroupMetadata)
		},
		ConnectTimeout:      s.engine.ConnectTimeout,
		RetryRequestDelay:   s.engine.RetryRequestDelay,
		MarkOnlineOnConnect: s.engine.MarkOnlineOnConnect,
		Logger:              logger.With("component", "engine"),
	}

	sock, err := s.dialer.Dial(ctx, opts)
	if err != nil {
		res.close()
		state.Keys.Discard()
		return s.dialFailed(ctx, accountID, err)
	}

	conn := session.NewConnection(session.ConnectionParams{
		AccountID: accountID,
		CompanyID: acct.CompanyID,
		Name:      acct.Name,
		Socket:    sock,
		Keys:      state.Keys,
		NewMapping: func() session.IdentityMapping {
			m := identity.NewMappingStoreSized(state.Keys, sock, s.caches.MappingTTL, s.caches.MappingSize, logger)
			res.mapping.Store(m)
			return m
		},
		Logger: s.logger,
	})
	live.Store(conn)
	s.track(conn)

	s.pumps.Add(1)
	go s.pump(conn, res)

	// Shutdown may have started while dialing; it will not see this socket.
	if s.closed.Load() {
		s.registry.Detach(context.Background(), conn, false)
		return errDialedAfterShutdown
	}

	logger.Info("session started", "explicit", explicit, "has_credentials", state.Creds.HasSelfIdentity())
	return nil
}

func (s *Service) saveSession(accountID int64) authstate.SaveFunc {
	return func(ctx context.Context, blob string) error {
		_, err := s.store.UpdateAccount(ctx, accountID, store.AccountUpdate{Session: store.String(blob)})
		return err
	}
}

// dialFailed records a failed dial. The account is left DISCONNECTED until
// an operator starts it again.
func (s *Service) dialFailed(ctx context.Context, accountID int64, dialErr error) error {
	s.logger.Error("dialing engine failed", "account_id", accountID, "error", dialErr)
	acct, err := s.store.UpdateAccount(ctx, accountID, store.AccountUpdate{Status: store.String(store.StatusDisconnected)})
	if err == nil {
		s.notifier.Notify(ctx, notify.SessionChanged(acct))
	}
	return fmt.Errorf("dialing engine: %w", dialErr)
}

// pump feeds socket events to the lifecycle manager until the socket's
// event channel closes, then releases the connection's resources.
func (s *Service) pump(conn *session.Connection, res *resources) {
	defer s.pumps.Done()

	for ev := range conn.Socket().Events() {
		_ = s.manager.HandleEvent(context.Background(), conn, ev)
	}

	// The engine ended the socket without a close event.
	if s.registry.Has(conn) {
		conn.Logger().Warn("socket ended while registered")
		s.registry.Detach(context.Background(), conn, false)
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := conn.Keys().Close(ctx); err != nil {
		conn.Logger().Error("final credential write failed", "error", err)
	}
	res.close()
	s.untrack(conn)
	conn.Logger().Debug("session pump finished")
}

func (s *Service) track(conn *session.Connection) {
	s.pumpedMu.Lock()
	defer s.pumpedMu.Unlock()
	s.pumped[conn.AccountID] = conn
}

func (s *Service) untrack(conn *session.Connection) {
	s.pumpedMu.Lock()
	defer s.pumpedMu.Unlock()
	if s.pumped[conn.AccountID] == conn {
		delete(s.pumped, conn.AccountID)
	}
}

func (s *Service) tracked(accountID int64) *session.Connection {
	s.pumpedMu.Lock()
	defer s.pumpedMu.Unlock()
	return s.pumped[accountID]
}

// Logout logs the account out of the network, clears its credentials, and
// leaves it DISCONNECTED.
func (s *Service) Logout(ctx context.Context, accountID int64) error {
	unlock := s.lock(accountID)
	defer unlock()

	if conn, err := s.registry.Lookup(accountID); err == nil {
		conn.Keys().Discard()
	}
	s.registry.Remove(ctx, accountID, true)
	if conn := s.tracked(accountID); conn != nil {
		conn.Keys().Discard()
		s.registry.Detach(ctx, conn, false)
	}
	s.manager.Forget(accountID)

	var errs []error
	acct, err := s.store.UpdateAccount(ctx, accountID, store.AccountUpdate{
		Status:  store.String(store.StatusDisconnected),
		QRCode:  store.String(""),
		Session: store.String(""),
		Number:  store.String(""),
		Retries: store.Int(0),
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("clearing account: %w", err))
	}
	if err := s.store.DeleteProtocolSessions(ctx, accountID); err != nil {
		errs = append(errs, fmt.Errorf("deleting protocol rows: %w", err))
	}
	if acct != nil {
		s.notifier.Notify(ctx, notify.SessionChanged(acct))
	}
	s.logger.Info("account logged out", "account_id", accountID)
	return errors.Join(errs...)
}

// RestartCompany closes every live connection of a company and starts each
// affected account again. It returns the restarted account ids.
func (s *Service) RestartCompany(ctx context.Context, companyID int64) ([]int64, error) {
	ids := s.registry.CloseCompany(ctx, companyID)

	var errs []error
	for _, id := range ids {
		if err := s.StartSession(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("account %d: %w", id, err))
		}
	}
	return ids, errors.Join(errs...)
}

// StartAll boots every stored account. Failures are logged per account.
func (s *Service) StartAll(ctx context.Context) error {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("listing accounts: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(startConcurrency)
	for _, acct := range accounts {
		id := acct.ID
		g.Go(func() error {
			if err := s.StartSession(ctx, id); err != nil {
				s.logger.Error("starting account failed", "account_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("accounts started", "count", len(accounts), "live", s.registry.Len())
	return nil
}

// Pair completes pairing through engines that support it.
func (s *Service) Pair(accountID int64, number string) error {
	p, ok := s.dialer.(Pairer)
	if !ok {
		return ErrPairingUnsupported
	}
	return p.Pair(accountID, number)
}

// WaitReady blocks until the account's registered connection opens.
func (s *Service) WaitReady(ctx context.Context, accountID int64) error {
	conn, err := s.registry.Lookup(accountID)
	if err != nil {
		return err
	}
	return conn.WaitReady(ctx)
}

// SessionInfo is an account with its in-memory lifecycle view.
type SessionInfo struct {
	*store.Account
	State lifecycle.State `json:"state"`
	Live  bool            `json:"live"`
}

// Sessions lists a company's accounts with their lifecycle state.
func (s *Service) Sessions(ctx context.Context, companyID int64) ([]SessionInfo, error) {
	accounts, err := s.store.ListAccountsByCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	out := make([]SessionInfo, 0, len(accounts))
	for _, acct := range accounts {
		_, lookupErr := s.registry.Lookup(acct.ID)
		out = append(out, SessionInfo{
			Account: acct,
			State:   s.manager.State(acct.ID),
			Live:    lookupErr == nil,
		})
	}
	return out, nil
}

// Shutdown stops restarts, closes every connection without logging out, and
// waits for the event pumps to drain.
func (s *Service) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.manager.Stop()
	s.registry.CloseAll(ctx)

	// Sockets still connecting were never registered.
	s.pumpedMu.Lock()
	pending := make([]*session.Connection, 0, len(s.pumped))
	for _, conn := range s.pumped {
		pending = append(pending, conn)
	}
	s.pumpedMu.Unlock()
	for _, conn := range pending {
		s.registry.Detach(ctx, conn, false)
	}

	done := make(chan struct{})
	go func() {
		s.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("sessions shut down")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for session pumps: %w", ctx.Err())
	}
}
