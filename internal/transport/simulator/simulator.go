// ABOUTME: Development engine that fakes the pairing handshake in-process
// ABOUTME: Emits connecting, periodic QR codes, open after Pair, and close on Kick

// Package simulator is a transport.Dialer for local development and demos.
// Unpaired accounts receive a new QR code every interval until Pair is called;
// paired accounts open straight away. Kick closes a socket with any status
// code so the reconnect paths can be exercised by hand.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-wbot/internal/authstate"
	"github.com/2389/coven-wbot/internal/jid"
	"github.com/2389/coven-wbot/internal/transport"
)

// ErrNoSocket is returned when no live socket exists for an account.
var ErrNoSocket = errors.New("no live socket for account")

// DefaultQRInterval is the time between QR codes when none is configured.
const DefaultQRInterval = 20 * time.Second

// Engine is the simulated engine. It implements transport.Dialer.
type Engine struct {
	mu         sync.Mutex
	sockets    map[int64]*socket
	qrInterval time.Duration
	logger     *slog.Logger
}

var _ transport.Dialer = (*Engine)(nil)

// New creates a simulator.
func New(qrInterval time.Duration, logger *slog.Logger) *Engine {
	if qrInterval <= 0 {
		qrInterval = DefaultQRInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		sockets:    make(map[int64]*socket),
		qrInterval: qrInterval,
		logger:     logger.With("component", "simulator"),
	}
}

// Dial implements transport.Dialer. A second dial for the same account
// replaces the first socket, which is closed with 440.
func (e *Engine) Dial(ctx context.Context, opts transport.Options) (transport.Socket, error) {
	if opts.Auth.Creds == nil {
		return nil, errors.New("simulator: dial without creds")
	}
	s := &socket{
		engine:    e,
		accountID: opts.AccountID,
		creds:     opts.Auth.Creds,
		events:    make(chan transport.Event, 16),
		pair:      make(chan string, 1),
		kick:      make(chan int, 1),
		done:      make(chan struct{}),
		logger:    e.logger.With("account_id", opts.AccountID),
	}

	e.mu.Lock()
	prev := e.sockets[opts.AccountID]
	e.sockets[opts.AccountID] = s
	e.mu.Unlock()

	if prev != nil {
		prev.signalKick(transport.ReasonConnectionReplaced)
	}

	go s.run(e.qrInterval)
	return s, nil
}

// Pair completes the pairing of an account with the given phone number.
func (e *Engine) Pair(accountID int64, number string) error {
	s := e.lookup(accountID)
	if s == nil {
		return ErrNoSocket
	}
	number = jid.Digits(number)
	if number == "" {
		return errors.New("simulator: pair needs a phone number")
	}
	select {
	case s.pair <- number:
	default:
	}
	return nil
}

// Kick closes the account's socket with the given status code.
func (e *Engine) Kick(accountID int64, code int) error {
	s := e.lookup(accountID)
	if s == nil {
		return ErrNoSocket
	}
	s.signalKick(code)
	return nil
}

// Live returns the number of live sockets.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sockets)
}

func (e *Engine) lookup(accountID int64) *socket {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sockets[accountID]
}

func (e *Engine) forget(s *socket) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sockets[s.accountID] == s {
		delete(e.sockets, s.accountID)
	}
}

type socket struct {
	engine    *Engine
	accountID int64
	logger    *slog.Logger

	mu    sync.Mutex
	creds *authstate.Creds
	user  *authstate.Contact

	events    chan transport.Event
	pair      chan string
	kick      chan int
	done      chan struct{}
	closeOnce sync.Once
}

func (s *socket) run(qrInterval time.Duration) {
	defer close(s.events)
	defer s.engine.forget(s)

	s.emit(transport.Event{Type: transport.EventConnectionUpdate, Connection: &transport.ConnectionUpdate{
		Connection: transport.ConnectionConnecting,
	}})

	if s.paired() {
		s.open()
	} else {
		s.emit(transport.QREvent(newQR()))
	}

	ticker := time.NewTicker(qrInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case code := <-s.kick:
			s.logger.Info("closing simulated socket", "status_code", code)
			s.emit(transport.CloseEvent(code))
			return
		case number := <-s.pair:
			if s.paired() {
				continue
			}
			s.register(number)
			s.open()
		case <-ticker.C:
			if !s.paired() {
				s.emit(transport.QREvent(newQR()))
			}
		}
	}
}

func (s *socket) paired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user != nil || s.creds.HasSelfIdentity()
}

// register copies the creds with a self identity and publishes them.
func (s *socket) register(number string) {
	s.mu.Lock()
	next := *s.creds
	next.Me = &authstate.Contact{
		ID:   number + ":1@" + jid.PhoneServer,
		LID:  opaqueFor(number) + ":1@" + jid.OpaqueServer,
		Name: "simulated " + number,
	}
	next.Registered = true
	next.Platform = "simulator"
	s.creds = &next
	s.mu.Unlock()

	s.emit(transport.CredsEvent(&next))
}

func (s *socket) open() {
	s.mu.Lock()
	if s.creds.Me != nil {
		me := *s.creds.Me
		s.user = &me
	}
	s.mu.Unlock()
	s.logger.Info("simulated socket open")
	s.emit(transport.OpenEvent())
}

func (s *socket) emit(ev transport.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *socket) signalKick(code int) {
	select {
	case s.kick <- code:
	default:
	}
}

func (s *socket) Events() <-chan transport.Event { return s.events }

func (s *socket) User() *authstate.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *socket) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.user = nil
	s.mu.Unlock()
	s.logger.Info("simulated logout")
	return nil
}

func (s *socket) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *socket) GroupMetadata(ctx context.Context, groupJID string) (*transport.GroupMetadata, error) {
	return nil, fmt.Errorf("group %s: %w", groupJID, transport.ErrNotFound)
}

// OnWhatsApp reports every phone address as existing, with a stable opaque id.
func (s *socket) OnWhatsApp(ctx context.Context, jids ...string) ([]transport.Existence, error) {
	out := make([]transport.Existence, 0, len(jids))
	for _, j := range jids {
		if !jid.IsPhoneAddress(j) {
			continue
		}
		out = append(out, transport.Existence{
			JID:    jid.Normalize(j),
			Exists: true,
			LID:    opaqueFor(jid.User(j)) + "@" + jid.OpaqueServer,
		})
	}
	return out, nil
}

func opaqueFor(number string) string {
	h := fnv.New64a()
	h.Write([]byte(number))
	return fmt.Sprintf("%d", h.Sum64()%1_000_000_000_000_000)
}

func newQR() string {
	return "2@" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
