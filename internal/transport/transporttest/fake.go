// ABOUTME: In-memory Socket and Dialer for tests
// ABOUTME: Lets tests push engine events and observe logout/close calls

// Package transporttest provides fakes of the engine contract.
package transporttest

import (
	"context"
	"sync"

	"github.com/2389/coven-wbot/internal/authstate"
	"github.com/2389/coven-wbot/internal/transport"
)

// Socket is a fake transport.Socket.
type Socket struct {
	mu        sync.Mutex
	events    chan transport.Event
	user      *authstate.Contact
	closed    bool
	logouts   int
	closes    int
	groups    map[string]*transport.GroupMetadata
	existence map[string]transport.Existence
	groupHits int

	// LogoutErr is returned from Logout when set.
	LogoutErr error
}

var _ transport.Socket = (*Socket)(nil)

// NewSocket returns a fake socket with a buffered event channel.
func NewSocket() *Socket {
	return &Socket{
		events:    make(chan transport.Event, 64),
		groups:    make(map[string]*transport.GroupMetadata),
		existence: make(map[string]transport.Existence),
	}
}

// Emit queues an event. It is a no-op after Close.
func (s *Socket) Emit(ev transport.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// SetUser sets the identity reported by User.
func (s *Socket) SetUser(c *authstate.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = c
}

// SetGroup registers metadata returned by GroupMetadata.
func (s *Socket) SetGroup(md *transport.GroupMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[md.ID] = md
}

// SetExistence registers an OnWhatsApp answer.
func (s *Socket) SetExistence(e transport.Existence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.existence[e.JID] = e
}

// Events implements transport.Socket.
func (s *Socket) Events() <-chan transport.Event { return s.events }

// User implements transport.Socket.
func (s *Socket) User() *authstate.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Logout implements transport.Socket.
func (s *Socket) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logouts++
	return s.LogoutErr
}

// Close implements transport.Socket.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// GroupMetadata implements transport.Socket.
func (s *Socket) GroupMetadata(ctx context.Context, jid string) (*transport.GroupMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupHits++
	md, ok := s.groups[jid]
	if !ok {
		return nil, transport.ErrNotFound
	}
	return md, nil
}

// OnWhatsApp implements transport.Socket.
func (s *Socket) OnWhatsApp(ctx context.Context, jids ...string) ([]transport.Existence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []transport.Existence
	for _, j := range jids {
		if e, ok := s.existence[j]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Logouts returns how many times Logout was called.
func (s *Socket) Logouts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logouts
}

// Closes returns how many times Close was called.
func (s *Socket) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Closed reports whether Close was called.
func (s *Socket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// GroupFetches returns how many times GroupMetadata hit the network.
func (s *Socket) GroupFetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groupHits
}

// Dialer records dials and hands out fresh fake sockets.
type Dialer struct {
	mu      sync.Mutex
	dials   []transport.Options
	sockets []*Socket

	// Err is returned from Dial when set.
	Err error
}

var _ transport.Dialer = (*Dialer)(nil)

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, opts transport.Options) (transport.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	s := NewSocket()
	d.dials = append(d.dials, opts)
	d.sockets = append(d.sockets, s)
	return s, nil
}

// Dials returns the options of every dial so far.
func (d *Dialer) Dials() []transport.Options {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]transport.Options(nil), d.dials...)
}

// Last returns the most recently dialed socket, or nil.
func (d *Dialer) Last() *Socket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

// Count returns the number of dials.
func (d *Dialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}
