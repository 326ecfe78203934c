package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/blindrelay/internal/logging"
)

// State is the authentication state of a connection.
type State int

const (
	StateConnected State = iota
	StateAuthPending
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthPending:
		return "auth_pending"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ErrSessionClosed is returned by Send on a closed session.
var ErrSessionClosed = errors.New("session closed")

// Transport is the framed, bidirectional connection under a Session.
// WriteJSON must be safe for concurrent use.
type Transport interface {
	WriteJSON(v any) error
	Close(code int, reason string) error
}

type pendingAuth struct {
	identityKey   string
	encryptionKey string
	nonce         string
}

// Session is one client connection. Protocol frames are handled one at a
// time by the read loop; sends and closes may come from any goroutine.
type Session struct {
	id        string
	transport Transport
	clock     clock.Clock
	logger    logging.Logger

	mu        sync.Mutex
	state     State
	pending   *pendingAuth
	address   string
	authTimer *clock.Timer
	timers    map[*clock.Timer]struct{}
}

// NewSession wraps t in a Session in the Connected state.
func NewSession(id string, t Transport, clk clock.Clock, l logging.Logger) *Session {
	return &Session{
		id:        id,
		transport: t,
		clock:     clk,
		logger:    l.With("conn_id", id),
		state:     StateConnected,
		timers:    make(map[*clock.Timer]struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Address returns the bound address, empty until authenticated.
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

func (s *Session) Open() bool {
	return s.State() != StateClosed
}

func (s *Session) Logger() logging.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

// startAuthTimer arms fn to run once after d unless the handshake
// completes first.
func (s *Session) startAuthTimer(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.authTimer = s.clock.AfterFunc(d, fn)
}

func (s *Session) stopAuthTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authTimer != nil {
		s.authTimer.Stop()
		s.authTimer = nil
	}
}

// beginAuth stores a fresh challenge, replacing any previous one.
func (s *Session) beginAuth(p *pendingAuth) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || s.state == StateAuthenticated {
		return false
	}
	s.pending = p
	s.state = StateAuthPending
	return true
}

// takePending returns and clears the outstanding challenge. A challenge is
// good for exactly one response.
func (s *Session) takePending() *pendingAuth {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthPending {
		return nil
	}
	p := s.pending
	s.pending = nil
	return p
}

func (s *Session) authenticate(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = StateAuthenticated
	s.address = address
	s.logger = s.logger.With("address", logging.ShortAddress(address))
	return true
}

func (s *Session) Send(v any) error {
	if !s.Open() {
		return ErrSessionClosed
	}
	return s.transport.WriteJSON(v)
}

func (s *Session) SendAfter(d time.Duration, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}

	var t *clock.Timer
	t = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, t)
		s.mu.Unlock()

		if err := s.Send(v); err != nil && !errors.Is(err, ErrSessionClosed) {
			s.Logger().Warn(context.Background(), "delayed send failed", "error", err)
		}
	})
	s.timers[t] = struct{}{}
}

// Close stops every scheduled task and closes the transport with code.
// Only the first call has an effect.
func (s *Session) Close(code int, reason string) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.pending = nil
	if s.authTimer != nil {
		s.authTimer.Stop()
		s.authTimer = nil
	}
	for t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.mu.Unlock()

	if err := s.transport.Close(code, reason); err != nil {
		s.Logger().Debug(context.Background(), "transport close", "error", err)
	}
}
