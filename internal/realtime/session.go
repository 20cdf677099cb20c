package realtime

import (
	"log/slog"
	"sync"

	"github.com/cabdesk/dispatch-notify/internal/domain/session"
)

// Session owns the single push connection of an authenticated session and
// shares it by reference. The first Acquire starts the connection, the last
// release closes it, and Logout closes it regardless of holders.
type Session struct {
	selection Selection
	conn      *Connection

	mu     sync.Mutex
	refs   int
	closed bool
}

func NewSession(selection Selection, cfg Config, dialer Dialer, logger *slog.Logger) *Session {
	return &Session{
		selection: selection,
		conn:      NewConnection(cfg, selection.Scope, dialer, logger),
	}
}

func (s *Session) Scope() session.Scope {
	return s.selection.Scope
}

func (s *Session) Selection() Selection {
	return s.selection
}

// Acquire returns the shared connection and a release func. Release is
// safe to call more than once.
func (s *Session) Acquire() (*Connection, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, ErrSessionClosed
	}

	s.refs++
	if s.refs == 1 {
		s.conn.Start()
	}

	var once sync.Once
	release := func() {
		once.Do(s.release)
	}
	return s.conn, release, nil
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs == 0 {
		return
	}
	s.refs--
	if s.refs == 0 {
		s.conn.Close()
	}
}

// Logout tears the connection down for good.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.refs = 0
	s.conn.Close()
}

// Refs returns the number of current holders.
func (s *Session) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}
