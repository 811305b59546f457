// Package session implements the Connection Registry: the
// set of live client connections and the safe-send primitive that silently
// drops writes to closed sessions.
//
// Grounded on a generic mutex-protected map, generalized from an arbitrary
// value cache to tracking live *Session objects and adding the send/close
// semantics a connection registry requires.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livepeer/videod/log"
)

// Session is a single accepted client connection.
type Session struct {
	ID     string
	Remote string

	conn    *websocket.Conn
	writeMu sync.Mutex
	open    atomic.Bool

	// ctx is canceled when the session closes. Progress dispatchers for
	// jobs submitted on this session derive from it, so a closed session
	// stops delivery immediately without affecting the in-flight job
	// itself, which runs on a detached context.
	ctx    context.Context
	cancel context.CancelFunc

	// lastPong tracks the keepalive deadline; read/written by the server
	// package's ping loop via LastPong/SetLastPong.
	lastPong atomic.Value // time.Time
}

func New(id, remote string, conn *websocket.Conn) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{ID: id, Remote: remote, conn: conn, ctx: ctx, cancel: cancel}
	s.open.Store(true)
	s.lastPong.Store(time.Now())
	return s
}

// Context is canceled when the session closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

// LastPong returns the time of the most recent pong (or connection start).
func (s *Session) LastPong() time.Time {
	return s.lastPong.Load().(time.Time)
}

// SetLastPong records a pong arrival.
func (s *Session) SetLastPong(t time.Time) {
	s.lastPong.Store(t)
}

// IsOpen reports whether the session has not yet been closed. It does not
// consult any Registry.
func (s *Session) IsOpen() bool {
	return s.open.Load()
}

// Close marks the session closed. Once closed, no further writes are
// attempted. Idempotent.
func (s *Session) Close() {
	if s.open.CompareAndSwap(true, false) {
		s.cancel()
		_ = s.conn.Close()
	}
}

// writeJSON writes an already-encoded message under the session's own
// write lock, so concurrent sends to the same session are serialized
// without holding the registry's lock across I/O.
func (s *Session) writeJSON(raw []byte) bool {
	if !s.IsOpen() {
		return false
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !s.IsOpen() {
		return false
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		if websocket.IsUnexpectedCloseError(err) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			s.Close()
			return false
		}
		log.LogNoRequestID("error writing to session", "session_id", s.ID, "err", err)
		return false
	}
	return true
}

// ReadMessage blocks until the next text frame arrives, or the connection
// closes/errors.
func (s *Session) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *Session) SetPongHandler(h func(appData string) error) {
	s.conn.SetPongHandler(h)
}

func (s *Session) WritePing() error {
	if !s.IsOpen() {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}
