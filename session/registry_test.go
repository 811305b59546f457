package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// newTestSession spins up a real websocket connection over an httptest
// server and wraps the server side in a Session.
func newTestSession(t *testing.T) (*Session, *websocket.Conn, func()) {
	t.Helper()
	sessCh := make(chan *Session, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		sessCh <- New("s1", r.RemoteAddr, conn)
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	s := <-sessCh
	return s, clientConn, func() {
		clientConn.Close()
		srv.Close()
	}
}

func TestRegisterUnregisterIdempotent(t *testing.T) {
	s, _, cleanup := newTestSession(t)
	defer cleanup()

	r := NewRegistry(nil)
	r.Register(s)
	r.Register(s)
	require.Equal(t, 1, r.Count())

	r.Unregister(s)
	r.Unregister(s)
	require.Equal(t, 0, r.Count())
}

func TestSendToUnregisteredSessionReturnsFalse(t *testing.T) {
	s, _, cleanup := newTestSession(t)
	defer cleanup()

	r := NewRegistry(nil)
	ok := r.Send(s, "status", map[string]any{"ok": true}, "")
	require.False(t, ok)
}

func TestSendAfterUnregisterReturnsFalse(t *testing.T) {
	s, _, cleanup := newTestSession(t)
	defer cleanup()

	r := NewRegistry(nil)
	r.Register(s)
	require.True(t, r.Send(s, "status", map[string]any{"ok": true}, ""))

	r.Unregister(s)
	require.False(t, r.Send(s, "status", map[string]any{"ok": true}, ""))
}

func TestSendToClosedSessionReturnsFalse(t *testing.T) {
	s, _, cleanup := newTestSession(t)
	defer cleanup()

	r := NewRegistry(nil)
	r.Register(s)
	s.Close()

	ok := r.Send(s, "status", map[string]any{"ok": true}, "")
	require.False(t, ok)
}

func TestSendEncodesJobID(t *testing.T) {
	s, clientConn, cleanup := newTestSession(t)
	defer cleanup()

	r := NewRegistry(nil)
	r.Register(s)
	require.True(t, r.Send(s, "analysis_error", map[string]any{"message": "boom"}, "j1"))

	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := clientConn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), `"job_id":"j1"`)
	require.Contains(t, string(data), `"type":"analysis_error"`)
}
