package progress

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livepeer/videod/session"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

func newTestSession(t *testing.T) (*session.Session, *websocket.Conn, func()) {
	t.Helper()
	sessCh := make(chan *session.Session, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		sessCh <- session.New("s1", r.RemoteAddr, conn)
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

func TestDispatcherDeliversEmittedEvent(t *testing.T) {
	s, clientConn, cleanup := newTestSession(t)
	defer cleanup()

	r := session.NewRegistry(nil)
	r.Register(s)

	d := NewDispatcher(context.Background(), r, s, "job-1")
	defer d.Stop()

	d.Emit("analysis_progress", map[string]any{"progress": 12.5})

	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := clientConn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), `"type":"analysis_progress"`)
	require.Contains(t, string(data), `"job_id":"job-1"`)
}

func TestDispatcherCoalescesRapidEmits(t *testing.T) {
	s, clientConn, cleanup := newTestSession(t)
	defer cleanup()

	r := session.NewRegistry(nil)
	r.Register(s)

	d := NewDispatcher(context.Background(), r, s, "job-1")

	// Emit many events before the consumer has a chance to drain any of
	// them; only the last one's value should ever reach the wire.
	for i := 0; i < 50; i++ {
		d.Emit("analysis_progress", map[string]any{"progress": float64(i)})
	}
	d.Stop()

	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := clientConn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), `"progress":49`)

	// No further message should arrive; the channel had only one slot.
	_ = clientConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = clientConn.ReadMessage()
	require.Error(t, err)
}

func TestDispatcherStopDiscardsPendingEvent(t *testing.T) {
	s, clientConn, cleanup := newTestSession(t)
	defer cleanup()

	r := session.NewRegistry(nil)
	r.Register(s)

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(ctx, r, s, "job-1")
	cancel() // simulate session-close cancellation before the consumer runs
	d.Emit("analysis_progress", map[string]any{"progress": 1.0})
	d.Stop()

	_ = clientConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := clientConn.ReadMessage()
	require.Error(t, err)
}

func TestDispatcherEmitAfterStopDoesNotPanic(t *testing.T) {
	s, _, cleanup := newTestSession(t)
	defer cleanup()

	r := session.NewRegistry(nil)
	r.Register(s)

	d := NewDispatcher(context.Background(), r, s, "job-1")
	d.Stop()

	require.NotPanics(t, func() {
		d.Emit("analysis_progress", map[string]any{"progress": 1.0})
	})
}
