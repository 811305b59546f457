package protocol

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livepeer/videod/apperrors"
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

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestRouterRespondsToPingInline(t *testing.T) {
	s, conn, cleanup := newTestSession(t)
	defer cleanup()
	r := NewRouter(registryFor(s))

	r.HandleMessage(context.Background(), s, []byte(`{"type":"ping","payload":{}}`))

	msg := readJSON(t, conn)
	require.Equal(t, "pong", msg["type"])
}

func TestRouterReturnsErrorForMalformedJSON(t *testing.T) {
	s, conn, cleanup := newTestSession(t)
	defer cleanup()
	r := NewRouter(registryFor(s))

	r.HandleMessage(context.Background(), s, []byte(`{not json`))

	msg := readJSON(t, conn)
	require.Equal(t, "error", msg["type"])
	require.True(t, s.IsOpen())
}

func TestRouterReturnsErrorForUnknownType(t *testing.T) {
	s, conn, cleanup := newTestSession(t)
	defer cleanup()
	r := NewRouter(registryFor(s))

	r.HandleMessage(context.Background(), s, []byte(`{"type":"frobnicate","payload":{}}`))

	msg := readJSON(t, conn)
	require.Equal(t, "error", msg["type"])
	payload := msg["payload"].(map[string]any)
	require.Contains(t, payload["message"], "Unknown message type: frobnicate")
	require.True(t, s.IsOpen())
}

func TestRouterBadRequestHandlerReportsMessageVerbatim(t *testing.T) {
	s, conn, cleanup := newTestSession(t)
	defer cleanup()
	r := NewRouter(registryFor(s))
	r.Register("thing", func(ctx context.Context, sess *session.Session, payload json.RawMessage) error {
		return apperrors.NewBadRequestError("missing field foo")
	})

	r.HandleMessage(context.Background(), s, []byte(`{"type":"thing","payload":{}}`))

	msg := readJSON(t, conn)
	payload := msg["payload"].(map[string]any)
	require.Equal(t, "missing field foo", payload["message"])
}

func TestRouterHandlerPanicReportsGenericInternalError(t *testing.T) {
	s, conn, cleanup := newTestSession(t)
	defer cleanup()
	r := NewRouter(registryFor(s))
	r.Register("thing", func(ctx context.Context, sess *session.Session, payload json.RawMessage) error {
		panic("kaboom")
	})

	require.NotPanics(t, func() {
		r.HandleMessage(context.Background(), s, []byte(`{"type":"thing","payload":{}}`))
	})

	msg := readJSON(t, conn)
	payload := msg["payload"].(map[string]any)
	require.Equal(t, "Internal error", payload["message"])
}

func registryFor(s *session.Session) *session.Registry {
	r := session.NewRegistry(nil)
	r.Register(s)
	return r
}
