package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/livepeer/videod/config"
	"github.com/livepeer/videod/protocol"
	"github.com/livepeer/videod/session"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, cli config.Cli) (*Server, *session.Registry, *httptest.Server) {
	t.Helper()
	registry := session.NewRegistry(nil)
	router := protocol.NewRouter(registry)
	srv := New(cli, router, registry, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, registry, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestHandleUpgradeRegistersSession(t *testing.T) {
	_, registry, ts := newTestServer(t, config.Cli{})
	conn := dial(t, ts)
	defer conn.Close()

	require.Eventually(t, func() bool { return registry.Count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestReadLoopRoutesFramesAndUnregistersOnDisconnect(t *testing.T) {
	_, registry, ts := newTestServer(t, config.Cli{})
	conn := dial(t, ts)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","payload":{}}`)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, "pong", msg["type"])

	conn.Close()
	require.Eventually(t, func() bool { return registry.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestKeepaliveClosesSessionAfterMissedPong(t *testing.T) {
	mock := clock.NewMock()
	Clock = mock
	defer func() { Clock = clock.New() }()

	cli := config.Cli{PingInterval: time.Second, PingTimeout: time.Second}
	_, registry, ts := newTestServer(t, cli)
	conn := dial(t, ts)
	defer conn.Close()

	require.Eventually(t, func() bool { return registry.Count() == 1 }, time.Second, 10*time.Millisecond)

	mock.Add(cli.PingInterval)
	mock.Add(cli.PingInterval + cli.PingTimeout + time.Second)

	require.Eventually(t, func() bool { return registry.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestListenAndServeRemovesStaleSocketAndBinds(t *testing.T) {
	dir := t.TempDir()
	sockPath := dir + "/videod.sock"
	require.NoError(t, os.WriteFile(sockPath, []byte("stale"), 0o644))

	registry := session.NewRegistry(nil)
	router := protocol.NewRouter(registry)
	srv := New(config.Cli{UnixSocketPath: sockPath}, router, registry, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	dialer := websocket.Dialer{
		NetDial: func(_, _ string) (net.Conn, error) {
			return net.Dial("unix", sockPath)
		},
	}
	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		c, _, err := dialer.Dial("ws://unix/", nil)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, time.Second, 10*time.Millisecond, "never accepted a connection on the unix socket")
	conn.Close()

	cancel()
	require.NoError(t, <-errCh)
}
