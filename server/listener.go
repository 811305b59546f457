// Package server ties the wire protocol to a running daemon: it accepts
// connections on a TCP or unix socket, upgrades each to a websocket, hands
// the resulting session to session.Registry, and runs two goroutines per
// session — a read loop feeding protocol.Router and a ping/pong keepalive
// loop that closes sessions which stop answering.
//
// Binds a raw net.Listener wrapped in a standard http.Server (construct,
// then block serving until a signal arrives), since this daemon multiplexes
// everything over one long-lived websocket connection per client rather
// than one HTTP request per call.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/livepeer/videod/config"
	"github.com/livepeer/videod/log"
	"github.com/livepeer/videod/metrics"
	"github.com/livepeer/videod/protocol"
	"github.com/livepeer/videod/session"
)

// Clock is overridden in tests so the keepalive loop can be driven without
// real sleeps.
var Clock = clock.New()

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server accepts job websocket connections and dispatches their frames
// through a protocol.Router.
type Server struct {
	cli      config.Cli
	router   *protocol.Router
	registry *session.Registry
	metrics  *metrics.ServiceMetrics

	httpSrv *http.Server
}

func New(cli config.Cli, router *protocol.Router, registry *session.Registry, m *metrics.ServiceMetrics) *Server {
	return &Server{cli: cli, router: router, registry: registry, metrics: m}
}

// ListenAndServe binds the configured listener (unix socket if set,
// otherwise TCP) and serves until ctx is canceled. A stale unix socket
// file at the configured path is removed before binding.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}

	s.httpSrv = &http.Server{Handler: s.Handler()}

	addr := s.cli.ListenAddr
	if s.cli.UnixSocketPath != "" {
		addr = s.cli.UnixSocketPath
	}
	log.LogNoRequestID("videod listening", "addr", addr)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpSrv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.closeTimeout())
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-serveErr:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Handler returns the upgrade endpoint as a plain http.Handler, so tests
// can drive it with httptest.NewServer without binding a real listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	return mux
}

func (s *Server) closeTimeout() time.Duration {
	if s.cli.CloseTimeout > 0 {
		return s.cli.CloseTimeout
	}
	return config.DefaultCloseTimeout
}

func (s *Server) listen() (net.Listener, error) {
	if s.cli.UnixSocketPath != "" {
		if err := os.Remove(s.cli.UnixSocketPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale unix socket %s: %w", s.cli.UnixSocketPath, err)
		}
		ln, err := net.Listen("unix", s.cli.UnixSocketPath)
		if err != nil {
			return nil, fmt.Errorf("binding unix socket %s: %w", s.cli.UnixSocketPath, err)
		}
		return ln, nil
	}

	ln, err := net.Listen("tcp", s.cli.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", s.cli.ListenAddr, err)
	}
	return ln, nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.LogNoRequestID("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	sess := session.New(uuid.NewString(), r.RemoteAddr, conn)
	sess.SetLastPong(Clock.Now())
	s.registry.Register(sess)
	if s.metrics != nil {
		s.metrics.SessionsConnected.Set(float64(s.registry.Count()))
	}
	log.LogNoRequestID("session connected", "session_id", sess.ID, "remote", sess.Remote)

	go s.keepalive(sess)
	s.readLoop(sess)
}

// readLoop blocks reading frames until the connection closes or errors,
// handing each frame to the router. One goroutine per session, so frames
// from a given client are always processed in the order they arrive.
func (s *Server) readLoop(sess *session.Session) {
	defer s.closeSession(sess)

	sess.SetPongHandler(func(string) error {
		sess.SetLastPong(Clock.Now())
		return nil
	})

	for {
		raw, err := sess.ReadMessage()
		if err != nil {
			return
		}
		s.router.HandleMessage(sess.Context(), sess, raw)
	}
}

// keepalive pings the session on an interval and closes it if no pong
// arrives within PingTimeout. Runs on Clock so tests can drive it without
// real sleeps.
func (s *Server) keepalive(sess *session.Session) {
	interval := s.cli.PingInterval
	if interval <= 0 {
		interval = config.DefaultPingInterval
	}
	timeout := s.cli.PingTimeout
	if timeout <= 0 {
		timeout = config.DefaultPingTimeout
	}

	ticker := Clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.Context().Done():
			return
		case <-ticker.C:
			if Clock.Since(sess.LastPong()) > interval+timeout {
				log.LogNoRequestID("session missed keepalive, closing", "session_id", sess.ID)
				s.closeSession(sess)
				return
			}
			if err := sess.WritePing(); err != nil {
				s.closeSession(sess)
				return
			}
		}
	}
}

func (s *Server) closeSession(sess *session.Session) {
	sess.Close()
	s.registry.Unregister(sess)
	if s.metrics != nil {
		s.metrics.SessionsConnected.Set(float64(s.registry.Count()))
	}
	log.LogNoRequestID("session closed", "session_id", sess.ID)
}
