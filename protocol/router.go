// Package protocol implements the Message Codec & Router:
// parse every incoming frame as a {"type", "payload"} envelope, answer
// pings inline, and dispatch everything else to a registered handler by
// type, distinguishing bad-request (malformed envelope — session stays
// open) from handler exceptions (caught, logged in full, reported to the
// client as a generic "Internal error").
//
// The dispatch-by-string-kind shape is the same as an HTTP X-Trigger header
// switch, generalized from a header read once per request to a JSON "type"
// field read off a long-lived gorilla/websocket connection, with handlers
// registered in a map instead of a switch so protocol and handler wiring
// stay separate (protocol/router.go vs protocol/handlers.go).
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/livepeer/videod/apperrors"
	"github.com/livepeer/videod/log"
	"github.com/livepeer/videod/session"
	"github.com/livepeer/videod/wire"
)

// Handler processes one envelope's payload for a registered message type.
// Returning an apperrors.BadRequestError reports its message verbatim to
// the client without logging a stack trace; any other error is logged in
// full and reported to the client as a generic "Internal error" message.
type Handler func(ctx context.Context, sess *session.Session, payload json.RawMessage) error

// Router dispatches parsed envelopes to registered handlers by type.
type Router struct {
	handlers map[string]Handler
	registry *session.Registry
}

func NewRouter(registry *session.Registry) *Router {
	return &Router{handlers: make(map[string]Handler), registry: registry}
}

// Register binds a handler to a message type. Re-registering a type
// replaces the previous handler; used once at startup.
func (r *Router) Register(msgType string, h Handler) {
	r.handlers[msgType] = h
}

// HandleMessage processes one raw frame read from sess. It never returns
// an error and never closes the session itself — malformed input and
// handler failures alike are reported as wire messages; validation
// failures never close the session.
func (r *Router) HandleMessage(ctx context.Context, sess *session.Session, raw []byte) {
	env, err := wire.Parse(raw)
	if err != nil {
		r.registry.Send(sess, wire.TypeError, wire.ErrorPayload{Message: err.Error()}, "")
		return
	}

	if env.Type == wire.TypePing {
		r.registry.Send(sess, wire.TypePong, map[string]any{}, "")
		return
	}

	h, ok := r.handlers[env.Type]
	if !ok {
		r.registry.Send(sess, wire.TypeError, wire.ErrorPayload{
			Message: fmt.Sprintf("Unknown message type: %s", env.Type),
		}, "")
		return
	}

	if err := invoke(ctx, h, sess, env.Payload); err != nil {
		if apperrors.IsBadRequest(err) {
			r.registry.Send(sess, wire.TypeError, wire.ErrorPayload{Message: err.Error()}, "")
			return
		}
		log.LogCtx(ctx, "handler exception, reporting internal error to client", "type", env.Type, "session_id", sess.ID, "err", err)
		r.registry.Send(sess, wire.TypeError, wire.ErrorPayload{Message: "Internal error"}, "")
	}
}

// invoke recovers a handler panic into an error so one bad handler can
// never take the session's read loop down with it.
func invoke(ctx context.Context, h Handler, sess *session.Session, payload json.RawMessage) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.LogCtx(ctx, "panic in message handler, recovering", "session_id", sess.ID, "err", rec, "trace", string(debug.Stack()))
			err = fmt.Errorf("panic in handler: %v", rec)
		}
	}()
	return h(ctx, sess, payload)
}
