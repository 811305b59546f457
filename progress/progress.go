// Package progress implements the Progress Dispatcher: a
// per-job helper that marshals progress events produced off a worker
// goroutine onto a session's writer, without ever blocking the worker and
// without crashing the pipeline on a send failure.
//
// Grounded on a context-scoped background goroutine with a mutex-free
// single consumer and a panic-recovered main loop — the kind of shape that
// elsewhere polls a getter on a ticker and POSTs to a callback URL. Here,
// workers instead push events into a size-1, last-value-wins channel that a
// single consumer goroutine drains onto session.Registry.Send — coalescing
// is therefore structural (a newer event always displaces a pending one)
// rather than bucketed by progress-delta.
package progress

import (
	"context"
	"runtime/debug"

	"github.com/livepeer/videod/log"
	"github.com/livepeer/videod/session"
)

// Event is one progress update destined for a session.
type Event struct {
	Type    string
	Payload any
}

// Dispatcher owns a single pending-event slot per job. Emit is always
// non-blocking from the caller's perspective;
// Stop discards anything still pending (contract (c)).
type Dispatcher struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan Event
	done   chan struct{}

	registry *session.Registry
	sess     *session.Session
	jobID    string
}

// NewDispatcher starts the consumer goroutine immediately. ctx is typically
// derived from the owning session's lifetime so the router's cancellation
// on session close stops delivery.
func NewDispatcher(ctx context.Context, registry *session.Registry, sess *session.Session, jobID string) *Dispatcher {
	ctx, cancel := context.WithCancel(ctx)
	d := &Dispatcher{
		ctx:      ctx,
		cancel:   cancel,
		ch:       make(chan Event, 1),
		done:     make(chan struct{}),
		registry: registry,
		sess:     sess,
		jobID:    jobID,
	}
	go d.loop()
	return d
}

// Emit enqueues an event, replacing any event already waiting to be sent.
// Never blocks: a full channel is drained of its stale entry first.
func (d *Dispatcher) Emit(msgType string, payload any) {
	select {
	case <-d.ctx.Done():
		return
	default:
	}

	ev := Event{Type: msgType, Payload: payload}
	select {
	case d.ch <- ev:
		return
	default:
	}
	select {
	case <-d.ch:
	default:
	}
	select {
	case d.ch <- ev:
	default:
		// lost the race to another Emit; that event is at least as fresh.
	}
}

// Stop cancels delivery and waits for the consumer goroutine to exit. Any
// event still buffered at this point is discarded, never sent.
func (d *Dispatcher) Stop() {
	d.cancel()
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	defer func() {
		if r := recover(); r != nil {
			log.LogCtx(d.ctx, "panic in progress dispatcher, recovering", "job_id", d.jobID, "err", r, "trace", string(debug.Stack()))
		}
	}()
	for {
		select {
		case <-d.ctx.Done():
			return
		case ev := <-d.ch:
			d.registry.Send(d.sess, ev.Type, ev.Payload, d.jobID)
		}
	}
}
