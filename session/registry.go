package session

import (
	"sync"

	"github.com/livepeer/videod/log"
	"github.com/livepeer/videod/metrics"
	"github.com/livepeer/videod/wire"
)

// Registry tracks the set of live sessions under a single mutex, with
// brief, lock-protected map mutation and no I/O performed while the lock
// is held.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	metrics  *metrics.ServiceMetrics
}

func NewRegistry(m *metrics.ServiceMetrics) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		metrics:  m,
	}
}

// Register adds a session to the set. Idempotent on the same object.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return
	}
	r.sessions[s.ID] = s
	if r.metrics != nil {
		r.metrics.SessionsConnected.Set(float64(len(r.sessions)))
	}
}

// Unregister removes a session from the set. Idempotent.
func (r *Registry) Unregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return
	}
	delete(r.sessions, s.ID)
	if r.metrics != nil {
		r.metrics.SessionsConnected.Set(float64(len(r.sessions)))
	}
}

func (r *Registry) isRegistered(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[s.ID]
	return ok
}

// Send encodes `{type: kind, payload: {...payload, job_id?}}` as a single
// framed text message and writes it to the session. Returns false without
// raising if the session isn't registered, is closed, or the transport
// reports a closed/errored channel. The registry's lock
// is never held across the write: isRegistered is checked, released, then
// the write proceeds through the session's own write lock.
func (r *Registry) Send(s *Session, msgType string, payload any, jobID string) bool {
	if !r.isRegistered(s) || !s.IsOpen() {
		if r.metrics != nil {
			r.metrics.SendFailuresTotal.Inc()
		}
		return false
	}

	raw, err := wire.Marshal(msgType, withJobID(payload, jobID))
	if err != nil {
		log.LogNoRequestID("error encoding message", "type", msgType, "err", err)
		if r.metrics != nil {
			r.metrics.SendFailuresTotal.Inc()
		}
		return false
	}

	ok := s.writeJSON(raw)
	if !ok && r.metrics != nil {
		r.metrics.SendFailuresTotal.Inc()
	}
	return ok
}

// withJobID stamps job_id onto a map payload when one is supplied; struct
// payloads are expected to carry their own JobID field already.
func withJobID(payload any, jobID string) any {
	if jobID == "" {
		return payload
	}
	if m, ok := payload.(map[string]any); ok {
		out := make(map[string]any, len(m)+1)
		for k, v := range m {
			out[k] = v
		}
		out["job_id"] = jobID
		return out
	}
	return payload
}

// Count returns the number of registered sessions, used by tests and the
// server's SessionsConnected gauge.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
