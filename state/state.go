// Package state implements service-wide status, the two active-job sets,
// aggregate metrics, and the admission algorithm every job passes through
// before it runs.
//
// A single mutex guards process-wide status, the active-job sets, and
// aggregate metrics together, with one entry point per transition
// (Admit/Release/SetReady), so a HealthStatus snapshot can never observe a
// torn state.
package state

import (
	"sync"

	"github.com/livepeer/videod/apperrors"
	"github.com/livepeer/videod/job"
)

// Status is the process-wide service status.
type Status string

const (
	StatusLoading    Status = "LOADING"
	StatusReady      Status = "READY"
	StatusProcessing Status = "PROCESSING"
	StatusError      Status = "ERROR"
)

// Metrics holds the running job counters. Derived success rates are
// computed on read, never stored.
type Metrics struct {
	TotalAnalyses        int64
	TotalTranscriptions  int64
	FailedAnalyses       int64
	FailedTranscriptions int64
}

// SuccessRate returns (total-failed)/total*100, defaulting to 100 when
// total == 0.
func successRate(total, failed int64) float64 {
	if total == 0 {
		return 100
	}
	return float64(total-failed) / float64(total) * 100
}

func (m Metrics) AnalysisSuccessRate() float64 {
	return successRate(m.TotalAnalyses, m.FailedAnalyses)
}

func (m Metrics) TranscriptionSuccessRate() float64 {
	return successRate(m.TotalTranscriptions, m.FailedTranscriptions)
}

// HealthStatus is a consistent point-in-time snapshot.
type HealthStatus struct {
	Status               Status
	ActiveAnalyses       int
	ActiveTranscriptions int
	Metrics              Metrics
}

// Machine holds process-wide status, the two active-job sets, and
// aggregate metrics behind a single mutex — every read and write goes
// through it, so a HealthStatus snapshot can never observe a torn state.
type Machine struct {
	mu sync.Mutex

	status Status

	activeAnalyses       map[string]struct{}
	activeTranscriptions map[string]struct{}

	maxConcurrentAnalyses       int
	maxConcurrentTranscriptions int

	metrics Metrics
}

func NewMachine(maxConcurrentAnalyses, maxConcurrentTranscriptions int) *Machine {
	return &Machine{
		status:                      StatusLoading,
		activeAnalyses:              make(map[string]struct{}),
		activeTranscriptions:        make(map[string]struct{}),
		maxConcurrentAnalyses:       maxConcurrentAnalyses,
		maxConcurrentTranscriptions: maxConcurrentTranscriptions,
	}
}

// SetReady transitions the service to READY, called once startup
// completes.
func (m *Machine) SetReady() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = StatusReady
}

func (m *Machine) activeSet(k job.Kind) map[string]struct{} {
	if k == job.Analyze {
		return m.activeAnalyses
	}
	return m.activeTranscriptions
}

func (m *Machine) cap(k job.Kind) int {
	if k == job.Analyze {
		return m.maxConcurrentAnalyses
	}
	return m.maxConcurrentTranscriptions
}

// Admit implements the admission algorithm: reject a path already in
// flight under either kind, reject over-capacity, otherwise reserve the
// slot. The two active sets are checked together so the same path can
// never run an analysis and a transcription concurrently.
func (m *Machine) Admit(k job.Kind, videoPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, inAnalysis := m.activeAnalyses[videoPath]; inAnalysis {
		return apperrors.NewAlreadyProcessingError(videoPath)
	}
	if _, inTranscription := m.activeTranscriptions[videoPath]; inTranscription {
		return apperrors.NewAlreadyProcessingError(videoPath)
	}

	set := m.activeSet(k)
	limit := m.cap(k)
	if len(set) >= limit {
		return apperrors.NewCapacitySaturatedError(string(k), limit)
	}

	set[videoPath] = struct{}{}
	m.status = StatusProcessing
	return nil
}

// Release removes videoPath from kind k's active set and records the
// outcome in metrics. It must be called exactly once per successful Admit,
// unconditionally — including on panic — so the caller should invoke it
// from a defer set up immediately after Admit succeeds.
func (m *Machine) Release(k job.Kind, videoPath string, succeeded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.activeSet(k), videoPath)

	if k == job.Analyze {
		m.metrics.TotalAnalyses++
		if !succeeded {
			m.metrics.FailedAnalyses++
		}
	} else {
		m.metrics.TotalTranscriptions++
		if !succeeded {
			m.metrics.FailedTranscriptions++
		}
	}

	if len(m.activeAnalyses) == 0 && len(m.activeTranscriptions) == 0 {
		m.status = StatusReady
	}
}

// GetHealthStatus returns a consistent snapshot of process status, active
// job counts, and metrics.
func (m *Machine) GetHealthStatus() HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return HealthStatus{
		Status:               m.status,
		ActiveAnalyses:       len(m.activeAnalyses),
		ActiveTranscriptions: len(m.activeTranscriptions),
		Metrics:              m.metrics,
	}
}
