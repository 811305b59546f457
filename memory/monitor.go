// Package memory implements the Memory Monitor: the
// analysis pipeline's only form of global backpressure. Uses
// github.com/shirou/gopsutil/v3 for system resource polling, the idiomatic
// Go way to read available memory without shelling out. Process RSS uses
// the gopsutil/v3/process subpackage, self-sampled via os.Getpid() since
// this daemon has no peer processes to inspect.
package memory

import (
	"context"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/livepeer/videod/log"
	"github.com/livepeer/videod/metrics"
)

// Monitor polls system memory availability and performs forced/aggressive
// GC cleanup on the pipeline's behalf. A Monitor is safe for concurrent use;
// it holds no mutable state beyond its metrics reference.
type Monitor struct {
	metrics        *metrics.ServiceMetrics
	aggressiveWait time.Duration
	self           *process.Process
}

func NewMonitor(m *metrics.ServiceMetrics) *Monitor {
	mon := &Monitor{metrics: m, aggressiveWait: 500 * time.Millisecond}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		mon.self = p
	}
	return mon
}

// CurrentRSSMB returns this process's resident set size in megabytes. ok is
// false when no process handle was available at startup or the read
// failed; callers should leave any running peak untouched in that case.
func (m *Monitor) CurrentRSSMB(ctx context.Context) (mb uint64, ok bool) {
	if m.self == nil {
		return 0, false
	}
	info, err := m.self.MemoryInfoWithContext(ctx)
	if err != nil {
		log.LogCtx(ctx, "memory monitor: failed to read process RSS", "err", err)
		return 0, false
	}
	return info.RSS / (1024 * 1024), true
}

// SampleRSS records this process's resident set size onto ProcessRSSBytes.
// Advisory like AvailableMB: a read failure just skips the sample.
func (m *Monitor) SampleRSS(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	mb, ok := m.CurrentRSSMB(ctx)
	if !ok {
		return
	}
	m.metrics.ProcessRSSBytes.Set(float64(mb) * 1024 * 1024)
}

// AvailableMB returns system-available memory in megabytes. Advisory only:
// a read failure is logged and treated as "plenty available" so the
// pipeline never stalls on a monitoring fault.
func (m *Monitor) AvailableMB(ctx context.Context) uint64 {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		log.LogCtx(ctx, "memory monitor: failed to read system memory, assuming no pressure", "err", err)
		return ^uint64(0)
	}
	return vm.Available / (1024 * 1024)
}

// ForceCleanup runs a full GC cycle and returns freed memory to the OS. It
// is invoked every memory_cleanup_interval batches regardless of pressure.
func (m *Monitor) ForceCleanup(ctx context.Context) {
	runtime.GC()
	debug.FreeOSMemory()
	if m.metrics != nil {
		m.metrics.MemoryCleanupsTotal.Inc()
	}
	m.SampleRSS(ctx)
	log.LogCtx(ctx, "memory monitor: forced cleanup", "level", "V(2)")
}

// MaybeAggressiveCleanup checks available memory against thresholdMB; if
// below it, runs a forced cleanup, sleeps to give the OS time to reclaim
// pages, and reports true. The sleep is the pipeline's back-pressure
// signal — the only place it deliberately blocks itself.
func (m *Monitor) MaybeAggressiveCleanup(ctx context.Context, thresholdMB uint64) bool {
	if m.AvailableMB(ctx) >= thresholdMB {
		return false
	}
	log.LogCtx(ctx, "memory monitor: aggressive cleanup triggered", "threshold_mb", thresholdMB)
	m.ForceCleanup(ctx)
	if m.metrics != nil {
		m.metrics.AggressiveMemoryCleanupTotal.Inc()
	}
	select {
	case <-ctx.Done():
	case <-time.After(m.aggressiveWait):
	}
	return true
}
