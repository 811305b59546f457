// Package plugins implements the plugin harness: a static, ordered
// manifest of pluginapi.Plugin implementations, the skip-interval policy,
// and per-job invocation bookkeeping.
//
// An ordered collection of callbacks is invoked in sequence for each
// frame, each call panic-recovered individually: plugins are black-box
// and must never take the pipeline down with them.
package plugins

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/livepeer/videod/frame"
	"github.com/livepeer/videod/log"
	"github.com/livepeer/videod/metrics"
	"github.com/livepeer/videod/pluginapi"
)

// Manager holds the static, ordered plugin manifest and the configured skip
// policy. It is built once at startup and shared by every job.
type Manager struct {
	plugins      []pluginapi.Plugin
	skipInterval map[string]int // plugin name -> N; 0/absent means every frame
	Metrics      *pluginapi.Metrics
	svcMetrics   *metrics.ServiceMetrics
}

// NewManager builds a manifest. svcMetrics may be nil (tests); when set,
// every recorded invocation is mirrored onto the Prometheus
// PluginDurationMs/PluginErrorsTotal series alongside
// the in-process pluginapi.Metrics snapshot used for per-job result
// assembly.
func NewManager(plugins []pluginapi.Plugin, skipInterval map[string]int, svcMetrics *metrics.ServiceMetrics) *Manager {
	if skipInterval == nil {
		skipInterval = map[string]int{}
	}
	return &Manager{
		plugins:      plugins,
		skipInterval: skipInterval,
		Metrics:      pluginapi.NewMetrics(),
		svcMetrics:   svcMetrics,
	}
}

// Names returns the declared plugin order, used by result assembly and logs.
func (m *Manager) Names() []string {
	out := make([]string, len(m.plugins))
	for i, p := range m.plugins {
		out[i] = p.Name()
	}
	return out
}

// NewRun starts a fresh per-job invocation counter set. The skip policy is
// evaluated per job: invocation 1 of a plugin is always its first frame in
// THIS job, and in a run of R invocations the plugin is exercised on
// exactly invocations 1, 1+K, 1+2K, ....
func (m *Manager) NewRun() *Run {
	return &Run{manager: m, counts: make(map[string]int, len(m.plugins))}
}

// Setup invokes Setup on every plugin in declared order. A failing plugin is
// logged and skipped for the remainder of the job rather than aborting it.
func (m *Manager) Setup(ctx context.Context, videoPath, jobID string) *Run {
	run := m.NewRun()
	for _, p := range m.plugins {
		if err := runSetup(ctx, p, videoPath, jobID); err != nil {
			log.LogCtx(ctx, "plugin setup failed, plugin will be skipped", "plugin", p.Name(), "err", err)
			run.disabled = append(run.disabled, p.Name())
		}
	}
	return run
}

func runSetup(ctx context.Context, p pluginapi.Plugin, videoPath, jobID string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.LogCtx(ctx, "panic in plugin setup, recovering", "plugin", p.Name(), "err", rec, "trace", string(debug.Stack()))
			err = fmt.Errorf("panic in plugin %s setup: %v", p.Name(), rec)
		}
	}()
	return p.Setup(ctx, videoPath, jobID)
}

// Cleanup invokes Cleanup on every enabled plugin in declared order,
// recovering from panics so one misbehaving plugin can't block the rest.
func (m *Manager) Cleanup(ctx context.Context, run *Run) {
	for _, p := range m.plugins {
		if run.isDisabled(p.Name()) {
			continue
		}
		cleanupOne(ctx, p)
	}
}

func cleanupOne(ctx context.Context, p pluginapi.Plugin) {
	defer func() {
		if rec := recover(); rec != nil {
			log.LogCtx(ctx, "panic in plugin cleanup, recovering", "plugin", p.Name(), "err", rec, "trace", string(debug.Stack()))
		}
	}()
	p.Cleanup(ctx)
}

// Summaries collects Summary() from every enabled plugin, keyed by name, for
// result assembly.
func (m *Manager) Summaries(run *Run) map[string]any {
	out := make(map[string]any, len(m.plugins))
	for _, p := range m.plugins {
		if run.isDisabled(p.Name()) {
			continue
		}
		out[p.Name()] = p.Summary()
	}
	return out
}

// Run tracks per-job plugin state: invocation counters for the skip policy
// and the set of plugins disabled for this job by a failed Setup.
type Run struct {
	manager  *Manager
	counts   map[string]int
	disabled []string
}

func (r *Run) isDisabled(name string) bool {
	for _, n := range r.disabled {
		if n == name {
			return true
		}
	}
	return false
}

// shouldRun applies the skip policy for one plugin invocation and advances
// its counter. Critical plugins always run.
func (r *Run) shouldRun(name string) bool {
	r.counts[name]++
	if pluginapi.IsCritical(name) {
		return true
	}
	interval := r.manager.skipInterval[name]
	if interval <= 1 {
		return true
	}
	// invocations 1, 1+K, 1+2K, ...
	return (r.counts[name]-1)%interval == 0
}

// AnalyzeFrame fans a single frame through every enabled plugin in declared
// order, applying the skip policy, timing each call, recording metrics, and
// merging each plugin's delta into frameAnalysis before the next plugin
// runs. A plugin error or panic is recorded and logged but never propagated.
func (r *Run) AnalyzeFrame(ctx context.Context, pixels []byte, frameAnalysis *frame.Analysis, videoPath string) {
	for _, p := range r.manager.plugins {
		name := p.Name()
		if r.isDisabled(name) {
			continue
		}
		if !r.shouldRun(name) {
			continue
		}

		start := time.Now()
		delta, err := invokeAnalyze(ctx, p, pixels, frameAnalysis, videoPath)
		elapsedMs := float64(time.Since(start).Microseconds()) / 1000.0

		if err != nil {
			log.LogCtx(ctx, "plugin analyze_frame error, continuing", "plugin", name, "err", err)
			r.manager.Metrics.Record(name, elapsedMs, false, true)
			if r.manager.svcMetrics != nil {
				r.manager.svcMetrics.PluginErrorsTotal.WithLabelValues(name).Inc()
				r.manager.svcMetrics.PluginDurationMs.WithLabelValues(name).Observe(elapsedMs)
			}
			continue
		}
		r.manager.Metrics.Record(name, elapsedMs, false, false)
		if r.manager.svcMetrics != nil {
			r.manager.svcMetrics.PluginDurationMs.WithLabelValues(name).Observe(elapsedMs)
		}
		frameAnalysis.Merge(delta)
	}
}

func invokeAnalyze(ctx context.Context, p pluginapi.Plugin, pixels []byte, frameAnalysis *frame.Analysis, videoPath string) (delta map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.LogCtx(ctx, "panic in plugin analyze_frame, recovering", "plugin", p.Name(), "err", rec, "trace", string(debug.Stack()))
			err = fmt.Errorf("panic in plugin %s analyze_frame: %v", p.Name(), rec)
		}
	}()
	return p.AnalyzeFrame(ctx, pixels, frameAnalysis, videoPath)
}
