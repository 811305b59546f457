// Package analysis implements the analysis pipeline: the streaming frame
// extractor, bounded batch buffer, plugin fan-through, and result
// assembly. This is the largest component of the daemon.
//
// A panic-recovered handler runs one job's frame extraction, plugin
// analysis, memory backpressure, and progress reporting in sequence, with
// a completion path that runs unconditionally (even on error) to release
// resources and record metrics.
package analysis

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/livepeer/videod/apperrors"
	"github.com/livepeer/videod/extract"
	"github.com/livepeer/videod/frame"
	"github.com/livepeer/videod/log"
	"github.com/livepeer/videod/memory"
	"github.com/livepeer/videod/metrics"
	"github.com/livepeer/videod/plugins"
	"github.com/livepeer/videod/wire"
)

// Config carries every pipeline tunable.
type Config struct {
	ThumbnailDir               string
	TargetResolutionHeight     int
	SampleIntervalSeconds      int
	FrameBufferLimit           int
	MemoryCleanupInterval      int // batches between forced cleanups
	LowMemoryThresholdMB       uint64
	ThumbnailWidth             int
	ThumbnailQuality           int
	FallbackFPS                float64
	ShortVideoThresholdSeconds float64
}

// ProgressSink is the narrow interface the pipeline needs from a
// progress.Dispatcher; kept separate so tests can substitute a recorder.
type ProgressSink interface {
	Emit(msgType string, payload any)
}

// Result is the job's final analysis result.
type Result struct {
	VideoFile     string           `json:"video_file"`
	FrameAnalysis []map[string]any `json:"frame_analysis"`
	PluginMetrics []pluginMetric   `json:"plugin_metrics"`
	StageMetrics  map[string]float64 `json:"stage_metrics"`
	Summary       map[string]any   `json:"summary"`
	Error         string           `json:"error,omitempty"`
}

type pluginMetric struct {
	Plugin          string  `json:"plugin"`
	TotalDurationMs float64 `json:"total_duration_ms"`
	FrameCount      int     `json:"frame_count"`
	MinDurationMs   float64 `json:"min_duration_ms"`
	MaxDurationMs   float64 `json:"max_duration_ms"`
	AvgDurationMs   float64 `json:"avg_duration_ms"`
	TimeoutCount    int     `json:"timeout_count"`
	ErrorCount      int     `json:"error_count"`
}

// Pipeline runs analysis jobs. One Pipeline is shared by every job, and so
// are its plugin instances and plugin metrics; Run holds runMu for the
// whole job, so analysis jobs execute one at a time and a plugin is never
// driven for two jobs at once.
//
// probeFn/extractFn default to the real extract package and are only ever
// overridden in tests, which can't shell out to ffmpeg/ffprobe.
type Pipeline struct {
	runMu sync.Mutex

	cfg     Config
	plugins *plugins.Manager
	monitor *memory.Monitor
	metrics *metrics.ServiceMetrics

	probeFn   func(ctx context.Context, videoPath string) (extract.Info, error)
	extractFn func(ctx context.Context, videoPath string, info extract.Info, stride, targetHeight int) <-chan extract.Result
}

func NewPipeline(cfg Config, pm *plugins.Manager, mon *memory.Monitor, svcMetrics *metrics.ServiceMetrics) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		plugins:   pm,
		monitor:   mon,
		metrics:   svcMetrics,
		probeFn:   extract.Probe,
		extractFn: extract.Extract,
	}
}

// Run executes one analysis job end to end. It never returns an error:
// every failure mode is represented as a Result with Error set.
func (p *Pipeline) Run(ctx context.Context, videoPath, jobID string, sink ProgressSink) *Result {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	start := time.Now()
	defer func() {
		p.plugins.Metrics.Reset()
	}()

	res, err := p.runRecovered(ctx, videoPath, jobID, sink, start)
	if err != nil {
		log.LogCtx(ctx, "analysis job failed", "job_id", jobID, "path", videoPath, "err", err)
		return &Result{
			VideoFile:     videoPath,
			FrameAnalysis: []map[string]any{},
			Error:         err.Error(),
			Summary:       map[string]any{"error": err.Error()},
		}
	}
	return res
}

func (p *Pipeline) runRecovered(ctx context.Context, videoPath, jobID string, sink ProgressSink, start time.Time) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.LogCtx(ctx, "panic in analysis pipeline, recovering", "job_id", jobID, "err", r, "trace", string(debug.Stack()))
			err = fmt.Errorf("panic in analysis pipeline: %v", r)
		}
	}()
	return p.run(ctx, videoPath, jobID, sink, start)
}

func (p *Pipeline) run(ctx context.Context, videoPath, jobID string, sink ProgressSink, start time.Time) (*Result, error) {
	stageMs := map[string]float64{
		"plugin_setup":         0,
		"frame_extraction":     0,
		"frame_analysis":       0,
		"thumbnail_extraction": 0,
	}

	setupStart := time.Now()
	run := p.plugins.Setup(ctx, videoPath, jobID)
	stageMs["plugin_setup"] = msSince(setupStart)
	defer p.plugins.Cleanup(ctx, run)

	info, err := p.probeFn(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	stride, totalSampled := extract.Stride(info, p.cfg.SampleIntervalSeconds, p.cfg.FallbackFPS, p.cfg.ShortVideoThresholdSeconds)

	frames := p.extractFn(ctx, videoPath, info, stride, p.cfg.TargetResolutionHeight)

	var (
		results          = make([]map[string]any, 0, totalSampled)
		batch            = make([]frame.Record, 0, maxInt(p.cfg.FrameBufferLimit, 1))
		framesProcessed  int64
		batchesProcessed int64
		memoryCleanups   int64
		peakRSSMB        uint64
		extractErr       error
	)

	drainBatch := func() error {
		if len(batch) == 0 {
			return nil
		}
		extractStart := time.Now()
		var batchAnalysisMs, batchThumbnailMs float64
		for _, rec := range batch {
			analyzeStart := time.Now()
			fa := frame.NewAnalysis(rec, jobID)
			run.AnalyzeFrame(ctx, rec.Pixels, fa, videoPath)
			batchAnalysisMs += msSince(analyzeStart)

			thumbStart := time.Now()
			thumbPath, thumbErr := writeThumbnail(rec.Pixels, rec.Width, rec.Height, videoPath, rec.FrameIdx, p.cfg.ThumbnailDir, p.cfg.ThumbnailWidth, p.cfg.ThumbnailQuality)
			batchThumbnailMs += msSince(thumbStart)
			if thumbErr != nil {
				log.LogCtx(ctx, "thumbnail generation failed, continuing", "job_id", jobID, "frame_idx", rec.FrameIdx, "err", thumbErr)
			} else if thumbPath != "" {
				fa.Values[frame.KeyThumbnailPath] = thumbPath
			}

			results = append(results, fa.Values)
			framesProcessed++
			if p.metrics != nil {
				p.metrics.FramesAnalyzedTotal.Inc()
			}
		}
		stageMs["frame_analysis"] += batchAnalysisMs
		stageMs["thumbnail_extraction"] += batchThumbnailMs
		if extra := msSince(extractStart) - batchAnalysisMs - batchThumbnailMs; extra > 0 {
			stageMs["frame_extraction"] += extra
		}
		for i := range batch {
			batch[i].Pixels = nil // release eagerly; batch itself is reused next round
		}
		batch = batch[:0]
		batchesProcessed++

		if mb, ok := p.monitor.CurrentRSSMB(ctx); ok && mb > peakRSSMB {
			peakRSSMB = mb
		}

		progressPct := math.Min(100, float64(framesProcessed)/float64(totalSampled)*100)
		progressPct = math.Round(progressPct*10) / 10
		sink.Emit("analysis_progress", wire.AnalysisProgressPayload{
			Progress:       progressPct,
			Elapsed:        time.Since(start).Seconds(),
			FramesAnalyzed: int(framesProcessed),
			TotalFrames:    int(totalSampled),
			JobID:          jobID,
		})

		if p.cfg.MemoryCleanupInterval > 0 && batchesProcessed%int64(p.cfg.MemoryCleanupInterval) == 0 {
			p.monitor.ForceCleanup(ctx)
			memoryCleanups++
			p.monitor.MaybeAggressiveCleanup(ctx, p.cfg.LowMemoryThresholdMB)
		}
		return nil
	}

	for item := range frames {
		if item.Err != nil {
			extractErr = item.Err
			break
		}
		batch = append(batch, item.Record)
		if len(batch) >= maxInt(p.cfg.FrameBufferLimit, 1) {
			if err := drainBatch(); err != nil {
				return nil, err
			}
		}
	}
	if err := drainBatch(); err != nil {
		return nil, err
	}

	if extractErr != nil && len(results) == 0 {
		return nil, extractErr
	}
	if extractErr != nil {
		log.LogCtx(ctx, "frame extraction ended early, returning partial results", "job_id", jobID, "extraction_error", apperrors.IsExtractionError(extractErr), "err", extractErr)
	}

	// final progress event: progress 100 with frames_analyzed set to the
	// number of frames actually processed
	sink.Emit("analysis_progress", wire.AnalysisProgressPayload{
		Progress:       100.0,
		Elapsed:        time.Since(start).Seconds(),
		FramesAnalyzed: int(framesProcessed),
		TotalFrames:    int(totalSampled),
		JobID:          jobID,
	})

	snapshot := p.plugins.Metrics.Snapshot()
	pms := make([]pluginMetric, len(snapshot))
	for i, s := range snapshot {
		pms[i] = pluginMetric{
			Plugin:          s.Plugin,
			TotalDurationMs: s.TotalDurationMs,
			FrameCount:      s.FrameCount,
			MinDurationMs:   s.MinDurationMs,
			MaxDurationMs:   s.MaxDurationMs,
			AvgDurationMs:   s.AvgDurationMs,
			TimeoutCount:    s.TimeoutCount,
			ErrorCount:      s.ErrorCount,
		}
	}

	if mb, ok := p.monitor.CurrentRSSMB(ctx); ok && mb > peakRSSMB {
		peakRSSMB = mb
	}

	summary := map[string]any{
		"total_frames_analyzed":       framesProcessed,
		"total_analysis_time_seconds": time.Since(start).Seconds(),
		"peak_memory_mb":              peakRSSMB,
		"memory_cleanups":             memoryCleanups,
	}
	for name, s := range p.plugins.Summaries(run) {
		summary[name] = s
	}

	return &Result{
		VideoFile:     videoPath,
		FrameAnalysis: results,
		PluginMetrics: pms,
		StageMetrics:  stageMs,
		Summary:       summary,
	}, nil
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
