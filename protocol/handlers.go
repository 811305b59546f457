package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/livepeer/videod/analysis"
	"github.com/livepeer/videod/apperrors"
	"github.com/livepeer/videod/config"
	"github.com/livepeer/videod/job"
	"github.com/livepeer/videod/log"
	"github.com/livepeer/videod/progress"
	"github.com/livepeer/videod/session"
	"github.com/livepeer/videod/state"
	"github.com/livepeer/videod/transcribe"
	"github.com/livepeer/videod/wire"
)

// ResultWriter persists a completed job's result to disk. Kept as an interface so tests can substitute an
// in-memory fake instead of touching the filesystem.
type ResultWriter interface {
	WriteJSON(path string, v any) error
}

// fileResultWriter is the real ResultWriter, writing pretty-printed UTF-8
// JSON with a 2-space indent.
type fileResultWriter struct{}

func (fileResultWriter) WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Handlers wires the three registered message kinds to the
// admission controller and the two pipelines.
type Handlers struct {
	state      *state.Machine
	registry   *session.Registry
	analysis   *analysis.Pipeline
	transcribe *transcribe.Pipeline
	cfg        config.Cli
	writer     ResultWriter
}

func NewHandlers(st *state.Machine, registry *session.Registry, ap *analysis.Pipeline, tp *transcribe.Pipeline, cfg config.Cli) *Handlers {
	return &Handlers{state: st, registry: registry, analysis: ap, transcribe: tp, cfg: cfg, writer: fileResultWriter{}}
}

// RegisterOn binds health/analyze/transcribe onto r.
func (h *Handlers) RegisterOn(r *Router) {
	r.Register(wire.TypeHealth, h.Health)
	r.Register(wire.TypeAnalyze, h.Analyze)
	r.Register(wire.TypeTranscribe, h.Transcribe)
}

// Health answers get_health_status() over the wire.
func (h *Handlers) Health(ctx context.Context, sess *session.Session, _ json.RawMessage) error {
	hs := h.state.GetHealthStatus()
	h.registry.Send(sess, wire.TypeStatus, map[string]any{
		"status":                hs.Status,
		"active_analyses":       hs.ActiveAnalyses,
		"active_transcriptions": hs.ActiveTranscriptions,
		"metrics": map[string]any{
			"total_analyses":              hs.Metrics.TotalAnalyses,
			"total_transcriptions":        hs.Metrics.TotalTranscriptions,
			"failed_analyses":             hs.Metrics.FailedAnalyses,
			"failed_transcriptions":       hs.Metrics.FailedTranscriptions,
			"analysis_success_rate":       hs.Metrics.AnalysisSuccessRate(),
			"transcription_success_rate":  hs.Metrics.TranscriptionSuccessRate(),
		},
	}, "")
	return nil
}

// resolveVideoPath percent-decodes video_path and, when use_external_host
// is set, rewrites its /media/videos prefix.
func (h *Handlers) resolveVideoPath(raw string, useExternalHost bool) (string, error) {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", apperrors.NewBadRequestError("invalid video_path encoding: " + err.Error())
	}
	if useExternalHost {
		decoded = config.RewriteExternalHostPath(decoded, h.cfg.ExternalHostMediaPath)
	}
	return decoded, nil
}

// Analyze admits and launches an analysis job.
func (h *Handlers) Analyze(ctx context.Context, sess *session.Session, raw json.RawMessage) error {
	var p wire.AnalyzePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.NewBadRequestError("invalid analyze payload: " + err.Error())
	}

	videoPath, err := h.resolveVideoPath(p.VideoPath, p.UseExternalHost)
	if err != nil {
		return err
	}

	req, err := job.New(job.Analyze, p.JobID, videoPath, p.JSONFilePath, p.Settings, p.UseExternalHost)
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(req.VideoPath); statErr != nil {
		h.registry.Send(sess, wire.TypeAnalysisError, wire.ErrorPayload{
			Message: apperrors.NewVideoMissingError(req.VideoPath).Error(), JobID: req.ID,
		}, req.ID)
		return nil
	}

	if err := h.state.Admit(job.Analyze, req.VideoPath); err != nil {
		h.registry.Send(sess, wire.TypeAnalysisError, wire.ErrorPayload{Message: err.Error(), JobID: req.ID}, req.ID)
		return nil
	}

	dispatcher := progress.NewDispatcher(sess.Context(), h.registry, sess, req.ID)
	go h.runAnalysis(req, sess, dispatcher)
	return nil
}

// runAnalysis runs on a detached context so the job completes and persists
// even if the originating session disconnects mid-job. sess is only
// used for the completion/error send, which the registry silently drops
// if the session has since closed.
func (h *Handlers) runAnalysis(req job.Request, sess *session.Session, dispatcher *progress.Dispatcher) {
	jobCtx := log.WithLogValues(context.Background(), "job_id", req.ID)
	defer dispatcher.Stop()

	res := h.analysis.Run(jobCtx, req.VideoPath, req.ID, dispatcher)
	succeeded := res.Error == ""
	h.state.Release(job.Analyze, req.VideoPath, succeeded)

	if !succeeded {
		h.registry.Send(sess, wire.TypeAnalysisError, wire.ErrorPayload{Message: res.Error, JobID: req.ID}, req.ID)
		return
	}
	h.deliverResult(jobCtx, req, sess, wire.TypeAnalysisCompleted, res)
}

// Transcribe admits and launches a transcription job.
func (h *Handlers) Transcribe(ctx context.Context, sess *session.Session, raw json.RawMessage) error {
	var p wire.TranscribePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperrors.NewBadRequestError("invalid transcribe payload: " + err.Error())
	}

	videoPath, err := h.resolveVideoPath(p.VideoPath, p.UseExternalHost)
	if err != nil {
		return err
	}

	req, err := job.New(job.Transcribe, p.JobID, videoPath, p.JSONFilePath, nil, p.UseExternalHost)
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(req.VideoPath); statErr != nil {
		h.registry.Send(sess, wire.TypeTranscriptionError, wire.ErrorPayload{
			Message: apperrors.NewVideoMissingError(req.VideoPath).Error(), JobID: req.ID,
		}, req.ID)
		return nil
	}

	if err := h.state.Admit(job.Transcribe, req.VideoPath); err != nil {
		h.registry.Send(sess, wire.TypeTranscriptionError, wire.ErrorPayload{Message: err.Error(), JobID: req.ID}, req.ID)
		return nil
	}

	dispatcher := progress.NewDispatcher(sess.Context(), h.registry, sess, req.ID)
	go h.runTranscription(req, sess, dispatcher)
	return nil
}

func (h *Handlers) runTranscription(req job.Request, sess *session.Session, dispatcher *progress.Dispatcher) {
	jobCtx := log.WithLogValues(context.Background(), "job_id", req.ID)
	defer dispatcher.Stop()

	res, err := h.transcribe.Run(jobCtx, req.VideoPath, req.ID, dispatcher)
	succeeded := err == nil
	h.state.Release(job.Transcribe, req.VideoPath, succeeded)

	if err != nil {
		h.registry.Send(sess, wire.TypeTranscriptionError, wire.ErrorPayload{Message: err.Error(), JobID: req.ID}, req.ID)
		return
	}
	h.deliverResult(jobCtx, req, sess, wire.TypeTranscriptionCompleted, res)
}

// deliverResult persists the job's result: on disk by default (completion
// payload carries only job_id), inline when the request set
// use_external_host.
func (h *Handlers) deliverResult(ctx context.Context, req job.Request, sess *session.Session, msgType string, result any) {
	if req.ExternalHost {
		h.registry.Send(sess, msgType, wire.CompletedPayload{JobID: req.ID, Result: result}, req.ID)
		return
	}

	if req.ResultSink != "" {
		if err := h.writer.WriteJSON(req.ResultSink, result); err != nil {
			log.LogCtx(ctx, "failed to persist job result", "job_id", req.ID, "sink", req.ResultSink, "err", err)
		}
	}
	h.registry.Send(sess, msgType, wire.CompletedPayload{JobID: req.ID}, req.ID)
}
