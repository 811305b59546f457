// Package transcribe implements the Transcription Pipeline:
// a single pass over a speech model's segment stream, with progress
// emitted by processed audio duration rather than frame count.
//
// Progress advances as segments arrive from a streaming SpeechModel.
package transcribe

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/livepeer/videod/log"
	"github.com/livepeer/videod/wire"
)

// Word is one transcribed word with its span inside its parent segment.
type Word struct {
	Start       float64  `json:"start"`
	End         float64  `json:"end"`
	Word        string   `json:"word"`
	Probability *float64 `json:"probability,omitempty"`
}

// Segment is one transcribed utterance; word spans lie within [Start, End].
type Segment struct {
	ID      int     `json:"id"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	AvgLogProb *float64 `json:"avg_log_prob,omitempty"`
	Words   []Word  `json:"words"`
}

// Result is the job's final TranscriptionResult.
type Result struct {
	Text               string    `json:"text"`
	Segments           []Segment `json:"segments"`
	Language           string    `json:"language"`
	ProcessingTimeSecs float64   `json:"processing_time_seconds"`
}

// RawSegment and RawWord are what a SpeechModel hands back before the
// pipeline trims/copies fields into Segment/Word.
type RawWord struct {
	Start       float64
	End         float64
	Word        string
	Probability *float64
}

type RawSegment struct {
	ID         int
	Start      float64
	End        float64
	Text       string
	AvgLogProb *float64
	Words      []RawWord
}

// SpeechModel is the black-box speech-to-text collaborator.
// Transcribe streams RawSegments over segments and must close it when
// done, sending exactly one value on errc: the stream's error, or nil.
type SpeechModel interface {
	Transcribe(ctx context.Context, videoPath string, opts Options) (segments <-chan RawSegment, errc <-chan error, totalDuration float64, language string, err error)
}

// Options carries the configured model parameters for one transcription run.
type Options struct {
	BeamSize              int
	WordTimestamps        bool
	VADFilter             bool
	VADThreshold          float64
	MinSpeechDurationMs   int
	MinSilenceDurationMs  int
}

// ProgressSink is the narrow interface the pipeline needs from a
// progress.Dispatcher.
type ProgressSink interface {
	Emit(msgType string, payload any)
}

// noAudioMarkers are the characteristic substrings of a speech model's
// "there is no audio track" runtime error.
var noAudioMarkers = []string{"no audio", "failed to load", "tuple index"}

func isNoAudioError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range noAudioMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Pipeline runs transcription jobs against a configured SpeechModel.
type Pipeline struct {
	model SpeechModel
	opts  Options
}

func NewPipeline(model SpeechModel, opts Options) *Pipeline {
	return &Pipeline{model: model, opts: opts}
}

// Run executes one transcription job end to end. Unlike
// analysis.Pipeline.Run, it reports failure as a nil Result and a non-nil
// error; a no-audio error is the exception and yields an empty Result with
// Language "N/A" and a nil error.
func (p *Pipeline) Run(ctx context.Context, videoPath, jobID string, sink ProgressSink) (*Result, error) {
	start := time.Now()
	res, err := p.runRecovered(ctx, videoPath, jobID, sink, start)
	if err != nil {
		if isNoAudioError(err) {
			log.LogCtx(ctx, "transcription found no audio, returning empty result", "job_id", jobID, "path", videoPath, "err", err)
			return &Result{
				Text:               "",
				Segments:           []Segment{},
				Language:           "N/A",
				ProcessingTimeSecs: time.Since(start).Seconds(),
			}, nil
		}
		log.LogCtx(ctx, "transcription job failed", "job_id", jobID, "path", videoPath, "err", err)
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) runRecovered(ctx context.Context, videoPath, jobID string, sink ProgressSink, start time.Time) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.LogCtx(ctx, "panic in transcription pipeline, recovering", "job_id", jobID, "err", r, "trace", string(debug.Stack()))
			err = fmt.Errorf("panic in transcription pipeline: %v", r)
		}
	}()
	return p.run(ctx, videoPath, jobID, sink, start)
}

func (p *Pipeline) run(ctx context.Context, videoPath, jobID string, sink ProgressSink, start time.Time) (*Result, error) {
	segments, errc, totalDuration, language, err := p.model.Transcribe(ctx, videoPath, p.opts)
	if err != nil {
		return nil, err
	}

	var (
		out          = make([]Segment, 0)
		textParts    []string
		processedDur float64
		streamErr    error
	)

	for seg := range segments {
		out = append(out, toSegment(seg))
		textParts = append(textParts, strings.TrimSpace(seg.Text))
		processedDur += seg.End - seg.Start

		progressPct := 100.0
		if totalDuration > 0 {
			progressPct = minFloat(100, processedDur/totalDuration*100)
		}
		sink.Emit("transcription_progress", wire.TranscriptionProgressPayload{
			Progress:  progressPct,
			Elapsed:   formatMMSS(processedDur),
			VideoPath: videoPath,
			JobID:     jobID,
		})
	}
	if ec := <-errc; ec != nil {
		streamErr = ec
	}
	if streamErr != nil {
		return nil, streamErr
	}

	fullText := strings.TrimSpace(strings.Join(textParts, " "))

	return &Result{
		Text:               fullText,
		Segments:           out,
		Language:           language,
		ProcessingTimeSecs: time.Since(start).Seconds(),
	}, nil
}

func toSegment(raw RawSegment) Segment {
	words := make([]Word, len(raw.Words))
	for i, w := range raw.Words {
		words[i] = Word{Start: w.Start, End: w.End, Word: w.Word, Probability: w.Probability}
	}
	return Segment{
		ID:         raw.ID,
		Start:      raw.Start,
		End:        raw.End,
		Text:       strings.TrimSpace(raw.Text),
		AvgLogProb: raw.AvgLogProb,
		Words:      words,
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func formatMMSS(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
