package transcribe

import (
	"context"
	"errors"
	"testing"

	"github.com/livepeer/videod/wire"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events []any
}

func (s *recordingSink) Emit(msgType string, payload any) {
	s.events = append(s.events, payload)
}

type fakeModel struct {
	segments      []RawSegment
	streamErr     error
	totalDuration float64
	language      string
	transcribeErr error
}

func (m *fakeModel) Transcribe(ctx context.Context, videoPath string, opts Options) (<-chan RawSegment, <-chan error, float64, string, error) {
	if m.transcribeErr != nil {
		return nil, nil, 0, "", m.transcribeErr
	}
	segc := make(chan RawSegment, len(m.segments))
	for _, s := range m.segments {
		segc <- s
	}
	close(segc)
	errc := make(chan error, 1)
	errc <- m.streamErr
	return segc, errc, m.totalDuration, m.language, nil
}

func p(f float64) *float64 { return &f }

func TestRunCopiesSegmentsAndWords(t *testing.T) {
	m := &fakeModel{
		language:      "en",
		totalDuration: 4,
		segments: []RawSegment{
			{ID: 0, Start: 0, End: 2, Text: " hello world ", AvgLogProb: p(-0.1), Words: []RawWord{
				{Start: 0, End: 1, Word: "hello", Probability: p(0.9)},
				{Start: 1, End: 2, Word: "world", Probability: p(0.8)},
			}},
			{ID: 1, Start: 2, End: 4, Text: " goodbye ", Words: []RawWord{
				{Start: 2, End: 4, Word: "goodbye"},
			}},
		},
	}
	pipe := NewPipeline(m, Options{BeamSize: 5, WordTimestamps: true})
	sink := &recordingSink{}

	res, err := pipe.Run(context.Background(), "video.mp4", "job-1", sink)
	require.NoError(t, err)
	require.Equal(t, "en", res.Language)
	require.Equal(t, "hello world goodbye", res.Text)
	require.Len(t, res.Segments, 2)
	require.Equal(t, "hello world", res.Segments[0].Text)

	for _, seg := range res.Segments {
		for _, w := range seg.Words {
			require.GreaterOrEqual(t, w.Start, seg.Start)
			require.LessOrEqual(t, w.End, seg.End)
		}
	}
}

func TestRunEmitsProgressByProcessedDuration(t *testing.T) {
	m := &fakeModel{
		totalDuration: 10,
		segments: []RawSegment{
			{ID: 0, Start: 0, End: 5, Text: "a"},
			{ID: 1, Start: 5, End: 10, Text: "b"},
		},
	}
	pipe := NewPipeline(m, Options{})
	sink := &recordingSink{}

	_, err := pipe.Run(context.Background(), "video.mp4", "job-1", sink)
	require.NoError(t, err)
	require.Len(t, sink.events, 2)
	first := sink.events[0].(wire.TranscriptionProgressPayload)
	second := sink.events[1].(wire.TranscriptionProgressPayload)
	require.Equal(t, 50.0, first.Progress)
	require.Equal(t, 100.0, second.Progress)
	require.Equal(t, "00:05", first.Elapsed)
	require.Equal(t, "00:10", second.Elapsed)
	require.Equal(t, "video.mp4", first.VideoPath)
	require.Equal(t, "job-1", first.JobID)
}

func TestRunReturnsEmptyResultOnNoAudioSentinel(t *testing.T) {
	m := &fakeModel{transcribeErr: errors.New("RuntimeError: no audio track detected")}
	pipe := NewPipeline(m, Options{})
	sink := &recordingSink{}

	res, err := pipe.Run(context.Background(), "video.mp4", "job-1", sink)
	require.NoError(t, err)
	require.Equal(t, "N/A", res.Language)
	require.Empty(t, res.Segments)
	require.Empty(t, res.Text)
}

func TestRunReturnsEmptyResultOnTupleIndexSentinel(t *testing.T) {
	m := &fakeModel{transcribeErr: errors.New("IndexError: tuple index out of range")}
	pipe := NewPipeline(m, Options{})
	sink := &recordingSink{}

	res, err := pipe.Run(context.Background(), "video.mp4", "job-1", sink)
	require.NoError(t, err)
	require.Equal(t, "N/A", res.Language)
}

func TestRunPropagatesGenuineModelError(t *testing.T) {
	m := &fakeModel{transcribeErr: errors.New("model crashed")}
	pipe := NewPipeline(m, Options{})
	sink := &recordingSink{}

	res, err := pipe.Run(context.Background(), "video.mp4", "job-1", sink)
	require.Error(t, err)
	require.Nil(t, res)
}

func TestRunPropagatesMidStreamError(t *testing.T) {
	m := &fakeModel{
		totalDuration: 10,
		segments:      []RawSegment{{ID: 0, Start: 0, End: 2, Text: "a"}},
		streamErr:     errors.New("decode failed mid-stream"),
	}
	pipe := NewPipeline(m, Options{})
	sink := &recordingSink{}

	res, err := pipe.Run(context.Background(), "video.mp4", "job-1", sink)
	require.Error(t, err)
	require.Nil(t, res)
}
