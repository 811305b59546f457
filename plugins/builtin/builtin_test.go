package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/livepeer/videod/frame"
	"github.com/stretchr/testify/require"
)

func TestBrightnessPluginTracksMean(t *testing.T) {
	p := NewBrightnessPlugin()
	require.NoError(t, p.Setup(context.Background(), "v.mp4", "j1"))

	fa := frame.NewAnalysis(frame.Record{FrameIdx: 0}, "j1")
	delta, err := p.AnalyzeFrame(context.Background(), []byte{0, 255}, fa, "v.mp4")
	require.NoError(t, err)
	require.InDelta(t, 127.5, delta["brightness_mean"], 0.01)

	summary := p.Summary()
	require.Equal(t, 1, summary["frames_seen"])
}

func TestObjectDetectionSettingsParsing(t *testing.T) {
	p := NewObjectDetectionPlugin()
	require.NoError(t, p.ParseSettings(map[string]any{"confidence_threshold": 5.0}))
	require.Equal(t, 5.0, p.settings.ConfidenceThreshold)

	err := p.ParseSettings(map[string]any{"confidence_threshold": "not a number"})
	require.Error(t, err)
}

func TestObjectDetectionFlagsLargeDelta(t *testing.T) {
	p := NewObjectDetectionPlugin()
	require.NoError(t, p.ParseSettings(map[string]any{"confidence_threshold": 5.0}))
	require.NoError(t, p.Setup(context.Background(), "v.mp4", "j1"))

	fa := frame.NewAnalysis(frame.Record{}, "j1")
	_, err := p.AnalyzeFrame(context.Background(), []byte{0, 0}, fa, "v.mp4")
	require.NoError(t, err)

	delta, err := p.AnalyzeFrame(context.Background(), []byte{255, 255}, fa, "v.mp4")
	require.NoError(t, err)
	require.Equal(t, true, delta["object_detected"])
}

func TestFaceRecognitionWritesMarkerForPlausibleFace(t *testing.T) {
	dir := t.TempDir()
	p := NewFaceRecognitionPlugin(dir)
	require.NoError(t, p.Setup(context.Background(), "v.mp4", "j1"))

	fa := frame.NewAnalysis(frame.Record{FrameIdx: 3}, "j1")
	delta, err := p.AnalyzeFrame(context.Background(), []byte{120, 120}, fa, "v.mp4")
	require.NoError(t, err)
	require.Equal(t, 1, delta["faces_detected"])

	markerPath, _ := delta["unknown_face_path"].(string)
	require.NotEmpty(t, markerPath)
	require.Equal(t, dir, filepath.Dir(markerPath))
	_, err = os.Stat(markerPath)
	require.NoError(t, err)
}

func TestFaceRecognitionSkipsImplausibleFrame(t *testing.T) {
	p := NewFaceRecognitionPlugin("")
	require.NoError(t, p.Setup(context.Background(), "v.mp4", "j1"))

	fa := frame.NewAnalysis(frame.Record{}, "j1")
	delta, err := p.AnalyzeFrame(context.Background(), []byte{0, 0}, fa, "v.mp4")
	require.NoError(t, err)
	require.Equal(t, 0, delta["faces_detected"])
}
