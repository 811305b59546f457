package builtin

import (
	"context"
	"fmt"

	"github.com/livepeer/videod/frame"
	"github.com/livepeer/videod/pluginapi"
)

// ObjectDetectionSettings is the typed settings union for ObjectDetectionPlugin
//: the only knob a
// caller can set is the confidence threshold used to decide "object found".
type ObjectDetectionSettings struct {
	ConfidenceThreshold float64
}

// ObjectDetectionPlugin is critical (pluginapi.IsCritical) and always runs
// regardless of skip policy. It stands in for a real detector: it flags a
// frame as containing "motion" whenever consecutive samples differ by more
// than the configured threshold, a cheap proxy that still exercises the
// full per-frame settings/metrics/summary path.
type ObjectDetectionPlugin struct {
	settings    ObjectDetectionSettings
	frames      int
	detections  int
	lastMean    float64
	haveLast    bool
}

func NewObjectDetectionPlugin() *ObjectDetectionPlugin {
	return &ObjectDetectionPlugin{settings: ObjectDetectionSettings{ConfidenceThreshold: 8.0}}
}

func (p *ObjectDetectionPlugin) Name() string { return pluginapi.NameObjectDetection }

func (p *ObjectDetectionPlugin) ParseSettings(raw map[string]any) error {
	if v, ok := raw["confidence_threshold"]; ok {
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("object_detection: confidence_threshold must be a number")
		}
		p.settings.ConfidenceThreshold = f
	}
	return nil
}

func (p *ObjectDetectionPlugin) Setup(ctx context.Context, videoPath, jobID string) error {
	p.frames, p.detections = 0, 0
	p.haveLast = false
	return nil
}

func (p *ObjectDetectionPlugin) AnalyzeFrame(ctx context.Context, pixels []byte, frameAnalysis *frame.Analysis, videoPath string) (map[string]any, error) {
	mean := meanSample(pixels)
	detected := false
	if p.haveLast {
		delta := mean - p.lastMean
		if delta < 0 {
			delta = -delta
		}
		detected = delta >= p.settings.ConfidenceThreshold
	}
	p.lastMean = mean
	p.haveLast = true
	p.frames++
	if detected {
		p.detections++
	}
	return map[string]any{
		"object_detected":      detected,
		"detection_confidence": mean,
	}, nil
}

func (p *ObjectDetectionPlugin) Summary() map[string]any {
	return map[string]any{"frames_seen": p.frames, "detections": p.detections}
}

func (p *ObjectDetectionPlugin) Cleanup(ctx context.Context) {}

var (
	_ pluginapi.Plugin         = (*ObjectDetectionPlugin)(nil)
	_ pluginapi.SettingsParser = (*ObjectDetectionPlugin)(nil)
)
