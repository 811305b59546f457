// Package builtin provides illustrative, deterministic stand-ins for the
// real CV/ML models behind plugins like FaceRecognitionPlugin and
// ObjectDetectionPlugin: this package proves the pluginapi.Plugin contract
// end to end without shipping an actual model.
package builtin

import (
	"context"

	"github.com/livepeer/videod/frame"
	"github.com/livepeer/videod/pluginapi"
)

// BrightnessPlugin computes the mean sample value of each frame's raw RGB24
// buffer, a cheap non-critical analyzer useful for exercising the skip
// policy end to end.
type BrightnessPlugin struct {
	frames    int
	brightSum float64
}

func NewBrightnessPlugin() *BrightnessPlugin {
	return &BrightnessPlugin{}
}

func (p *BrightnessPlugin) Name() string { return "brightness" }

func (p *BrightnessPlugin) Setup(ctx context.Context, videoPath, jobID string) error {
	p.frames = 0
	p.brightSum = 0
	return nil
}

func (p *BrightnessPlugin) AnalyzeFrame(ctx context.Context, pixels []byte, frameAnalysis *frame.Analysis, videoPath string) (map[string]any, error) {
	mean := meanSample(pixels)
	p.frames++
	p.brightSum += mean
	return map[string]any{"brightness_mean": mean}, nil
}

func (p *BrightnessPlugin) Summary() map[string]any {
	avg := 0.0
	if p.frames > 0 {
		avg = p.brightSum / float64(p.frames)
	}
	return map[string]any{"frames_seen": p.frames, "brightness_avg": avg}
}

func (p *BrightnessPlugin) Cleanup(ctx context.Context) {}

func meanSample(pixels []byte) float64 {
	if len(pixels) == 0 {
		return 0
	}
	var sum int
	for _, b := range pixels {
		sum += int(b)
	}
	return float64(sum) / float64(len(pixels))
}

var _ pluginapi.Plugin = (*BrightnessPlugin)(nil)
