package builtin

import (
	"context"
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"

	"github.com/livepeer/videod/frame"
	"github.com/livepeer/videod/pluginapi"
)

// FaceRecognitionPlugin is critical (pluginapi.IsCritical) and always runs
// regardless of skip policy. It stands in for a real face recognizer: any
// frame whose mean sample value crosses a fixed "face region plausible"
// band is treated as containing an unrecognized face and a tiny marker
// file is written under UnknownFaceDir, mirroring the shape of a real
// recognizer persisting unmatched crops for later labeling.
type FaceRecognitionPlugin struct {
	unknownFaceDir string
	frames         int
	unknownFaces   int
}

func NewFaceRecognitionPlugin(unknownFaceDir string) *FaceRecognitionPlugin {
	return &FaceRecognitionPlugin{unknownFaceDir: unknownFaceDir}
}

func (p *FaceRecognitionPlugin) Name() string { return pluginapi.NameFaceRecognition }

func (p *FaceRecognitionPlugin) Setup(ctx context.Context, videoPath, jobID string) error {
	p.frames, p.unknownFaces = 0, 0
	if p.unknownFaceDir != "" {
		return os.MkdirAll(p.unknownFaceDir, 0o755)
	}
	return nil
}

func (p *FaceRecognitionPlugin) AnalyzeFrame(ctx context.Context, pixels []byte, frameAnalysis *frame.Analysis, videoPath string) (map[string]any, error) {
	p.frames++
	mean := meanSample(pixels)
	plausibleFace := mean > 60 && mean < 200
	if !plausibleFace {
		return map[string]any{"faces_detected": 0}, nil
	}

	p.unknownFaces++
	markerPath := ""
	if p.unknownFaceDir != "" {
		frameIdx, _ := frameAnalysis.Values[frame.KeyFrameIdx].(int)
		name := fmt.Sprintf("%x_%d.face", md5.Sum([]byte(videoPath)), frameIdx)
		markerPath = filepath.Join(p.unknownFaceDir, name)
		if err := os.WriteFile(markerPath, []byte{}, 0o644); err != nil {
			return nil, fmt.Errorf("writing unknown face marker: %w", err)
		}
	}

	return map[string]any{
		"faces_detected":   1,
		"unknown_face_path": markerPath,
	}, nil
}

func (p *FaceRecognitionPlugin) Summary() map[string]any {
	return map[string]any{"frames_seen": p.frames, "unknown_faces": p.unknownFaces}
}

func (p *FaceRecognitionPlugin) Cleanup(ctx context.Context) {}

var _ pluginapi.Plugin = (*FaceRecognitionPlugin)(nil)
