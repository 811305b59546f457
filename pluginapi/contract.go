// Package pluginapi defines the fixed plugin contract: Name, Setup(path,
// job_id), AnalyzeFrame(pixels, frame_analysis, path) -> delta, Summary and
// Cleanup. The contract has no separate results accessor: per-frame output
// reaches the analysis result only through AnalyzeFrame's delta. Plugins
// are black-box ML collaborators; this package never knows what's inside one.
package pluginapi

import (
	"context"

	"github.com/livepeer/videod/frame"
)

// Plugin is the fixed capability every analysis plugin implements.
type Plugin interface {
	// Name identifies the plugin for metrics, logs, and the skip-policy
	// and critical-plugin manifests.
	Name() string

	// Setup is invoked once per job, before any frame is analyzed.
	// Setup failures are logged and do not remove the plugin — it simply
	// produces empty/no-op results for the rest of the job.
	Setup(ctx context.Context, videoPath, jobID string) error

	// AnalyzeFrame is invoked once per (plugin, frame) the skip policy
	// admits. The returned map is merged into frameAnalysis by the caller.
	AnalyzeFrame(ctx context.Context, pixels []byte, frameAnalysis *frame.Analysis, videoPath string) (map[string]any, error)

	// Summary returns a plugin-specific summary emitted once per job,
	// folded into AnalysisResult.Summary under the plugin's name.
	Summary() map[string]any

	// Cleanup is invoked once per job, after the last frame.
	Cleanup(ctx context.Context)
}

// SettingsParser is implemented by plugins that accept typed settings.
// Admission does not call ParseSettings: an analyze request's settings map
// is carried on job.Request but is not handed to any plugin.
type SettingsParser interface {
	ParseSettings(raw map[string]any) error
}

// Critical plugin names always run regardless of configured skip policy.
const (
	NameFaceRecognition = "face_recognition"
	NameObjectDetection = "object_detection"
)

func IsCritical(name string) bool {
	return name == NameFaceRecognition || name == NameObjectDetection
}
