// Package job holds the immutable request types clients submit over the
// websocket protocol.
package job

import "github.com/livepeer/videod/apperrors"

// Kind distinguishes the two job families the daemon runs.
type Kind string

const (
	Analyze    Kind = "ANALYZE"
	Transcribe Kind = "TRANSCRIBE"
)

func (k Kind) String() string {
	return string(k)
}

// Request is the immutable, validated description of a single job. Once
// constructed via New, its fields are never mutated.
type Request struct {
	Kind          Kind
	ID            string // client-supplied, opaque
	VideoPath     string
	ResultSink    string // path for persisted JSON result, unused in external-host mode
	Settings      map[string]any
	ExternalHost  bool
}

// New validates the invariants a JobRequest must satisfy: job_id
// non-empty, video_path non-empty. Existence of video_path on disk is
// checked by the protocol handlers just before admission, not here.
func New(kind Kind, id, videoPath, resultSink string, settings map[string]any, externalHost bool) (Request, error) {
	if id == "" {
		return Request{}, apperrors.NewBadRequestError("job_id must not be empty")
	}
	if videoPath == "" {
		return Request{}, apperrors.NewBadRequestError("video_path must not be empty")
	}
	return Request{
		Kind:         kind,
		ID:           id,
		VideoPath:    videoPath,
		ResultSink:   resultSink,
		Settings:     settings,
		ExternalHost: externalHost,
	}, nil
}
