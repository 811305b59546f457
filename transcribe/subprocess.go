// Subprocess speech model: shells out to an external transcription binary
// and streams its JSON-lines stdout into SpeechModel's channel contract.
//
// The same shell-to-a-binary-and-stream-stdout shape as extract/extract.go's
// ffmpeg streaming, here with os/exec.CommandContext, a bufio.Scanner over
// stdout and stderr captured for error messages, pointed at a transcription
// CLI instead of ffmpeg. Audio decoding and model internals are explicitly out
// of scope here; this is an illustrative stand-in for the real backend, the
// transcription-side counterpart of plugins/builtin's illustrative ML
// plugins.
package transcribe

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/livepeer/videod/apperrors"
)

// header is the first stdout line the backend emits, describing the job
// before any segments follow.
type header struct {
	TotalDuration float64 `json:"total_duration"`
	Language      string  `json:"language"`
}

// SubprocessModel implements SpeechModel by invoking BinaryPath once per
// job and parsing its stdout as newline-delimited JSON: one header line,
// then one RawSegment per line.
type SubprocessModel struct {
	BinaryPath string
	ModelName  string
}

func NewSubprocessModel(binaryPath, modelName string) *SubprocessModel {
	return &SubprocessModel{BinaryPath: binaryPath, ModelName: modelName}
}

func (m *SubprocessModel) Transcribe(ctx context.Context, videoPath string, opts Options) (<-chan RawSegment, <-chan error, float64, string, error) {
	args := []string{
		"--video", videoPath,
		"--model", m.ModelName,
		"--beam-size", fmt.Sprint(opts.BeamSize),
		"--vad-threshold", fmt.Sprint(opts.VADThreshold),
		"--vad-min-speech-ms", fmt.Sprint(opts.MinSpeechDurationMs),
		"--vad-min-silence-ms", fmt.Sprint(opts.MinSilenceDurationMs),
	}
	if opts.WordTimestamps {
		args = append(args, "--word-timestamps")
	}
	if opts.VADFilter {
		args = append(args, "--vad-filter")
	}

	cmd := exec.CommandContext(ctx, m.BinaryPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, 0, "", apperrors.NewPipelineError(videoPath, fmt.Errorf("opening transcription backend stdout: %w", err))
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, nil, 0, "", apperrors.NewPipelineError(videoPath, fmt.Errorf("starting transcription backend: %w", err))
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		_ = cmd.Wait()
		return nil, nil, 0, "", apperrors.NewPipelineError(videoPath, fmt.Errorf("transcription backend produced no output: %s", stderr.String()))
	}
	var h header
	if err := json.Unmarshal(scanner.Bytes(), &h); err != nil {
		_ = cmd.Wait()
		return nil, nil, 0, "", apperrors.NewPipelineError(videoPath, fmt.Errorf("decoding transcription header: %w", err))
	}

	segments := make(chan RawSegment)
	errc := make(chan error, 1)

	go func() {
		defer close(segments)
		for scanner.Scan() {
			var seg RawSegment
			if err := json.Unmarshal(scanner.Bytes(), &seg); err != nil {
				errc <- fmt.Errorf("decoding transcription segment: %w", err)
				_ = cmd.Wait()
				return
			}
			select {
			case segments <- seg:
			case <-ctx.Done():
				_ = cmd.Process.Kill()
				errc <- ctx.Err()
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errc <- fmt.Errorf("reading transcription backend stdout: %w", err)
			_ = cmd.Wait()
			return
		}
		if err := cmd.Wait(); err != nil {
			errc <- fmt.Errorf("transcription backend: %w: %s", err, stderr.String())
			return
		}
		errc <- nil
	}()

	return segments, errc, h.TotalDuration, h.Language, nil
}
