// Package extract implements Frame Extraction: probing a
// video for its frame rate/duration/size, computing a sampling stride, and
// producing a lazy sequence of downscaled frame.Record values.
//
// Shells to ffmpeg via u2takey/ffmpeg-go's Input/Output/KwArgs builder in a
// single streaming invocation that emits every sampled frame as raw RGB24
// on stdout. ffmpeg runs with -loglevel error and its stderr is not
// captured.
// gopkg.in/vansante/go-ffprobe.v2 covers the upfront container probe
// ffmpeg.KwArgs alone can't give us (frame rate, duration, frame count).
package extract

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	ffprobe "gopkg.in/vansante/go-ffprobe.v2"

	"github.com/livepeer/videod/apperrors"
	"github.com/livepeer/videod/frame"
	"github.com/livepeer/videod/log"
)

// probeRetryBackoff governs retries of the upfront ffprobe call, which can
// transiently fail while a video file is still being written to disk.
// Overridden in tests to fail instantly instead of waiting out real delays.
var probeRetryBackoff = func() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), 3)
}

const bytesPerPixel = 3 // rawvideo rgb24

// Info is the subset of container metadata the sampling math needs.
type Info struct {
	FPS         float64
	DurationS   float64
	TotalFrames int64
	Width       int
	Height      int
}

// Probe inspects videoPath with ffprobe and fails with ExtractionError if
// the file can't be opened or carries no decodable video stream.
func Probe(ctx context.Context, videoPath string) (Info, error) {
	var data *ffprobe.ProbeData
	err := backoff.Retry(func() error {
		var probeErr error
		data, probeErr = ffprobe.ProbeURL(ctx, videoPath)
		return probeErr
	}, backoff.WithContext(probeRetryBackoff(), ctx))
	if err != nil {
		return Info{}, apperrors.NewExtractionError(videoPath, fmt.Errorf("ffprobe: %w", err))
	}
	stream := data.FirstVideoStream()
	if stream == nil {
		return Info{}, apperrors.NewExtractionError(videoPath, fmt.Errorf("no video stream found"))
	}

	fps := parseFrameRate(stream.RFrameRate)
	if fps <= 0 {
		fps = parseFrameRate(stream.AvgFrameRate)
	}

	duration := data.Format.DurationSeconds
	totalFrames := parseInt64(stream.NbFrames)
	if totalFrames <= 0 && fps > 0 && duration > 0 {
		totalFrames = int64(math.Round(duration * fps))
	}
	if totalFrames <= 0 {
		return Info{}, apperrors.NewExtractionError(videoPath, fmt.Errorf("unknown frame count"))
	}

	return Info{
		FPS:         fps,
		DurationS:   duration,
		TotalFrames: totalFrames,
		Width:       stream.Width,
		Height:      stream.Height,
	}, nil
}

func parseFrameRate(rfr string) float64 {
	parts := strings.SplitN(rfr, "/", 2)
	if len(parts) != 2 {
		f, _ := strconv.ParseFloat(rfr, 64)
		return f
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

// Stride computes the sampling stride and total sampled frame count: one
// frame per second for short videos (<90s), otherwise sample_interval_seconds
// apart, falling back to a 30fps assumption when the probe couldn't
// determine fps.
func Stride(info Info, sampleIntervalSeconds int, fallbackFPS float64, shortVideoThresholdSeconds float64) (stride int, totalSampledFrames int64) {
	fps := info.FPS
	if fps <= 0 {
		fps = fallbackFPS
	}
	durationS := info.DurationS
	if durationS <= 0 && fps > 0 {
		durationS = float64(info.TotalFrames) / fps
	}

	if durationS < shortVideoThresholdSeconds {
		stride = int(math.Max(1, math.Round(fps)))
	} else {
		stride = int(math.Max(1, math.Round(fps*float64(sampleIntervalSeconds))))
	}
	totalSampledFrames = int64(math.Ceil(float64(info.TotalFrames) / float64(stride)))
	if totalSampledFrames < 1 {
		totalSampledFrames = 1
	}
	return stride, totalSampledFrames
}

// ScaledDims returns the downscaled width/height and scale_factor for a
// source frame, preserving aspect ratio.
func ScaledDims(originalW, originalH, targetHeight int) (w, h int, scaleFactor float64) {
	if targetHeight <= 0 || originalH <= targetHeight {
		return originalW, originalH, 1.0
	}
	w = int(math.Round(float64(originalW) * float64(targetHeight) / float64(originalH)))
	return w, targetHeight, float64(originalH) / float64(targetHeight)
}

// Result is one item of the lazy frame sequence Extract produces.
type Result struct {
	Record frame.Record
	Err    error
}

// Extract streams stride-sampled, downscaled RGB24 frames from videoPath by
// shelling to ffmpeg, piping raw frames to stdout, and chunking the stream into
// fixed-size Record buffers. The returned channel is closed once
// extraction completes or fails; frames already sent before a mid-stream
// failure remain valid.
func Extract(ctx context.Context, videoPath string, info Info, stride int, targetHeight int) <-chan Result {
	out := make(chan Result, 1)

	w, h, scaleFactor := ScaledDims(info.Width, info.Height, targetHeight)
	frameSize := w * h * bytesPerPixel
	if frameSize <= 0 {
		out <- Result{Err: apperrors.NewExtractionError(videoPath, fmt.Errorf("invalid frame dimensions %dx%d", w, h))}
		close(out)
		return out
	}

	selectFilter := fmt.Sprintf("select='not(mod(n\\,%d))',scale=%d:%d", stride, w, h)
	cmd := ffmpeg.Input(videoPath).
		Output("pipe:1", ffmpeg.KwArgs{
			"vf":      selectFilter,
			"vsync":   "vfr",
			"f":       "rawvideo",
			"pix_fmt": "rgb24",
		}).
		GlobalArgs("-loglevel", "error").
		CompileContext(ctx)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		out <- Result{Err: apperrors.NewExtractionError(videoPath, err)}
		close(out)
		return out
	}
	if err := cmd.Start(); err != nil {
		out <- Result{Err: apperrors.NewExtractionError(videoPath, err)}
		close(out)
		return out
	}

	go runExtract(ctx, cmd, stdout, out, videoPath, info, stride, w, h, scaleFactor, frameSize)
	return out
}

func runExtract(ctx context.Context, cmd *exec.Cmd, stdout io.ReadCloser, out chan<- Result, videoPath string, info Info, stride, w, h int, scaleFactor float64, frameSize int) {
	defer close(out)
	reader := bufio.NewReaderSize(stdout, frameSize)
	buf := make([]byte, frameSize)

	fps := info.FPS
	if fps <= 0 {
		fps = 1
	}

	var sampleIdx int64
	for {
		if _, err := io.ReadFull(reader, buf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			out <- Result{Err: apperrors.NewExtractionError(videoPath, fmt.Errorf("reading frame %d: %w", sampleIdx, err))}
			break
		}

		pixels := make([]byte, frameSize)
		copy(pixels, buf)

		ptsFrames := sampleIdx * int64(stride)
		startS := float64(ptsFrames) / fps
		endS := startS + float64(stride)/fps

		out <- Result{Record: frame.Record{
			Pixels:      pixels,
			Width:       w,
			Height:      h,
			FrameIdx:    int(sampleIdx),
			StartTimeMs: int64(math.Round(startS * 1000)),
			EndTimeMs:   int64(math.Round(endS * 1000)),
			ScaleFactor: scaleFactor,
			OriginalW:   info.Width,
			OriginalH:   info.Height,
		}}
		sampleIdx++
	}

	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		log.LogNoRequestID("ffmpeg extraction process exited with error", "path", videoPath, "err", err)
	}
}
