package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/peterbourgon/ff/v3"
)

// Cli holds every value the daemon's entrypoint can configure, loaded from
// flags and/or environment variables (VIDEOD_* prefix) via ff/v3.
type Cli struct {
	ListenAddr     string
	UnixSocketPath string
	MetricsAddr    string

	MaxConcurrentAnalyses       int
	MaxConcurrentTranscriptions int

	SampleIntervalSeconds  int
	TargetResolutionHeight int
	FrameBufferLimit       int
	MemoryCleanupInterval  int
	LowMemoryThresholdMB   int

	ThumbnailDir   string
	UnknownFaceDir string

	TranscriptionModel string
	VADThreshold       float64
	VADMinSpeechMs     int
	VADMinSilenceMs    int

	PingInterval time.Duration
	PingTimeout  time.Duration
	CloseTimeout time.Duration

	ExternalHostMediaPath string

	PluginSkipInterval map[string]int
}

// ParseFlags populates a Cli from args/environment using the same
// flag-then-env precedence the rest of the pack's daemons use.
func ParseFlags(args []string) (Cli, error) {
	var cli Cli
	fs := flag.NewFlagSet("videod", flag.ContinueOnError)

	fs.StringVar(&cli.ListenAddr, "listen-addr", "0.0.0.0:8935", "TCP address to accept job websocket connections on")
	fs.StringVar(&cli.UnixSocketPath, "unix-socket", "", "Unix domain socket path to listen on instead of TCP; a stale socket file is removed before binding")
	fs.StringVar(&cli.MetricsAddr, "metrics-addr", "127.0.0.1:9935", "Address to serve /metrics on")

	fs.IntVar(&cli.MaxConcurrentAnalyses, "max-concurrent-analyses", DefaultMaxConcurrentAnalyses, "Maximum number of analysis jobs running at once")
	fs.IntVar(&cli.MaxConcurrentTranscriptions, "max-concurrent-transcriptions", DefaultMaxConcurrentTranscriptions, "Maximum number of transcription jobs running at once")

	fs.IntVar(&cli.SampleIntervalSeconds, "sample-interval-seconds", DefaultSampleIntervalSeconds, "Seconds between sampled frames for videos longer than the short-video threshold")
	fs.IntVar(&cli.TargetResolutionHeight, "target-resolution-height", DefaultTargetResolutionHeight, "Frames taller than this are downscaled before running plugins")
	fs.IntVar(&cli.FrameBufferLimit, "frame-buffer-limit", DefaultFrameBufferLimit, "Number of frames buffered before a batch is drained through the plugin chain")
	fs.IntVar(&cli.MemoryCleanupInterval, "memory-cleanup-interval", DefaultMemoryCleanupInterval, "Number of batches between forced memory cleanups")
	fs.IntVar(&cli.LowMemoryThresholdMB, "low-memory-threshold-mb", DefaultLowMemoryThresholdMB, "Available system memory, in MB, below which an aggressive cleanup is triggered")

	fs.StringVar(&cli.ThumbnailDir, "thumbnail-dir", "./data/thumbnails", "Directory frame thumbnails are written to")
	fs.StringVar(&cli.UnknownFaceDir, "unknown-face-dir", "./data/unknown-faces", "Directory unidentified-face artifacts are written to")

	fs.StringVar(&cli.TranscriptionModel, "transcription-model", DefaultTranscriptionModel, "Speech model name passed to the transcription backend")
	fs.Float64Var(&cli.VADThreshold, "vad-threshold", 0.5, "Voice-activity-detection probability threshold")
	fs.IntVar(&cli.VADMinSpeechMs, "vad-min-speech-ms", 250, "Minimum speech segment duration, in milliseconds, for VAD")
	fs.IntVar(&cli.VADMinSilenceMs, "vad-min-silence-ms", 100, "Minimum silence duration, in milliseconds, for VAD")

	fs.DurationVar(&cli.PingInterval, "ping-interval", DefaultPingInterval, "Interval between keepalive pings sent to each session")
	fs.DurationVar(&cli.PingTimeout, "ping-timeout", DefaultPingTimeout, "How long to wait for a pong before closing a session")
	fs.DurationVar(&cli.CloseTimeout, "close-timeout", DefaultCloseTimeout, "How long to wait for a clean close handshake")

	fs.StringVar(&cli.ExternalHostMediaPath, "external-host-media-path", "", "Host filesystem path that /media/videos is rewritten to when a request sets use_external_host")

	err := ff.Parse(fs, args, ff.WithEnvVarPrefix("VIDEOD"))
	if err != nil {
		return Cli{}, fmt.Errorf("error parsing flags: %w", err)
	}

	if cli.PluginSkipInterval == nil {
		cli.PluginSkipInterval = map[string]int{}
	}

	return cli, nil
}
