package config

import "time"

var Version string

// Somewhat arbitrary and conservative default per-kind concurrency caps for
// a single-process daemon; operators override via flags/env (see Cli).
const (
	DefaultMaxConcurrentAnalyses       = 4
	DefaultMaxConcurrentTranscriptions = 4
)

const (
	DefaultSampleIntervalSeconds  = 5
	DefaultTargetResolutionHeight = 720
	DefaultFrameBufferLimit       = 32
	DefaultMemoryCleanupInterval  = 10
	DefaultLowMemoryThresholdMB   = 2048
	DefaultThumbnailWidth         = 320
	DefaultThumbnailQuality       = 85
)

const (
	DefaultPingInterval = 30 * time.Second
	DefaultPingTimeout  = 10 * time.Second
	DefaultCloseTimeout = 5 * time.Second
)

const DefaultTranscriptionModel = "base"

// FallbackFPS is used when a container reports no (or an implausible)
// frame rate.
const FallbackFPS = 30.0

// ShortVideoThresholdSeconds is the duration below which sampling switches
// to one frame per second regardless of SampleIntervalSeconds.
const ShortVideoThresholdSeconds = 90.0

// ExternalHostVideoPrefix is the incoming video_path prefix rewritten to
// ExternalHostMediaPath when a request sets use_external_host.
const ExternalHostVideoPrefix = "/media/videos"
