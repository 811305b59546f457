// Command videod runs the video analysis/transcription daemon: it parses
// flags, wires the job/session/state/plugin/pipeline packages together,
// and blocks serving the job websocket and the Prometheus metrics endpoint
// until a shutdown signal arrives.
//
// Parse flags, construct every dependent package once, launch the signal
// handler and the websocket listener as errgroup goroutines (the metrics
// endpoint runs detached, outside the group), then wait for the group
// (construct-then-block, golang.org/x/sync/errgroup for the "first error
// wins" shutdown shape).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/livepeer/videod/analysis"
	"github.com/livepeer/videod/config"
	"github.com/livepeer/videod/log"
	"github.com/livepeer/videod/memory"
	"github.com/livepeer/videod/metrics"
	"github.com/livepeer/videod/pluginapi"
	"github.com/livepeer/videod/plugins"
	"github.com/livepeer/videod/plugins/builtin"
	"github.com/livepeer/videod/protocol"
	"github.com/livepeer/videod/server"
	"github.com/livepeer/videod/session"
	"github.com/livepeer/videod/state"
	"github.com/livepeer/videod/transcribe"
)

func main() {
	cli, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		glog.Fatalf("error parsing flags: %v", err)
	}

	if err := run(cli); err != nil {
		glog.Fatalf("videod exiting: %v", err)
	}
}

func run(cli config.Cli) error {
	svcMetrics := metrics.NewServiceMetrics()

	st := state.NewMachine(cli.MaxConcurrentAnalyses, cli.MaxConcurrentTranscriptions)
	registry := session.NewRegistry(svcMetrics)

	pm := plugins.NewManager(builtinPlugins(cli), cli.PluginSkipInterval, svcMetrics)
	mon := memory.NewMonitor(svcMetrics)
	ap := analysis.NewPipeline(analysisConfig(cli), pm, mon, svcMetrics)

	model := transcribe.NewSubprocessModel(transcriptionBinaryPath(), cli.TranscriptionModel)
	tp := transcribe.NewPipeline(model, transcribeOptions(cli))

	router := protocol.NewRouter(registry)
	handlers := protocol.NewHandlers(st, registry, ap, tp, cli)
	handlers.RegisterOn(router)

	srv := server.New(cli, router, registry, svcMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The metrics scrape endpoint runs detached, fire-and-forget: a
	// diagnostic surface, not a component shutdown needs to wait on.
	go func() {
		if err := metrics.ListenAndServe(cli.MetricsAddr); err != nil {
			log.LogNoRequestID("metrics server exited", "err", err)
		}
	}()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return handleSignals(ctx)
	})
	group.Go(func() error {
		return srv.ListenAndServe(ctx)
	})

	st.SetReady()
	log.LogNoRequestID("videod ready", "version", config.Version)

	return group.Wait()
}

// builtinPlugins returns the illustrative plugin manifest.
func builtinPlugins(cli config.Cli) []pluginapi.Plugin {
	return []pluginapi.Plugin{
		builtin.NewObjectDetectionPlugin(),
		builtin.NewFaceRecognitionPlugin(cli.UnknownFaceDir),
		builtin.NewBrightnessPlugin(),
	}
}

func analysisConfig(cli config.Cli) analysis.Config {
	return analysis.Config{
		ThumbnailDir:               cli.ThumbnailDir,
		TargetResolutionHeight:     cli.TargetResolutionHeight,
		SampleIntervalSeconds:      cli.SampleIntervalSeconds,
		FrameBufferLimit:           cli.FrameBufferLimit,
		MemoryCleanupInterval:      cli.MemoryCleanupInterval,
		LowMemoryThresholdMB:       uint64(cli.LowMemoryThresholdMB),
		ThumbnailWidth:             config.DefaultThumbnailWidth,
		ThumbnailQuality:           config.DefaultThumbnailQuality,
		FallbackFPS:                config.FallbackFPS,
		ShortVideoThresholdSeconds: config.ShortVideoThresholdSeconds,
	}
}

func transcribeOptions(cli config.Cli) transcribe.Options {
	return transcribe.Options{
		BeamSize:             5,
		WordTimestamps:       true,
		VADFilter:            true,
		VADThreshold:         cli.VADThreshold,
		MinSpeechDurationMs:  cli.VADMinSpeechMs,
		MinSilenceDurationMs: cli.VADMinSilenceMs,
	}
}

// transcriptionBinaryPath resolves the external transcription backend from
// the environment; model/backend selection is left to the operator, with
// no CLI flag for it.
func transcriptionBinaryPath() string {
	if p := os.Getenv("VIDEOD_TRANSCRIPTION_BACKEND"); p != "" {
		return p
	}
	return "transcribe-backend"
}

// handleSignals returns a non-nil error on receipt of a signal so the
// owning errgroup cancels its shared context and the other group member
// (the websocket listener) shuts down with it.
func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	select {
	case s := <-c:
		return fmt.Errorf("caught signal: %v", s)
	case <-ctx.Done():
		return nil
	}
}
