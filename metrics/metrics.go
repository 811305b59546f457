package metrics

import (
	"github.com/livepeer/videod/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ServiceMetrics holds the daemon's Prometheus series. The job counters and
// gauges (TotalAnalyses through ActiveTranscriptions), AdmissionRejections,
// the two job-duration histograms and PluginTimeoutTotal are registered but
// no package updates them, so they stay at zero; the job totals in the
// websocket "status" message come from state.Metrics instead.
type ServiceMetrics struct {
	Version *prometheus.CounterVec

	TotalAnalyses        prometheus.Counter
	TotalTranscriptions  prometheus.Counter
	FailedAnalyses       prometheus.Counter
	FailedTranscriptions prometheus.Counter

	ActiveAnalyses       prometheus.Gauge
	ActiveTranscriptions prometheus.Gauge

	AdmissionRejections *prometheus.CounterVec

	AnalysisJobDurationSec       prometheus.Histogram
	TranscriptionJobDurationSec  prometheus.Histogram
	FramesAnalyzedTotal          prometheus.Counter
	MemoryCleanupsTotal          prometheus.Counter
	AggressiveMemoryCleanupTotal prometheus.Counter

	PluginDurationMs   *prometheus.HistogramVec
	PluginErrorsTotal  *prometheus.CounterVec
	PluginTimeoutTotal *prometheus.CounterVec

	SessionsConnected prometheus.Gauge
	SendFailuresTotal prometheus.Counter

	ProcessRSSBytes prometheus.Gauge
}

var jobDurationBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600}

func NewServiceMetrics() *ServiceMetrics {
	m := &ServiceMetrics{
		Version: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "videod_version_info",
			Help: "Fired once on startup to identify the running build.",
		}, []string{"version"}),
		TotalAnalyses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "videod_analyses_total",
			Help: "Total number of analysis jobs started.",
		}),
		TotalTranscriptions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "videod_transcriptions_total",
			Help: "Total number of transcription jobs started.",
		}),
		FailedAnalyses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "videod_analyses_failed_total",
			Help: "Total number of analysis jobs that ended in error.",
		}),
		FailedTranscriptions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "videod_transcriptions_failed_total",
			Help: "Total number of transcription jobs that ended in error.",
		}),
		ActiveAnalyses: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "videod_active_analyses",
			Help: "Number of analysis jobs currently in flight.",
		}),
		ActiveTranscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "videod_active_transcriptions",
			Help: "Number of transcription jobs currently in flight.",
		}),
		AdmissionRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "videod_admission_rejections_total",
			Help: "Number of jobs rejected at admission, by reason.",
		}, []string{"kind", "reason"}),
		AnalysisJobDurationSec: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "videod_analysis_job_duration_seconds",
			Help:    "Wall-clock duration of completed analysis jobs.",
			Buckets: jobDurationBuckets,
		}),
		TranscriptionJobDurationSec: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "videod_transcription_job_duration_seconds",
			Help:    "Wall-clock duration of completed transcription jobs.",
			Buckets: jobDurationBuckets,
		}),
		FramesAnalyzedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "videod_frames_analyzed_total",
			Help: "Total number of frames run through the plugin chain.",
		}),
		MemoryCleanupsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "videod_memory_cleanups_total",
			Help: "Total number of forced memory cleanups triggered between batches.",
		}),
		AggressiveMemoryCleanupTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "videod_aggressive_memory_cleanups_total",
			Help: "Total number of aggressive cleanups triggered by low available memory.",
		}),
		PluginDurationMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "videod_plugin_duration_milliseconds",
			Help:    "Per-frame plugin invocation duration.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}, []string{"plugin"}),
		PluginErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "videod_plugin_errors_total",
			Help: "Total number of plugin invocations that returned an error.",
		}, []string{"plugin"}),
		PluginTimeoutTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "videod_plugin_timeouts_total",
			Help: "Total number of plugin invocations that exceeded their soft deadline.",
		}, []string{"plugin"}),
		SessionsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "videod_sessions_connected",
			Help: "Number of live client sessions registered right now.",
		}),
		SendFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "videod_send_failures_total",
			Help: "Total number of sends dropped because the target session was closed or absent.",
		}),
		ProcessRSSBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "videod_process_rss_bytes",
			Help: "Resident set size of this process, as last sampled by the memory monitor.",
		}),
	}

	m.Version.WithLabelValues(config.Version).Inc()

	return m
}
