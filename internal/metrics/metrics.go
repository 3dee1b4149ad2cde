package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all catalog metrics
const namespace = "catalog"

// Registry is the global Prometheus registry for all metrics
var Registry = prometheus.NewRegistry()

// AppInfo is a gauge that exposes application version information as labels
var AppInfo = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "app_info",
		Help:      "Application version information (always set to 1, version info in labels)",
	},
	[]string{"version", "commit", "build_date"},
)

// Ingestion metrics

// IngestBatchesTotal counts ingestion batches by site and verdict
var IngestBatchesTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_batches_total",
		Help:      "Total number of ingestion batches",
	},
	[]string{"site", "result"}, // result: success|failure
)

// IngestRecordsTotal counts per-record outcomes
var IngestRecordsTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_records_total",
		Help:      "Total number of ingested records by outcome",
	},
	[]string{"site", "status", "reason"}, // status: processed|skipped|failed
)

// IngestBatchesQueued counts batches accepted for background ingestion
var IngestBatchesQueued = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_batches_queued_total",
		Help:      "Total number of ingestion batches queued for async processing",
	},
	[]string{"site"},
)

// IngestBatchDuration tracks wall time of a batch including image downloads
var IngestBatchDuration = promauto.With(Registry).NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ingest_batch_duration_seconds",
		Help:      "Ingestion batch duration in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	},
	[]string{"site"},
)

// Image cache metrics

// ImageCacheTotal counts image resolutions by result
var ImageCacheTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "image_cache_total",
		Help:      "Total number of image cache resolutions",
	},
	[]string{"result"}, // result: hit|download|placeholder
)

// ImageDownloadFailuresTotal counts failed download attempts by reason
var ImageDownloadFailuresTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "image_download_failures_total",
		Help:      "Total number of failed image download attempts",
	},
	[]string{"reason"}, // reason: network|status|too_large|write
)

// ImageDownloadDuration tracks successful download latency
var ImageDownloadDuration = promauto.With(Registry).NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "image_download_duration_seconds",
		Help:      "Image download duration in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
)

// ImageFetchesInFlight tracks downloads currently holding a pool slot
var ImageFetchesInFlight = promauto.With(Registry).NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "image_fetches_in_flight",
		Help:      "Current number of image fetches in progress",
	},
)

// Text analysis metrics

// TextAnalysisRequestsTotal counts collaborator calls by result
var TextAnalysisRequestsTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "text_analysis_requests_total",
		Help:      "Total number of text-analysis requests",
	},
	[]string{"result"}, // result: success|failure|rejected|malformed
)

// TextAnalysisLatency tracks collaborator round-trip latency
var TextAnalysisLatency = promauto.With(Registry).NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "text_analysis_latency_seconds",
		Help:      "Text-analysis request latency in seconds",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	},
)

// CircuitBreakerState exposes breaker state (0=closed, 1=half-open, 2=open)
var CircuitBreakerState = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	},
	[]string{"name"},
)

// CircuitBreakerTransitions counts breaker state changes
var CircuitBreakerTransitions = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_transitions_total",
		Help:      "Total number of circuit breaker state transitions",
	},
	[]string{"name", "from", "to"},
)

// Init registers runtime collectors and sets version information
func Init(version, commit, buildDate string) {
	// Registering twice panics; tests and the CLI may both call Init.
	_ = Registry.Register(collectors.NewGoCollector())
	_ = Registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	AppInfo.WithLabelValues(version, commit, buildDate).Set(1)
}
