package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Togather-Foundation/catalog/internal/domain/ids"
)

var (
	HTTPRequests = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "code"},
	)

	HTTPLatency = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			// Synchronous ingest requests run to the end of the batch.
			Buckets: []float64{.005, .025, .1, .25, 1, 2.5, 10, 30, 60, 300},
		},
		[]string{"method", "route"},
	)

	HTTPInFlight = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served",
		},
	)

	// IngestBodyBytes sizes the batches posted to the ingest boundary.
	IngestBodyBytes = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_request_body_bytes",
			Help:      "Size of ingest request bodies in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8), // 1KiB .. 16MiB
		},
	)
)

// statusRecorder keeps the first status code written.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.code == 0 {
		s.code = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.code == 0 {
		s.code = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) status() int {
	if s.code == 0 {
		return http.StatusOK
	}
	return s.code
}

// HTTPMiddleware counts requests per route and status code.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HTTPInFlight.Inc()
		defer HTTPInFlight.Dec()

		route := RouteLabel(r.URL.Path)
		if route == "/api/ingest" && r.ContentLength > 0 {
			IngestBodyBytes.Observe(float64(r.ContentLength))
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status())).Inc()
		HTTPLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// RouteLabel keeps label cardinality bounded: event ULIDs become {id} and
// everything below the image prefix collapses to one label.
func RouteLabel(path string) string {
	if strings.HasPrefix(path, "/images/") {
		return "/images/*"
	}
	if !strings.HasPrefix(path, "/") {
		return path
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if ids.IsULID(seg) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}
