package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/catalog/internal/api/handlers"
	"github.com/Togather-Foundation/catalog/internal/api/middleware"
	"github.com/Togather-Foundation/catalog/internal/metrics"
)

// Dependencies are the services the HTTP surface exposes. Enqueuer and
// Runs are optional.
type Dependencies struct {
	Ingest   handlers.BatchIngester
	Enqueuer handlers.BatchEnqueuer
	Events   handlers.EventReader
	Runs     handlers.RunLister
	Database handlers.Database

	// SchemaVersion is the migration the binary was built against; readiness
	// fails while the database is behind it. Zero skips the check.
	SchemaVersion int64

	ImagesRoot   string
	ImagesPrefix string
	MaxBodyBytes int64

	Env    string
	Build  BuildInfo
	Logger zerolog.Logger
}

func NewRouter(deps Dependencies) http.Handler {
	ingestHandler := handlers.NewIngestHandler(deps.Ingest, deps.Enqueuer, deps.Env)
	eventsHandler := handlers.NewEventsHandler(deps.Events, deps.Env)
	health := handlers.NewHealthChecker(deps.Database, deps.Build.withDefaults().Version, deps.SchemaVersion)

	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = middleware.IngestMaxBodySize
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", handlers.Healthz())
	mux.Handle("/readyz", health.Readyz())
	mux.Handle("/version", versionHandler(deps.Build))
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	mux.Handle("/api/ingest", methodMux(map[string]http.Handler{
		http.MethodPost: middleware.RequestSize(maxBody)(http.HandlerFunc(ingestHandler.Ingest)),
	}))
	if deps.Runs != nil {
		runsHandler := handlers.NewRunsHandler(deps.Runs, deps.Env)
		mux.Handle("/api/ingest/runs", methodMux(map[string]http.Handler{
			http.MethodGet: http.HandlerFunc(runsHandler.List),
		}))
	}
	mux.Handle("/api/events", methodMux(map[string]http.Handler{
		http.MethodGet: http.HandlerFunc(eventsHandler.List),
	}))
	mux.Handle("/api/events/{id}", methodMux(map[string]http.Handler{
		http.MethodGet: http.HandlerFunc(eventsHandler.Get),
	}))

	if deps.ImagesRoot != "" {
		prefix := "/" + strings.Trim(deps.ImagesPrefix, "/")
		if prefix == "/" {
			prefix = "/images/events"
		}
		mux.Handle(prefix+"/", http.StripPrefix(prefix, imageFiles(deps.ImagesRoot)))
	}

	var handler http.Handler = mux
	handler = metrics.HTTPMiddleware(handler)
	handler = middleware.RequestLogging(deps.Logger)(handler)
	handler = middleware.CorrelationID(deps.Logger)(handler)
	handler = middleware.Tracing(handler)
	return handler
}

// imageFiles serves cached images without directory listings.
func imageFiles(root string) http.Handler {
	files := http.FileServer(http.Dir(root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=604800, immutable")
		files.ServeHTTP(w, r)
	})
}

func methodMux(handlers map[string]http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Allow", allowedMethods(handlers))
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
}

func allowedMethods(handlers map[string]http.Handler) string {
	methods := make([]string, 0, len(handlers))
	for method := range handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}
