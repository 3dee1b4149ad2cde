package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/catalog/internal/metrics"
)

// accessRecorder captures what the access log reports about a response.
type accessRecorder struct {
	http.ResponseWriter
	code    int
	written int
}

func (a *accessRecorder) WriteHeader(code int) {
	if a.code == 0 {
		a.code = code
	}
	a.ResponseWriter.WriteHeader(code)
}

func (a *accessRecorder) Write(p []byte) (int, error) {
	if a.code == 0 {
		a.code = http.StatusOK
	}
	n, err := a.ResponseWriter.Write(p)
	a.written += n
	return n, err
}

// probePaths are polled by orchestrators and only logged at debug level.
var probePaths = map[string]bool{"/healthz": true, "/readyz": true, "/metrics": true}

// RequestLogging writes one access line per request. It prefers the
// request-scoped logger installed by CorrelationID so the line carries the
// request id. 5xx answers log at error, 4xx at warn.
func RequestLogging(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &accessRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			code := rec.code
			if code == 0 {
				code = http.StatusOK
			}

			l := zerolog.Ctx(r.Context())
			if l.GetLevel() == zerolog.Disabled {
				l = &logger
			}

			var event *zerolog.Event
			switch {
			case code >= http.StatusInternalServerError:
				event = l.Error()
			case code >= http.StatusBadRequest:
				event = l.Warn()
			case probePaths[r.URL.Path]:
				event = l.Debug()
			default:
				event = l.Info()
			}
			if r.URL.RawQuery != "" {
				event = event.Str("query", r.URL.RawQuery)
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", metrics.RouteLabel(r.URL.Path)).
				Int("status", code).
				Int("bytes", rec.written).
				Int64("request_bytes", r.ContentLength).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
