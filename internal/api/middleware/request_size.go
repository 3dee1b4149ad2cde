package middleware

import (
	"net/http"
)

const (
	// DefaultMaxBodySize applies when no explicit limit is configured.
	DefaultMaxBodySize int64 = 1 << 20

	// IngestMaxBodySize matches the INGEST_MAX_BODY_BYTES default.
	IngestMaxBodySize int64 = 10 << 20
)

// RequestSize limits the size of incoming request bodies.
//
// It wraps the request body with http.MaxBytesReader; handlers see a
// *http.MaxBytesError when the body exceeds maxBytes and answer 413.
func RequestSize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
