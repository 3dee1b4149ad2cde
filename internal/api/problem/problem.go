// Package problem writes the JSON error bodies of the HTTP API:
// {"error": "...", "details": {...}}.
package problem

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

const contentType = "application/json"

type Body struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

type Option func(*Body)

func WithDetails(details map[string]any) Option {
	return func(b *Body) {
		if len(details) > 0 {
			b.Details = details
		}
	}
}

// WithDetail adds one detail entry.
func WithDetail(key string, value any) Option {
	return func(b *Body) {
		if b.Details == nil {
			b.Details = map[string]any{}
		}
		b.Details[key] = value
	}
}

// Write logs err against the request logger and writes the error body.
// Outside development and test, 5xx responses never echo err.
func Write(w http.ResponseWriter, r *http.Request, status int, message string, err error, env string, opts ...Option) {
	body := Body{Error: message}
	for _, opt := range opts {
		opt(&body)
	}
	if err != nil && status < 500 || err != nil && (env == "development" || env == "test") {
		if body.Details == nil {
			body.Details = map[string]any{}
		}
		if _, ok := body.Details["reason"]; !ok {
			body.Details["reason"] = err.Error()
		}
	}

	if err != nil && r != nil {
		logger := zerolog.Ctx(r.Context())
		event := logger.Warn()
		if status >= 500 {
			event = logger.Error()
		}
		event.Err(err).
			Int("status", status).
			Str("path", r.URL.Path).
			Str("method", r.Method).
			Msg(message)
	}

	WriteBody(w, status, body)
}

func WriteBody(w http.ResponseWriter, status int, body Body) {
	payload, err := json.Marshal(body)
	if err != nil {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Internal Server Error"}`))
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
