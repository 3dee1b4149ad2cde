package middleware

import (
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/Togather-Foundation/catalog/internal/metrics"
)

const tracerName = "github.com/Togather-Foundation/catalog/internal/api"

// Tracing opens a server span per request, continuing any W3C trace context
// the caller sent. It runs outermost, so the span also covers correlation,
// logging and metrics. Span names use the metrics route label, which keeps
// event ids and image paths out of them.
//
// Only 5xx answers mark the span as an error; a 422 for a batch with no
// usable records is a normal outcome.
func Tracing(next http.Handler) http.Handler {
	tracer := otel.Tracer(tracerName)
	propagator := otel.GetTextMapPropagator()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		route := metrics.RouteLabel(r.URL.Path)
		attrs := []attribute.KeyValue{
			semconv.HTTPMethod(r.Method),
			semconv.HTTPRoute(route),
			attribute.String("url.path", r.URL.Path),
			semconv.HTTPScheme(schemeFromRequest(r)),
			semconv.NetHostName(r.Host),
			attribute.String("http.user_agent", r.UserAgent()),
		}
		if r.URL.Path == "/api/ingest" {
			async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
			attrs = append(attrs, attribute.Bool("catalog.ingest.async", async))
			if r.ContentLength > 0 {
				attrs = append(attrs, attribute.Int64("http.request_content_length", r.ContentLength))
			}
		}

		ctx, span := tracer.Start(ctx, r.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		ww := &tracingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.status()
		span.SetAttributes(semconv.HTTPStatusCode(status))
		// CorrelationID runs inside this middleware; its id is on the response.
		if id := w.Header().Get(RequestIDHeader); id != "" {
			span.SetAttributes(attribute.String("request_id", id))
		}
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	})
}

// tracingResponseWriter records the status code written by the handler.
type tracingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *tracingResponseWriter) WriteHeader(statusCode int) {
	if w.statusCode == 0 {
		w.statusCode = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *tracingResponseWriter) Write(b []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *tracingResponseWriter) status() int {
	if w.statusCode == 0 {
		return http.StatusOK
	}
	return w.statusCode
}

func schemeFromRequest(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme == "https" || scheme == "http" {
		return scheme
	}
	return "http"
}
