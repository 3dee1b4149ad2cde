package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withSpanRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return exporter
}

func spanAttrs(attrs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(attrs))
	for _, a := range attrs {
		out[a.Key] = a.Value
	}
	return out
}

func TestTracing_IngestRequest(t *testing.T) {
	exporter := withSpanRecorder(t)

	handler := Tracing(CorrelationID(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"success":false}`))
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/ingest?async=true", strings.NewReader(`{"site":"bluenote","events":[{}]}`))
	req.Header.Set(RequestIDHeader, "scrape-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	require.Equal(t, "POST /api/ingest", span.Name)

	attrs := spanAttrs(span.Attributes)
	require.Equal(t, "POST", attrs["http.method"].AsString())
	require.Equal(t, int64(http.StatusUnprocessableEntity), attrs["http.status_code"].AsInt64())
	require.Equal(t, "scrape-42", attrs["request_id"].AsString())
	require.True(t, attrs["catalog.ingest.async"].AsBool())
	require.Greater(t, attrs["http.request_content_length"].AsInt64(), int64(0))

	// A 422 is an answer about the batch, not a server failure.
	require.NotEqual(t, codes.Error, span.Status.Code)
}

func TestTracing_RouteLabelInSpanName(t *testing.T) {
	exporter := withSpanRecorder(t)

	handler := Tracing(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{}"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/events/01HYX3KQW7ERTV9XNBM2P8QJZF", nil))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "GET /api/events/{id}", spans[0].Name)

	attrs := spanAttrs(spans[0].Attributes)
	require.Equal(t, "/api/events/01HYX3KQW7ERTV9XNBM2P8QJZF", attrs["url.path"].AsString())
	require.Equal(t, int64(http.StatusOK), attrs["http.status_code"].AsInt64())
	_, hasAsync := attrs["catalog.ingest.async"]
	require.False(t, hasAsync)
}

func TestTracing_ServerErrorMarksSpan(t *testing.T) {
	exporter := withSpanRecorder(t)

	handler := Tracing(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/ingest", nil))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status.Code)
}

func TestTracing_ContinuesIncomingTrace(t *testing.T) {
	exporter := withSpanRecorder(t)
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	handler := Tracing(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext.TraceID().String())
}

func TestTracingResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	tw := &tracingResponseWriter{ResponseWriter: rec}
	require.Equal(t, http.StatusOK, tw.status())

	tw.WriteHeader(http.StatusAccepted)
	tw.WriteHeader(http.StatusInternalServerError)
	require.Equal(t, http.StatusAccepted, tw.status())
	require.Equal(t, http.StatusAccepted, rec.Code)
}
