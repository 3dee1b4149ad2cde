package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/Togather-Foundation/catalog/internal/config"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	prevProvider := otel.GetTracerProvider()
	prevPropagator := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
	})
}

func TestInitTracing_Disabled(t *testing.T) {
	restoreGlobals(t)
	before := otel.GetTracerProvider()

	shutdown, err := InitTracing(context.Background(), config.TracingConfig{Exporter: "otlp"}, Options{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	require.Equal(t, before, otel.GetTracerProvider())
}

func TestInitTracing_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TracingConfig
		want string
	}{
		{name: "rate above one", cfg: config.TracingConfig{Enabled: true, Exporter: "none", SampleRate: 1.5}, want: "TRACING_SAMPLE_RATE"},
		{name: "negative rate", cfg: config.TracingConfig{Enabled: true, Exporter: "none", SampleRate: -0.1}, want: "TRACING_SAMPLE_RATE"},
		{name: "unknown exporter", cfg: config.TracingConfig{Enabled: true, Exporter: "zipkin", SampleRate: 1}, want: "unsupported exporter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restoreGlobals(t)
			_, err := InitTracing(context.Background(), tt.cfg, Options{})
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestInitTracing_NoneExporterStillSamples(t *testing.T) {
	restoreGlobals(t)
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{
		Enabled:     true,
		Exporter:    "None",
		ServiceName: "catalog-test",
		SampleRate:  1,
	}, Options{Version: "test"})
	require.NoError(t, err)

	_, span := Tracer("telemetry-test").Start(context.Background(), "ingest batch")
	require.True(t, span.SpanContext().IsSampled())
	span.End()
	require.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_StdoutExporter(t *testing.T) {
	restoreGlobals(t)
	var out bytes.Buffer
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "catalog-test",
		SampleRate:  1,
	}, Options{Version: "0.4.1", Environment: "staging", Writer: &out})
	require.NoError(t, err)

	_, span := Tracer("telemetry-test").Start(context.Background(), "resolve venue")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	require.Contains(t, out.String(), "resolve venue")
	require.Contains(t, out.String(), "staging")
	require.Contains(t, out.String(), "catalog-test")
}

func TestInitTracing_ZeroRateDropsNewRoots(t *testing.T) {
	restoreGlobals(t)
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{
		Enabled:     true,
		Exporter:    "none",
		ServiceName: "catalog-test",
		SampleRate:  0,
	}, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	_, span := Tracer("telemetry-test").Start(context.Background(), "root")
	defer span.End()
	require.False(t, span.SpanContext().IsSampled())
}
