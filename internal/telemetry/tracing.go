// Package telemetry configures OpenTelemetry tracing for the catalog server.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/Togather-Foundation/catalog/internal/config"
)

// Shutdown flushes pending spans and stops the exporter.
type Shutdown func(context.Context) error

// Options describe the running process on every exported span.
type Options struct {
	Version     string
	Environment string

	// Writer receives spans from the stdout exporter. Defaults to stderr so
	// spans do not interleave with JSON logs on stdout.
	Writer io.Writer
}

// InitTracing installs the global tracer provider and W3C propagators.
// With tracing disabled it installs nothing and returns a no-op Shutdown.
// The "none" exporter still creates spans, so trace ids reach logs and
// downstream requests without anything being exported.
func InitTracing(ctx context.Context, cfg config.TracingConfig, opts Options) (Shutdown, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.SampleRate < 0 || cfg.SampleRate > 1 {
		return nil, fmt.Errorf("TRACING_SAMPLE_RATE %v out of range [0, 1]", cfg.SampleRate)
	}

	attrs := []resource.Option{resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(opts.Version),
	)}
	if opts.Environment != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.DeploymentEnvironment(opts.Environment)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		// Follow the caller's sampling decision; sample new roots at the configured rate.
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}
	switch strings.ToLower(cfg.Exporter) {
	case "none":
	case "stdout":
		w := opts.Writer
		if w == nil {
			w = os.Stderr
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exp))
	case "otlp":
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exp))
	default:
		return nil, fmt.Errorf("unsupported exporter %q: use stdout, otlp or none", cfg.Exporter)
	}

	tp := sdktrace.NewTracerProvider(providerOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// Tracer returns the named tracer from the global provider. Before
// InitTracing, or with tracing disabled, it is a no-op tracer.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
