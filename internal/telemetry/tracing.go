// Package telemetry wires the control plane's otel tracer provider: every
// activity-pipeline span (spec §4.7) flows through
// whatever exporter this package configures at startup, the way the
// teacher wires its own zap logger once in main and hands it down.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the single instrumentation scope every span in this repo
// is created under, so a reader of a trace backend sees one consistent
// library name regardless of which package started the span.
const TracerName = "github.com/SUPREMEAGENTMANAGER"

// Config selects the trace exporter. An empty Config is valid: Enabled
// gates whether a real TracerProvider is installed at all, leaving otel's
// global no-op provider in place when false, so no spans are recorded.
type Config struct {
	ServiceName string
	Enabled     bool
}

// NewTracerProvider installs an SDK TracerProvider as the otel global
// provider and returns it so the caller can Shutdown it on exit. Spans are
// exported via stdouttrace, matching the teacher's own preference for
// structured stdout output over standing up external infrastructure the
// examples don't otherwise depend on; swapping in an OTLP exporter later
// is a one-function change confined to this file.
func NewTracerProvider(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	if !cfg.Enabled {
		return sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample())), nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("build stdouttrace exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer returns the package-wide tracer, safe to call before
// NewTracerProvider runs (otel falls back to a no-op tracer).
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
