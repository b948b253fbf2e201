// Package observability wires OpenTelemetry tracing/metrics and Prometheus
// gauges/counters around the orchestration core's suspension points (spec
// §A.7 of the expanded spec): running-task count, FIFO queue depth, tool-call
// counts/durations, checkpoint counts. It is additional to, and feeds from,
// the core's own dependency-free Tracer (C4, pkg/trace) — this package never
// becomes a dependency of pkg/trace or any component package; components
// instead accept small duck-typed recorder interfaces (orchestrator's
// MetricsRecorder, manager's ToolRecorder) that *Metrics happens to satisfy,
// so wiring observability in is opt-in at the call site that builds an
// Orchestrator or tool Manager.
//
// Grounded on the teacher's pkg/observability (manager.go's lifecycle
// shape, tracer.go's TracerProvider setup, metrics.go's CounterVec/
// HistogramVec/GaugeVec vocabulary), trimmed from its RAG/HTTP/session/
// memory subsystems down to exactly the task/tool/checkpoint surface this
// spec's components expose, and switched from the teacher's OTLP-gRPC
// exporter to the stdout exporter this module's go.mod actually carries
// (no OTLP collector is assumed to be running next to an embeddable
// library).
package observability

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerConfig configures span emission.
type TracerConfig struct {
	ServiceName string
	// Writer receives the stdout exporter's JSON span output. Defaults to
	// io.Discard when nil (spans are still created, and sampled when
	// SampleAll is set, just not printed) — a caller that wants them on
	// stderr passes os.Stderr.
	Writer io.Writer
	// SampleAll, when false, samples no spans (useful in tests that only
	// want the no-op cost, not exporter I/O).
	SampleAll bool
}

// Tracer wraps an OTel TracerProvider plus the one Tracer this core
// actually starts spans from.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a Tracer exporting via stdouttrace (spec's domain-stack
// table names go.opentelemetry.io/otel/exporters/stdout/stdouttrace
// explicitly for this role).
func NewTracer(ctx context.Context, cfg TracerConfig) (*Tracer, error) {
	w := cfg.Writer
	if w == nil {
		w = io.Discard
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, err
	}

	sampler := sdktrace.NeverSample()
	if cfg.SampleAll {
		sampler = sdktrace.AlwaysSample()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{provider: provider, tracer: provider.Tracer(cfg.ServiceName)}, nil
}

// StartSpan opens a span wrapping one suspension point (an agent
// iteration, a tool call, a checkpoint write) and returns the derived
// context plus an end function.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func() { span.End() }
}

// Shutdown flushes and stops the underlying TracerProvider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}
