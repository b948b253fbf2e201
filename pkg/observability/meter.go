package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Meter wraps the OTel metrics SDK's instrument surface (spec's
// domain-stack table names otel/metric + otel/sdk/metric alongside the
// tracing exporter). Unlike Tracer, Meter carries no exporter by default —
// this module's go.mod has no metrics exporter package, so instruments
// record into the SDK's internal aggregation state for in-process
// inspection/testing rather than being shipped anywhere; a host process
// that wants scraping wires its own periodic reader around the returned
// *sdkmetric.MeterProvider.
type Meter struct {
	provider        *sdkmetric.MeterProvider
	toolDuration    metric.Float64Histogram
	agentIterations metric.Int64Counter
}

// NewMeter builds a Meter.
func NewMeter(serviceName string) (*Meter, error) {
	provider := sdkmetric.NewMeterProvider()
	m := provider.Meter(serviceName)

	toolDuration, err := m.Float64Histogram(
		"tool_call_duration_seconds",
		metric.WithDescription("tool call duration in seconds"),
	)
	if err != nil {
		return nil, err
	}

	agentIterations, err := m.Int64Counter(
		"agent_iterations_total",
		metric.WithDescription("total agent reasoning-loop iterations"),
	)
	if err != nil {
		return nil, err
	}

	return &Meter{provider: provider, toolDuration: toolDuration, agentIterations: agentIterations}, nil
}

// RecordToolCallDuration records one tool call's wall-clock duration.
func (m *Meter) RecordToolCallDuration(ctx context.Context, server, tool string, d time.Duration) {
	m.toolDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("server", server), attribute.String("tool", tool)))
}

// RecordAgentIteration increments the agent-iteration counter for
// agentName.
func (m *Meter) RecordAgentIteration(ctx context.Context, agentName string) {
	m.agentIterations.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", agentName)))
}

// Shutdown flushes and stops the underlying MeterProvider.
func (m *Meter) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
