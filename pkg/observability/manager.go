package observability

import (
	"context"
	"io"
)

// Config configures a Manager.
type Config struct {
	ServiceName string
	// TraceWriter receives stdout-exported span JSON; nil discards it.
	TraceWriter io.Writer
	// SampleTraces enables span sampling; false keeps tracing overhead at
	// effectively zero while still exercising the instrumented code paths.
	SampleTraces bool
	// MetricsNamespace prefixes every Prometheus metric name.
	MetricsNamespace string
}

// Manager owns the lifecycle of the Tracer, Meter, and Prometheus Metrics
// together, mirroring the teacher's observability.Manager shape
// (init-everything-together, shutdown-everything-together) trimmed to this
// spec's three instruments.
type Manager struct {
	Tracer  *Tracer
	Meter   *Meter
	Metrics *Metrics
}

// NewManager builds and starts tracing, metering, and Prometheus
// collection together.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	tracer, err := NewTracer(ctx, TracerConfig{
		ServiceName: cfg.ServiceName,
		Writer:      cfg.TraceWriter,
		SampleAll:   cfg.SampleTraces,
	})
	if err != nil {
		return nil, err
	}

	meter, err := NewMeter(cfg.ServiceName)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, err
	}

	return &Manager{
		Tracer:  tracer,
		Meter:   meter,
		Metrics: NewMetrics(cfg.MetricsNamespace),
	}, nil
}

// Shutdown stops the tracer and meter. Metrics (Prometheus) has no
// shutdown — its registry simply stops being scraped.
func (m *Manager) Shutdown(ctx context.Context) error {
	if err := m.Tracer.Shutdown(ctx); err != nil {
		return err
	}
	return m.Meter.Shutdown(ctx)
}
