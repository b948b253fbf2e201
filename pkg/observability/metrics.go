package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus gauges/counters this spec names explicitly
// (spec §A.7): running-task count (the testable invariant of spec §8 —
// must never exceed the orchestrator's concurrency cap), FIFO queue depth,
// tool-call counts/durations, checkpoint counts. Grounded on the teacher's
// metrics.go CounterVec/HistogramVec/GaugeVec vocabulary, trimmed to this
// subset.
//
// Metrics satisfies orchestrator.MetricsRecorder and manager.ToolRecorder
// structurally (no import of either package here, avoiding a dependency
// cycle) — a caller wires it in with Orchestrator.SetMetrics /
// Manager.SetRecorder.
type Metrics struct {
	registry *prometheus.Registry

	runningTasks prometheus.Gauge
	queueDepth   prometheus.Gauge

	toolCalls        *prometheus.CounterVec
	toolCallErrors   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec

	checkpointsWritten prometheus.Counter
}

// NewMetrics builds a Metrics with a fresh registry (never the global
// default registry, so multiple Orchestrators in the same process/test
// binary don't collide on metric registration).
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		runningTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "running_tasks",
			Help:      "Number of tasks currently running.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "queue_depth",
			Help:      "Number of tasks waiting for admission.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Total tool calls by server and tool name.",
		}, []string{"server", "tool"}),
		toolCallErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "call_errors_total",
			Help:      "Total failed tool calls by server and tool name.",
		}, []string{"server", "tool"}),
		toolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "call_duration_seconds",
			Help:      "Tool call duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"server", "tool"}),
		checkpointsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "checkpoints_written_total",
			Help:      "Total checkpoints persisted.",
		}),
	}

	reg.MustRegister(m.runningTasks, m.queueDepth, m.toolCalls, m.toolCallErrors, m.toolCallDuration, m.checkpointsWritten)
	return m
}

// Registry exposes the underlying Prometheus registry, e.g. for
// promhttp.HandlerFor in a CLI's optional metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// SetRunningTasks implements orchestrator.MetricsRecorder.
func (m *Metrics) SetRunningTasks(n int) { m.runningTasks.Set(float64(n)) }

// SetQueueDepth implements orchestrator.MetricsRecorder.
func (m *Metrics) SetQueueDepth(n int) { m.queueDepth.Set(float64(n)) }

// RecordToolCall implements manager.ToolRecorder.
func (m *Metrics) RecordToolCall(server, tool string, d time.Duration, err error) {
	m.toolCalls.WithLabelValues(server, tool).Inc()
	m.toolCallDuration.WithLabelValues(server, tool).Observe(d.Seconds())
	if err != nil {
		m.toolCallErrors.WithLabelValues(server, tool).Inc()
	}
}

// RecordCheckpoint implements checkpoint.Recorder.
func (m *Metrics) RecordCheckpoint() { m.checkpointsWritten.Inc() }
