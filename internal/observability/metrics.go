// Package observability backs the daemon's narrow metrics surface: round
// counts, tool-dispatch counts/latency, sandbox execution duration,
// compactor batch counts, and event-dispatcher drops. Registration is
// constructor-injected so unit tests never need a real Prometheus registry.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter/histogram the daemon exposes. A nil *Metrics
// is valid everywhere it's used — every method tolerates it as a no-op, so
// callers never need a conditional around metrics calls.
type Metrics struct {
	rounds           prometheus.Counter
	toolDispatches   *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	sandboxDuration  prometheus.Histogram
	sandboxFailures  prometheus.Counter
	compactionBatches prometheus.Counter
	dispatcherDrops  prometheus.Counter
	contextUsage     prometheus.Gauge
}

// New constructs a Metrics bound to reg. reg may be nil, in which case
// metrics are tracked in-process but never exposed via an HTTP handle —
// registration is skipped rather than attempted against a nil registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spiritd_agent_rounds_total",
			Help: "Total model<->tool rounds run across all conversations.",
		}),
		toolDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spiritd_tool_dispatch_total",
			Help: "Total tool dispatches, labeled by tool name.",
		}, []string{"tool"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spiritd_tool_dispatch_duration_seconds",
			Help:    "Tool dispatch latency, labeled by tool name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		sandboxDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spiritd_sandbox_execution_duration_seconds",
			Help:    "Sandbox code execution wall-clock duration.",
			Buckets: prometheus.DefBuckets,
		}),
		sandboxFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spiritd_sandbox_execution_failures_total",
			Help: "Total sandbox executions that returned success=false.",
		}),
		compactionBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spiritd_compactor_batches_created_total",
			Help: "Total summary batches archived by the compactor.",
		}),
		dispatcherDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spiritd_dispatcher_drops_total",
			Help: "Total external events dropped by the bounded event dispatcher.",
		}),
		contextUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spiritd_context_usage_percent",
			Help: "Percentage of the compression-trigger token budget used by the most recently processed conversation turn.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.rounds, m.toolDispatches, m.toolDuration,
			m.sandboxDuration, m.sandboxFailures, m.compactionBatches, m.dispatcherDrops,
			m.contextUsage)
	}
	return m
}

// RoundStarted records the start of one model<->tool round.
func (m *Metrics) RoundStarted() {
	if m == nil {
		return
	}
	m.rounds.Inc()
}

// ToolDispatched records one tool dispatch's name and latency.
func (m *Metrics) ToolDispatched(name string, duration time.Duration) {
	if m == nil {
		return
	}
	m.toolDispatches.WithLabelValues(name).Inc()
	m.toolDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// SandboxExecuted records one sandbox execution's duration and outcome.
func (m *Metrics) SandboxExecuted(duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.sandboxDuration.Observe(duration.Seconds())
	if !success {
		m.sandboxFailures.Inc()
	}
}

// CompactionBatch records the number of summary batches one compaction
// pass created (zero is a valid, common observation — a no-op pass).
func (m *Metrics) CompactionBatch(batchesCreated int) {
	if m == nil {
		return
	}
	m.compactionBatches.Add(float64(batchesCreated))
}

// DispatcherDrop records one event dropped by the bounded event dispatcher
// due to a full queue.
func (m *Metrics) DispatcherDrop() {
	if m == nil {
		return
	}
	m.dispatcherDrops.Inc()
}

// ContextUsage records the compression-trigger budget usage, as a
// percentage, observed for the most recently processed turn.
func (m *Metrics) ContextUsage(percent float64) {
	if m == nil {
		return
	}
	m.contextUsage.Set(percent)
}
