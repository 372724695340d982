// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the streaming engine.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/agentstream/core"
)

// Metrics collects engine metrics. All record methods are safe on a nil
// receiver so components can treat metrics as optional.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	metrics.RecordToolCall("searchWeb", "ok", time.Since(start))
type Metrics struct {
	// StepCounter counts orchestrator steps.
	StepCounter prometheus.Counter

	// ModelRequestDuration measures model invocation latency in seconds.
	// Labels: provider, model, status (ok|error)
	ModelRequestDuration *prometheus.HistogramVec

	// ModelTokensUsed tracks token consumption.
	// Labels: provider, type (input|output)
	ModelTokensUsed *prometheus.CounterVec

	// ToolCallCounter counts tool calls.
	// Labels: tool, status (ok|error|payment_required)
	ToolCallCounter *prometheus.CounterVec

	// ToolCallDuration measures tool execution time in seconds.
	// Labels: tool
	ToolCallDuration *prometheus.HistogramVec

	// TerminalCounter counts finished streams by terminal event type.
	// Labels: type (finish|step-limit|stuck|error|abort)
	TerminalCounter *prometheus.CounterVec

	// PersistenceSoftFailures counts skipped or failed writes.
	// Labels: reason
	PersistenceSoftFailures *prometheus.CounterVec

	// ActiveStreams is the number of streams currently running.
	ActiveStreams prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		StepCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentstream_steps_total",
			Help: "Total number of orchestrator steps",
		}),

		ModelRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentstream_model_request_duration_seconds",
				Help:    "Duration of model invocations in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model", "status"},
		),

		ModelTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentstream_model_tokens_total",
				Help: "Total number of tokens used by provider and type",
			},
			[]string{"provider", "type"},
		),

		ToolCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentstream_tool_calls_total",
				Help: "Total number of tool calls by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentstream_tool_call_duration_seconds",
				Help:    "Duration of tool calls in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		TerminalCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentstream_stream_terminals_total",
				Help: "Total number of finished streams by terminal event type",
			},
			[]string{"type"},
		),

		PersistenceSoftFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentstream_persistence_soft_failures_total",
				Help: "Total number of skipped or failed persistence writes",
			},
			[]string{"reason"},
		),

		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentstream_active_streams",
			Help: "Number of streams currently running",
		}),
	}
}

// RecordStep increments the step counter.
func (m *Metrics) RecordStep() {
	if m == nil {
		return
	}
	m.StepCounter.Inc()
}

// RecordModelCall records one model invocation.
func (m *Metrics) RecordModelCall(provider, model, status string, d time.Duration, usage *core.Usage) {
	if m == nil {
		return
	}
	m.ModelRequestDuration.WithLabelValues(provider, model, status).Observe(d.Seconds())
	if usage == nil {
		return
	}
	if usage.InputTokens > 0 {
		m.ModelTokensUsed.WithLabelValues(provider, "input").Add(float64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		m.ModelTokensUsed.WithLabelValues(provider, "output").Add(float64(usage.OutputTokens))
	}
}

// RecordToolCall records one tool call.
func (m *Metrics) RecordToolCall(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCallCounter.WithLabelValues(tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordTerminal counts a finished stream.
func (m *Metrics) RecordTerminal(t core.EventType) {
	if m == nil {
		return
	}
	m.TerminalCounter.WithLabelValues(string(t)).Inc()
}

// RecordPersistenceSoftFailure counts a skipped or failed write.
func (m *Metrics) RecordPersistenceSoftFailure(reason string) {
	if m == nil {
		return
	}
	m.PersistenceSoftFailures.WithLabelValues(reason).Inc()
}

// StreamStarted increments the active stream gauge.
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// StreamEnded decrements the active stream gauge.
func (m *Metrics) StreamEnded() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}
