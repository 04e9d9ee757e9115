// Package observability provides Prometheus metrics and OpenTelemetry tracing
// for meeting processing runs.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeWarning   = "warning"
	OutcomeCancelled = "cancelled"
	OutcomeRejected  = "rejected"
)

// Mode label values.
const (
	ModeBatch  = "batch"
	ModeStream = "stream"
)

// Metrics holds all Prometheus metrics for meeting processing. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// AI provider
	AICallsTotal     *prometheus.CounterVec
	AILatencySeconds *prometheus.HistogramVec
	AIFallbacksTotal prometheus.Counter
	AITokensTotal    *prometheus.CounterVec

	// Analysis stages
	StageOutcomesTotal *prometheus.CounterVec
	StageSeconds       *prometheus.HistogramVec

	// Processing runs
	RunsTotal   *prometheus.CounterVec
	RunSeconds  *prometheus.HistogramVec
	RunsActive  *prometheus.GaugeVec
	StreamsSent *prometheus.CounterVec
}

// NewMetrics creates and registers the processing metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AICallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_ai_calls_total",
				Help: "Total chat completion calls by model and status",
			},
			[]string{"model", "status"},
		),
		AILatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "digest_ai_latency_seconds",
				Help:    "Chat completion latency",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 15, 30, 60, 120},
			},
			[]string{"model"},
		),
		AIFallbacksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "digest_ai_fallbacks_total",
				Help: "Times the fallback model was used after the primary was rate limited",
			},
		),
		AITokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_ai_tokens_total",
				Help: "Tokens reported by the provider",
			},
			[]string{"direction", "model"},
		),
		StageOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_stage_outcomes_total",
				Help: "Analysis stage outcomes",
			},
			[]string{"stage", "mode", "outcome"},
		),
		StageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "digest_stage_seconds",
				Help:    "Analysis stage latency",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"stage", "mode"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_processing_runs_total",
				Help: "Meeting processing runs by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		RunSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "digest_processing_run_seconds",
				Help:    "End-to-end processing run duration",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"mode"},
		),
		RunsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "digest_processing_runs_active",
				Help: "Processing runs currently in flight",
			},
			[]string{"mode"},
		),
		StreamsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_stream_events_total",
				Help: "Events delivered on processing streams by type",
			},
			[]string{"type"},
		),
	}
}

// RecordAICall records one chat completion attempt.
func (m *Metrics) RecordAICall(model, status string, seconds float64) {
	if m == nil {
		return
	}
	m.AICallsTotal.WithLabelValues(model, status).Inc()
	m.AILatencySeconds.WithLabelValues(model).Observe(seconds)
}

// RecordAITokens records token usage reported by the provider.
func (m *Metrics) RecordAITokens(model string, input, output int) {
	if m == nil {
		return
	}
	m.AITokensTotal.WithLabelValues("input", model).Add(float64(input))
	m.AITokensTotal.WithLabelValues("output", model).Add(float64(output))
}

// RecordFallback records a switch to the fallback model.
func (m *Metrics) RecordFallback() {
	if m == nil {
		return
	}
	m.AIFallbacksTotal.Inc()
}

// RecordStage records an analysis stage outcome and latency.
func (m *Metrics) RecordStage(stage, mode, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.StageOutcomesTotal.WithLabelValues(stage, mode, outcome).Inc()
	m.StageSeconds.WithLabelValues(stage, mode).Observe(seconds)
}

// RunStarted marks a processing run as in flight.
func (m *Metrics) RunStarted(mode string) {
	if m == nil {
		return
	}
	m.RunsActive.WithLabelValues(mode).Inc()
}

// RunFinished records a finished processing run.
func (m *Metrics) RunFinished(mode, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.RunsActive.WithLabelValues(mode).Dec()
	m.RunsTotal.WithLabelValues(mode, outcome).Inc()
	m.RunSeconds.WithLabelValues(mode).Observe(seconds)
}

// RecordStreamEvent records an event delivered to a stream consumer.
func (m *Metrics) RecordStreamEvent(eventType string) {
	if m == nil {
		return
	}
	m.StreamsSent.WithLabelValues(eventType).Inc()
}
