// Package middleware provides observability adapters for the council
// pipeline: a Prometheus MetricsCollector and an OpenTelemetry stage
// observer.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-council/infrastructure/llm"
	"github.com/ahrav/go-council/internal/ports"
)

// Metric names understood by PrometheusMetrics. Anything else is counted
// under council_operations_total.
const (
	MetricStageDuration       = "council_stage_duration_seconds"
	MetricModelQueries        = "council_model_queries_total"
	MetricRankingParseFailure = "council_ranking_parse_failures_total"
	MetricTurns               = "council_turns_total"
	MetricLLMLatency          = "llm_latency_seconds"
	MetricLLMRequests         = "llm_requests_total"
	MetricLLMTokens           = "llm_tokens_total"
	MetricCircuitState        = "llm_circuit_breaker_state"
	MetricCircuitEvents       = "llm_circuit_breaker_events_total"
)

// PrometheusMetrics implements ports.MetricsCollector with Prometheus
// vectors for stage latency, per-model query outcomes, ranking parse
// failures, turn outcomes, and provider request statistics.
type PrometheusMetrics struct {
	stageDuration    *prometheus.HistogramVec
	modelQueries     *prometheus.CounterVec
	parseFailures    *prometheus.CounterVec
	turns            *prometheus.CounterVec
	llmLatency       *prometheus.HistogramVec
	llmRequests      *prometheus.CounterVec
	llmTokens        *prometheus.CounterVec
	circuitState     *prometheus.GaugeVec
	circuitEvents    *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	operationCounter *prometheus.CounterVec
	systemGauges     *prometheus.GaugeVec
}

// NewPrometheusMetrics registers the council metrics with reg. A nil reg
// uses the default registerer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricStageDuration,
				Help:    "Wall time of each deliberation stage.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"stage"},
		),
		modelQueries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricModelQueries,
				Help: "Council model queries by stage and outcome.",
			},
			[]string{"stage", "model", "status"},
		),
		parseFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRankingParseFailure,
				Help: "Stage 2 rankings that yielded no usable ordering.",
			},
			[]string{"model"},
		),
		turns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricTurns,
				Help: "Deliberation turns by execution mode and outcome.",
			},
			[]string{"mode", "status"},
		),
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricLLMLatency,
				Help:    "Latency of individual provider requests.",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
			[]string{"provider", "model", "status"},
		),
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricLLMRequests,
				Help: "Provider requests by outcome.",
			},
			[]string{"provider", "model", "status"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricLLMTokens,
				Help: "Tokens consumed by provider requests.",
			},
			[]string{"provider", "model", "token_type"},
		),
		circuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricCircuitState,
				Help: "Circuit breaker state per model (0 closed, 1 open, 2 half-open).",
			},
			[]string{"model"},
		),
		circuitEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCircuitEvents,
				Help: "Circuit breaker outcomes per model.",
			},
			[]string{"model", "event"},
		),
		operationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "council_operation_duration_seconds",
				Help:    "Latency of other council operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "council_operations_total",
				Help: "Counts of other council operations.",
			},
			[]string{"operation", "status"},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "council_state",
				Help: "Miscellaneous council gauges.",
			},
			[]string{"metric"},
		),
	}
}

// RecordLatency records a duration. Stage durations are keyed by the
// "stage" label; other operations fall into the generic histogram.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	switch operation {
	case MetricStageDuration:
		pm.stageDuration.WithLabelValues(label(labels, "stage")).Observe(duration.Seconds())
	case MetricLLMLatency:
		pm.RecordHistogram(operation, duration.Seconds(), labels)
	default:
		pm.operationLatency.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// RecordCounter increments the counter named by metric.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case MetricModelQueries:
		pm.modelQueries.WithLabelValues(
			label(labels, "stage"), label(labels, "model"), label(labels, "status"),
		).Add(value)
	case MetricRankingParseFailure:
		pm.parseFailures.WithLabelValues(label(labels, "model")).Add(value)
	case MetricTurns:
		pm.turns.WithLabelValues(label(labels, "mode"), label(labels, "status")).Add(value)
	case MetricLLMRequests:
		pm.llmRequests.WithLabelValues(
			label(labels, "provider"), label(labels, "model"), label(labels, "status"),
		).Add(value)
	case MetricLLMTokens:
		pm.llmTokens.WithLabelValues(
			label(labels, "provider"), label(labels, "model"), label(labels, "token_type"),
		).Add(value)
	case MetricCircuitEvents:
		pm.circuitEvents.WithLabelValues(label(labels, "model"), label(labels, "event")).Add(value)
	default:
		status, ok := labels["status"]
		if !ok {
			status = "success"
		}
		pm.operationCounter.WithLabelValues(metric, status).Add(value)
	}
}

// RecordGauge sets the gauge named by metric.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	if metric == MetricCircuitState {
		pm.circuitState.WithLabelValues(label(labels, "model")).Set(value)
		return
	}
	pm.systemGauges.WithLabelValues(metric).Set(value)
}

// RecordHistogram observes value in the histogram named by metric.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	switch metric {
	case MetricLLMLatency:
		pm.llmLatency.WithLabelValues(
			label(labels, "provider"), label(labels, "model"), label(labels, "status"),
		).Observe(value)
	case MetricStageDuration:
		pm.stageDuration.WithLabelValues(label(labels, "stage")).Observe(value)
	default:
		pm.operationLatency.WithLabelValues(metric).Observe(value)
	}
}

func label(labels map[string]string, key string) string {
	if v, ok := labels[key]; ok && v != "" {
		return v
	}
	return "unknown"
}

var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)

// breakerMetrics adapts a MetricsCollector to llm.CircuitBreakerMetrics for
// one model.
type breakerMetrics struct {
	collector ports.MetricsCollector
	model     string
}

// CircuitBreakerMetrics returns an llm.CircuitBreakerMetrics that reports
// model's breaker through collector.
func CircuitBreakerMetrics(collector ports.MetricsCollector, model string) llm.CircuitBreakerMetrics {
	return &breakerMetrics{collector: collector, model: model}
}

func (b *breakerMetrics) RecordState(state llm.CircuitBreakerState) {
	b.collector.RecordGauge(MetricCircuitState, float64(state), map[string]string{"model": b.model})
}

func (b *breakerMetrics) RecordTrip()    { b.event("rejected") }
func (b *breakerMetrics) RecordSuccess() { b.event("success") }
func (b *breakerMetrics) RecordFailure() { b.event("failure") }

func (b *breakerMetrics) event(name string) {
	b.collector.RecordCounter(MetricCircuitEvents, 1, map[string]string{"model": b.model, "event": name})
}
