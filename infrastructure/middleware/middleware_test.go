package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/go-council/infrastructure/llm"
	"github.com/ahrav/go-council/internal/domain"
	"github.com/ahrav/go-council/internal/ports"
)

// newTestMetrics registers a fresh collector on a private registry so tests
// never collide on metric names.
func newTestMetrics(t *testing.T) (*PrometheusMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusMetrics(reg), reg
}

func TestPrometheusMetrics_CouncilCounters(t *testing.T) {
	pm, _ := newTestMetrics(t)

	pm.RecordCounter(MetricModelQueries, 1, map[string]string{"stage": "stage1", "model": "openai/gpt-5.1", "status": "success"})
	pm.RecordCounter(MetricModelQueries, 1, map[string]string{"stage": "stage1", "model": "openai/gpt-5.1", "status": "success"})
	pm.RecordCounter(MetricModelQueries, 1, map[string]string{"stage": "stage1", "model": "x-ai/grok-4", "status": "error"})
	pm.RecordCounter(MetricRankingParseFailure, 1, map[string]string{"model": "x-ai/grok-4"})
	pm.RecordCounter(MetricTurns, 1, map[string]string{"mode": "full", "status": "success"})

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.modelQueries.WithLabelValues("stage1", "openai/gpt-5.1", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.modelQueries.WithLabelValues("stage1", "x-ai/grok-4", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.parseFailures.WithLabelValues("x-ai/grok-4")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.turns.WithLabelValues("full", "success")))
}

func TestPrometheusMetrics_LLMMetrics(t *testing.T) {
	pm, reg := newTestMetrics(t)
	labels := map[string]string{"provider": "openai", "model": "openai/gpt-5.1", "status": "success"}

	pm.RecordHistogram(MetricLLMLatency, 1.2, labels)
	pm.RecordCounter(MetricLLMRequests, 1, labels)
	pm.RecordCounter(MetricLLMTokens, 42, map[string]string{"provider": "openai", "model": "openai/gpt-5.1", "token_type": "input"})

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.llmRequests.WithLabelValues("openai", "openai/gpt-5.1", "success")))
	assert.Equal(t, 42.0, testutil.ToFloat64(pm.llmTokens.WithLabelValues("openai", "openai/gpt-5.1", "input")))

	count, err := testutil.GatherAndCount(reg, MetricLLMLatency)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPrometheusMetrics_UnknownMetricsAndMissingLabels(t *testing.T) {
	pm, _ := newTestMetrics(t)

	pm.RecordCounter("settings_saved", 1, nil)
	pm.RecordCounter(MetricTurns, 1, map[string]string{})
	pm.RecordGauge("active_turns", 3, nil)
	pm.RecordLatency("settings_load", 10*time.Millisecond, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.operationCounter.WithLabelValues("settings_saved", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.turns.WithLabelValues("unknown", "unknown")))
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.systemGauges.WithLabelValues("active_turns")))
}

func TestCircuitBreakerMetrics(t *testing.T) {
	pm, _ := newTestMetrics(t)
	bm := CircuitBreakerMetrics(pm, "x-ai/grok-4")

	bm.RecordFailure()
	bm.RecordTrip()
	bm.RecordState(llm.StateOpen)

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.circuitEvents.WithLabelValues("x-ai/grok-4", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.circuitEvents.WithLabelValues("x-ai/grok-4", "rejected")))
	assert.Equal(t, float64(llm.StateOpen), testutil.ToFloat64(pm.circuitState.WithLabelValues("x-ai/grok-4")))
}

// TestPrometheusMetrics_WithLLMMiddleware wires the collector behind the llm
// metrics middleware to check that the label sets line up.
func TestPrometheusMetrics_WithLLMMiddleware(t *testing.T) {
	pm, _ := newTestMetrics(t)
	mock := llm.NewMockCoreLLM()
	mock.Model = "google/gemini-3-pro-preview"
	client := llm.NewClientFromCore(mock, llm.MetricsMiddleware(pm))

	_, err := client.Complete(context.Background(), "hello", nil)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.llmRequests.WithLabelValues("google", "google/gemini-3-pro-preview", "success")))
	assert.Equal(t, 20.0, testutil.ToFloat64(pm.llmTokens.WithLabelValues("google", "google/gemini-3-pro-preview", "output")))
}

func TestOTelStageObserver(t *testing.T) {
	pm, reg := newTestMetrics(t)
	obs := NewOTelStageObserverWithTracer(noop.NewTracerProvider().Tracer("test"), pm)

	tests := []struct {
		name    string
		outcome ports.StageOutcome
	}{
		{"success", ports.StageOutcome{Succeeded: 3}},
		{"exhausted", ports.StageOutcome{Failed: 2, Err: domain.NewStageExhaustionError(1, map[string]string{"a/b": "boom"})}},
		{"canceled", ports.StageOutcome{Err: context.Canceled}},
		{"other", ports.StageOutcome{Err: errors.New("chairman down")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, span := obs.StartStage(context.Background(), "stage1", []string{"a/b", "c/d"})
			require.NotNil(t, ctx)
			require.NotNil(t, span)
			span.End(tt.outcome)
		})
	}

	count, err := testutil.GatherAndCount(reg, MetricStageDuration)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "one stage label series")
}

func TestOTelStageObserver_NilMetrics(t *testing.T) {
	obs := NewOTelStageObserver(nil)

	_, span := obs.StartStage(context.Background(), "stage3", []string{"google/gemini-3-pro-preview"})
	assert.NotPanics(t, func() { span.End(ports.StageOutcome{Succeeded: 1}) })
}
