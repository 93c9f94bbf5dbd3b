package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ahrav/go-council/internal/ports"
)

// metricsLLM records latency, request and token counters per model.
type metricsLLM struct {
	next      CoreLLM
	collector ports.MetricsCollector
}

// MetricsMiddleware creates middleware that reports every request to
// collector as llm_latency_seconds, llm_requests_total and llm_tokens_total.
func MetricsMiddleware(collector ports.MetricsCollector) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &metricsLLM{
			next:      next,
			collector: collector,
		}
	}
}

// DoRequest executes the request and records its outcome.
func (m *metricsLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	start := time.Now()
	response, tokensIn, tokensOut, err := m.next.DoRequest(ctx, prompt, opts)
	if m.collector == nil {
		return response, tokensIn, tokensOut, err
	}

	model := m.next.GetModel()
	labels := map[string]string{
		"provider": ProviderOf(model),
		"model":    model,
		"status":   requestStatus(ctx, err),
	}

	m.collector.RecordHistogram("llm_latency_seconds", time.Since(start).Seconds(), labels)
	m.collector.RecordCounter("llm_requests_total", 1, labels)

	if err == nil {
		m.collector.RecordCounter("llm_tokens_total", float64(tokensIn), withLabel(labels, "token_type", "input"))
		m.collector.RecordCounter("llm_tokens_total", float64(tokensOut), withLabel(labels, "token_type", "output"))
	}

	return response, tokensIn, tokensOut, err
}

func requestStatus(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

func withLabel(labels map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for key, val := range labels {
		out[key] = val
	}
	out[k] = v
	return out
}

// ProviderOf returns the provider segment of a "provider/model" identifier.
// Bare names fall back to a keyword guess.
func ProviderOf(model string) string {
	if i := strings.Index(model, "/"); i > 0 {
		return model[:i]
	}
	switch {
	case strings.Contains(model, "gpt"):
		return "openai"
	case strings.Contains(model, "claude"):
		return "anthropic"
	case strings.Contains(model, "gemini"):
		return "google"
	}
	return "unknown"
}

// GetModel returns the model name from the wrapped implementation.
func (m *metricsLLM) GetModel() string { return m.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (m *metricsLLM) SetModel(model string) { m.next.SetModel(model) }
