// Package ports declares the interfaces the council pipeline consumes from
// infrastructure: the model query gateway, metrics, and stage observation.
package ports

import (
	"context"
	"time"
)

// QueryOptions carries the per-call knobs the pipeline sets.
type QueryOptions struct {
	// Temperature overrides the provider default when non-nil.
	Temperature *float64

	// OnChunk, if set, receives partial text as it streams. It is for live
	// display only; Query always returns the complete text.
	OnChunk func(chunk string)

	// Timeout bounds each attempt of this call. Zero keeps the gateway's
	// default.
	Timeout time.Duration
}

// ModelGateway queries a model by identifier. It is safe for concurrent use
// and owns its retry policy. QueryOptions.Timeout, or the gateway's default,
// bounds each attempt; a timeout surfaces as an error from Query.
type ModelGateway interface {
	Query(ctx context.Context, model, prompt string, opts QueryOptions) (string, error)
}

// ModelGatewayFunc adapts a function to ModelGateway.
type ModelGatewayFunc func(ctx context.Context, model, prompt string, opts QueryOptions) (string, error)

// Query calls f.
func (f ModelGatewayFunc) Query(ctx context.Context, model, prompt string, opts QueryOptions) (string, error) {
	return f(ctx, model, prompt, opts)
}

// StageOutcome summarizes a finished stage for observers.
type StageOutcome struct {
	Succeeded     int
	Failed        int
	ParseFailures int
	Err           error
}

// StageSpan is an in-flight stage observation.
type StageSpan interface {
	End(outcome StageOutcome)
}

// StageObserver is notified around each pipeline stage. Implementations
// typically open a trace span and record stage latency.
type StageObserver interface {
	StartStage(ctx context.Context, stage string, models []string) (context.Context, StageSpan)
}
