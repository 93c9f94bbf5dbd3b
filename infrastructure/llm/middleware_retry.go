package llm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand"
	"sync/atomic"
	"time"
)

// retryLLM retries transient provider failures with exponential backoff and
// jitter. Authentication, bad-request and cancellation failures are returned
// immediately, as is any failure after streamed text reached the caller.
type retryLLM struct {
	next       CoreLLM
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// RetryMiddleware creates middleware that retries failed requests up to
// maxRetries extra times.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &retryLLM{
			next:       next,
			maxRetries: maxRetries,
			baseDelay:  baseDelay,
			maxDelay:   maxDelay,
		}
	}
}

// DoRequest executes the request with retry logic.
func (r *retryLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	var lastErr error
	attempts := 0
	opts, streamed := trackStreaming(opts)

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		attempts++
		response, tokensIn, tokensOut, err := r.next.DoRequest(ctx, prompt, opts)
		if err == nil {
			return response, tokensIn, tokensOut, nil
		}
		lastErr = err

		if !shouldRetry(ctx, err) || attempt == r.maxRetries || streamed.Load() {
			break
		}

		select {
		case <-ctx.Done():
			return "", 0, 0, ctx.Err()
		case <-time.After(r.calculateDelay(attempt)):
		}
	}

	if attempts == 1 {
		return "", 0, 0, lastErr
	}
	return "", 0, 0, fmt.Errorf("request failed after %d attempts: %w", attempts, lastErr)
}

// trackStreaming wraps the "on_chunk" callback in a copy of opts and reports
// whether any chunk was delivered. A retry would replay those chunks.
func trackStreaming(opts map[string]any) (map[string]any, *atomic.Bool) {
	var sent atomic.Bool
	onChunk := ExtractChunkFunc(opts)
	if onChunk == nil {
		return opts, &sent
	}
	wrapped := maps.Clone(opts)
	wrapped["on_chunk"] = func(chunk string) {
		sent.Store(true)
		onChunk(chunk)
	}
	return wrapped, &sent
}

// shouldRetry reports whether err is worth another attempt.
func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.IsRetryable()
	}
	return true
}

func (r *retryLLM) calculateDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	// #nosec G115 - attempt is bounded between 0 and 30
	multiplier := 1 << uint(attempt)
	delay := time.Duration(float64(r.baseDelay) * float64(multiplier))

	// ±25% jitter.
	// #nosec G404 - jitter does not need a cryptographic RNG
	jitter := time.Duration(rand.Float64() * float64(delay) * 0.5)
	delay = delay + jitter - (delay / 4)

	if delay > r.maxDelay {
		delay = r.maxDelay
	}
	return delay
}

// GetModel returns the model name from the wrapped implementation.
func (r *retryLLM) GetModel() string { return r.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (r *retryLLM) SetModel(m string) { r.next.SetModel(m) }
