package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// rateLimitedLLM paces requests with a token bucket.
type rateLimitedLLM struct {
	next    CoreLLM
	limiter *rate.Limiter
}

// RateLimitMiddleware creates middleware with its own token bucket of limit
// requests per second and the given burst.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	return SharedRateLimitMiddleware(rate.NewLimiter(limit, burst))
}

// SharedRateLimitMiddleware paces requests through an existing limiter. The
// gateway hands the same limiter to every model routed through one upstream
// account so the account-wide quota is respected.
func SharedRateLimitMiddleware(limiter *rate.Limiter) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &rateLimitedLLM{next: next, limiter: limiter}
	}
}

// DoRequest blocks until the limiter admits the request or ctx ends.
func (r *rateLimitedLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", 0, 0, fmt.Errorf("rate limit wait for %s: %w", r.next.GetModel(), err)
	}
	return r.next.DoRequest(ctx, prompt, opts)
}

// GetModel returns the model name from the wrapped implementation.
func (r *rateLimitedLLM) GetModel() string { return r.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (r *rateLimitedLLM) SetModel(m string) { r.next.SetModel(m) }
