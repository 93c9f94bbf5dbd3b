package application

import (
	"context"

	"github.com/ahrav/go-council/internal/domain"
	"github.com/ahrav/go-council/internal/ports"
)

// StageHooks receives progress from a stage while it runs. Hooks are called
// concurrently from the querying goroutines.
type StageHooks struct {
	// OnResponse fires once per model, in completion order.
	OnResponse func(index int, r domain.ModelResponse)
	// OnChunk receives streamed text for live display.
	OnChunk func(model, chunk string)
}

// Collector runs Stage 1: the same question goes to every council member at
// once.
type Collector struct {
	settings Settings
	fan      *fanOut
}

// Collect queries every model and returns one entry per model in the order
// requested, regardless of completion order. A model that fails is recorded
// with its error and does not affect the others. When every model fails the
// entries are returned together with a *domain.StageExhaustionError.
func (c *Collector) Collect(ctx context.Context, q domain.CouncilQuery, models []string, temperature float64) ([]domain.ModelResponse, error) {
	return c.CollectWithHooks(ctx, q, models, temperature, StageHooks{})
}

// CollectWithHooks is Collect with progress callbacks.
func (c *Collector) CollectWithHooks(
	ctx context.Context,
	q domain.CouncilQuery,
	models []string,
	temperature float64,
	hooks StageHooks,
) ([]domain.ModelResponse, error) {
	prompt, err := buildStage1Prompt(c.settings, q)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ModelResponse, len(models))
	request := func(i int) queryRequest {
		opts := ports.QueryOptions{Temperature: temperaturePtr(temperature)}
		if hooks.OnChunk != nil {
			model := models[i]
			opts.OnChunk = func(chunk string) { hooks.OnChunk(model, chunk) }
		}
		return queryRequest{prompt: prompt, opts: opts}
	}
	done := func(i int, res queryResult) {
		out[i] = toModelResponse(models[i], res)
		if hooks.OnResponse != nil {
			hooks.OnResponse(i, out[i])
		}
	}

	if _, err := c.fan.run(ctx, StageCollect, models, request, done); err != nil {
		return nil, err
	}

	failures := make(map[string]string)
	for _, r := range out {
		if r.OK() {
			return out, nil
		}
		failures[r.Model] = *r.Error
	}
	return out, domain.NewStageExhaustionError(1, failures)
}

func toModelResponse(model string, res queryResult) domain.ModelResponse {
	if res.err != nil {
		return domain.NewFailedResponse(model, res.err, res.elapsed)
	}
	return domain.NewModelResponse(model, res.text, res.elapsed)
}
