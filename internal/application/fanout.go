package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-council/internal/ports"
)

// Stage names used for logs, metrics and spans.
const (
	StageCollect    = "stage1"
	StageRank       = "stage2"
	StageSynthesize = "stage3"
)

// Metric names recorded by the pipeline.
const (
	metricModelQueries        = "council_model_queries_total"
	metricRankingParseFailure = "council_ranking_parse_failures_total"
	metricTurns               = "council_turns_total"
)

var errEmptyModelResponse = errors.New("model returned an empty response")

// queryResult is one settled gateway call.
type queryResult struct {
	text    string
	err     error
	elapsed time.Duration
}

// fanOut issues one gateway query per model and waits for all of them to
// settle. Failures never cancel sibling queries.
type fanOut struct {
	gateway ports.ModelGateway
	logger  *slog.Logger
	metrics ports.MetricsCollector
	// limit bounds in-flight queries; zero is unlimited.
	limit int
	// timeout is applied to requests that do not set their own.
	timeout time.Duration
}

// queryRequest describes the call made for the model at a given index.
type queryRequest struct {
	prompt string
	opts   ports.QueryOptions
}

// run queries every model and returns results indexed like models. done, if
// set, is called from the querying goroutine as each call settles, in
// completion order. When ctx ends before the stage settles, run returns the
// context error and the results are discarded.
func (f *fanOut) run(
	ctx context.Context,
	stage string,
	models []string,
	request func(i int) queryRequest,
	done func(i int, res queryResult),
) ([]queryResult, error) {
	results := make([]queryResult, len(models))

	var g errgroup.Group
	if f.limit > 0 {
		g.SetLimit(f.limit)
	}
	for i, model := range models {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = queryResult{err: ctx.Err()}
				return nil
			}
			req := request(i)
			if req.opts.Timeout == 0 {
				req.opts.Timeout = f.timeout
			}
			start := time.Now()
			text, err := f.gateway.Query(ctx, model, req.prompt, req.opts)
			if err == nil && strings.TrimSpace(text) == "" {
				err = errEmptyModelResponse
			}
			res := queryResult{text: text, err: err, elapsed: time.Since(start)}
			results[i] = res
			f.record(stage, model, res)
			if done != nil {
				done(i, res)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (f *fanOut) record(stage, model string, res queryResult) {
	status := "success"
	if res.err != nil {
		status = "error"
		if errors.Is(res.err, context.Canceled) {
			status = "canceled"
		}
		f.logger.Warn("model query failed",
			"stage", stage,
			"model", model,
			"elapsed_ms", res.elapsed.Milliseconds(),
			"err", res.err,
		)
	} else {
		f.logger.Debug("model query succeeded",
			"stage", stage,
			"model", model,
			"elapsed_ms", res.elapsed.Milliseconds(),
			"chars", len(res.text),
		)
	}
	if f.metrics != nil {
		f.metrics.RecordCounter(metricModelQueries, 1, map[string]string{
			"stage":  stage,
			"model":  model,
			"status": status,
		})
	}
}

func temperaturePtr(t float64) *float64 { return &t }
