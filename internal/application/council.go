// Package application runs council deliberations: it validates runtime
// settings, renders the stage prompts, and drives Stage 1 (collect),
// Stage 2 (rank) and Stage 3 (synthesize) against a ports.ModelGateway.
package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ahrav/go-council/internal/domain"
	"github.com/ahrav/go-council/internal/ports"
)

// Council executes deliberation turns against a fixed settings snapshot.
// It holds no per-turn state and is safe for concurrent use.
type Council struct {
	settings  Settings
	mode      domain.ExecutionMode
	gateway   ports.ModelGateway
	logger    *slog.Logger
	metrics   ports.MetricsCollector
	observer  ports.StageObserver
	streaming bool

	collector   *Collector
	ranker      *Ranker
	synthesizer *Synthesizer
}

// Option configures a Council.
type Option func(*Council)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Council) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records query, parse failure and turn counters.
func WithMetrics(m ports.MetricsCollector) Option {
	return func(c *Council) { c.metrics = m }
}

// WithObserver wraps every stage in an observer span.
func WithObserver(o ports.StageObserver) Option {
	return func(c *Council) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithStreaming forwards streamed Stage 1 text to the event sink as
// stage1_chunk events.
func WithStreaming(enabled bool) Option {
	return func(c *Council) { c.streaming = enabled }
}

// NewCouncil validates settings and returns a Council bound to them. A
// *domain.ConfigurationError is returned before any model is queried when
// the settings cannot be used.
func NewCouncil(gateway ports.ModelGateway, settings Settings, opts ...Option) (*Council, error) {
	if gateway == nil {
		return nil, domain.NewConfigurationError("gateway", "is required")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	mode, err := settings.Mode()
	if err != nil {
		return nil, domain.NewConfigurationError("execution_mode", err.Error())
	}

	c := &Council{
		settings: settings.Clone(),
		mode:     mode,
		gateway:  gateway,
		logger:   slog.Default(),
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "council")

	fan := &fanOut{
		gateway: gateway,
		logger:  c.logger,
		metrics: c.metrics,
		limit:   settings.MaxConcurrency,
		timeout: settings.RequestTimeout(),
	}
	c.collector = &Collector{settings: c.settings, fan: fan}
	c.ranker = &Ranker{settings: c.settings, fan: fan}
	c.synthesizer = &Synthesizer{settings: c.settings, fan: fan}
	return c, nil
}

// Settings returns a copy of the snapshot the council was built with.
func (c *Council) Settings() Settings { return c.settings.Clone() }

// Collector returns the Stage 1 component.
func (c *Council) Collector() *Collector { return c.collector }

// Ranker returns the Stage 2 component.
func (c *Council) Ranker() *Ranker { return c.ranker }

// Synthesizer returns the Stage 3 component.
func (c *Council) Synthesizer() *Synthesizer { return c.synthesizer }

// Turn is one request to the council.
type Turn struct {
	// ID tags events and the result. Optional.
	ID string
	// Query is the user's question and its context.
	Query domain.CouncilQuery
	// Mode overrides the settings' execution mode when non-empty.
	Mode domain.ExecutionMode
	// Sink receives progress events. Optional.
	Sink EventSink
}

// Run executes the stages the turn's mode requires. Each stage starts only
// after every query of the previous stage settled. Cancelling ctx aborts
// in-flight queries and prevents the next stage from starting; no partial
// result is returned in that case.
func (c *Council) Run(ctx context.Context, turn Turn) (*domain.DeliberationResult, error) {
	mode := c.mode
	if turn.Mode != "" {
		m, err := domain.ParseExecutionMode(string(turn.Mode))
		if err != nil {
			return nil, domain.NewConfigurationError("execution_mode", err.Error())
		}
		mode = m
	}

	emit := serialSink(turn.ID, turn.Sink)
	logger := c.logger.With("turn_id", turn.ID, "mode", string(mode))

	result, err := c.run(ctx, turn.Query, mode, emit, logger)
	c.recordTurn(mode, err)
	if err != nil {
		logger.Error("deliberation failed", "err", err)
		emit(Event{Type: EventError, Message: err.Error()})
		return nil, err
	}
	result.TurnID = turn.ID
	emit(Event{Type: EventComplete})
	return result, nil
}

func (c *Council) run(
	ctx context.Context,
	q domain.CouncilQuery,
	mode domain.ExecutionMode,
	emit EventSink,
	logger *slog.Logger,
) (*domain.DeliberationResult, error) {
	s := c.settings
	result := &domain.DeliberationResult{Mode: mode}

	// Stage 1.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emit(Event{Type: EventStage1Start})
	hooks := StageHooks{
		OnResponse: func(i int, r domain.ModelResponse) {
			emit(Event{Type: EventStage1Response, Model: r.Model, Index: &i, Data: r})
		},
	}
	if c.streaming {
		hooks.OnChunk = func(model, chunk string) {
			emit(Event{Type: EventStage1Chunk, Model: model, Chunk: chunk})
		}
	}
	stageCtx, span := c.observer.StartStage(ctx, StageCollect, s.CouncilModels)
	stage1, err := c.collector.CollectWithHooks(stageCtx, q, s.CouncilModels, s.CouncilTemperature, hooks)
	span.End(stage1Outcome(stage1, err))
	if err != nil {
		return nil, err
	}
	result.Stage1 = stage1
	emit(Event{Type: EventStage1Complete, Data: stage1})
	logger.Info("stage 1 complete", "succeeded", countOK(stage1))

	if !mode.RunsRanking() {
		return result, nil
	}

	// Stage 2.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emit(Event{Type: EventStage2Start})
	stageCtx, span = c.observer.StartStage(ctx, StageRank, s.CouncilModels)
	stage2, lm, err := c.ranker.Rank(stageCtx, q, stage1, s.CouncilModels, s.Stage2Temperature)
	span.End(stage2Outcome(stage2, err))
	if err != nil {
		return nil, err
	}
	aggregate := domain.Aggregate(stage2, lm)
	result.Stage2, result.LabelMap, result.Aggregate = stage2, lm, aggregate
	emit(Event{
		Type:     EventStage2Complete,
		Data:     stage2,
		Metadata: &Stage2Metadata{LabelToModel: lm, Aggregate: aggregate},
	})
	logger.Info("stage 2 complete", "labels", lm.Len(), "ranked_models", len(aggregate))

	if !mode.RunsSynthesis() {
		return result, nil
	}

	// Stage 3.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emit(Event{Type: EventStage3Start})
	stageCtx, span = c.observer.StartStage(ctx, StageSynthesize, []string{s.ChairmanModel})
	stage3, err := c.synthesizer.Synthesize(stageCtx, q, stage1, stage2, lm, s.ChairmanModel, s.ChairmanTemperature)
	outcome := ports.StageOutcome{Succeeded: 1, Err: err}
	if err != nil {
		outcome.Succeeded, outcome.Failed = 0, 1
	}
	span.End(outcome)
	if err != nil {
		return nil, err
	}
	result.Stage3 = &stage3
	emit(Event{Type: EventStage3Complete, Model: stage3.Model, Data: stage3})
	logger.Info("stage 3 complete", "chairman", stage3.Model)

	return result, nil
}

func (c *Council) recordTurn(mode domain.ExecutionMode, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordCounter(metricTurns, 1, map[string]string{
		"mode":   string(mode),
		"status": turnStatus(err),
	})
}

func turnStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, domain.ErrStageExhausted):
		return "exhausted"
	case errors.Is(err, domain.ErrChairmanFailed):
		return "chairman_failed"
	case errors.Is(err, domain.ErrInvalidConfiguration):
		return "config_error"
	default:
		return "error"
	}
}

func countOK(stage1 []domain.ModelResponse) int {
	n := 0
	for _, r := range stage1 {
		if r.OK() {
			n++
		}
	}
	return n
}

func stage1Outcome(stage1 []domain.ModelResponse, err error) ports.StageOutcome {
	ok := countOK(stage1)
	return ports.StageOutcome{Succeeded: ok, Failed: len(stage1) - ok, Err: err}
}

func stage2Outcome(stage2 []domain.Ranking, err error) ports.StageOutcome {
	out := ports.StageOutcome{Err: err}
	for _, r := range stage2 {
		switch {
		case !r.OK():
			out.Failed++
		case r.ParsedRanking == nil:
			out.Succeeded++
			out.ParseFailures++
		default:
			out.Succeeded++
		}
	}
	return out
}

type noopObserver struct{}

func (noopObserver) StartStage(ctx context.Context, _ string, _ []string) (context.Context, ports.StageSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(ports.StageOutcome) {}
