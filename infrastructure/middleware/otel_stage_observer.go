package middleware

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-council/internal/domain"
	"github.com/ahrav/go-council/internal/ports"
)

var _ ports.StageObserver = (*OTelStageObserver)(nil)

// OTelStageObserver opens one span per deliberation stage ("council.stage1",
// "council.stage2", ...) and reports stage wall time to a MetricsCollector.
type OTelStageObserver struct {
	tracer  trace.Tracer
	metrics ports.MetricsCollector
}

// NewOTelStageObserver creates an observer using the global tracer
// provider. metrics may be nil.
func NewOTelStageObserver(metrics ports.MetricsCollector) *OTelStageObserver {
	return NewOTelStageObserverWithTracer(otel.Tracer("github.com/ahrav/go-council/council"), metrics)
}

// NewOTelStageObserverWithTracer is NewOTelStageObserver with an explicit
// tracer.
func NewOTelStageObserverWithTracer(tracer trace.Tracer, metrics ports.MetricsCollector) *OTelStageObserver {
	return &OTelStageObserver{tracer: tracer, metrics: metrics}
}

// StartStage starts a span for stage and returns a context carrying it, so
// per-request spans from the llm tracing middleware nest beneath it.
func (o *OTelStageObserver) StartStage(ctx context.Context, stage string, models []string) (context.Context, ports.StageSpan) {
	ctx, span := o.tracer.Start(ctx, "council."+stage,
		trace.WithAttributes(
			attribute.String("council.stage", stage),
			attribute.StringSlice("council.models", models),
			attribute.Int("council.model_count", len(models)),
		),
	)
	return ctx, &stageSpan{
		span:    span,
		stage:   stage,
		start:   time.Now(),
		metrics: o.metrics,
	}
}

type stageSpan struct {
	span    trace.Span
	stage   string
	start   time.Time
	metrics ports.MetricsCollector
}

// End records the outcome on the span and closes it.
func (s *stageSpan) End(outcome ports.StageOutcome) {
	defer s.span.End()

	elapsed := time.Since(s.start)
	s.span.SetAttributes(
		attribute.Int("council.succeeded", outcome.Succeeded),
		attribute.Int("council.failed", outcome.Failed),
		attribute.Int("council.parse_failures", outcome.ParseFailures),
		attribute.Int64("council.elapsed_ms", elapsed.Milliseconds()),
	)

	if s.metrics != nil {
		s.metrics.RecordLatency(MetricStageDuration, elapsed, map[string]string{"stage": s.stage})
	}

	if outcome.Err == nil {
		s.span.SetStatus(codes.Ok, "")
		return
	}

	s.span.RecordError(outcome.Err)
	var exhausted *domain.StageExhaustionError
	switch {
	case errors.As(outcome.Err, &exhausted):
		s.span.AddEvent("council.stage_exhausted", trace.WithAttributes(
			attribute.Int("council.failed_models", len(exhausted.Failures)),
		))
		s.span.SetStatus(codes.Error, "all models failed")
	case errors.Is(outcome.Err, context.Canceled):
		s.span.SetStatus(codes.Error, "canceled")
	default:
		s.span.SetStatus(codes.Error, outcome.Err.Error())
	}
}
