package application

import (
	"context"

	"github.com/ahrav/go-council/internal/domain"
	"github.com/ahrav/go-council/internal/ports"
)

// Synthesizer runs Stage 3: the chairman sees every answer and every
// ranking under real model names and writes the final answer.
type Synthesizer struct {
	settings Settings
	fan      *fanOut
}

// Synthesize issues exactly one query to chairman. Any failure is returned
// as a *domain.ChairmanError; there is no fallback answer.
func (s *Synthesizer) Synthesize(
	ctx context.Context,
	q domain.CouncilQuery,
	stage1 []domain.ModelResponse,
	stage2 []domain.Ranking,
	lm *domain.LabelMap,
	chairman string,
	temperature float64,
) (domain.Stage3Result, error) {
	prompt, err := buildStage3Prompt(s.settings, q, formatStage1Text(stage1), formatStage2Text(stage2, lm))
	if err != nil {
		return domain.Stage3Result{}, err
	}

	request := func(int) queryRequest {
		return queryRequest{prompt: prompt, opts: ports.QueryOptions{Temperature: temperaturePtr(temperature)}}
	}
	results, err := s.fan.run(ctx, StageSynthesize, []string{chairman}, request, nil)
	if err != nil {
		return domain.Stage3Result{}, err
	}
	if results[0].err != nil {
		return domain.Stage3Result{}, domain.NewChairmanError(chairman, results[0].err)
	}
	return domain.Stage3Result{Model: chairman, Response: results[0].text}, nil
}
