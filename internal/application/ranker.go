package application

import (
	"context"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"

	"github.com/ahrav/go-council/internal/domain"
	"github.com/ahrav/go-council/internal/ports"
)

// Ranker runs Stage 2: every council member reviews the anonymized Stage 1
// answers and declares an order, best first.
type Ranker struct {
	settings Settings
	fan      *fanOut
}

// Rank builds a fresh label map over the successful Stage 1 answers, in
// their council order, and asks every model in models to rank them. A
// ranking whose text cannot be parsed keeps a nil ParsedRanking and is
// left out of aggregation. When every ranking query fails the entries are
// returned together with a *domain.StageExhaustionError.
func (r *Ranker) Rank(
	ctx context.Context,
	q domain.CouncilQuery,
	stage1 []domain.ModelResponse,
	models []string,
	temperature float64,
) ([]domain.Ranking, *domain.LabelMap, error) {
	responders := make([]string, 0, len(stage1))
	texts := make(map[string]string, len(stage1))
	failures := make(map[string]string)
	for _, resp := range stage1 {
		if !resp.OK() {
			failures[resp.Model] = *resp.Error
			continue
		}
		responders = append(responders, resp.Model)
		texts[resp.Model] = resp.Text()
	}
	if len(responders) == 0 {
		return nil, nil, domain.NewStageExhaustionError(1, failures)
	}

	lm, err := domain.AssignLabels(responders)
	if err != nil {
		return nil, nil, err
	}
	prompt, err := buildStage2Prompt(r.settings, q, formatResponsesText(lm, texts))
	if err != nil {
		return nil, nil, err
	}

	out := make([]domain.Ranking, len(models))
	request := func(int) queryRequest {
		return queryRequest{prompt: prompt, opts: ports.QueryOptions{Temperature: temperaturePtr(temperature)}}
	}
	done := func(i int, res queryResult) {
		out[i] = r.toRanking(models[i], res, lm)
	}
	if _, err := r.fan.run(ctx, StageRank, models, request, done); err != nil {
		return nil, nil, err
	}

	rankFailures := make(map[string]string)
	for _, rk := range out {
		if rk.OK() {
			return out, lm, nil
		}
		rankFailures[rk.Model] = *rk.Error
	}
	return out, lm, domain.NewStageExhaustionError(2, rankFailures)
}

func (r *Ranker) toRanking(model string, res queryResult, lm *domain.LabelMap) domain.Ranking {
	if res.err != nil {
		msg := res.err.Error()
		return domain.Ranking{Model: model, Error: &msg}
	}

	parsed := sanitizeRanking(domain.ParseRanking(res.text), lm)
	if parsed == nil {
		r.fan.logger.Debug("ranking could not be parsed", "stage", StageRank, "model", model)
		if r.fan.metrics != nil {
			r.fan.metrics.RecordCounter(metricRankingParseFailure, 1, map[string]string{"model": model})
		}
	}
	return domain.Ranking{Model: model, RankingText: res.text, ParsedRanking: parsed}
}

// sanitizeRanking keeps only labels issued in lm. A near miss that resolves
// to exactly one issued label is taken to mean that label; see
// nearestLabel. Duplicates produced by canonicalization are dropped. It
// returns nil when nothing survives.
func sanitizeRanking(parsed []string, lm *domain.LabelMap) []string {
	if len(parsed) == 0 {
		return nil
	}

	fold := cases.Fold()
	issued := lm.Labels()
	seen := make(map[string]struct{}, len(parsed))
	var out []string
	for _, label := range parsed {
		canonical, ok := label, true
		if _, exact := lm.Model(label); !exact {
			canonical, ok = nearestLabel(fold.String(label), issued, fold)
		}
		if !ok {
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, canonical)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// nearestLabel matches a case-folded label that is one edit from an issued
// label, where the edit doubles or drops a repeated character, as in
// "Response CC" for "Response C". A substituted letter is a different label
// and never matches.
func nearestLabel(folded string, issued []string, fold cases.Caser) (string, bool) {
	match := ""
	for _, candidate := range issued {
		c := fold.String(candidate)
		if levenshtein.ComputeDistance(folded, c) != 1 || !repeatSlip(folded, c) {
			continue
		}
		if match != "" {
			return "", false
		}
		match = candidate
	}
	return match, match != ""
}

// repeatSlip reports whether a and b differ by one extra character in the
// longer string that repeats a neighbor.
func repeatSlip(a, b string) bool {
	long, short := []rune(a), []rune(b)
	if len(long) < len(short) {
		long, short = short, long
	}
	if len(long) != len(short)+1 {
		return false
	}
	for i, r := range long {
		repeated := (i > 0 && long[i-1] == r) || (i+1 < len(long) && long[i+1] == r)
		if repeated && string(long[:i])+string(long[i+1:]) == string(short) {
			return true
		}
	}
	return false
}
