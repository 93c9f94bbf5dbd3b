package domain

import "sort"

// AggregateEntry is one row of the Stage 2 leaderboard.
type AggregateEntry struct {
	// Model is the ranked council member.
	Model string `json:"model"`

	// AverageRank is the mean 1-based position across rankers that placed
	// this model. Lower is better.
	AverageRank float64 `json:"average_rank"`

	// RankingsCount is the number of rankers that placed this model.
	RankingsCount int `json:"rankings_count"`
}

// Aggregate computes the leaderboard from Stage 2 rankings. Rankings with a
// nil parse are skipped, labels unknown to lm are ignored, and models that
// no ranker placed are left out. Entries are sorted by average rank, ties
// broken by model identifier. The input is never modified.
func Aggregate(stage2 []Ranking, lm *LabelMap) []AggregateEntry {
	type acc struct {
		sum   int
		count int
	}
	totals := make(map[string]*acc)

	for _, r := range stage2 {
		if r.ParsedRanking == nil {
			continue
		}
		for i, label := range r.ParsedRanking {
			model, ok := lm.Model(label)
			if !ok {
				continue
			}
			a := totals[model]
			if a == nil {
				a = &acc{}
				totals[model] = a
			}
			a.sum += i + 1
			a.count++
		}
	}

	entries := make([]AggregateEntry, 0, len(totals))
	for model, a := range totals {
		if a.count == 0 {
			continue
		}
		entries = append(entries, AggregateEntry{
			Model:         model,
			AverageRank:   float64(a.sum) / float64(a.count),
			RankingsCount: a.count,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AverageRank != entries[j].AverageRank {
			return entries[i].AverageRank < entries[j].AverageRank
		}
		return entries[i].Model < entries[j].Model
	})
	return entries
}
