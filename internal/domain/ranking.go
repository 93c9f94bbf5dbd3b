package domain

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// RankingMarker is the header that opens the machine-readable section of a
// Stage 2 answer.
const RankingMarker = "FINAL RANKING:"

var (
	// markerPattern runs against case-folded lines.
	markerPattern = regexp.MustCompile(`final\s+ranking\s*:`)

	// rankingLine matches "<ordinal>. <label>" with optional list bullets and
	// markdown emphasis around either part.
	rankingLine = regexp.MustCompile(
		`^\s*(?:[-*+>#]+\s*)?(?:\*\*|__)?\s*\d+\s*[.)]\s*(?:\*\*|__|\*|_)?\s*(?i:response)\s+([A-Z]{1,3})\b`,
	)

	// inlineItem finds ranking items written on the marker line itself.
	inlineItem = regexp.MustCompile(`\d+\s*[.)]\s*(?:\*\*|__)?\s*(?i:response)\s+([A-Z]{1,3})\b`)
)

// ParseRanking extracts the ordered list of labels from a FINAL RANKING
// section of text. The marker is matched case-insensitively. When the marker
// appears more than once, the last one followed by at least one ranking line
// is used, so both an echoed prompt before the list and a passing mention
// after it are tolerated. Ranking lines are read until the first non-blank
// line that is not a ranking line; later duplicates of a label are dropped.
// It returns nil when no marker is present or no ranking line follows any.
func ParseRanking(text string) []string {
	if text == "" {
		return nil
	}
	text = norm.NFKC.String(text)
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	markers := findMarkers(lines)
	for i := len(markers) - 1; i >= 0; i-- {
		if labels := parseSection(lines, markers[i]); labels != nil {
			return labels
		}
	}
	return nil
}

// marker locates a FINAL RANKING header: its line and the byte offset just
// past the last occurrence on that line.
type marker struct {
	line, end int
}

func findMarkers(lines []string) []marker {
	fold := cases.Fold()
	var out []marker
	for i, line := range lines {
		folded := fold.String(line)
		loc := markerPattern.FindAllStringIndex(folded, -1)
		if loc == nil {
			continue
		}
		end := loc[len(loc)-1][1]
		// Folding may change byte lengths; only trust the offset when it
		// did not.
		if len(folded) != len(line) {
			end = len(line)
		}
		out = append(out, marker{line: i, end: end})
	}
	return out
}

func parseSection(lines []string, m marker) []string {
	seen := make(map[string]struct{})
	var labels []string
	add := func(letters string) {
		label := LabelPrefix + letters
		if _, dup := seen[label]; dup {
			return
		}
		seen[label] = struct{}{}
		labels = append(labels, label)
	}

	for _, item := range inlineItem.FindAllStringSubmatch(lines[m.line][m.end:], -1) {
		add(item[1])
	}

	started := len(labels) > 0
	for _, line := range lines[m.line+1:] {
		match := rankingLine.FindStringSubmatch(line)
		if match == nil {
			if started && strings.TrimSpace(line) != "" {
				break
			}
			continue
		}
		started = true
		add(match[1])
	}

	if len(labels) == 0 {
		return nil
	}
	return labels
}
