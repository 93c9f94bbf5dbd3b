package application

import (
	"fmt"
	"strings"

	"github.com/ahrav/go-council/internal/domain"
)

// renderTemplate substitutes placeholders in a single pass, so text coming
// from a model that happens to contain "{user_query}" is never expanded a
// second time. It fails when the template lacks a placeholder the stage
// needs.
func renderTemplate(stage, field, tmpl string, values map[string]string) (string, error) {
	if missing := missingPlaceholders(stage, tmpl); len(missing) > 0 {
		return "", domain.NewConfigurationError(field,
			fmt.Sprintf("%s template is missing %s", stage, strings.Join(missing, ", ")))
	}

	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, k, v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl), nil
}

// buildStage1Prompt renders the question sent to every council member.
func buildStage1Prompt(s Settings, q domain.CouncilQuery) (string, error) {
	return renderTemplate("stage1", "stage1_prompt_template", s.Stage1PromptTemplate, map[string]string{
		PlaceholderFullQuery: q.FullQuery(),
		PlaceholderUserQuery: q.ShortQuery(),
	})
}

// formatResponsesText lists each labeled answer in label order.
func formatResponsesText(lm *domain.LabelMap, texts map[string]string) string {
	var b strings.Builder
	for i, label := range lm.Labels() {
		if i > 0 {
			b.WriteString("\n\n")
		}
		model, _ := lm.Model(label)
		fmt.Fprintf(&b, "%s:\n%s", label, texts[model])
	}
	return b.String()
}

// buildStage2Prompt renders the anonymized peer-review prompt.
func buildStage2Prompt(s Settings, q domain.CouncilQuery, responsesText string) (string, error) {
	return renderTemplate("stage2", "stage2_prompt_template", s.Stage2PromptTemplate, map[string]string{
		PlaceholderUserQuery:     q.ShortQuery(),
		PlaceholderResponsesText: responsesText,
	})
}

// formatStage1Text lists the successful answers under their real model
// names.
func formatStage1Text(stage1 []domain.ModelResponse) string {
	var parts []string
	for _, r := range stage1 {
		if !r.OK() {
			continue
		}
		parts = append(parts, fmt.Sprintf("Model: %s\nResponse: %s", r.Model, r.Text()))
	}
	return strings.Join(parts, "\n\n")
}

// formatStage2Text lists each successful ranking with its labels revealed.
func formatStage2Text(stage2 []domain.Ranking, lm *domain.LabelMap) string {
	var parts []string
	for _, r := range stage2 {
		if !r.OK() {
			continue
		}
		parts = append(parts, fmt.Sprintf("Model: %s\nRanking: %s", r.Model, lm.Reveal(r.RankingText)))
	}
	return strings.Join(parts, "\n\n")
}

// buildStage3Prompt renders the chairman's synthesis prompt.
func buildStage3Prompt(s Settings, q domain.CouncilQuery, stage1Text, stage2Text string) (string, error) {
	return renderTemplate("stage3", "stage3_prompt_template", s.Stage3PromptTemplate, map[string]string{
		PlaceholderUserQuery:  q.ShortQuery(),
		PlaceholderStage1Text: stage1Text,
		PlaceholderStage2Text: stage2Text,
	})
}
