package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func councilOf(n int) []string {
	models := make([]string, n)
	for i := range models {
		models[i] = fmt.Sprintf("provider/model-%02d", i)
	}
	return models
}

// TestAssignLabels_DistinctAndOrdered checks that every council size gets
// distinct labels that follow the input order.
func TestAssignLabels_DistinctAndOrdered(t *testing.T) {
	for n := 1; n <= 60; n++ {
		models := councilOf(n)
		lm, err := AssignLabels(models)
		require.NoError(t, err, "n=%d", n)
		require.Equal(t, n, lm.Len())

		seen := make(map[string]bool)
		for i, label := range lm.Labels() {
			assert.False(t, seen[label], "label %s repeated for n=%d", label, n)
			seen[label] = true

			model, ok := lm.Model(label)
			require.True(t, ok)
			assert.Equal(t, models[i], model, "label order must follow input order")

			back, ok := lm.Label(model)
			require.True(t, ok)
			assert.Equal(t, label, back)
		}
	}
}

func TestAssignLabels_Letters(t *testing.T) {
	lm, err := AssignLabels(councilOf(30))
	require.NoError(t, err)

	labels := lm.Labels()
	assert.Equal(t, "Response A", labels[0])
	assert.Equal(t, "Response Z", labels[25])
	assert.Equal(t, "Response AA", labels[26])
	assert.Equal(t, "Response AD", labels[29])
	assert.Equal(t, "ZZ", labelLetters(701))
	assert.Equal(t, "AAA", labelLetters(702))
}

func TestAssignLabels_RejectsBadCouncil(t *testing.T) {
	tests := []struct {
		name   string
		models []string
	}{
		{name: "duplicate model", models: []string{"a/x", "b/y", "a/x"}},
		{name: "empty model", models: []string{"a/x", " "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AssignLabels(tt.models)
			require.Error(t, err)
			var cfgErr *ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

// TestLabelMap_RevealWholeTokens guards against "Response A" corrupting
// "Response AA".
func TestLabelMap_RevealWholeTokens(t *testing.T) {
	lm, err := AssignLabels(councilOf(27))
	require.NoError(t, err)

	text := "Response AA beats Response A, but Response A's tone is better. Response ZZ is not real."
	got := lm.Reveal(text)

	assert.Equal(t,
		"provider/model-26 beats provider/model-00, but provider/model-00's tone is better. Response ZZ is not real.",
		got)
}

func TestLabelMap_RevealWithDisplay(t *testing.T) {
	lm, err := AssignLabels([]string{"openai/gpt-5.1", "x-ai/grok-4"})
	require.NoError(t, err)

	got := lm.RevealWith("1. Response B\n2. Response A", func(model string) string {
		return strings.ToUpper(model[strings.Index(model, "/")+1:])
	})
	assert.Equal(t, "1. GROK-4\n2. GPT-5.1", got)
}

// TestLabelMap_RoundTrip verifies reveal(anonymize(text)) == text for text
// built from model names.
func TestLabelMap_RoundTrip(t *testing.T) {
	models := []string{
		"openai/gpt-5.1",
		"openai/gpt-5",
		"google/gemini-3-pro-preview",
		"anthropic/claude-sonnet-4.5",
		"llama3:8b",
	}
	lm, err := AssignLabels(models)
	require.NoError(t, err)

	tests := []string{
		"openai/gpt-5.1 openai/gpt-5",
		"openai/gpt-5, then openai/gpt-5.1.",
		"llama3:8b\nanthropic/claude-sonnet-4.5\ngoogle/gemini-3-pro-preview",
		"",
	}
	for _, text := range tests {
		anon := lm.Anonymize(text)
		for _, m := range models {
			assert.NotContains(t, anon, m+" ", "model id should be hidden in %q", anon)
		}
		assert.Equal(t, text, lm.Reveal(anon))
	}

	assert.Equal(t, "Response B, then Response A.", lm.Anonymize("openai/gpt-5, then openai/gpt-5.1."))
}

func TestLabelMap_AnonymizeLeavesPartialTokens(t *testing.T) {
	lm, err := AssignLabels([]string{"openai/gpt-5"})
	require.NoError(t, err)

	assert.Equal(t, "openai/gpt-5.1 and Response A", lm.Anonymize("openai/gpt-5.1 and openai/gpt-5"))
	assert.Equal(t, "xopenai/gpt-5", lm.Anonymize("xopenai/gpt-5"))
}

func TestLabelMap_JSONKeepsOrder(t *testing.T) {
	lm, err := AssignLabels(councilOf(28))
	require.NoError(t, err)

	data, err := json.Marshal(lm)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `{"Response A":"provider/model-00","Response B":`))

	var decoded LabelMap
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, lm.Labels(), decoded.Labels())
	assert.Equal(t, lm.Models(), decoded.Models())

	var nilMap *LabelMap
	data, err = json.Marshal(nilMap)
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}
