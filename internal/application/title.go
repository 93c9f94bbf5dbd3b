package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ahrav/go-council/internal/ports"
)

// MaxTitleLength is the longest title GenerateTitle returns, in runes.
const MaxTitleLength = 50

const titlePrompt = `Generate a very short title (3-5 words maximum) that summarizes the following question.
The title should be concise and descriptive. Do not use quotes or punctuation in the title.

Question: %s

Title:`

// ErrEmptyTitle is returned when the model produced no usable title.
var ErrEmptyTitle = errors.New("model returned an empty title")

// GenerateTitle asks model for a short conversation title.
func GenerateTitle(ctx context.Context, gateway ports.ModelGateway, model, question string) (string, error) {
	text, err := gateway.Query(ctx, model, fmt.Sprintf(titlePrompt, question), ports.QueryOptions{
		Temperature: temperaturePtr(0.2),
	})
	if err != nil {
		return "", fmt.Errorf("title generation with %s: %w", model, err)
	}
	return cleanTitle(text)
}

func cleanTitle(text string) (string, error) {
	title := strings.TrimSpace(text)
	if first, _, ok := strings.Cut(title, "\n"); ok {
		title = strings.TrimSpace(first)
	}
	title = strings.TrimPrefix(title, "Title:")
	title = strings.Trim(strings.TrimSpace(title), `"'`+"`*")
	title = strings.TrimSpace(title)
	if title == "" {
		return "", ErrEmptyTitle
	}

	if utf8.RuneCountInString(title) > MaxTitleLength {
		runes := []rune(title)
		title = strings.TrimSpace(string(runes[:MaxTitleLength-3])) + "..."
	}
	return title, nil
}
