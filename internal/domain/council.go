// Package domain holds the pure types and algorithms of a council
// deliberation: the query, per-model responses, peer rankings, the
// anonymizing label map, and the aggregate leaderboard. Nothing in this
// package performs I/O.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Attachment is an excerpt of a user-supplied file that is appended to the
// Stage 1 prompt.
type Attachment struct {
	Name    string `json:"name"`
	Excerpt string `json:"excerpt"`
}

// CouncilQuery is the immutable input of a turn. The full query carries
// attachments and tool context for Stage 1; later stages only see the
// user's literal question.
type CouncilQuery struct {
	question    string
	attachments []Attachment
	toolContext string
}

// NewCouncilQuery builds a query from the user's question plus optional
// attachment excerpts and tool/search context.
func NewCouncilQuery(question string, attachments []Attachment, toolContext string) (CouncilQuery, error) {
	if strings.TrimSpace(question) == "" {
		return CouncilQuery{}, ErrEmptyQuestion
	}
	atts := make([]Attachment, len(attachments))
	copy(atts, attachments)
	return CouncilQuery{
		question:    question,
		attachments: atts,
		toolContext: toolContext,
	}, nil
}

// ShortQuery returns the user's literal question.
func (q CouncilQuery) ShortQuery() string { return q.question }

// Attachments returns a copy of the query's attachments.
func (q CouncilQuery) Attachments() []Attachment {
	out := make([]Attachment, len(q.attachments))
	copy(out, q.attachments)
	return out
}

// ToolContext returns the tool/search context text, if any.
func (q CouncilQuery) ToolContext() string { return q.toolContext }

// FullQuery returns the question followed by attachment excerpts and tool
// context. It always starts with ShortQuery.
func (q CouncilQuery) FullQuery() string {
	var b strings.Builder
	b.WriteString(q.question)
	for _, a := range q.attachments {
		if a.Excerpt == "" {
			continue
		}
		fmt.Fprintf(&b, "\n\n--- Attachment: %s ---\n%s", a.Name, a.Excerpt)
	}
	if strings.TrimSpace(q.toolContext) != "" {
		fmt.Fprintf(&b, "\n\n--- Additional context ---\n%s", q.toolContext)
	}
	return b.String()
}

// ModelResponse is one council member's Stage 1 result. Exactly one of
// Response and Error is set.
type ModelResponse struct {
	Model    string        `json:"model"`
	Response *string       `json:"response"`
	Error    *string       `json:"error"`
	Elapsed  time.Duration `json:"-"`
	// ElapsedMS mirrors Elapsed for JSON consumers.
	ElapsedMS int64 `json:"elapsed_ms"`
}

// NewModelResponse records a successful Stage 1 answer.
func NewModelResponse(model, text string, elapsed time.Duration) ModelResponse {
	return ModelResponse{Model: model, Response: &text, Elapsed: elapsed, ElapsedMS: elapsed.Milliseconds()}
}

// NewFailedResponse records a Stage 1 failure.
func NewFailedResponse(model string, err error, elapsed time.Duration) ModelResponse {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return ModelResponse{Model: model, Error: &msg, Elapsed: elapsed, ElapsedMS: elapsed.Milliseconds()}
}

// OK reports whether the model answered.
func (r ModelResponse) OK() bool { return r.Response != nil }

// Text returns the response text or "" for a failed entry.
func (r ModelResponse) Text() string {
	if r.Response == nil {
		return ""
	}
	return *r.Response
}

// Ranking is one council member's Stage 2 peer review. ParsedRanking is nil
// when the ranking text could not be parsed or the query failed.
type Ranking struct {
	Model         string   `json:"model"`
	RankingText   string   `json:"ranking"`
	ParsedRanking []string `json:"parsed_ranking"`
	Error         *string  `json:"error,omitempty"`
}

// OK reports whether the ranking query itself succeeded.
func (r Ranking) OK() bool { return r.Error == nil }

// Stage3Result is the chairman's synthesized answer.
type Stage3Result struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}

// DeliberationResult is the full output of one turn. Stage2, Stage3,
// LabelMap and Aggregate stay nil when the execution mode skips them.
type DeliberationResult struct {
	TurnID    string           `json:"turn_id,omitempty"`
	Mode      ExecutionMode    `json:"mode"`
	Stage1    []ModelResponse  `json:"stage1"`
	Stage2    []Ranking        `json:"stage2"`
	Stage3    *Stage3Result    `json:"stage3"`
	LabelMap  *LabelMap        `json:"label_to_model"`
	Aggregate []AggregateEntry `json:"aggregate_rankings"`
}

// ExecutionMode selects which stages a turn runs.
type ExecutionMode string

// Execution modes.
const (
	ModeChatOnly    ExecutionMode = "chat_only"
	ModeChatRanking ExecutionMode = "chat_ranking"
	ModeFull        ExecutionMode = "full"
)

// ParseExecutionMode converts a string to an ExecutionMode. The empty string
// selects ModeFull.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch ExecutionMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFull:
		return ModeFull, nil
	case ModeChatRanking:
		return ModeChatRanking, nil
	case ModeChatOnly:
		return ModeChatOnly, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownExecutionMode, s)
	}
}

// RunsRanking reports whether the mode includes Stage 2.
func (m ExecutionMode) RunsRanking() bool { return m == ModeChatRanking || m == ModeFull }

// RunsSynthesis reports whether the mode includes Stage 3.
func (m ExecutionMode) RunsSynthesis() bool { return m == ModeFull }
