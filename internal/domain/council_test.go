package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCouncilQuery(t *testing.T) {
	tests := []struct {
		name        string
		question    string
		attachments []Attachment
		toolContext string
		wantFull    string
		wantErr     error
	}{
		{
			name:     "question only",
			question: "What is CAP?",
			wantFull: "What is CAP?",
		},
		{
			name:        "attachments and tool context are appended",
			question:    "Summarize",
			attachments: []Attachment{{Name: "notes.md", Excerpt: "alpha"}, {Name: "empty.txt"}},
			toolContext: "search result",
			wantFull:    "Summarize\n\n--- Attachment: notes.md ---\nalpha\n\n--- Additional context ---\nsearch result",
		},
		{
			name:     "blank question",
			question: "   ",
			wantErr:  ErrEmptyQuestion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewCouncilQuery(tt.question, tt.attachments, tt.toolContext)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.question, q.ShortQuery())
			assert.Equal(t, tt.wantFull, q.FullQuery())
			assert.GreaterOrEqual(t, len(q.FullQuery()), len(q.ShortQuery()))
			assert.True(t, strings.HasPrefix(q.FullQuery(), q.ShortQuery()))
		})
	}
}

func TestCouncilQuery_AttachmentsAreCopied(t *testing.T) {
	atts := []Attachment{{Name: "a.txt", Excerpt: "one"}}
	q, err := NewCouncilQuery("q", atts, "")
	require.NoError(t, err)

	atts[0].Excerpt = "changed"
	got := q.Attachments()
	got[0].Excerpt = "changed again"

	assert.Equal(t, "q\n\n--- Attachment: a.txt ---\none", q.FullQuery())
}

func TestModelResponse(t *testing.T) {
	ok := NewModelResponse("m/a", "hello", 1500*time.Millisecond)
	assert.True(t, ok.OK())
	assert.Equal(t, "hello", ok.Text())
	assert.Nil(t, ok.Error)
	assert.Equal(t, int64(1500), ok.ElapsedMS)

	failed := NewFailedResponse("m/b", errors.New("boom"), time.Second)
	assert.False(t, failed.OK())
	assert.Equal(t, "", failed.Text())
	require.NotNil(t, failed.Error)
	assert.Equal(t, "boom", *failed.Error)

	data, err := json.Marshal(failed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"m/b","response":null,"error":"boom","elapsed_ms":1000}`, string(data))
}

func TestParseExecutionMode(t *testing.T) {
	tests := []struct {
		in        string
		want      ExecutionMode
		ranking   bool
		synthesis bool
		wantErr   bool
	}{
		{in: "", want: ModeFull, ranking: true, synthesis: true},
		{in: "full", want: ModeFull, ranking: true, synthesis: true},
		{in: "CHAT_RANKING", want: ModeChatRanking, ranking: true},
		{in: "chat_only", want: ModeChatOnly},
		{in: "stage4", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseExecutionMode(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownExecutionMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ranking, got.RunsRanking())
			assert.Equal(t, tt.synthesis, got.RunsSynthesis())
		})
	}
}
