package testutils

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-council/internal/ports"
)

// TestMockGateway_Query verifies first-match-wins scripting by model and
// prompt pattern.
func TestMockGateway_Query(t *testing.T) {
	boom := errors.New("boom")
	gw := NewMockGateway().
		AddResponse(MockResponse{Model: "a/1", Pattern: "FINAL RANKING", Response: "ranking from a"}).
		AddResponse(MockResponse{Model: "a/1", Response: "plain a"}).
		AddResponse(MockResponse{Pattern: "explode", Err: boom})

	tests := []struct {
		name    string
		model   string
		prompt  string
		want    string
		wantErr error
	}{
		{"model and pattern", "a/1", "give a FINAL RANKING", "ranking from a", nil},
		{"model only", "a/1", "hello", "plain a", nil},
		{"pattern for any model", "b/2", "please explode", "", boom},
		{"unmatched", "b/2", "hello", "answer from b/2", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := gw.Query(context.Background(), tt.model, tt.prompt, ports.QueryOptions{})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, 4, gw.CallCount())
	assert.Len(t, gw.CallsFor("a/1"), 2)
	assert.Len(t, gw.CallsMatching("hello"), 2)
}

func TestMockGateway_DelayRespectsContext(t *testing.T) {
	gw := NewMockGateway().SetDelay("slow/model", time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := gw.Query(ctx, "slow/model", "hi", ports.QueryOptions{})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestMockGateway_StreamsChunks(t *testing.T) {
	gw := NewMockGateway().AddResponse(MockResponse{Response: "one two three"})
	var chunks []string
	temp := 0.5

	got, err := gw.Query(context.Background(), "m/x", "p", ports.QueryOptions{
		Temperature: &temp,
		OnChunk:     func(c string) { chunks = append(chunks, c) },
	})

	require.NoError(t, err)
	assert.Equal(t, "one two three", got)
	assert.Equal(t, got, strings.Join(chunks, ""))

	calls := gw.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Streaming)
	require.NotNil(t, calls[0].Temperature)
	assert.Equal(t, 0.5, *calls[0].Temperature)
}
