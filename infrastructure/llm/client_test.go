package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		config   ClientConfig
		wantErr  string
	}{
		{"missing model", "openrouter", ClientConfig{APIKey: "k"}, "model is required"},
		{"unknown provider", "carrier-pigeon", ClientConfig{Model: "m"}, "unknown provider: carrier-pigeon"},
		{"provider error", "openai", ClientConfig{Model: "gpt-5.1"}, "failed to create provider"},
		{"ok", "ollama", ClientConfig{Model: "llama3"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.provider, tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, client)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.config.Model, client.GetModel())
		})
	}
}

// TestNewClientFromCore_MiddlewareOrder verifies that the first middleware is
// the outermost layer.
func TestNewClientFromCore_MiddlewareOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next CoreLLM) CoreLLM {
			return &orderLLM{CoreLLM: next, name: name, order: &order}
		}
	}

	client := NewClientFromCore(NewMockCoreLLM(), tag("outer"), tag("inner"))
	response, in, out, err := client.CompleteWithUsage(context.Background(), "p", nil)

	require.NoError(t, err)
	assert.Equal(t, "test response", response)
	assert.Equal(t, 10, in)
	assert.Equal(t, 20, out)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

type orderLLM struct {
	CoreLLM
	name  string
	order *[]string
}

func (o *orderLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	*o.order = append(*o.order, o.name)
	return o.CoreLLM.DoRequest(ctx, prompt, opts)
}

func TestParseRequestOptions(t *testing.T) {
	cb := func(string) {}
	opts := ParseRequestOptions(map[string]any{
		"temperature": 0.4,
		"top_p":       1.5,
		"max_tokens":  -1,
		"on_chunk":    cb,
		"seed":        7,
	}, "m/default")

	require.NotNil(t, opts.Temperature)
	assert.Equal(t, 0.4, *opts.Temperature)
	assert.Nil(t, opts.TopP, "out of range top_p is ignored")
	assert.Equal(t, DefaultMaxTokens, opts.MaxTokens)
	assert.Equal(t, "m/default", opts.Model)
	assert.NotNil(t, opts.OnChunk)
	assert.Equal(t, map[string]any{"seed": 7}, opts.Extra)

	empty := ParseRequestOptions(nil, "m")
	assert.Nil(t, empty.Temperature)
	assert.Nil(t, empty.OnChunk)
}

func TestValidateBaseURL(t *testing.T) {
	got, err := ValidateBaseURL("")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = ValidateBaseURL("https://openrouter.ai/api/v1")
	require.NoError(t, err)
	assert.Equal(t, "https://openrouter.ai/api/v1", got)

	for _, bad := range []string{"ftp://x", "http://", "://nope"} {
		_, err := ValidateBaseURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestTokenCounter(t *testing.T) {
	tc := NewTokenCounter()
	assert.Equal(t, 0, tc.EstimateTokens(""))
	assert.Equal(t, 2, tc.EstimateTokens("12345678"))
	assert.Equal(t, 99, tc.GetTokenCount(99, "short"))
	assert.Equal(t, 2, tc.GetTokenCount(0, "12345678"))
}
