package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chatCompletionBody is the minimal OpenAI-compatible completion payload.
func chatCompletionBody(content string, promptTokens, completionTokens int) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "openai/gpt-5.1",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	}
}

// newChatServer serves /chat/completions with handler and records the
// decoded request bodies.
func newChatServer(t *testing.T, handler func(w http.ResponseWriter, body map[string]any)) (*httptest.Server, func() []map[string]any) {
	t.Helper()
	var (
		mu     sync.Mutex
		bodies []map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), "unexpected path %s", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		handler(w, body)
	}))
	t.Cleanup(server.Close)
	return server, func() []map[string]any {
		mu.Lock()
		defer mu.Unlock()
		return append([]map[string]any(nil), bodies...)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// TestOpenAICompatibleFactories verifies key handling and default endpoints
// of the three OpenAI-compatible provider types.
func TestOpenAICompatibleFactories(t *testing.T) {
	tests := []struct {
		name      string
		provider  string
		config    ClientConfig
		wantErr   error
		wantModel string
	}{
		{"openai requires key", "openai", ClientConfig{Model: "gpt-5.1"}, ErrEmptyAPIKey, ""},
		{"openrouter requires key", "openrouter", ClientConfig{Model: "openai/gpt-5.1"}, ErrEmptyAPIKey, ""},
		{"ollama accepts empty key", "ollama", ClientConfig{Model: "llama3:8b"}, nil, "llama3:8b"},
		{"openrouter with key", "openrouter", ClientConfig{APIKey: "k", Model: "x-ai/grok-4"}, nil, "x-ai/grok-4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory, ok := LookupProviderFactory(tt.provider)
			require.True(t, ok)

			core, err := factory(tt.config)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantModel, core.GetModel())
		})
	}

	_, err := newOpenRouterProvider(ClientConfig{APIKey: "k", Model: "m", BaseURL: "ftp://nope"})
	assert.Error(t, err, "non-http base URLs are rejected")
}

func TestOpenAIProvider_DoRequest(t *testing.T) {
	server, bodies := newChatServer(t, func(w http.ResponseWriter, _ map[string]any) {
		writeJSON(w, http.StatusOK, chatCompletionBody("Paris.", 12, 3))
	})

	core, err := newOpenRouterProvider(ClientConfig{APIKey: "k", Model: "openai/gpt-5.1", BaseURL: server.URL})
	require.NoError(t, err)

	response, tokensIn, tokensOut, err := core.DoRequest(context.Background(), "Capital of France?", map[string]any{
		"temperature": 0.3,
		"system":      "Be brief.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris.", response)
	assert.Equal(t, 12, tokensIn)
	assert.Equal(t, 3, tokensOut)

	got := bodies()
	require.Len(t, got, 1)
	assert.Equal(t, "openai/gpt-5.1", got[0]["model"])
	assert.InDelta(t, 0.3, got[0]["temperature"], 1e-6)
	messages, ok := got[0]["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "Capital of France?", messages[1].(map[string]any)["content"])
}

func TestOpenAIProvider_EmptyContent(t *testing.T) {
	server, _ := newChatServer(t, func(w http.ResponseWriter, _ map[string]any) {
		writeJSON(w, http.StatusOK, chatCompletionBody("", 5, 0))
	})

	core, err := newOllamaProvider(ClientConfig{Model: "llama3", BaseURL: server.URL})
	require.NoError(t, err)

	_, _, _, err = core.DoRequest(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

// TestOpenAIProvider_Streaming verifies that deltas reach the callback in
// order and that the returned text is their concatenation.
func TestOpenAIProvider_Streaming(t *testing.T) {
	deltas := []string{"The ", "answer ", "is 42."}
	server, bodies := newChatServer(t, func(w http.ResponseWriter, _ map[string]any) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, d := range deltas {
			chunk := map[string]any{
				"id":      "chatcmpl-stream",
				"object":  "chat.completion.chunk",
				"created": 1700000000,
				"model":   "openai/gpt-5.1",
				"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": d}}},
			}
			b, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
		usage, _ := json.Marshal(map[string]any{
			"id":      "chatcmpl-stream",
			"object":  "chat.completion.chunk",
			"created": 1700000000,
			"model":   "openai/gpt-5.1",
			"choices": []map[string]any{},
			"usage":   map[string]any{"prompt_tokens": 8, "completion_tokens": 4, "total_tokens": 12},
		})
		fmt.Fprintf(w, "data: %s\n\n", usage)
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	core, err := newOpenRouterProvider(ClientConfig{APIKey: "k", Model: "openai/gpt-5.1", BaseURL: server.URL})
	require.NoError(t, err)

	var got []string
	response, tokensIn, tokensOut, err := core.DoRequest(context.Background(), "question", map[string]any{
		"on_chunk": func(s string) { got = append(got, s) },
	})
	require.NoError(t, err)
	assert.Equal(t, deltas, got)
	assert.Equal(t, "The answer is 42.", response)
	assert.Equal(t, 8, tokensIn)
	assert.Equal(t, 4, tokensOut)

	require.Len(t, bodies(), 1)
	assert.Equal(t, true, bodies()[0]["stream"])
}

func TestOpenAIProvider_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		message  string
		wantType ErrorType
		retry    bool
	}{
		{"unauthorized", http.StatusUnauthorized, "nope", ErrorTypeAuthentication, false},
		{"rate limited", http.StatusTooManyRequests, "nope", ErrorTypeRateLimit, true},
		{"not found", http.StatusNotFound, "nope", ErrorTypeNotFound, false},
		{"server error", http.StatusBadGateway, "nope", ErrorTypeServerError, true},
		{"plain bad request", http.StatusBadRequest, "temperature must be a number", ErrorTypeBadRequest, false},
		{
			"context window exceeded", http.StatusBadRequest,
			"This model's maximum context length is 8192 tokens. However, your messages resulted in 9100 tokens.",
			ErrorTypeTokenLimit, false,
		},
		{"payload too large", http.StatusRequestEntityTooLarge, "request too large", ErrorTypeTokenLimit, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newChatServer(t, func(w http.ResponseWriter, _ map[string]any) {
				writeJSON(w, tt.status, map[string]any{
					"error": map[string]any{"message": tt.message, "type": "test_error"},
				})
			})
			core, err := newOpenRouterProvider(ClientConfig{APIKey: "k", Model: "m/x", BaseURL: server.URL})
			require.NoError(t, err)

			_, _, _, err = core.DoRequest(context.Background(), "hi", nil)

			var pe *ProviderError
			require.True(t, errors.As(err, &pe), "expected ProviderError, got %T", err)
			assert.Equal(t, tt.wantType, pe.Type)
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, tt.retry, pe.IsRetryable())
			assert.Equal(t, "openrouter", pe.Provider)
		})
	}
}

func TestOpenAIProvider_ContextCanceled(t *testing.T) {
	server, _ := newChatServer(t, func(w http.ResponseWriter, _ map[string]any) {
		writeJSON(w, http.StatusOK, chatCompletionBody("late", 1, 1))
	})
	core, err := newOpenAIProvider(ClientConfig{APIKey: "k", Model: "gpt-5.1", BaseURL: server.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, _, err = core.DoRequest(ctx, "hi", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.False(t, pe.IsRetryable())
}

func TestAnthropicProvider_DoRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-sonnet-4-5", body["model"])
		assert.Equal(t, float64(DefaultMaxTokens), body["max_tokens"])
		assert.InDelta(t, 1.0, body["temperature"], 1e-9, "temperature is clamped to Anthropic's range")

		writeJSON(w, http.StatusOK, map[string]any{
			"id":    "msg_test",
			"type":  "message",
			"role":  "assistant",
			"model": "claude-sonnet-4-5",
			"content": []map[string]any{
				{"type": "text", "text": "Hello "},
				{"type": "text", "text": "there."},
			},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 7, "output_tokens": 2},
		})
	}))
	defer server.Close()

	core, err := newAnthropicProvider(ClientConfig{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	var chunks []string
	response, tokensIn, tokensOut, err := core.DoRequest(context.Background(), "hi", map[string]any{
		"temperature": 1.5,
		"on_chunk":    func(s string) { chunks = append(chunks, s) },
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there.", response)
	assert.Equal(t, 7, tokensIn)
	assert.Equal(t, 2, tokensOut)
	assert.Equal(t, []string{"Hello there."}, chunks, "non-streaming providers emit the whole text once")
}

func TestAnthropicProvider_AuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "authentication_error", "message": "invalid x-api-key"},
		})
	}))
	defer server.Close()

	core, err := newAnthropicProvider(ClientConfig{APIKey: "bad", BaseURL: server.URL})
	require.NoError(t, err)

	_, _, _, err = core.DoRequest(context.Background(), "hi", nil)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrorTypeAuthentication, pe.Type)
}

func TestProviderFactories_RequireKeys(t *testing.T) {
	for _, name := range []string{"anthropic", "google"} {
		factory, ok := LookupProviderFactory(name)
		require.True(t, ok, name)

		core, err := factory(ClientConfig{Model: "m"})
		assert.ErrorIs(t, err, ErrEmptyAPIKey, name)
		assert.Nil(t, core, name)
	}

	core, err := newGoogleProvider(ClientConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, GoogleDefaultModel, core.GetModel())
}

func TestGoogleProvider_BuildGenerationConfig(t *testing.T) {
	p := &googleProvider{}
	temp, topP := 2.5, 0.9

	config := p.buildGenerationConfig(RequestOptions{Temperature: &temp, TopP: &topP, MaxTokens: 256})

	require.NotNil(t, config.Temperature)
	assert.InDelta(t, 2.0, *config.Temperature, 1e-6)
	require.NotNil(t, config.TopP)
	assert.InDelta(t, 0.9, *config.TopP, 1e-6)
	assert.Equal(t, int32(256), config.MaxOutputTokens)
}
