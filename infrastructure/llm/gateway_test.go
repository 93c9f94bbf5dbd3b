package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-council/internal/ports"
)

func TestParseRouterType(t *testing.T) {
	tests := []struct {
		in      string
		want    RouterType
		wantErr bool
	}{
		{"", RouterOpenRouter, false},
		{"openrouter", RouterOpenRouter, false},
		{" Ollama ", RouterOllama, false},
		{"DIRECT", RouterDirect, false},
		{"carrier-pigeon", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRouterType(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

// TestGateway_Route checks provider selection and model rewriting for each
// router.
func TestGateway_Route(t *testing.T) {
	tests := []struct {
		name         string
		cfg          GatewayConfig
		model        string
		wantProvider string
		wantModel    string
		wantBaseURL  string
		wantErr      error
	}{
		{
			name:         "openrouter keeps identifier",
			cfg:          GatewayConfig{APIKeys: map[string]string{"openrouter": "k"}},
			model:        "anthropic/claude-sonnet-4.5",
			wantProvider: "openrouter",
			wantModel:    "anthropic/claude-sonnet-4.5",
		},
		{
			name:         "ollama strips prefix",
			cfg:          GatewayConfig{Router: RouterOllama, OllamaHost: "gpu-box:11434"},
			model:        "ollama/llama3:8b",
			wantProvider: "ollama",
			wantModel:    "llama3:8b",
			wantBaseURL:  "http://gpu-box:11434/v1",
		},
		{
			name:         "ollama default host",
			cfg:          GatewayConfig{Router: RouterOllama},
			model:        "mistral",
			wantProvider: "ollama",
			wantModel:    "mistral",
			wantBaseURL:  OllamaDefaultBaseURL,
		},
		{
			name:         "direct splits provider",
			cfg:          GatewayConfig{Router: RouterDirect, APIKeys: map[string]string{"google": "g"}},
			model:        "google/gemini-3-pro-preview",
			wantProvider: "google",
			wantModel:    "gemini-3-pro-preview",
		},
		{
			name:    "direct rejects unknown provider",
			cfg:     GatewayConfig{Router: RouterDirect},
			model:   "x-ai/grok-4",
			wantErr: ports.ErrUnknownModel,
		},
		{
			name:    "direct rejects bare name",
			cfg:     GatewayConfig{Router: RouterDirect},
			model:   "gpt-5.1",
			wantErr: ports.ErrUnknownModel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGateway(tt.cfg)
			require.NoError(t, err)

			provider, config, err := g.route(tt.model)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantProvider, provider)
			assert.Equal(t, tt.wantModel, config.Model)
			if tt.wantBaseURL != "" {
				assert.Equal(t, tt.wantBaseURL, config.BaseURL)
			}
		})
	}
}

func TestGateway_QueryPassesOptions(t *testing.T) {
	g, err := NewGateway(GatewayConfig{})
	require.NoError(t, err)

	mock := NewMockCoreLLM()
	mock.Chunks = []string{"par", "tial"}
	g.Register("openai/gpt-5.1", NewClientFromCore(mock))

	temp := 0.5
	var streamed []string
	out, err := g.Query(context.Background(), "openai/gpt-5.1", "prompt", ports.QueryOptions{
		Temperature: &temp,
		OnChunk:     func(s string) { streamed = append(streamed, s) },
	})

	require.NoError(t, err)
	assert.Equal(t, "partial", out)
	assert.Equal(t, []string{"par", "tial"}, streamed)
	assert.Equal(t, 0.5, mock.GetLastOpts()["temperature"])
}

func TestGateway_QueryWithoutOptions(t *testing.T) {
	g, err := NewGateway(GatewayConfig{})
	require.NoError(t, err)
	mock := NewMockCoreLLM()
	g.Register("m/a", NewClientFromCore(mock))

	_, err = g.Query(context.Background(), "m/a", "prompt", ports.QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, mock.GetLastOpts(), "no temperature or callback should be forwarded")
}

// TestGateway_QueryErrors verifies that failures surface as LLMError values
// carrying the closest ports sentinel.
func TestGateway_QueryErrors(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
		want     error
	}{
		{"rate limit", "", NewProviderError("openrouter", ErrorTypeRateLimit, 429, "", nil), ports.ErrRateLimited},
		{"auth", "", NewProviderError("openrouter", ErrorTypeAuthentication, 401, "", nil), ports.ErrAuthenticationFailed},
		{"server", "", NewProviderError("openrouter", ErrorTypeServerError, 503, "", nil), ports.ErrServiceUnavailable},
		{
			"context window exceeded", "",
			(&ErrorClassifier{Provider: "anthropic"}).ClassifyHTTPError(400, "prompt is too long: 210000 tokens > 200000 maximum", nil),
			ports.ErrTokenLimitExceeded,
		},
		{"deadline", "", context.DeadlineExceeded, ports.ErrTimeout},
		{"circuit open", "", ErrCircuitOpen, ports.ErrServiceUnavailable},
		{"blank response", "   ", nil, ports.ErrInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGateway(GatewayConfig{})
			require.NoError(t, err)
			mock := NewMockCoreLLM()
			mock.Response = tt.response
			mock.Error = tt.err
			g.Register("m/a", NewClientFromCore(mock))

			_, err = g.Query(context.Background(), "m/a", "prompt", ports.QueryOptions{})

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			var llmErr *ports.LLMError
			require.True(t, errors.As(err, &llmErr))
			assert.Equal(t, "m/a", llmErr.Model)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err, "the provider error stays in the chain")
			}
		})
	}
}

func TestGateway_MissingAPIKey(t *testing.T) {
	g, err := NewGateway(GatewayConfig{Router: RouterOpenRouter})
	require.NoError(t, err)

	_, err = g.Query(context.Background(), "openai/gpt-5.1", "prompt", ports.QueryOptions{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrAuthenticationFailed)
	assert.ErrorIs(t, err, ports.ErrConfigNotFound)
	assert.Contains(t, err.Error(), "OPENROUTER_API_KEY")
}

// TestGateway_BuildsEachClientOnce checks that concurrent first queries to
// the same model share one client and one middleware chain.
func TestGateway_BuildsEachClientOnce(t *testing.T) {
	var builds atomic.Int32
	g, err := NewGateway(GatewayConfig{
		Router: RouterOllama,
		MiddlewareFor: func(string) []Middleware {
			builds.Add(1)
			return nil
		},
	})
	require.NoError(t, err)

	const n = 8
	clients := make([]*Client, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := g.client("llama3")
			assert.NoError(t, err)
			clients[i] = c
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, clients[0], clients[i])
	}
	assert.Equal(t, int32(1), builds.Load())

	_, err = g.client("mistral")
	require.NoError(t, err)
	assert.Equal(t, int32(2), builds.Load(), "each model gets its own chain")
}

func TestGateway_RequestTimeout(t *testing.T) {
	tests := []struct {
		name       string
		defaultTTL time.Duration
		perCall    time.Duration
	}{
		{name: "gateway default", defaultTTL: 20 * time.Millisecond},
		{name: "per-call override of a long default", defaultTTL: time.Minute, perCall: 20 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGateway(GatewayConfig{RequestTimeout: tt.defaultTTL})
			require.NoError(t, err)

			mock := NewMockCoreLLM()
			mock.ResponseDelay = time.Second
			g.Register("slow/model", NewClientFromCore(mock, TimeoutMiddleware(g.cfg.RequestTimeout)))

			start := time.Now()
			_, err = g.Query(context.Background(), "slow/model", "prompt", ports.QueryOptions{Timeout: tt.perCall})

			require.Error(t, err)
			assert.ErrorIs(t, err, ports.ErrTimeout)
			assert.Less(t, time.Since(start), 500*time.Millisecond)
		})
	}
}
