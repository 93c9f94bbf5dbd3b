package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ahrav/go-council/internal/ports"
)

// RouterType selects how council model identifiers are resolved to
// providers.
type RouterType string

// Supported routers.
const (
	// RouterOpenRouter sends every "provider/model" identifier unchanged to
	// OpenRouter.
	RouterOpenRouter RouterType = "openrouter"
	// RouterOllama sends every model to a local Ollama server. An "ollama/"
	// prefix is stripped.
	RouterOllama RouterType = "ollama"
	// RouterDirect splits "provider/model" and calls the provider's own API.
	RouterDirect RouterType = "direct"
)

// ParseRouterType validates s. The empty string selects OpenRouter.
func ParseRouterType(s string) (RouterType, error) {
	switch RouterType(strings.ToLower(strings.TrimSpace(s))) {
	case "", RouterOpenRouter:
		return RouterOpenRouter, nil
	case RouterOllama:
		return RouterOllama, nil
	case RouterDirect:
		return RouterDirect, nil
	default:
		return "", fmt.Errorf("unknown router type %q: want openrouter, ollama or direct", s)
	}
}

// APIKeyEnvVars names the environment variable that carries each provider's
// key.
var APIKeyEnvVars = map[string]string{
	"openrouter": "OPENROUTER_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"google":     "GOOGLE_API_KEY",
}

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	// Router selects the routing strategy. Defaults to RouterOpenRouter.
	Router RouterType

	// APIKeys maps provider names ("openrouter", "openai", "anthropic",
	// "google") to keys.
	APIKeys map[string]string

	// OllamaHost is host:port or a URL of the Ollama server.
	OllamaHost string

	// BaseURLs overrides a provider's endpoint, keyed by provider name.
	BaseURLs map[string]string

	// RequestTimeout bounds each model call that does not carry its own
	// ports.QueryOptions.Timeout. Zero disables it.
	RequestTimeout time.Duration

	// MiddlewareFor returns the middleware chain for a model, outermost
	// first. It is called once per model, so stateful middleware such as
	// circuit breakers stays per model.
	MiddlewareFor func(model string) []Middleware

	// Logger receives client construction events. Defaults to slog.Default.
	Logger *slog.Logger
}

// Gateway implements ports.ModelGateway over lazily built, cached clients,
// one per council model identifier.
type Gateway struct {
	cfg    GatewayConfig
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	group   singleflight.Group
}

var _ ports.ModelGateway = (*Gateway)(nil)

// NewGateway creates a Gateway. Clients are built on first use.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	router, err := ParseRouterType(string(cfg.Router))
	if err != nil {
		return nil, err
	}
	cfg.Router = router

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		cfg:     cfg,
		logger:  logger.With("component", "gateway", "router", string(router)),
		clients: make(map[string]*Client),
	}, nil
}

// Register installs a prebuilt client for model, replacing any cached one.
func (g *Gateway) Register(model string, client *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients[model] = client
}

// Query sends prompt to model. Failures are returned as *ports.LLMError
// wrapping the closest ports sentinel and the provider error.
func (g *Gateway) Query(ctx context.Context, model, prompt string, opts ports.QueryOptions) (string, error) {
	client, err := g.client(model)
	if err != nil {
		return "", ports.NewLLMError(model, "query", err)
	}

	options := make(map[string]any, 3)
	if opts.Temperature != nil {
		options["temperature"] = *opts.Temperature
	}
	if opts.OnChunk != nil {
		options["on_chunk"] = opts.OnChunk
	}
	if opts.Timeout > 0 {
		options["timeout"] = opts.Timeout
	}

	response, tokensIn, tokensOut, err := client.CompleteWithUsage(ctx, prompt, options)
	if err != nil {
		return "", wrapQueryError(model, err)
	}
	if strings.TrimSpace(response) == "" {
		return "", ports.NewLLMError(model, "query", ports.ErrInvalidResponse)
	}

	g.logger.Debug("model query complete",
		"model", model, "tokens_in", tokensIn, "tokens_out", tokensOut)
	return response, nil
}

func wrapQueryError(model string, err error) error {
	if sentinel := PortsSentinel(err); sentinel != nil && !errors.Is(err, sentinel) {
		err = fmt.Errorf("%w: %w", sentinel, err)
	}
	return ports.NewLLMError(model, "query", err)
}

// client returns the cached client for model, building it once.
func (g *Gateway) client(model string) (*Client, error) {
	g.mu.RLock()
	c, ok := g.clients[model]
	g.mu.RUnlock()
	if ok {
		return c, nil
	}

	v, err, _ := g.group.Do(model, func() (any, error) {
		g.mu.RLock()
		c, ok := g.clients[model]
		g.mu.RUnlock()
		if ok {
			return c, nil
		}

		c, err := g.build(model)
		if err != nil {
			return nil, err
		}

		g.mu.Lock()
		g.clients[model] = c
		g.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

func (g *Gateway) build(model string) (*Client, error) {
	providerType, config, err := g.route(model)
	if err != nil {
		return nil, err
	}

	var middleware []Middleware
	if g.cfg.MiddlewareFor != nil {
		middleware = append(middleware, g.cfg.MiddlewareFor(model)...)
	}
	// Innermost, so every retry attempt gets its own deadline.
	middleware = append(middleware, TimeoutMiddleware(g.cfg.RequestTimeout))
	config.Middleware = middleware

	client, err := NewClient(providerType, config)
	if err != nil {
		if errors.Is(err, ErrEmptyAPIKey) {
			return nil, fmt.Errorf("%w: %s: %w", ports.ErrAuthenticationFailed, providerType, ports.NewConfigError(APIKeyEnvVars[providerType], ports.ErrConfigNotFound))
		}
		return nil, err
	}

	g.logger.Info("model client created", "model", model, "provider", providerType)
	return client, nil
}

// route resolves model to a provider factory name and client config.
func (g *Gateway) route(model string) (string, ClientConfig, error) {
	switch g.cfg.Router {
	case RouterOllama:
		return "ollama", ClientConfig{
			Model:   strings.TrimPrefix(model, "ollama/"),
			BaseURL: g.ollamaBaseURL(),
		}, nil

	case RouterDirect:
		provider, name, ok := strings.Cut(model, "/")
		if !ok || name == "" {
			return "", ClientConfig{}, fmt.Errorf("%w: %q is not provider/model", ports.ErrUnknownModel, model)
		}
		if _, known := LookupProviderFactory(provider); !known || provider == "openrouter" || provider == "ollama" {
			return "", ClientConfig{}, fmt.Errorf("%w: no direct provider for %q", ports.ErrUnknownModel, provider)
		}
		return provider, ClientConfig{
			APIKey:  g.cfg.APIKeys[provider],
			Model:   name,
			BaseURL: g.cfg.BaseURLs[provider],
		}, nil

	default:
		return "openrouter", ClientConfig{
			APIKey:  g.cfg.APIKeys["openrouter"],
			Model:   model,
			BaseURL: g.cfg.BaseURLs["openrouter"],
		}, nil
	}
}

func (g *Gateway) ollamaBaseURL() string {
	if u := g.cfg.BaseURLs["ollama"]; u != "" {
		return u
	}
	host := g.cfg.OllamaHost
	if host == "" {
		return OllamaDefaultBaseURL
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return strings.TrimSuffix(host, "/") + "/v1"
}
