// Package llm provides a unified interface for querying council models across
// providers, with built-in support for retries, timeouts, rate limiting,
// circuit breaking, metrics, and tracing.
//
// Providers (OpenAI-compatible endpoints such as OpenRouter and Ollama,
// Anthropic, Google) are abstracted behind CoreLLM and wrapped by a
// middleware chain. The Gateway routes "provider/model" identifiers to
// lazily built clients and implements ports.ModelGateway for the pipeline.
//
// Basic usage:
//
//	client, err := llm.NewClient("openrouter", llm.ClientConfig{
//	    APIKey: os.Getenv("OPENROUTER_API_KEY"),
//	    Model:  "openai/gpt-5.1",
//	})
//	response, err := client.Complete(ctx, "Hello world!", nil)
//
// With middleware:
//
//	client, err := llm.NewClient("anthropic", llm.ClientConfig{
//	    APIKey: os.Getenv("ANTHROPIC_API_KEY"),
//	    Model:  "claude-sonnet-4-5",
//	    Middleware: []llm.Middleware{
//	        llm.RetryMiddleware(2, 500*time.Millisecond, 5*time.Second),
//	        llm.CircuitBreakerMiddleware(5, 30*time.Second),
//	        llm.MetricsMiddleware(metricsCollector),
//	    },
//	})
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahrav/go-council/internal/ports"
)

// CoreLLM defines the minimal interface that LLM providers must implement.
// The middleware system wraps any conforming implementation.
type CoreLLM interface {
	// DoRequest sends a prompt to the LLM provider and returns the response.
	// The opts parameter carries request options such as temperature,
	// max tokens, or an "on_chunk" streaming callback.
	// Returns the response text, input token count, output token count, and any error.
	DoRequest(
		ctx context.Context,
		prompt string,
		opts map[string]any,
	) (
		response string,
		tokensIn, tokensOut int,
		err error,
	)

	// GetModel returns the currently configured model name.
	GetModel() string

	// SetModel updates the model to use for subsequent requests.
	SetModel(model string)
}

// ClientConfig holds all configuration options for creating an LLM client.
type ClientConfig struct {
	// APIKey authenticates requests to the LLM provider.
	// Ollama accepts an empty key.
	APIKey string

	// Model specifies which LLM model to use for requests.
	Model string

	// BaseURL overrides the default API endpoint for the provider.
	// Leave empty to use the provider's default endpoint.
	BaseURL string

	// Timeout sets the HTTP client timeout for individual requests.
	// Zero value means no timeout.
	Timeout time.Duration

	// Middleware allows custom middleware insertion.
	// These are applied in the order specified, first is outermost.
	Middleware []Middleware
}

// Middleware wraps a CoreLLM implementation to add cross-cutting functionality.
type Middleware func(CoreLLM) CoreLLM

// ErrModelRequired is returned by NewClient when no model is configured.
var ErrModelRequired = errors.New("model is required")

// Client implements the ports.LLMClient interface on top of a CoreLLM and
// its middleware chain.
type Client struct {
	core CoreLLM
}

var _ ports.LLMClient = (*Client)(nil)

// NewClient creates a new LLM client with the specified provider and configuration.
// This function assembles the middleware chain before returning a ready-to-use client.
func NewClient(providerType string, config ClientConfig) (*Client, error) {
	if config.Model == "" {
		return nil, ErrModelRequired
	}

	factory, ok := providerFactories[providerType]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerType)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	return NewClientFromCore(core, config.Middleware...), nil
}

// NewClientFromCore wraps an existing CoreLLM with middleware.
// Middleware is applied in reverse so the first entry is the outermost.
func NewClientFromCore(core CoreLLM, middleware ...Middleware) *Client {
	for i := len(middleware) - 1; i >= 0; i-- {
		core = middleware[i](core)
	}
	return &Client{core: core}
}

// Complete sends a prompt to the LLM and returns the response text.
func (c *Client) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	response, _, _, err := c.CompleteWithUsage(ctx, prompt, options)
	return response, err
}

// CompleteWithUsage sends a prompt to the LLM and also returns input and
// output token counts.
func (c *Client) CompleteWithUsage(
	ctx context.Context,
	prompt string,
	options map[string]any,
) (string, int, int, error) {
	return c.core.DoRequest(ctx, prompt, options)
}

// GetModel returns the currently configured model name from the underlying provider.
func (c *Client) GetModel() string { return c.core.GetModel() }

// ProviderFactory creates a CoreLLM implementation from configuration.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

// providerFactories is populated by each provider's init.
var providerFactories = map[string]ProviderFactory{}

// RegisterProviderFactory allows registration of custom LLM provider factories.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	providerFactories[providerType] = factory
}

// LookupProviderFactory returns the factory registered for providerType.
func LookupProviderFactory(providerType string) (ProviderFactory, bool) {
	f, ok := providerFactories[providerType]
	return f, ok
}
