package llm

import "sync"

// DefaultMaxTokens is used when a request does not set "max_tokens".
// Council answers are long-form, so the ceiling is generous.
const DefaultMaxTokens = 4096

// BaseProvider provides thread-safe model name handling for providers.
type BaseProvider struct {
	mu    sync.RWMutex
	model string
}

// GetModel returns the name of the model currently configured for the provider.
func (b *BaseProvider) GetModel() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

// SetModel updates the model name for the provider.
func (b *BaseProvider) SetModel(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = model
}

// RequestOptions is the normalized form of the option map every provider
// receives.
type RequestOptions struct {
	// MaxTokens specifies the maximum number of tokens to generate.
	MaxTokens int
	// Model is the identifier of the language model to use for the request.
	Model string
	// Temperature is nil when the provider default should be used.
	Temperature *float64
	// TopP is nil when the provider default should be used.
	TopP *float64
	// System is an optional system prompt.
	System string
	// OnChunk receives streamed text deltas. Providers without streaming
	// call it once with the full response.
	OnChunk func(string)
	// Extra holds any provider-specific options that are not part of the standardized set.
	Extra map[string]any
}

// ParseRequestOptions extracts and validates LLM request parameters from a map.
// Unrecognized options are collected into Extra.
func ParseRequestOptions(opts map[string]any, defaultModel string) RequestOptions {
	options := RequestOptions{
		MaxTokens: ExtractOptionalInt(opts, "max_tokens", DefaultMaxTokens, IsPositiveInt),
		Model:     ExtractOptionalString(opts, "model", defaultModel, IsNonEmptyString),
		System:    ExtractOptionalString(opts, "system", "", nil),
		OnChunk:   ExtractChunkFunc(opts),
		Extra:     make(map[string]any),
	}

	if temp := ExtractOptionalFloat64(opts, "temperature", -1, IsValidTemperature); temp != -1 {
		options.Temperature = &temp
	}

	if topP := ExtractOptionalFloat64(opts, "top_p", -1, IsValidTopP); topP != -1 {
		options.TopP = &topP
	}

	for k, v := range opts {
		switch k {
		case "max_tokens", "model", "system", "temperature", "top_p", "on_chunk", "timeout":
		default:
			options.Extra[k] = v
		}
	}

	return options
}

// TokenCounter estimates token counts when a provider omits usage data.
type TokenCounter struct {
	// CharactersPerToken is the average number of characters per token.
	CharactersPerToken float64
}

// NewTokenCounter creates a TokenCounter tuned for English text.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{CharactersPerToken: 4.0}
}

// EstimateTokens calculates an estimated token count for text.
func (tc *TokenCounter) EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return int(float64(len(text)) / tc.CharactersPerToken)
}

// GetTokenCount prefers the provider-reported count and falls back to an
// estimate.
func (tc *TokenCounter) GetTokenCount(actualCount int, text string) int {
	if actualCount > 0 {
		return actualCount
	}
	return tc.EstimateTokens(text)
}
