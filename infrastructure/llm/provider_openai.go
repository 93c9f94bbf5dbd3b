package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Defaults for the OpenAI-compatible providers.
const (
	OpenAIDefaultModel   = "gpt-5.1"
	OpenRouterBaseURL    = "https://openrouter.ai/api/v1"
	OllamaDefaultBaseURL = "http://localhost:11434/v1"
	ollamaPlaceholderKey = "ollama"
)

func init() {
	RegisterProviderFactory("openai", newOpenAIProvider)
	RegisterProviderFactory("openrouter", newOpenRouterProvider)
	RegisterProviderFactory("ollama", newOllamaProvider)
}

// openAIProvider implements CoreLLM for any OpenAI-compatible chat
// completions endpoint. OpenRouter and Ollama reuse it with their own base
// URLs. It is the only provider that streams: when the request carries an
// "on_chunk" callback, deltas are forwarded as they arrive.
type openAIProvider struct {
	BaseProvider
	name            string
	client          *openai.Client
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

func newOpenAIProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	return buildOpenAICompatible("openai", config, "")
}

func newOpenRouterProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	return buildOpenAICompatible("openrouter", config, OpenRouterBaseURL)
}

// newOllamaProvider targets a local Ollama server, which ignores the key.
func newOllamaProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		config.APIKey = ollamaPlaceholderKey
	}
	return buildOpenAICompatible("ollama", config, OllamaDefaultBaseURL)
}

func buildOpenAICompatible(name string, config ClientConfig, defaultBaseURL string) (CoreLLM, error) {
	model := config.Model
	if model == "" {
		model = OpenAIDefaultModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if baseURL != "" {
		validatedURL, err := ValidateBaseURL(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		clientConfig.BaseURL = strings.TrimSuffix(validatedURL, "/")
	}

	if t := ValidateTimeout(config.Timeout); t > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: t}
	}

	return &openAIProvider{
		BaseProvider:    BaseProvider{model: model},
		name:            name,
		client:          openai.NewClientWithConfig(clientConfig),
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: name},
	}, nil
}

// DoRequest sends a chat completion and returns the generated content with
// token usage.
func (p *openAIProvider) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	options := ParseRequestOptions(opts, p.GetModel())
	req := p.buildChatCompletionRequest(prompt, options)

	if options.OnChunk != nil {
		return p.doStream(ctx, req, prompt, options.OnChunk)
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", 0, 0, p.handleError(err)
	}
	if len(resp.Choices) == 0 {
		return "", 0, 0, ErrNoResponseChoice
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", 0, 0, ErrEmptyResponse
	}

	tokensIn := p.tokenCounter.GetTokenCount(resp.Usage.PromptTokens, prompt)
	tokensOut := p.tokenCounter.GetTokenCount(resp.Usage.CompletionTokens, content)
	return content, tokensIn, tokensOut, nil
}

// doStream consumes a streamed completion. The returned text is always the
// full concatenation of the deltas passed to onChunk.
func (p *openAIProvider) doStream(
	ctx context.Context,
	req openai.ChatCompletionRequest,
	prompt string,
	onChunk func(string),
) (string, int, int, error) {
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", 0, 0, p.handleError(err)
	}
	defer stream.Close()

	var (
		content                 strings.Builder
		promptTokens, outTokens int
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", 0, 0, p.handleError(err)
		}
		if chunk.Usage != nil {
			promptTokens = chunk.Usage.PromptTokens
			outTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			content.WriteString(delta)
			onChunk(delta)
		}
	}

	text := content.String()
	if text == "" {
		return "", 0, 0, ErrEmptyResponse
	}
	return text,
		p.tokenCounter.GetTokenCount(promptTokens, prompt),
		p.tokenCounter.GetTokenCount(outTokens, text),
		nil
}

func (p *openAIProvider) buildChatCompletionRequest(prompt string, options RequestOptions) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if options.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: options.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:    options.Model,
		Messages: messages,
	}
	if options.Temperature != nil {
		req.Temperature = float32(ClampFloat64(*options.Temperature, MinTemperature, MaxTemperature))
	}
	if options.MaxTokens > 0 {
		req.MaxTokens = options.MaxTokens
	}
	if options.TopP != nil {
		req.TopP = float32(*options.TopP)
	}
	return req
}

func (p *openAIProvider) handleError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = "unknown error"
		}
		return p.errorClassifier.ClassifyHTTPError(apiErr.HTTPStatusCode, message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return p.errorClassifier.ClassifyHTTPError(reqErr.HTTPStatusCode, "request failed", err)
	}

	return NewProviderError(p.name, ErrorTypeNetwork, 0, "request failed", err)
}
