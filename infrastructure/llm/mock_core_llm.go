package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// errSimulated is returned by MockCoreLLM when a failure is scripted without
// an explicit Error.
var errSimulated = errors.New("simulated failure")

// MockCoreLLM is a scriptable CoreLLM for middleware and gateway tests.
type MockCoreLLM struct {
	mu sync.Mutex

	Response      string
	Chunks        []string
	TokensIn      int
	TokensOut     int
	Error         error
	Model         string
	ResponseDelay time.Duration

	// FailUntilAttempt fails the first N calls, then succeeds.
	FailUntilAttempt int
	// PartialChunks is how many Chunks a failing call streams before it
	// returns its error.
	PartialChunks int

	CallCount      int
	LastPrompt     string
	LastOpts       map[string]any
	CallTimestamps []time.Time
}

// NewMockCoreLLM creates a mock that answers "test response".
func NewMockCoreLLM() *MockCoreLLM {
	return &MockCoreLLM{
		Response:  "test response",
		TokensIn:  10,
		TokensOut: 20,
		Model:     "test/model",
	}
}

// DoRequest records the call and replays the scripted behavior. When Chunks
// is set and the options carry an "on_chunk" callback, each chunk is emitted
// before the concatenated response is returned.
func (m *MockCoreLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	m.mu.Lock()
	m.CallCount++
	call := m.CallCount
	m.LastPrompt = prompt
	m.LastOpts = opts
	m.CallTimestamps = append(m.CallTimestamps, time.Now())
	delay := m.ResponseDelay
	failUntil, scriptedErr, partial := m.FailUntilAttempt, m.Error, m.PartialChunks
	response, chunks := m.Response, append([]string(nil), m.Chunks...)
	tokensIn, tokensOut := m.TokensIn, m.TokensOut
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", 0, 0, ctx.Err()
		}
	}

	onChunk := ExtractChunkFunc(opts)
	if failUntil > 0 {
		if call <= failUntil {
			if onChunk != nil {
				for _, c := range chunks[:min(partial, len(chunks))] {
					onChunk(c)
				}
			}
			if scriptedErr != nil {
				return "", 0, 0, scriptedErr
			}
			return "", 0, 0, errSimulated
		}
	} else if scriptedErr != nil {
		return "", 0, 0, scriptedErr
	}

	if onChunk != nil && len(chunks) > 0 {
		response = ""
		for _, c := range chunks {
			onChunk(c)
			response += c
		}
	}

	return response, tokensIn, tokensOut, nil
}

// GetModel returns the configured model name.
func (m *MockCoreLLM) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Model
}

// SetModel updates the model name.
func (m *MockCoreLLM) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Model = model
}

// GetCallCount returns the number of times DoRequest was called.
func (m *MockCoreLLM) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// GetLastOpts returns the options passed to the most recent call.
func (m *MockCoreLLM) GetLastOpts() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastOpts
}
