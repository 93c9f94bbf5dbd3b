// Package testutils provides a scripted ports.ModelGateway for pipeline
// tests.
package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/go-council/internal/ports"
)

// MockResponse scripts the gateway's answer for prompts sent to a model.
type MockResponse struct {
	// Model restricts the response to one model. Empty matches any model.
	Model string
	// Pattern must appear in the prompt. Empty matches any prompt.
	Pattern string
	// Response is the text returned on a match.
	Response string
	// Err, if set, is returned instead of Response.
	Err error
}

// Call records one Query invocation.
type Call struct {
	Model       string
	Prompt      string
	Temperature *float64
	Streaming   bool
	Timeout     time.Duration
	At          time.Time
}

// MockGateway implements ports.ModelGateway with deterministic, scripted
// answers. Responses are matched in the order they were added; the first
// match wins. Unmatched prompts get a fixed answer naming the model.
type MockGateway struct {
	mu        sync.Mutex
	responses []MockResponse
	delays    map[string]time.Duration
	calls     []Call
}

var _ ports.ModelGateway = (*MockGateway)(nil)

// NewMockGateway creates a gateway with no scripted responses.
func NewMockGateway() *MockGateway {
	return &MockGateway{delays: make(map[string]time.Duration)}
}

// AddResponse appends a scripted response and returns the gateway for
// chaining.
func (m *MockGateway) AddResponse(r MockResponse) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, r)
	return m
}

// SetDelay makes every call to model wait d before answering. The wait
// ends early when the caller's context is done.
func (m *MockGateway) SetDelay(model string, d time.Duration) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[model] = d
	return m
}

// Query implements ports.ModelGateway.
func (m *MockGateway) Query(ctx context.Context, model, prompt string, opts ports.QueryOptions) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{
		Model:       model,
		Prompt:      prompt,
		Temperature: opts.Temperature,
		Streaming:   opts.OnChunk != nil,
		Timeout:     opts.Timeout,
		At:          time.Now(),
	})
	delay := m.delays[model]
	resp, matched := m.match(model, prompt)
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if !matched {
		resp = MockResponse{Response: fmt.Sprintf("answer from %s", model)}
	}
	if resp.Err != nil {
		return "", resp.Err
	}
	if opts.OnChunk != nil {
		for _, chunk := range strings.SplitAfter(resp.Response, " ") {
			opts.OnChunk(chunk)
		}
	}
	return resp.Response, nil
}

func (m *MockGateway) match(model, prompt string) (MockResponse, bool) {
	for _, r := range m.responses {
		if r.Model != "" && r.Model != model {
			continue
		}
		if r.Pattern != "" && !strings.Contains(prompt, r.Pattern) {
			continue
		}
		return r, true
	}
	return MockResponse{}, false
}

// Calls returns every recorded call in invocation order.
func (m *MockGateway) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount returns the number of calls made.
func (m *MockGateway) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// CallsMatching returns the calls whose prompt contains pattern.
func (m *MockGateway) CallsMatching(pattern string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if strings.Contains(c.Prompt, pattern) {
			out = append(out, c)
		}
	}
	return out
}

// CallsFor returns the calls made to model.
func (m *MockGateway) CallsFor(model string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if c.Model == model {
			out = append(out, c)
		}
	}
	return out
}
