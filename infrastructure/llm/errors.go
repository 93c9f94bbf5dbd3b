package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ahrav/go-council/internal/ports"
)

var (
	ErrEmptyAPIKey      = errors.New("API key cannot be empty")
	ErrEmptyResponse    = errors.New("empty response from API")
	ErrNoResponseChoice = errors.New("no response choices returned")
)

// ErrorType buckets provider failures so the retry middleware and the
// gateway can treat them alike whichever SDK produced them.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeAuthentication
	ErrorTypeRateLimit
	ErrorTypeBadRequest
	ErrorTypeNotFound
	ErrorTypeServerError
	ErrorTypeContentPolicy
	ErrorTypeNetwork
	ErrorTypeTimeout
	// ErrorTypeTokenLimit marks a prompt longer than the model accepts.
	// Resending the same prompt cannot succeed.
	ErrorTypeTokenLimit
)

var errorTypeNames = map[ErrorType]string{
	ErrorTypeAuthentication: "authentication",
	ErrorTypeRateLimit:      "rate_limit",
	ErrorTypeBadRequest:     "bad_request",
	ErrorTypeNotFound:       "not_found",
	ErrorTypeServerError:    "server_error",
	ErrorTypeContentPolicy:  "content_policy",
	ErrorTypeNetwork:        "network",
	ErrorTypeTimeout:        "timeout",
	ErrorTypeTokenLimit:     "token_limit",
}

// ProviderError is a classified failure from one provider call.
type ProviderError struct {
	Type         ErrorType
	Provider     string
	StatusCode   int
	Message      string
	WrappedError error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " HTTP %d", e.StatusCode)
	}
	if name, ok := errorTypeNames[e.Type]; ok {
		fmt.Fprintf(&b, " [%s]", name)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.WrappedError != nil {
		fmt.Fprintf(&b, ": %v", e.WrappedError)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.WrappedError }

// IsRetryable reports whether the failure is transient.
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeNetwork, ErrorTypeTimeout:
		return true
	}
	return false
}

// NewProviderError creates a ProviderError.
func NewProviderError(provider string, errType ErrorType, statusCode int, message string, wrapped error) *ProviderError {
	return &ProviderError{
		Type:         errType,
		Provider:     provider,
		StatusCode:   statusCode,
		Message:      message,
		WrappedError: wrapped,
	}
}

// ErrorClassifier turns one provider's SDK errors into ProviderErrors.
type ErrorClassifier struct {
	Provider string
}

// tokenLimitPhrases are lowercase fragments the supported providers use when
// a prompt does not fit the model's context window.
var tokenLimitPhrases = []string{
	"context length",
	"context_length",
	"context window",
	"maximum context",
	"too many tokens",
	"token limit",
	"prompt is too long",
	"input token count",
}

func isTokenLimitMessage(message string, err error) bool {
	text := strings.ToLower(message)
	if err != nil {
		text += " " + strings.ToLower(err.Error())
	}
	for _, p := range tokenLimitPhrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// ClassifyHTTPError classifies a failed call by its HTTP status. Providers
// report an oversized prompt as 400 or 413, so both are checked for the
// context-window wording before falling back to a plain bad request.
func (ec *ErrorClassifier) ClassifyHTTPError(statusCode int, message string, err error) *ProviderError {
	errType := ErrorTypeUnknown
	switch {
	case statusCode == 401 || statusCode == 403:
		errType = ErrorTypeAuthentication
		message = ec.Provider + " authentication failed"
	case statusCode == 429:
		errType = ErrorTypeRateLimit
		message = ec.Provider + " rate limit exceeded"
	case statusCode == 413:
		errType = ErrorTypeTokenLimit
	case statusCode == 404:
		errType = ErrorTypeNotFound
	case statusCode >= 400 && statusCode < 500:
		errType = ErrorTypeBadRequest
		if isTokenLimitMessage(message, err) {
			errType = ErrorTypeTokenLimit
		}
	case statusCode >= 500:
		errType = ErrorTypeServerError
	}
	return NewProviderError(ec.Provider, errType, statusCode, message, err)
}

// ClassifyContextError classifies a context failure. Cancellation stays
// Unknown so it is never retried.
func (ec *ErrorClassifier) ClassifyContextError(err error) *ProviderError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderError(ec.Provider, ErrorTypeTimeout, 0, "context deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return NewProviderError(ec.Provider, ErrorTypeUnknown, 0, "request canceled", err)
	default:
		return NewProviderError(ec.Provider, ErrorTypeUnknown, 0, "", err)
	}
}

// PortsSentinel maps err onto the ports-level sentinel that best describes
// it, or nil when no sentinel applies.
func PortsSentinel(err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Type {
		case ErrorTypeAuthentication:
			return ports.ErrAuthenticationFailed
		case ErrorTypeRateLimit:
			return ports.ErrRateLimited
		case ErrorTypeServerError, ErrorTypeNetwork:
			return ports.ErrServiceUnavailable
		case ErrorTypeTimeout:
			return ports.ErrTimeout
		case ErrorTypeNotFound:
			return ports.ErrUnknownModel
		case ErrorTypeTokenLimit:
			return ports.ErrTokenLimitExceeded
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ports.ErrTimeout
	case errors.Is(err, ErrCircuitOpen):
		return ports.ErrServiceUnavailable
	case errors.Is(err, ErrEmptyResponse), errors.Is(err, ErrNoResponseChoice):
		return ports.ErrInvalidResponse
	}
	return nil
}
