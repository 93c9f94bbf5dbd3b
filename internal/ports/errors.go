package ports

import (
	"errors"
	"fmt"
)

// Sentinels a ModelGateway wraps its failures in, so callers can react to
// the kind of failure without knowing which provider served the model.
var (
	ErrTokenLimitExceeded   = errors.New("prompt exceeds the model's context window")
	ErrRateLimited          = errors.New("rate limited")
	ErrServiceUnavailable   = errors.New("service unavailable")
	ErrTimeout              = errors.New("operation timed out")
	ErrInvalidResponse      = errors.New("invalid response")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrConfigNotFound       = errors.New("configuration not found")
	ErrUnknownModel         = errors.New("unknown model")
)

// LLMError is the error a ModelGateway returns for one failed model call.
// Its text becomes the per-model error recorded on a stage entry.
type LLMError struct {
	Model     string
	Operation string
	Err       error
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Model, e.Operation, e.Err)
}

func (e *LLMError) Unwrap() error { return e.Err }

// NewLLMError creates an LLMError.
func NewLLMError(model, operation string, err error) *LLMError {
	return &LLMError{Model: model, Operation: operation, Err: err}
}

// ConfigError reports a missing or unusable configuration key, such as an
// API key environment variable.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a ConfigError.
func NewConfigError(key string, err error) *ConfigError {
	return &ConfigError{Key: key, Err: err}
}
