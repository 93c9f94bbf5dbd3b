package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Common domain errors that can occur during a deliberation turn.
var (
	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrStageExhausted indicates that every model queried in a stage failed.
	ErrStageExhausted = errors.New("stage exhausted")

	// ErrChairmanFailed indicates that the single Stage 3 chairman query failed.
	ErrChairmanFailed = errors.New("chairman query failed")

	// ErrEmptyQuestion indicates that a council query was built without a question.
	ErrEmptyQuestion = errors.New("question cannot be empty")

	// ErrUnknownExecutionMode indicates an execution mode string that is not recognized.
	ErrUnknownExecutionMode = errors.New("unknown execution mode")
)

// StageExhaustionError reports a stage in which no model produced a usable
// result. It is fatal for the turn.
type StageExhaustionError struct {
	// Stage is the 1-based stage number that failed.
	Stage int

	// Failures maps each queried model to the error text recorded for it.
	Failures map[string]string
}

// Error implements the error interface for StageExhaustionError.
func (e *StageExhaustionError) Error() string {
	models := make([]string, 0, len(e.Failures))
	for m := range e.Failures {
		models = append(models, m)
	}
	sort.Strings(models)

	parts := make([]string, 0, len(models))
	for _, m := range models {
		parts = append(parts, fmt.Sprintf("%s: %s", m, e.Failures[m]))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("stage %d exhausted: no successful responses", e.Stage)
	}
	return fmt.Sprintf("stage %d exhausted: all models failed (%s)", e.Stage, strings.Join(parts, "; "))
}

// Unwrap returns ErrStageExhausted so callers can match with errors.Is.
func (e *StageExhaustionError) Unwrap() error { return ErrStageExhausted }

// NewStageExhaustionError creates a StageExhaustionError for the given stage.
func NewStageExhaustionError(stage int, failures map[string]string) *StageExhaustionError {
	if failures == nil {
		failures = make(map[string]string)
	}
	return &StageExhaustionError{Stage: stage, Failures: failures}
}

// ChairmanError wraps the failure of the Stage 3 synthesis query.
type ChairmanError struct {
	// Model is the chairman model identifier.
	Model string

	// Err is the underlying gateway error.
	Err error
}

// Error implements the error interface for ChairmanError.
func (e *ChairmanError) Error() string {
	return fmt.Sprintf("chairman %s failed: %v", e.Model, e.Err)
}

// Unwrap exposes both the ErrChairmanFailed sentinel and the gateway error.
func (e *ChairmanError) Unwrap() []error { return []error{ErrChairmanFailed, e.Err} }

// NewChairmanError creates a new ChairmanError.
func NewChairmanError(model string, err error) *ChairmanError {
	return &ChairmanError{Model: model, Err: err}
}

// ConfigurationError describes a council definition or prompt template that
// cannot be used. It is detected before any model is queried.
type ConfigurationError struct {
	// Field names the offending setting.
	Field string

	// Reason explains what is wrong with it.
	Reason string
}

// Error implements the error interface for ConfigurationError.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Unwrap returns ErrInvalidConfiguration.
func (e *ConfigurationError) Unwrap() error { return ErrInvalidConfiguration }

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(field, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason}
}
