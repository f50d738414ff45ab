package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the core.
type ErrorCode string

// State machine error codes
const (
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrReplayDivergence  ErrorCode = "REPLAY_DIVERGENCE"
)

// Admission error codes
const (
	ErrBudgetDenied   ErrorCode = "BUDGET_DENIED"
	ErrTenantDisabled ErrorCode = "TENANT_DISABLED"
)

// Safety error codes
const (
	ErrSafetyBlocked ErrorCode = "SAFETY_BLOCKED"
)

// Pipeline error codes
const (
	ErrStageLatencyBreach ErrorCode = "STAGE_LATENCY_BREACH"
	ErrUpstreamFailure    ErrorCode = "UPSTREAM_FAILURE"
	ErrTurnInterrupted    ErrorCode = "TURN_INTERRUPTED"
	ErrSessionClosed      ErrorCode = "SESSION_CLOSED"
)

// Configuration error codes
const (
	ErrConfigInvalid ErrorCode = "CONFIG_INVALID"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Stage     string    `json:"stage,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithStage records the pipeline stage the error originated from.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError extracts a *Error from err, unwrapping as needed.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	if e, ok := AsError(err); ok {
		return e.Code == code
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// NewBudgetDeniedError builds the denial returned when a tenant would
// exceed its daily token limit.
func NewBudgetDeniedError(tier TenantTier, requested int, limit int64) *Error {
	return &Error{
		Code:    ErrBudgetDenied,
		Message: fmt.Sprintf("tier %s: %d tokens requested would exceed daily limit %d", tier, requested, limit),
	}
}

// NewSafetyBlockedError builds the error surfaced when a safety verdict
// blocks a payload. rule identifies the first matching rule.
func NewSafetyBlockedError(rule, reason string) *Error {
	return &Error{
		Code:    ErrSafetyBlocked,
		Message: fmt.Sprintf("blocked by rule %q: %s", rule, reason),
	}
}

// NewUpstreamFailureError wraps a recognizer/generator/synthesizer failure.
// Upstream failures are retried once before the turn escalates.
func NewUpstreamFailureError(stage string, cause error) *Error {
	return &Error{
		Code:      ErrUpstreamFailure,
		Message:   "upstream service failure",
		Stage:     stage,
		Retryable: true,
		Cause:     cause,
	}
}
