package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Components MUST use these instead of hardcoded strings.
const (
	// Validation: malformed arguments. Fatal to the call, never to the tick.
	ErrCodeValidationInvalidInput ErrorCode = "validation_invalid_input"
	ErrCodeValidationInvalidTrip  ErrorCode = "validation_invalid_trip"
	ErrCodeValidationInvalidToken ErrorCode = "validation_invalid_token"

	// Policy skips. Not failures; they select a reschedule branch.
	ErrCodePolicyNotEntitled    ErrorCode = "policy_not_entitled"
	ErrCodePolicyCooldownActive ErrorCode = "policy_cooldown_active"

	// Push delivery.
	ErrCodePushNoToken      ErrorCode = "push_no_token"
	ErrCodePushInvalidToken ErrorCode = "push_invalid_token"

	// Not Found
	ErrCodeNotFoundTrip ErrorCode = "not_found_trip"

	// Internal/Upstream
	ErrCodeInternalDB             ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected     ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamNoForecastData ErrorCode = "upstream_no_forecast_data"
	ErrCodeUpstreamForecast       ErrorCode = "upstream_forecast_unavailable"
	ErrCodeUpstreamDeliveryFailed ErrorCode = "upstream_delivery_failed"
	ErrCodeUpstreamUnavailable    ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited    ErrorCode = "upstream_rate_limited"
)

// IsTransient reports whether an error with this code is expected to clear
// on its own (upstream outages, missing data) as opposed to a condition that
// will not self-correct without operator or user action.
func (c ErrorCode) IsTransient() bool {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "upstream_"):
		return true
	case c == ErrCodeInternalDB:
		return true
	default:
		return false
	}
}

// AppError is the standard application error type used throughout the module.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// NewInvalidInput builds the InvalidInput error raised by the optimizer.
// The violated field is carried in Details["field"].
func NewInvalidInput(field, message string) *AppError {
	return NewAppErrorWithDetails(
		ErrCodeValidationInvalidInput,
		fmt.Sprintf("%s: %s", field, message),
		nil,
		map[string]any{"field": field},
	)
}

// CodeOf extracts the ErrorCode from an error chain. It returns
// ErrCodeInternalUnexpected for errors that are not AppErrors and the empty
// code for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}

// HasCode reports whether any AppError in the error tree carries the given
// code, including errors combined with errors.Join.
func HasCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	if appErr, ok := err.(*AppError); ok && appErr.Code == code {
		return true
	}
	switch x := err.(type) {
	case interface{ Unwrap() []error }:
		for _, e := range x.Unwrap() {
			if HasCode(e, code) {
				return true
			}
		}
	case interface{ Unwrap() error }:
		return HasCode(x.Unwrap(), code)
	}
	return false
}
