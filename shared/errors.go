package shared

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================
//
// Every error surfaced by the core carries a stable machine code, a human
// message, and optional details. Codes mirror the failure taxonomy plus a
// boundary layer for request validation, limits, auth, and cancellation.
//
// =============================================================================

// ErrorCode is a stable machine-readable error code
type ErrorCode string

const (
	// Boundary-layer codes
	ErrCodeInvalidRequest ErrorCode = "invalid_request"
	ErrCodeLimitExceeded  ErrorCode = "limit_exceeded"
	ErrCodeUnauthorized   ErrorCode = "unauthorized"
	ErrCodeCancelled      ErrorCode = "cancelled"

	// Failure-taxonomy codes (mirror FailureCategory)
	ErrCodeAuthRequired      ErrorCode = "auth_required"
	ErrCodeRateLimited       ErrorCode = "rate_limited"
	ErrCodeWrongEndpoint     ErrorCode = "wrong_endpoint"
	ErrCodeServerError       ErrorCode = "server_error"
	ErrCodeTimeout           ErrorCode = "timeout"
	ErrCodeParseError        ErrorCode = "parse_error"
	ErrCodeValidationFailed  ErrorCode = "validation_failed"
	ErrCodeContentTooShort   ErrorCode = "content_too_short"
	ErrCodeNetworkError      ErrorCode = "network_error"
	ErrCodeUnknown           ErrorCode = "unknown"
	ErrCodeRateLimitExceeded ErrorCode = "rate_limit_exceeded"
)

// CoreError is the error type surfaced by engine operations
type CoreError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`

	// Wrapped is the underlying error, if any (not serialized)
	Wrapped error `json:"-"`
}

// Error implements the error interface
func (e *CoreError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped error for errors.Is/As
func (e *CoreError) Unwrap() error {
	return e.Wrapped
}

// NewError creates a CoreError with the given code and message
func NewError(code ErrorCode, message string) *CoreError {
	return &CoreError{Code: code, Message: message}
}

// NewErrorf creates a CoreError with a formatted message
func NewErrorf(code ErrorCode, format string, args ...interface{}) *CoreError {
	return &CoreError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps an underlying error with a stable code
func WrapError(code ErrorCode, message string, err error) *CoreError {
	return &CoreError{Code: code, Message: message, Wrapped: err}
}

// WithDetail attaches a detail key/value and returns the error for chaining
func (e *CoreError) WithDetail(key string, value interface{}) *CoreError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrorCodeFor maps a failure category to its surfaced error code
func ErrorCodeFor(category FailureCategory) ErrorCode {
	switch category {
	case FailureAuthRequired:
		return ErrCodeAuthRequired
	case FailureRateLimited:
		return ErrCodeRateLimited
	case FailureWrongEndpoint:
		return ErrCodeWrongEndpoint
	case FailureServerError:
		return ErrCodeServerError
	case FailureTimeout:
		return ErrCodeTimeout
	case FailureParseError:
		return ErrCodeParseError
	case FailureValidationFailed:
		return ErrCodeValidationFailed
	case FailureContentTooShort:
		return ErrCodeContentTooShort
	case FailureNetworkError:
		return ErrCodeNetworkError
	default:
		return ErrCodeUnknown
	}
}

// CategoryForCode maps a surfaced error code back to its failure category.
// Boundary-layer codes carry no category and map to unknown.
func CategoryForCode(code ErrorCode) FailureCategory {
	switch code {
	case ErrCodeAuthRequired:
		return FailureAuthRequired
	case ErrCodeRateLimited:
		return FailureRateLimited
	case ErrCodeWrongEndpoint:
		return FailureWrongEndpoint
	case ErrCodeServerError:
		return FailureServerError
	case ErrCodeTimeout:
		return FailureTimeout
	case ErrCodeParseError:
		return FailureParseError
	case ErrCodeValidationFailed:
		return FailureValidationFailed
	case ErrCodeContentTooShort:
		return FailureContentTooShort
	case ErrCodeNetworkError:
		return FailureNetworkError
	default:
		return FailureUnknown
	}
}

// AsCoreError extracts a CoreError from an error chain, or wraps the error
// under the unknown code when none is present.
func AsCoreError(err error) *CoreError {
	if err == nil {
		return nil
	}
	var coreErr *CoreError
	if errors.As(err, &coreErr) {
		return coreErr
	}
	return &CoreError{Code: ErrCodeUnknown, Message: err.Error(), Wrapped: err}
}

// CodeOf returns the stable code of an error, or unknown
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return AsCoreError(err).Code
}
