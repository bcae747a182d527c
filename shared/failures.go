package shared

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// =============================================================================
// FAILURE TAXONOMY
// =============================================================================
//
// Every fetch or pattern-application failure is classified into one of the
// categories below. The category drives the retry strategy, anti-pattern
// creation, and pattern metrics bookkeeping.
//
// =============================================================================

// FailureCategory classifies a fetch or pattern-application failure
type FailureCategory string

const (
	FailureAuthRequired     FailureCategory = "auth_required"
	FailureRateLimited      FailureCategory = "rate_limited"
	FailureWrongEndpoint    FailureCategory = "wrong_endpoint"
	FailureServerError      FailureCategory = "server_error"
	FailureTimeout          FailureCategory = "timeout"
	FailureParseError       FailureCategory = "parse_error"
	FailureValidationFailed FailureCategory = "validation_failed"
	FailureContentTooShort  FailureCategory = "content_too_short"
	FailureNetworkError     FailureCategory = "network_error"
	FailureUnknown          FailureCategory = "unknown"
)

// AllFailureCategories lists every category, for iteration in stats code
var AllFailureCategories = []FailureCategory{
	FailureAuthRequired,
	FailureRateLimited,
	FailureWrongEndpoint,
	FailureServerError,
	FailureTimeout,
	FailureParseError,
	FailureValidationFailed,
	FailureContentTooShort,
	FailureNetworkError,
	FailureUnknown,
}

// FailureRecord captures a single classified failure
type FailureRecord struct {
	Timestamp      time.Time       `json:"timestamp"`
	Category       FailureCategory `json:"category"`
	StatusCode     int             `json:"statusCode,omitempty"`
	Message        string          `json:"message"`
	Domain         string          `json:"domain"`
	AttemptedURL   string          `json:"attemptedUrl"`
	PatternId      string          `json:"patternId,omitempty"`
	ResponseTimeMs int64           `json:"responseTimeMs,omitempty"`
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// ClassifyStatus maps an HTTP status code to a failure category.
// Status 403 is treated as auth_required at the core level; geo-block
// detection is a separate signal outside the core.
func ClassifyStatus(status int) FailureCategory {
	switch {
	case status == 401 || status == 403 || status == 407:
		return FailureAuthRequired
	case status == 429:
		return FailureRateLimited
	case status == 404 || status == 405 || status == 410:
		return FailureWrongEndpoint
	case status >= 500:
		return FailureServerError
	case status == 408:
		return FailureTimeout
	default:
		return FailureUnknown
	}
}

// ClassifyError maps a transport-level error to a failure category
func ClassifyError(err error) FailureCategory {
	if err == nil {
		return FailureUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailureTimeout
		}
		return FailureNetworkError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return FailureTimeout
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "eof"):
		return FailureNetworkError
	case strings.Contains(msg, "parse") || strings.Contains(msg, "unmarshal") || strings.Contains(msg, "invalid json"):
		return FailureParseError
	default:
		return FailureUnknown
	}
}

// ClassifyFailure classifies a failed attempt given whichever signals are
// available. A non-zero status takes precedence over the error.
func ClassifyFailure(status int, err error) FailureCategory {
	if status > 0 && (status < 200 || status >= 300) {
		return ClassifyStatus(status)
	}
	return ClassifyError(err)
}

// IsRetryable reports whether the category has a backoff or timeout-extension
// strategy; try_alternative and none are not retries of the same attempt.
func (c FailureCategory) IsRetryable() bool {
	switch c {
	case FailureRateLimited, FailureServerError, FailureTimeout, FailureNetworkError:
		return true
	default:
		return false
	}
}
