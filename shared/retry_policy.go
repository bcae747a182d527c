package shared

import (
	"math"
	"math/rand"
	"time"
)

// =============================================================================
// RETRY ENGINE
// =============================================================================
//
// This file maps failure categories to retry strategies and computes
// exponential-backoff delays with jitter. The engine never sleeps itself:
// it returns a Decision and the caller drives the clock, so cancellation
// stays cooperative.
//
// =============================================================================

// RetryStrategy names the action to take after a classified failure
type RetryStrategy string

const (
	// StrategyNone aborts immediately; the failure is surfaced to the caller
	StrategyNone RetryStrategy = "none"

	// StrategyBackoff retries the same tier after an exponential delay
	StrategyBackoff RetryStrategy = "backoff"

	// StrategyIncreaseTimeout retries with an extended timeout budget
	StrategyIncreaseTimeout RetryStrategy = "increase_timeout"

	// StrategyTryAlternative escalates to the next tier (or fallback pattern)
	StrategyTryAlternative RetryStrategy = "try_alternative"
)

// RetryPolicy defines how retries are executed for one failure category
type RetryPolicy struct {
	// Category this policy applies to
	Category FailureCategory `json:"category"`

	// Strategy is the action taken on failure
	Strategy RetryStrategy `json:"strategy"`

	// InitialDelay is the base delay before the first retry
	InitialDelay time.Duration `json:"initialDelay"`

	// MaxDelay caps the delay regardless of backoff calculation
	MaxDelay time.Duration `json:"maxDelay"`

	// MaxRetries is the maximum number of retries (not counting the first attempt)
	MaxRetries int `json:"maxRetries"`

	// Multiplier is the exponential backoff multiplier
	Multiplier float64 `json:"multiplier"`

	// JitterFactor randomizes the delay by +/- this fraction
	JitterFactor float64 `json:"jitterFactor"`
}

// =============================================================================
// PER-CATEGORY POLICIES
// =============================================================================

var policyMap = map[FailureCategory]RetryPolicy{
	FailureAuthRequired: {
		Category: FailureAuthRequired,
		Strategy: StrategyNone,
	},
	FailureRateLimited: {
		Category:     FailureRateLimited,
		Strategy:     StrategyBackoff,
		InitialDelay: 60 * time.Second,
		MaxDelay:     5 * time.Minute,
		MaxRetries:   3,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	},
	FailureWrongEndpoint: {
		Category: FailureWrongEndpoint,
		Strategy: StrategyNone,
	},
	FailureServerError: {
		Category:     FailureServerError,
		Strategy:     StrategyBackoff,
		InitialDelay: 5 * time.Second,
		MaxDelay:     1 * time.Minute,
		MaxRetries:   2,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	},
	FailureTimeout: {
		Category:     FailureTimeout,
		Strategy:     StrategyIncreaseTimeout,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		MaxRetries:   2,
		Multiplier:   1.5,
		JitterFactor: 0.3,
	},
	FailureParseError: {
		Category: FailureParseError,
		Strategy: StrategyTryAlternative,
	},
	FailureValidationFailed: {
		Category: FailureValidationFailed,
		Strategy: StrategyTryAlternative,
	},
	FailureContentTooShort: {
		Category: FailureContentTooShort,
		Strategy: StrategyTryAlternative,
	},
	FailureNetworkError: {
		Category:     FailureNetworkError,
		Strategy:     StrategyBackoff,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		MaxRetries:   3,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	},
	FailureUnknown: {
		Category: FailureUnknown,
		Strategy: StrategyTryAlternative,
	},
}

// PolicyFor returns the retry policy for a failure category.
// Unrecognized categories fall back to the unknown policy.
func PolicyFor(category FailureCategory) RetryPolicy {
	policy, exists := policyMap[category]
	if !exists {
		return policyMap[FailureUnknown]
	}
	return policy
}

// =============================================================================
// DECISIONS
// =============================================================================

// Decision is the outcome of consulting the retry engine after a failure
type Decision struct {
	// Strategy echoes the policy's strategy
	Strategy RetryStrategy `json:"strategy"`

	// Retry is true when the caller should retry the same tier after Delay
	Retry bool `json:"retry"`

	// Delay is how long the caller must wait before retrying.
	// The engine never sleeps; the caller observes cancellation.
	Delay time.Duration `json:"delay"`
}

// Decide evaluates a classified failure at a given attempt number.
// attempt is 1-indexed: attempt 1 is the first retry being considered.
func Decide(category FailureCategory, attempt int) Decision {
	policy := PolicyFor(category)

	switch policy.Strategy {
	case StrategyNone, StrategyTryAlternative:
		return Decision{Strategy: policy.Strategy}
	}

	if attempt > policy.MaxRetries {
		return Decision{Strategy: StrategyNone}
	}

	return Decision{
		Strategy: policy.Strategy,
		Retry:    true,
		Delay:    policy.Delay(attempt),
	}
}

// Delay computes the backoff delay for a given retry attempt (1-indexed),
// exponential with the policy multiplier, clamped to MaxDelay, with
// +/- JitterFactor jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.InitialDelay <= 0 {
		return 0
	}

	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))

	if p.MaxDelay > 0 && time.Duration(delay) > p.MaxDelay {
		delay = float64(p.MaxDelay)
	}

	if p.JitterFactor > 0 && delay > 0 {
		jitterRange := delay * p.JitterFactor
		jitter := (rand.Float64()*2 - 1) * jitterRange
		delay += jitter
		if delay < 0 {
			delay = 0
		}
	}

	return time.Duration(delay)
}
