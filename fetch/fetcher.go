// Package fetch implements the tiered fetcher: a learned-pattern tier, a
// static HTTP tier, and a rendered-browser tier, with failure-driven
// escalation and post-fetch verification.
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"llmb/patterns"
	"llmb/shared"
	"llmb/verify"
)

// =============================================================================
// TIERED FETCHER
// =============================================================================
//
// Ordering policy: when the registry's top match has confidence >= 0.8 and
// no active anti-pattern, the intelligence tier goes first. Otherwise the
// fetcher starts at the cheapest generally-applicable tier and escalates on
// try_alternative decisions, up to the request's max cost tier.
//
// =============================================================================

// TierClient executes a fetch at one tier
type TierClient interface {
	Tier() shared.Tier
	Fetch(ctx context.Context, rawURL string, opts shared.FetchOptions) (*shared.FetchResult, error)
}

// intelligenceConfidenceFloor gates pattern-first ordering
const intelligenceConfidenceFloor = 0.8

// Config tunes the tiered fetcher
type Config struct {
	// DefaultMaxCostTier caps escalation when the request carries no cap
	DefaultMaxCostTier shared.Tier
}

// TieredFetcher selects tiers, retries, escalates, and verifies
type TieredFetcher struct {
	clients  map[shared.Tier]TierClient
	registry *patterns.Registry
	verifier *verify.Pipeline
	config   Config
	logger   *zap.Logger

	// sleep is ctx-aware and injectable for tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTieredFetcher wires the tier clients. registry may be nil (no
// intelligence ordering); verifier may be nil (verification skipped).
func NewTieredFetcher(clients []TierClient, registry *patterns.Registry, verifier *verify.Pipeline, config Config, logger *zap.Logger) *TieredFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DefaultMaxCostTier == "" {
		config.DefaultMaxCostTier = shared.TierPlaywright
	}

	byTier := make(map[shared.Tier]TierClient, len(clients))
	for _, c := range clients {
		byTier[c.Tier()] = c
	}

	return &TieredFetcher{
		clients:  byTier,
		registry: registry,
		verifier: verifier,
		config:   config,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// fetchState carries the per-request bookkeeping across tier attempts
type fetchState struct {
	rawURL string
	domain string
	opts   shared.FetchOptions

	maxTier        shared.Tier
	tiersAttempted []shared.Tier
	trace          []shared.DecisionTraceEntry
	start          time.Time

	// timeoutFactor grows on increase_timeout decisions
	timeoutFactor int64
}

// Fetch runs the tier ladder for one URL
func (f *TieredFetcher) Fetch(ctx context.Context, rawURL string, opts shared.FetchOptions) (*shared.FetchResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, shared.NewErrorf(shared.ErrCodeInvalidRequest, "parse url: %v", err)
	}

	state := &fetchState{
		rawURL:        rawURL,
		domain:        strings.TrimPrefix(strings.ToLower(u.Hostname()), "www."),
		opts:          opts,
		maxTier:       opts.MaxCostTier,
		start:         time.Now(),
		timeoutFactor: 1,
	}
	if state.maxTier == "" {
		state.maxTier = f.config.DefaultMaxCostTier
	}

	tier := f.firstTier(state)
	var lastErr error

	for tier != "" {
		result, escalate, err := f.attemptTier(ctx, state, tier)
		if result != nil {
			f.finish(state, result, tier)
			return result, nil
		}
		if err != nil {
			lastErr = err
		}
		if !escalate {
			break
		}
		tier = f.nextAllowedTier(state, tier)
		if tier != "" {
			f.traceStep(state, tier, "escalate", "trying next tier", "", 0)
		}
	}

	if lastErr == nil {
		lastErr = shared.NewError(shared.ErrCodeUnknown, "all permitted tiers exhausted")
	}
	return nil, lastErr
}

// firstTier applies the ordering policy
func (f *TieredFetcher) firstTier(state *fetchState) shared.Tier {
	if f.registry != nil && f.clients[shared.TierIntelligence] != nil {
		if matches := f.registry.Match(state.rawURL); len(matches) > 0 &&
			matches[0].Confidence >= intelligenceConfidenceFloor {
			f.traceStep(state, shared.TierIntelligence, "select",
				fmt.Sprintf("pattern %s confidence %.2f", matches[0].Pattern.Id, matches[0].Confidence), "", 0)
			return shared.TierIntelligence
		}
	}

	// No trusted pattern: cheapest generally-applicable tier within the cap
	start := shared.TierLightweight
	if shared.TierOrder(state.maxTier) < shared.TierOrder(start) {
		start = state.maxTier
	}
	for t := start; t != ""; t = shared.NextTier(t) {
		if f.clients[t] != nil && shared.TierOrder(t) <= shared.TierOrder(state.maxTier) {
			return t
		}
	}
	return ""
}

// nextAllowedTier walks up the ladder past missing clients
func (f *TieredFetcher) nextAllowedTier(state *fetchState, current shared.Tier) shared.Tier {
	for t := shared.NextTier(current); t != ""; t = shared.NextTier(t) {
		if shared.TierOrder(t) > shared.TierOrder(state.maxTier) {
			return ""
		}
		if f.clients[t] != nil {
			return t
		}
	}
	return ""
}

// attemptTier runs one tier with its retry loop. Returns a verified result,
// or escalate=true when the ladder should move on, or a terminal error.
func (f *TieredFetcher) attemptTier(ctx context.Context, state *fetchState, tier shared.Tier) (*shared.FetchResult, bool, error) {
	client := f.clients[tier]
	if client == nil {
		return nil, true, nil
	}

	state.tiersAttempted = append(state.tiersAttempted, tier)

	attempt := 0
	verifyRetried := false

	for {
		select {
		case <-ctx.Done():
			return nil, false, shared.WrapError(shared.ErrCodeCancelled, "fetch cancelled", ctx.Err())
		default:
		}

		attemptCtx, cancel := f.attemptContext(ctx, state)
		result, err := client.Fetch(attemptCtx, state.rawURL, state.opts)
		cancel()
		if err != nil {
			attempt++
			category := shared.CategoryForCode(shared.CodeOf(err))
			if category == shared.FailureUnknown {
				category = shared.ClassifyError(err)
			}
			decision := shared.Decide(category, attempt)
			f.traceStep(state, tier, "failure", err.Error(), category, decision.Delay.Milliseconds())

			switch decision.Strategy {
			case shared.StrategyBackoff, shared.StrategyIncreaseTimeout:
				if !decision.Retry {
					return nil, false, shared.WrapError(shared.ErrorCodeFor(category), "retries exhausted", err)
				}
				if decision.Strategy == shared.StrategyIncreaseTimeout {
					state.timeoutFactor *= 2
				}
				if sleepErr := f.sleep(ctx, decision.Delay); sleepErr != nil {
					return nil, false, shared.WrapError(shared.ErrCodeCancelled, "fetch cancelled during backoff", sleepErr)
				}
				continue

			case shared.StrategyTryAlternative:
				return nil, true, shared.WrapError(shared.ErrorCodeFor(category), "tier failed", err)

			default: // none
				return nil, false, shared.WrapError(shared.ErrorCodeFor(category), "fetch aborted", err)
			}
		}

		// Candidate produced; verify before accepting
		outcome, verr := f.runVerification(ctx, state, result)
		if verr != nil {
			return nil, false, verr
		}
		result.VerificationConfidence = outcome.Confidence
		if outcome.Passed {
			f.traceStep(state, tier, "success", "", "", 0)
			return result, false, nil
		}

		f.traceStep(state, tier, "verification_failed", failedCheckSummary(outcome), shared.FailureValidationFailed, 0)

		switch outcome.OnFailure {
		case verify.OnFailureRetry:
			if !verifyRetried {
				verifyRetried = true
				continue
			}
			return nil, true, shared.NewError(shared.ErrCodeValidationFailed, failedCheckSummary(outcome))
		case verify.OnFailureReport:
			// Surface the unverified result as-is
			return result, false, nil
		default: // fallback
			return nil, true, shared.NewError(shared.ErrCodeValidationFailed, failedCheckSummary(outcome))
		}
	}
}

// attemptContext derives the deadline for one tier attempt. The latency
// budget grows with timeoutFactor on increase_timeout retries; the caller's
// own deadline still bounds every attempt.
func (f *TieredFetcher) attemptContext(ctx context.Context, state *fetchState) (context.Context, context.CancelFunc) {
	if state.opts.MaxLatencyMs <= 0 {
		return ctx, func() {}
	}
	budget := time.Duration(state.opts.MaxLatencyMs*state.timeoutFactor) * time.Millisecond
	return context.WithTimeout(ctx, budget)
}

func (f *TieredFetcher) runVerification(ctx context.Context, state *fetchState, result *shared.FetchResult) (verify.Outcome, error) {
	if f.verifier == nil {
		return verify.Outcome{Passed: true, Confidence: 1.0}, nil
	}
	outcome, err := f.verifier.Verify(ctx, result, verify.Request{
		Mode:      verify.Mode(state.opts.VerificationMode),
		Domain:    state.domain,
		URL:       state.rawURL,
		OnFailure: verify.OnFailureHint(state.opts.OnFailure),
	})
	if err != nil {
		return outcome, shared.WrapError(shared.ErrCodeCancelled, "verification cancelled", err)
	}
	return outcome, nil
}

// finish stamps the result with the request-level bookkeeping
func (f *TieredFetcher) finish(state *fetchState, result *shared.FetchResult, tier shared.Tier) {
	result.TierUsed = tier
	result.TiersAttempted = state.tiersAttempted
	result.TierCostUnits = shared.TierCost(tier)
	result.DurationMs = time.Since(state.start).Milliseconds()
	if state.opts.IncludeDecisionTrace {
		result.DecisionTrace = state.trace
	}
}

func (f *TieredFetcher) traceStep(state *fetchState, tier shared.Tier, action, detail string, category shared.FailureCategory, delayMs int64) {
	if !state.opts.IncludeDecisionTrace {
		return
	}
	state.trace = append(state.trace, shared.DecisionTraceEntry{
		Timestamp: time.Now(),
		Tier:      tier,
		Action:    action,
		Detail:    detail,
		Category:  category,
		DelayMs:   delayMs,
	})
}

func failedCheckSummary(outcome verify.Outcome) string {
	var names []string
	for _, c := range outcome.Checks {
		if !c.Passed {
			names = append(names, c.Name)
		}
	}
	return "verification failed: " + strings.Join(names, ", ")
}

// sleepCtx waits for d or until the context is cancelled
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
