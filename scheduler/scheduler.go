// Package scheduler serializes and throttles requests per domain.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// PER-DOMAIN SCHEDULER
// =============================================================================
//
// Each domain has a sliding one-minute window of request timestamps and a
// FIFO lock that admits at most one in-flight acquisition. Acquire computes
// the wait as the larger of the window-expiry delay and the min-delay gap,
// waits cooperatively, records a timestamp, and releases. The lock is never
// held across user code; WithThrottle is the only API that serializes user
// code, and it calls Acquire internally without deadlocking its own lock.
//
// Cancellation wakes the waiter and records nothing.
//
// =============================================================================

const slidingWindow = time.Minute

// RateLimit defines the per-domain throttle parameters
type RateLimit struct {
	RequestsPerMinute int           `json:"requestsPerMinute"`
	MinDelay          time.Duration `json:"minDelayMs"`
}

// DefaultRateLimit is the bucket used for unregistered domains
var DefaultRateLimit = RateLimit{
	RequestsPerMinute: 30,
	MinDelay:          500 * time.Millisecond,
}

// domainState tracks one domain's lock and request history
type domainState struct {
	// lock is a FIFO mutex: blocked senders are queued in arrival order
	lock chan struct{}

	mu          sync.Mutex
	history     []time.Time
	lastRequest time.Time
}

// Scheduler throttles request starts per domain
type Scheduler struct {
	mu      sync.RWMutex
	limits  map[string]RateLimit
	domains map[string]*domainState

	logger *zap.Logger
	now    func() time.Time
}

// New creates a scheduler. A nil logger falls back to a no-op logger.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		limits:  make(map[string]RateLimit),
		domains: make(map[string]*domainState),
		logger:  logger,
		now:     time.Now,
	}
}

// RegisterDomain sets the rate limit for a domain. Sub-domains fall back
// to the registered parent.
func (s *Scheduler) RegisterDomain(domain string, limit RateLimit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[normalizeDomain(domain)] = limit
}

// LimitFor resolves the effective rate limit for a domain
func (s *Scheduler) LimitFor(domain string) RateLimit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := normalizeDomain(domain)
	for key != "" {
		if limit, ok := s.limits[key]; ok {
			return limit
		}
		// Walk up to the registered parent: api.shop.example.com ->
		// shop.example.com -> example.com
		idx := strings.Index(key, ".")
		if idx < 0 {
			break
		}
		key = key[idx+1:]
	}
	return DefaultRateLimit
}

// Acquire blocks until the domain may start a request, then records the
// start timestamp. On cancellation nothing is recorded.
func (s *Scheduler) Acquire(ctx context.Context, domain string) error {
	state := s.stateFor(domain)

	// FIFO lock: at most one in-flight acquisition per domain
	select {
	case state.lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-state.lock }()

	limit := s.LimitFor(domain)
	delay := s.delayLocked(state, limit)

	if delay > 0 {
		s.logger.Debug("throttling domain",
			zap.String("domain", normalizeDomain(domain)),
			zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	state.mu.Lock()
	now := s.now()
	state.history = append(state.history, now)
	state.lastRequest = now
	state.mu.Unlock()

	return nil
}

// WithThrottle serializes fn against other throttled calls for the same
// domain. It acquires the domain slot first, so fn never runs while the
// scheduler's own lock is held.
func (s *Scheduler) WithThrottle(ctx context.Context, domain string, fn func(ctx context.Context) error) error {
	if err := s.Acquire(ctx, domain); err != nil {
		return err
	}
	return fn(ctx)
}

// =============================================================================
// INTERNALS
// =============================================================================

func (s *Scheduler) stateFor(domain string) *domainState {
	key := normalizeDomain(domain)

	s.mu.RLock()
	state, ok := s.domains[key]
	s.mu.RUnlock()
	if ok {
		return state
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok = s.domains[key]; ok {
		return state
	}
	state = &domainState{lock: make(chan struct{}, 1)}
	s.domains[key] = state
	return state
}

// delayLocked computes how long the next request must wait. Must only be
// called while holding the domain's FIFO lock.
func (s *Scheduler) delayLocked(state *domainState, limit RateLimit) time.Duration {
	state.mu.Lock()
	defer state.mu.Unlock()

	now := s.now()

	// Prune records that left the sliding window
	cutoff := now.Add(-slidingWindow)
	kept := state.history[:0]
	for _, ts := range state.history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	state.history = kept

	var windowDelay time.Duration
	if limit.RequestsPerMinute > 0 && len(state.history) >= limit.RequestsPerMinute {
		oldest := state.history[len(state.history)-limit.RequestsPerMinute]
		windowDelay = oldest.Add(slidingWindow).Sub(now)
	}

	var gapDelay time.Duration
	if limit.MinDelay > 0 && !state.lastRequest.IsZero() {
		gapDelay = limit.MinDelay - now.Sub(state.lastRequest)
	}

	delay := windowDelay
	if gapDelay > delay {
		delay = gapDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// normalizeDomain lowercases and strips a leading www.
func normalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimSuffix(d, ".")
	return strings.TrimPrefix(d, "www.")
}
