package patterns

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"llmb/shared"
)

// =============================================================================
// ANTI-PATTERN STORE
// =============================================================================
//
// Repeated failures of the same category on the same domain become
// suppressions: the matcher skips a suppressed (pattern, domain) candidate
// until the suppression expires. An anti-pattern with ExpiresAt zero
// suppresses forever.
//
// =============================================================================

// RecommendedAction tells the fetcher what to do about a suppressed pattern
type RecommendedAction string

const (
	ActionNone            RecommendedAction = "none"
	ActionBackoff         RecommendedAction = "backoff"
	ActionSkipDomain      RecommendedAction = "skip_domain"
	ActionTryAlternative  RecommendedAction = "try_alternative"
	ActionIncreaseTimeout RecommendedAction = "increase_timeout"
)

// AntiPattern is a learned suppression
type AntiPattern struct {
	Id              string                 `json:"id"`
	SourcePatternId string                 `json:"sourcePatternId,omitempty"`
	Domains         []string               `json:"domains"`
	URLPatterns     []string               `json:"urlPatterns,omitempty"`
	FailureCategory shared.FailureCategory `json:"failureCategory"`
	Reason          string                 `json:"reason"`

	RecommendedAction RecommendedAction `json:"recommendedAction"`

	// SuppressionDuration of zero means indefinite
	SuppressionDuration time.Duration `json:"suppressionDurationMs"`

	CreatedAt time.Time `json:"createdAt"`

	// ExpiresAt zero means the suppression never expires
	ExpiresAt time.Time `json:"expiresAt"`

	FailureCount int       `json:"failureCount"`
	LastFailure  time.Time `json:"lastFailure"`
}

// Active reports whether the suppression is in force at the given time
func (a *AntiPattern) Active(now time.Time) bool {
	if a.ExpiresAt.IsZero() {
		return true
	}
	return now.Before(a.ExpiresAt)
}

// AppliesTo reports whether the suppression covers a domain
func (a *AntiPattern) AppliesTo(domain string) bool {
	for _, d := range a.Domains {
		if d == domain {
			return true
		}
	}
	return false
}

// StoreConfig configures anti-pattern creation thresholds
type StoreConfig struct {
	// MinFailures within the window triggers creation (default 3)
	MinFailures int

	// Window is the sliding window for counting failures (default 24h)
	Window time.Duration
}

// DefaultStoreConfig provides the standard thresholds
var DefaultStoreConfig = StoreConfig{
	MinFailures: 3,
	Window:      24 * time.Hour,
}

// failureKey groups failures for threshold counting
type failureKey struct {
	patternId string
	domain    string
	category  shared.FailureCategory
}

// AntiPatternStore records failures and creates suppressions
type AntiPatternStore struct {
	mu sync.RWMutex

	antiPatterns map[string]*AntiPattern
	failures     map[failureKey][]time.Time

	config StoreConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewAntiPatternStore creates a store with the given thresholds
func NewAntiPatternStore(config StoreConfig, logger *zap.Logger) *AntiPatternStore {
	if config.MinFailures <= 0 {
		config.MinFailures = DefaultStoreConfig.MinFailures
	}
	if config.Window <= 0 {
		config.Window = DefaultStoreConfig.Window
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AntiPatternStore{
		antiPatterns: make(map[string]*AntiPattern),
		failures:     make(map[failureKey][]time.Time),
		config:       config,
		logger:       logger,
		now:          time.Now,
	}
}

// actionFor maps a failure category to the suppression action and duration
func actionFor(category shared.FailureCategory) (RecommendedAction, time.Duration) {
	switch category {
	case shared.FailureAuthRequired:
		return ActionSkipDomain, 0 // indefinite
	case shared.FailureRateLimited:
		return ActionBackoff, time.Hour
	case shared.FailureWrongEndpoint:
		return ActionSkipDomain, 6 * time.Hour
	default:
		return ActionTryAlternative, 6 * time.Hour
	}
}

// RecordFailure registers a failure and creates an anti-pattern when the
// threshold is crossed. Returns the created anti-pattern, or nil.
func (s *AntiPatternStore) RecordFailure(patternId, domain string, category shared.FailureCategory, reason string) *AntiPattern {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := failureKey{patternId: patternId, domain: domain, category: category}

	// Slide the window
	cutoff := now.Add(-s.config.Window)
	kept := s.failures[key][:0]
	for _, ts := range s.failures[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	s.failures[key] = kept

	if len(kept) < s.config.MinFailures {
		return nil
	}

	// Already suppressed for this tuple?
	for _, ap := range s.antiPatterns {
		if ap.SourcePatternId == patternId && ap.FailureCategory == category && ap.AppliesTo(domain) && ap.Active(now) {
			ap.FailureCount++
			ap.LastFailure = now
			return nil
		}
	}

	action, duration := actionFor(category)
	ap := &AntiPattern{
		Id:                  shared.NewId("anti"),
		SourcePatternId:     patternId,
		Domains:             []string{domain},
		FailureCategory:     category,
		Reason:              reason,
		RecommendedAction:   action,
		SuppressionDuration: duration,
		CreatedAt:           now,
		FailureCount:        len(kept),
		LastFailure:         now,
	}
	if duration > 0 {
		ap.ExpiresAt = now.Add(duration)
	}

	s.antiPatterns[ap.Id] = ap

	s.logger.Info("anti-pattern created",
		zap.String("patternId", patternId),
		zap.String("domain", domain),
		zap.String("category", string(category)),
		zap.String("action", string(action)))

	return ap
}

// Suppressed reports whether a (pattern, domain) candidate is currently
// suppressed, and by which anti-pattern.
func (s *AntiPatternStore) Suppressed(patternId, domain string) (*AntiPattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	for _, ap := range s.antiPatterns {
		if ap.SourcePatternId == patternId && ap.AppliesTo(domain) && ap.Active(now) {
			cp := *ap
			return &cp, true
		}
	}
	return nil, false
}

// Clear removes a suppression by id (the manual override)
func (s *AntiPatternStore) Clear(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.antiPatterns[id]; !ok {
		return false
	}
	delete(s.antiPatterns, id)
	return true
}

// Sweep drops expired anti-patterns and returns how many were removed
func (s *AntiPatternStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, ap := range s.antiPatterns {
		if !ap.Active(now) {
			delete(s.antiPatterns, id)
			removed++
		}
	}
	return removed
}

// ActiveFor returns copies of all suppressions active for a domain
func (s *AntiPatternStore) ActiveFor(domain string) []AntiPattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var out []AntiPattern
	for _, ap := range s.antiPatterns {
		if ap.AppliesTo(domain) && ap.Active(now) {
			out = append(out, *ap)
		}
	}
	return out
}

// Len returns the number of stored anti-patterns, expired included
func (s *AntiPatternStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.antiPatterns)
}
