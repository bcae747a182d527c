package patterns

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"llmb/shared"
)

// =============================================================================
// PATTERN HEALTH MONITOR
// =============================================================================
//
// Tracks a rolling success rate per pattern, classifies it into a coarse
// health status, and notifies exactly once per status transition with
// suggested actions derived from the failure-category distribution.
//
// =============================================================================

// HealthStatus is the coarse health classification of a pattern
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthFailing  HealthStatus = "failing"
	HealthBroken   HealthStatus = "broken"
)

// HealthSnapshot is one point in a pattern's health history
type HealthSnapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	SuccessRate float64   `json:"successRate"`
	SampleSize  int       `json:"sampleSize"`
}

// PatternHealth is the tracked health state of one pattern
type PatternHealth struct {
	PatternId string       `json:"patternId"`
	Status    HealthStatus `json:"status"`

	CurrentSuccessRate float64 `json:"currentSuccessRate"`

	// History is bounded: at most maxSnapshots entries within maxSnapshotAge
	History []HealthSnapshot `json:"history,omitempty"`

	LastHealthCheck       time.Time  `json:"lastHealthCheck"`
	DegradationDetectedAt *time.Time `json:"degradationDetectedAt,omitempty"`
	ConsecutiveFailures   int        `json:"consecutiveFailures"`

	// recentOutcomes is the rolling window the success rate is computed over
	recentOutcomes []bool

	// failuresByCategory feeds suggested actions on transitions
	failuresByCategory map[shared.FailureCategory]int64
}

// HealthTransition is emitted once per status change
type HealthTransition struct {
	PatternId        string       `json:"patternId"`
	PreviousStatus   HealthStatus `json:"previousStatus"`
	NewStatus        HealthStatus `json:"newStatus"`
	SuccessRate      float64      `json:"successRate"`
	SampleSize       int          `json:"sampleSize"`
	SuggestedActions []string     `json:"suggestedActions,omitempty"`
}

const (
	maxSnapshots      = 30
	maxSnapshotAge    = 30 * 24 * time.Hour
	minHealthSamples  = 5
	healthWindowSize  = 50
	brokenThreshold   = 0.2
	failingThreshold  = 0.5
	healthyThreshold  = 0.7
	consecutiveDegrad = 3
)

// HealthMonitor tracks health per pattern
type HealthMonitor struct {
	mu       sync.RWMutex
	patterns map[string]*PatternHealth

	onTransition func(t HealthTransition)
	logger       *zap.Logger
	now          func() time.Time
}

// NewHealthMonitor creates a monitor. onTransition may be nil.
func NewHealthMonitor(onTransition func(t HealthTransition), logger *zap.Logger) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthMonitor{
		patterns:     make(map[string]*PatternHealth),
		onTransition: onTransition,
		logger:       logger,
		now:          time.Now,
	}
}

// Observe records one application outcome and re-evaluates health.
// category is only consulted for failures and may be empty.
func (m *HealthMonitor) Observe(patternId string, success bool, category shared.FailureCategory) {
	var transition *HealthTransition

	m.mu.Lock()
	health, ok := m.patterns[patternId]
	if !ok {
		health = &PatternHealth{
			PatternId:          patternId,
			Status:             HealthHealthy,
			failuresByCategory: make(map[shared.FailureCategory]int64),
		}
		m.patterns[patternId] = health
	}

	now := m.now()
	health.LastHealthCheck = now

	if success {
		health.ConsecutiveFailures = 0
	} else {
		health.ConsecutiveFailures++
		if category != "" {
			health.failuresByCategory[category]++
		}
	}

	health.recentOutcomes = append(health.recentOutcomes, success)
	if len(health.recentOutcomes) > healthWindowSize {
		health.recentOutcomes = health.recentOutcomes[len(health.recentOutcomes)-healthWindowSize:]
	}

	rate := successRate(health.recentOutcomes)
	health.CurrentSuccessRate = rate
	sample := len(health.recentOutcomes)

	health.History = append(health.History, HealthSnapshot{
		Timestamp:   now,
		SuccessRate: rate,
		SampleSize:  sample,
	})
	health.History = pruneSnapshots(health.History, now)

	if sample >= minHealthSamples {
		newStatus := classify(rate, health.ConsecutiveFailures)
		if newStatus != health.Status {
			previous := health.Status
			health.Status = newStatus

			if newStatus != HealthHealthy && health.DegradationDetectedAt == nil {
				ts := now
				health.DegradationDetectedAt = &ts
			}
			if newStatus == HealthHealthy {
				health.DegradationDetectedAt = nil
			}

			transition = &HealthTransition{
				PatternId:        patternId,
				PreviousStatus:   previous,
				NewStatus:        newStatus,
				SuccessRate:      rate,
				SampleSize:       sample,
				SuggestedActions: suggestActions(health.failuresByCategory),
			}
		}
	}
	m.mu.Unlock()

	// Notify outside the lock
	if transition != nil {
		m.logger.Info("pattern health transition",
			zap.String("patternId", patternId),
			zap.String("from", string(transition.PreviousStatus)),
			zap.String("to", string(transition.NewStatus)))
		if m.onTransition != nil {
			m.onTransition(*transition)
		}
	}
}

// Health returns a copy of a pattern's health state, or nil if untracked
func (m *HealthMonitor) Health(patternId string) *PatternHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health, ok := m.patterns[patternId]
	if !ok {
		return nil
	}
	cp := *health
	cp.History = append([]HealthSnapshot(nil), health.History...)
	cp.recentOutcomes = nil
	cp.failuresByCategory = nil
	return &cp
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

func classify(rate float64, consecutiveFailures int) HealthStatus {
	switch {
	case rate < brokenThreshold:
		return HealthBroken
	case rate < failingThreshold:
		return HealthFailing
	case rate < healthyThreshold || consecutiveFailures >= consecutiveDegrad:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

func successRate(outcomes []bool) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	var successes int
	for _, ok := range outcomes {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(outcomes))
}

func pruneSnapshots(history []HealthSnapshot, now time.Time) []HealthSnapshot {
	cutoff := now.Add(-maxSnapshotAge)
	kept := history[:0]
	for _, s := range history {
		if s.Timestamp.After(cutoff) {
			kept = append(kept, s)
		}
	}
	if len(kept) > maxSnapshots {
		kept = kept[len(kept)-maxSnapshots:]
	}
	return kept
}

// suggestActions derives remediation hints from the dominant failure category
func suggestActions(failures map[shared.FailureCategory]int64) []string {
	var dominant shared.FailureCategory
	var max int64
	for category, count := range failures {
		if count > max {
			dominant = category
			max = count
		}
	}

	switch dominant {
	case shared.FailureAuthRequired:
		return []string{"skip_domain", "review_credentials"}
	case shared.FailureRateLimited:
		return []string{"backoff", "reduce_request_rate"}
	case shared.FailureWrongEndpoint:
		return []string{"relearn_pattern", "try_alternative"}
	case shared.FailureTimeout:
		return []string{"increase_timeout"}
	case shared.FailureParseError, shared.FailureValidationFailed:
		return []string{"relearn_pattern"}
	case shared.FailureContentTooShort:
		return []string{"escalate_tier"}
	case "":
		return nil
	default:
		return []string{"try_alternative"}
	}
}
