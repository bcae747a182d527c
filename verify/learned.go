package verify

import (
	"sort"
	"sync"
	"time"
)

// =============================================================================
// LEARNED CHECKS
// =============================================================================
//
// When verification fails and a later identical request succeeds, the
// succeeding caller-supplied check set is attributed to the domain. Each
// attributed check carries a rolling success count; checks at or above the
// auto-apply rate run on every later request for that domain, and fall out
// again when their rate drops.
//
// =============================================================================

// autoApplyRate is the minimum rolling success rate for auto-application
const autoApplyRate = 0.7

// maxTrackedFailures bounds the failed-fingerprint set
const maxTrackedFailures = 1000

type learnedStat struct {
	check     Check
	attempts  int64
	successes int64
}

func (s *learnedStat) rate() float64 {
	if s.attempts == 0 {
		return 0
	}
	return float64(s.successes) / float64(s.attempts)
}

// LearnedChecks tracks per-domain check attribution and success rates
type LearnedChecks struct {
	mu       sync.RWMutex
	byDomain map[string]map[string]*learnedStat

	// failed holds fingerprints of requests whose verification failed,
	// awaiting a succeeding identical request
	failed map[string]time.Time
}

// NewLearnedChecks creates an empty store
func NewLearnedChecks() *LearnedChecks {
	return &LearnedChecks{
		byDomain: make(map[string]map[string]*learnedStat),
		failed:   make(map[string]time.Time),
	}
}

// For returns the checks auto-applied for a domain, stably ordered by name
func (l *LearnedChecks) For(domain string) []Check {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats, ok := l.byDomain[domain]
	if !ok {
		return nil
	}

	var out []Check
	for _, stat := range stats {
		if stat.rate() >= autoApplyRate {
			out = append(out, stat.check)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Rate returns the rolling success rate of an attributed check, or -1 if
// the check is unknown for the domain.
func (l *LearnedChecks) Rate(domain, checkName string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if stat, ok := l.byDomain[domain][checkName]; ok {
		return stat.rate()
	}
	return -1
}

// ObserveRun feeds one verification run back into the store: known checks
// get their rolling counts updated from the results, failed runs are
// remembered by fingerprint, and a success following a failed identical
// run attributes the passing caller-supplied checks to the domain.
func (l *LearnedChecks) ObserveRun(domain, fp string, userChecks []Check, results []CheckResult, passed bool) {
	if domain == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if stats, ok := l.byDomain[domain]; ok {
		for _, r := range results {
			if stat, ok := stats[r.Name]; ok {
				stat.attempts++
				if r.Passed {
					stat.successes++
				}
			}
		}
	}

	if !passed {
		l.rememberFailureLocked(fp)
		return
	}

	if _, wasFailed := l.failed[fp]; !wasFailed {
		return
	}
	delete(l.failed, fp)

	stats, ok := l.byDomain[domain]
	if !ok {
		stats = make(map[string]*learnedStat)
		l.byDomain[domain] = stats
	}
	for _, check := range userChecks {
		if check.Name == "" || !checkPassed(results, check.Name) {
			continue
		}
		// Already-attributed checks were counted in the update loop above
		if _, ok := stats[check.Name]; ok {
			continue
		}
		stats[check.Name] = &learnedStat{check: check, attempts: 1, successes: 1}
	}
}

func (l *LearnedChecks) rememberFailureLocked(fp string) {
	if len(l.failed) >= maxTrackedFailures {
		var oldestKey string
		var oldest time.Time
		for key, ts := range l.failed {
			if oldestKey == "" || ts.Before(oldest) {
				oldestKey, oldest = key, ts
			}
		}
		delete(l.failed, oldestKey)
	}
	l.failed[fp] = time.Now()
}

func checkPassed(results []CheckResult, name string) bool {
	for _, r := range results {
		if r.Name == name {
			return r.Passed
		}
	}
	return false
}
