package patterns

import (
	"testing"
	"time"

	"llmb/shared"
)

func newTestStore() *AntiPatternStore {
	return NewAntiPatternStore(DefaultStoreConfig, nil)
}

func TestRecordFailure_ThresholdPerTuple(t *testing.T) {
	s := newTestStore()

	// Two failures: under the threshold
	for i := 0; i < 2; i++ {
		if ap := s.RecordFailure("pat_a", "a.example", shared.FailureServerError, "boom"); ap != nil {
			t.Fatalf("anti-pattern created after %d failures", i+1)
		}
	}

	// Failures in a different category don't pool with the first two
	if ap := s.RecordFailure("pat_a", "a.example", shared.FailureTimeout, "slow"); ap != nil {
		t.Fatal("different category should not cross the threshold")
	}
	// Same category on a different domain doesn't pool either
	if ap := s.RecordFailure("pat_a", "b.example", shared.FailureServerError, "boom"); ap != nil {
		t.Fatal("different domain should not cross the threshold")
	}

	// Third same-tuple failure crosses
	ap := s.RecordFailure("pat_a", "a.example", shared.FailureServerError, "boom")
	if ap == nil {
		t.Fatal("expected anti-pattern at third same-tuple failure")
	}
	if ap.FailureCount != 3 {
		t.Errorf("failureCount = %d, want 3", ap.FailureCount)
	}
	if ap.RecommendedAction != ActionTryAlternative {
		t.Errorf("action = %s, want try_alternative for server_error", ap.RecommendedAction)
	}
	if ap.ExpiresAt.IsZero() {
		t.Error("server_error suppression should expire")
	}

	// A fourth failure updates the existing suppression instead of creating another
	if dup := s.RecordFailure("pat_a", "a.example", shared.FailureServerError, "boom"); dup != nil {
		t.Error("duplicate anti-pattern created for already-suppressed tuple")
	}
	if s.Len() != 1 {
		t.Errorf("store has %d anti-patterns, want 1", s.Len())
	}
}

func TestRecordFailure_WindowSlides(t *testing.T) {
	s := newTestStore()

	base := time.Now()
	s.now = func() time.Time { return base }
	s.RecordFailure("pat_b", "x.example", shared.FailureRateLimited, "429")
	s.RecordFailure("pat_b", "x.example", shared.FailureRateLimited, "429")

	// A day later the first two have aged out; this is failure #1 of a new window
	s.now = func() time.Time { return base.Add(25 * time.Hour) }
	if ap := s.RecordFailure("pat_b", "x.example", shared.FailureRateLimited, "429"); ap != nil {
		t.Fatal("stale failures should not count toward the threshold")
	}
}

func TestActionMapping(t *testing.T) {
	cases := []struct {
		category   shared.FailureCategory
		action     RecommendedAction
		duration   time.Duration
		indefinite bool
	}{
		{shared.FailureAuthRequired, ActionSkipDomain, 0, true},
		{shared.FailureRateLimited, ActionBackoff, time.Hour, false},
		{shared.FailureWrongEndpoint, ActionSkipDomain, 6 * time.Hour, false},
		{shared.FailureServerError, ActionTryAlternative, 6 * time.Hour, false},
		{shared.FailureParseError, ActionTryAlternative, 6 * time.Hour, false},
	}

	for _, tc := range cases {
		action, duration := actionFor(tc.category)
		if action != tc.action {
			t.Errorf("%s: action = %s, want %s", tc.category, action, tc.action)
		}
		if duration != tc.duration {
			t.Errorf("%s: duration = %v, want %v", tc.category, duration, tc.duration)
		}
		if tc.indefinite && duration != 0 {
			t.Errorf("%s: want indefinite suppression", tc.category)
		}
	}
}

func TestSuppressed_Expiry(t *testing.T) {
	s := newTestStore()

	base := time.Now()
	s.now = func() time.Time { return base }
	for i := 0; i < 3; i++ {
		s.RecordFailure("pat_c", "y.example", shared.FailureRateLimited, "429")
	}

	if _, ok := s.Suppressed("pat_c", "y.example"); !ok {
		t.Fatal("expected suppression after threshold")
	}
	if _, ok := s.Suppressed("pat_c", "other.example"); ok {
		t.Error("suppression should be domain-scoped")
	}

	// rate_limited backs off for one hour, then expires
	s.now = func() time.Time { return base.Add(61 * time.Minute) }
	if _, ok := s.Suppressed("pat_c", "y.example"); ok {
		t.Error("suppression should have expired")
	}

	if removed := s.Sweep(); removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if s.Len() != 0 {
		t.Errorf("store has %d anti-patterns after sweep, want 0", s.Len())
	}
}

func TestSuppressed_IndefiniteNeverExpires(t *testing.T) {
	s := newTestStore()

	base := time.Now()
	s.now = func() time.Time { return base }
	for i := 0; i < 3; i++ {
		s.RecordFailure("pat_d", "z.example", shared.FailureAuthRequired, "401")
	}

	s.now = func() time.Time { return base.Add(90 * 24 * time.Hour) }
	ap, ok := s.Suppressed("pat_d", "z.example")
	if !ok {
		t.Fatal("auth_required suppression should never expire")
	}
	if ap.RecommendedAction != ActionSkipDomain {
		t.Errorf("action = %s, want skip_domain", ap.RecommendedAction)
	}

	// Only the manual override clears it
	if !s.Clear(ap.Id) {
		t.Fatal("Clear should report success for a known id")
	}
	if _, ok := s.Suppressed("pat_d", "z.example"); ok {
		t.Error("cleared suppression still active")
	}
	if s.Clear(ap.Id) {
		t.Error("Clear on an unknown id should report false")
	}
}

func TestActiveFor(t *testing.T) {
	s := newTestStore()

	for i := 0; i < 3; i++ {
		s.RecordFailure("pat_e", "multi.example", shared.FailureWrongEndpoint, "404")
	}
	for i := 0; i < 3; i++ {
		s.RecordFailure("pat_f", "multi.example", shared.FailureTimeout, "deadline")
	}

	active := s.ActiveFor("multi.example")
	if len(active) != 2 {
		t.Fatalf("ActiveFor = %d suppressions, want 2", len(active))
	}
	if got := s.ActiveFor("quiet.example"); len(got) != 0 {
		t.Errorf("ActiveFor unrelated domain = %d, want 0", len(got))
	}
}
