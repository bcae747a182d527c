package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"www.example.com", "example.com"},
		{"Example.COM", "example.com"},
		{"example.com.", "example.com"},
		{"api.example.com", "api.example.com"},
	}

	for _, tc := range tests {
		if got := normalizeDomain(tc.in); got != tc.want {
			t.Errorf("normalizeDomain(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestLimitFor_SubdomainFallback(t *testing.T) {
	s := New(nil)
	s.RegisterDomain("example.com", RateLimit{RequestsPerMinute: 6, MinDelay: time.Second})

	limit := s.LimitFor("api.example.com")
	if limit.RequestsPerMinute != 6 {
		t.Errorf("subdomain should inherit parent limit, got rpm=%d", limit.RequestsPerMinute)
	}

	limit = s.LimitFor("www.example.com")
	if limit.MinDelay != time.Second {
		t.Errorf("www prefix should be stripped, got minDelay=%v", limit.MinDelay)
	}

	limit = s.LimitFor("other.org")
	if limit != DefaultRateLimit {
		t.Errorf("unregistered domain should use the default bucket, got %+v", limit)
	}
}

func TestDelay_MinDelayGap(t *testing.T) {
	s := New(nil)
	base := time.Now()
	s.now = func() time.Time { return base }

	limit := RateLimit{RequestsPerMinute: 100, MinDelay: time.Second}
	state := s.stateFor("example.com")

	// No history: no delay
	if d := s.delayLocked(state, limit); d != 0 {
		t.Errorf("first request delay = %v, want 0", d)
	}

	state.mu.Lock()
	state.history = append(state.history, base)
	state.lastRequest = base
	state.mu.Unlock()

	// Immediately after a request: full min delay
	if d := s.delayLocked(state, limit); d != time.Second {
		t.Errorf("delay right after request = %v, want 1s", d)
	}

	// 600ms later: 400ms remaining
	s.now = func() time.Time { return base.Add(600 * time.Millisecond) }
	if d := s.delayLocked(state, limit); d != 400*time.Millisecond {
		t.Errorf("delay after 600ms = %v, want 400ms", d)
	}
}

func TestDelay_SlidingWindow(t *testing.T) {
	s := New(nil)
	base := time.Now()
	s.now = func() time.Time { return base }

	limit := RateLimit{RequestsPerMinute: 6, MinDelay: 0}
	state := s.stateFor("example.com")

	// Fill the window: 6 requests, one per second starting at base-5s
	state.mu.Lock()
	for i := 0; i < 6; i++ {
		ts := base.Add(time.Duration(i-5) * time.Second)
		state.history = append(state.history, ts)
		state.lastRequest = ts
	}
	state.mu.Unlock()

	// The 7th must wait until the oldest record (base-5s) leaves the
	// one-minute window, i.e. 55s from now
	d := s.delayLocked(state, limit)
	if d != 55*time.Second {
		t.Errorf("window delay = %v, want 55s", d)
	}

	// After the oldest expires, capacity opens up
	s.now = func() time.Time { return base.Add(56 * time.Second) }
	if d := s.delayLocked(state, limit); d != 0 {
		t.Errorf("delay after window expiry = %v, want 0", d)
	}
}

func TestAcquire_SerializesStarts(t *testing.T) {
	s := New(nil)
	s.RegisterDomain("example.com", RateLimit{RequestsPerMinute: 1000, MinDelay: 20 * time.Millisecond})

	const n = 5
	var wg sync.WaitGroup
	var mu sync.Mutex
	var starts []time.Time

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Acquire(context.Background(), "example.com"); err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(starts) != n {
		t.Fatalf("got %d starts, want %d", len(starts), n)
	}

	// Starts are serialized with at least the min delay between them
	// (allow a little scheduling slop below the nominal 20ms)
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		if gap < 0 {
			gap = -gap
		}
		if gap < 15*time.Millisecond {
			t.Errorf("starts %d and %d only %v apart, want >= ~20ms", i-1, i, gap)
		}
	}
}

func TestAcquire_CancellationRecordsNothing(t *testing.T) {
	s := New(nil)
	s.RegisterDomain("example.com", RateLimit{RequestsPerMinute: 1000, MinDelay: time.Hour})

	// Seed one request so the next acquire must wait the full min delay
	if err := s.Acquire(context.Background(), "example.com"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Acquire(ctx, "example.com")
	if err == nil {
		t.Fatal("expected cancellation error")
	}

	state := s.stateFor("example.com")
	state.mu.Lock()
	defer state.mu.Unlock()
	if len(state.history) != 1 {
		t.Errorf("cancelled acquire recorded a timestamp: history len = %d, want 1", len(state.history))
	}
}

func TestWithThrottle_NoDeadlock(t *testing.T) {
	s := New(nil)
	s.RegisterDomain("example.com", RateLimit{RequestsPerMinute: 1000, MinDelay: 0})

	called := false
	err := s.WithThrottle(context.Background(), "example.com", func(ctx context.Context) error {
		called = true
		// A nested Acquire for another domain must not deadlock
		return s.Acquire(ctx, "other.org")
	})
	if err != nil {
		t.Fatalf("WithThrottle: %v", err)
	}
	if !called {
		t.Error("fn was not called")
	}
}
