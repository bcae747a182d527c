// Package usage tracks per-tenant daily request and unit counters with a
// pluggable backend: an in-memory map or Redis with single-round-trip
// pipelined increments.
package usage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"llmb/shared"
)

// =============================================================================
// USAGE COUNTER
// =============================================================================
//
// Counters are keyed by (tenant, UTC day). Every increment is one atomic
// backend operation. Entries expire 8 days after the first increment; the
// TTL is not reset by later increments. When the primary backend fails the
// counter falls back to memory and logs the failure once.
//
// =============================================================================

// RetentionDays is how long a day's counters are kept after first increment
const RetentionDays = 8

// dayFormat is the UTC day key layout
const dayFormat = "2006-01-02"

// TierUsage is the per-tier slice of a day's counters
type TierUsage struct {
	Requests int64 `json:"requests"`
	Units    int64 `json:"units"`
}

// DayUsage is one (tenant, day) snapshot
type DayUsage struct {
	Date     string                    `json:"date"`
	Requests int64                     `json:"requests"`
	Units    int64                     `json:"units"`
	ByTier   map[shared.Tier]TierUsage `json:"byTier,omitempty"`
}

// Backend stores counters. Implementations must make Increment a single
// atomic round trip.
type Backend interface {
	Increment(ctx context.Context, tenantId, day string, tier shared.Tier, units int64) error
	Day(ctx context.Context, tenantId, day string) (DayUsage, error)
	Days(ctx context.Context, tenantId string, days []string) ([]DayUsage, error)
}

// Counter is the tenant-facing API over a backend with memory fallback
type Counter struct {
	backend  Backend
	fallback *MemoryBackend

	logger       *zap.Logger
	fallbackOnce sync.Once
	now          func() time.Time
}

// NewCounter wraps a backend. A nil backend means memory-only.
func NewCounter(backend Backend, logger *zap.Logger) *Counter {
	if logger == nil {
		logger = zap.NewNop()
	}
	memory := NewMemoryBackend()
	if backend == nil {
		backend = memory
	}
	return &Counter{
		backend:  backend,
		fallback: memory,
		logger:   logger,
		now:      time.Now,
	}
}

func (c *Counter) today() string {
	return c.now().UTC().Format(dayFormat)
}

// Increment records one request at a tier for today
func (c *Counter) Increment(ctx context.Context, tenantId string, tier shared.Tier) error {
	day := c.today()
	units := int64(shared.TierCost(tier))

	if err := c.backend.Increment(ctx, tenantId, day, tier, units); err != nil {
		c.noteFallback(err)
		return c.fallback.Increment(ctx, tenantId, day, tier, units)
	}
	return nil
}

// Today returns today's snapshot for a tenant
func (c *Counter) Today(ctx context.Context, tenantId string) (DayUsage, error) {
	day := c.today()
	usage, err := c.backend.Day(ctx, tenantId, day)
	if err != nil {
		c.noteFallback(err)
		return c.fallback.Day(ctx, tenantId, day)
	}
	return usage, nil
}

// UnitsToday is the fast path for budget checks
func (c *Counter) UnitsToday(ctx context.Context, tenantId string) (int64, error) {
	usage, err := c.Today(ctx, tenantId)
	if err != nil {
		return 0, err
	}
	return usage.Units, nil
}

// Range returns day snapshots from from to to inclusive (UTC days), for
// billing export. Days with no activity appear with zero counters.
func (c *Counter) Range(ctx context.Context, tenantId string, from, to time.Time) ([]DayUsage, error) {
	days := dayKeys(from, to)
	if len(days) == 0 {
		return nil, shared.NewError(shared.ErrCodeInvalidRequest, "empty or inverted date range")
	}

	out, err := c.backend.Days(ctx, tenantId, days)
	if err != nil {
		c.noteFallback(err)
		return c.fallback.Days(ctx, tenantId, days)
	}
	return out, nil
}

func (c *Counter) noteFallback(err error) {
	c.fallbackOnce.Do(func() {
		c.logger.Warn("usage backend failed, falling back to memory", zap.Error(err))
	})
}

func dayKeys(from, to time.Time) []string {
	from = from.UTC().Truncate(24 * time.Hour)
	to = to.UTC().Truncate(24 * time.Hour)

	var days []string
	for d := from; !d.After(to); d = d.Add(24 * time.Hour) {
		days = append(days, d.Format(dayFormat))
	}
	return days
}
