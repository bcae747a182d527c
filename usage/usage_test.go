package usage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmb/shared"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestMemoryCounter_IncrementsAndReads(t *testing.T) {
	ctx := context.Background()
	c := NewCounter(nil, nil)

	require.NoError(t, c.Increment(ctx, "tenant_a", shared.TierLightweight))
	require.NoError(t, c.Increment(ctx, "tenant_a", shared.TierLightweight))
	require.NoError(t, c.Increment(ctx, "tenant_a", shared.TierPlaywright))
	require.NoError(t, c.Increment(ctx, "tenant_b", shared.TierIntelligence))

	today, err := c.Today(ctx, "tenant_a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), today.Requests)
	assert.Equal(t, int64(5+5+25), today.Units)
	assert.Equal(t, int64(2), today.ByTier[shared.TierLightweight].Requests)
	assert.Equal(t, int64(10), today.ByTier[shared.TierLightweight].Units)
	assert.Equal(t, int64(25), today.ByTier[shared.TierPlaywright].Units)

	units, err := c.UnitsToday(ctx, "tenant_a")
	require.NoError(t, err)
	assert.Equal(t, int64(35), units)

	// Tenants are isolated
	other, err := c.Today(ctx, "tenant_b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), other.Requests)
	assert.Equal(t, int64(1), other.Units)
}

func TestMemoryBackend_Expiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	m.now = fixedClock(base)
	require.NoError(t, m.Increment(ctx, "t", "2026-08-01", shared.TierLightweight, 5))

	// Within retention the entry survives
	m.now = fixedClock(base.Add(7 * 24 * time.Hour))
	day, err := m.Day(ctx, "t", "2026-08-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), day.Requests)

	// Past retention it is pruned
	m.now = fixedClock(base.Add((RetentionDays + 1) * 24 * time.Hour))
	day, err = m.Day(ctx, "t", "2026-08-01")
	require.NoError(t, err)
	assert.Equal(t, int64(0), day.Requests)
}

func TestRedisCounter_Increments(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	c := NewCounter(NewRedisBackend(client), nil)
	c.now = fixedClock(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))

	require.NoError(t, c.Increment(ctx, "tenant_r", shared.TierLightweight))
	require.NoError(t, c.Increment(ctx, "tenant_r", shared.TierIntelligence))

	today, err := c.Today(ctx, "tenant_r")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-24", today.Date)
	assert.Equal(t, int64(2), today.Requests)
	assert.Equal(t, int64(6), today.Units)
	assert.Equal(t, int64(5), today.ByTier[shared.TierLightweight].Units)
	assert.Equal(t, int64(1), today.ByTier[shared.TierIntelligence].Requests)
}

func TestRedisCounter_TTLSetOnceNotExtended(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	c := NewCounter(NewRedisBackend(client), nil)
	c.now = fixedClock(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))

	require.NoError(t, c.Increment(ctx, "tenant_t", shared.TierLightweight))

	key := redisKey("tenant_t", "2026-08-24")
	initial := mr.TTL(key)
	assert.Equal(t, time.Duration(RetentionDays)*24*time.Hour, initial)

	// A day passes; the next increment must not reset the TTL
	mr.FastForward(24 * time.Hour)
	require.NoError(t, c.Increment(ctx, "tenant_t", shared.TierLightweight))

	after := mr.TTL(key)
	assert.Equal(t, time.Duration(RetentionDays-1)*24*time.Hour, after)
}

func TestRedisCounter_FallsBackToMemoryOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	c := NewCounter(NewRedisBackend(client), nil)

	// Kill the server: increments must land in the memory fallback
	mr.Close()

	require.NoError(t, c.Increment(ctx, "tenant_f", shared.TierLightweight))
	require.NoError(t, c.Increment(ctx, "tenant_f", shared.TierLightweight))

	today, err := c.Today(ctx, "tenant_f")
	require.NoError(t, err)
	assert.Equal(t, int64(2), today.Requests)
	assert.Equal(t, int64(10), today.Units)
}

func TestCounter_Range(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	c := NewCounter(NewRedisBackend(client), nil)

	day1 := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	day3 := time.Date(2026, 8, 22, 9, 0, 0, 0, time.UTC)

	c.now = fixedClock(day1)
	require.NoError(t, c.Increment(ctx, "tenant_g", shared.TierLightweight))
	c.now = fixedClock(day3)
	require.NoError(t, c.Increment(ctx, "tenant_g", shared.TierPlaywright))

	out, err := c.Range(ctx, "tenant_g", day1, day3)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "2026-08-20", out[0].Date)
	assert.Equal(t, int64(5), out[0].Units)
	// The quiet middle day appears with zero counters
	assert.Equal(t, "2026-08-21", out[1].Date)
	assert.Equal(t, int64(0), out[1].Requests)
	assert.Equal(t, "2026-08-22", out[2].Date)
	assert.Equal(t, int64(25), out[2].Units)

	// Inverted range is rejected
	_, err = c.Range(ctx, "tenant_g", day3, day1)
	require.Error(t, err)
	assert.Equal(t, shared.ErrCodeInvalidRequest, shared.CodeOf(err))
}
