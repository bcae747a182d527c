package usage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"llmb/shared"
)

// =============================================================================
// REDIS BACKEND
// =============================================================================
//
// One hash per (tenant, day). Increment pipelines HIncrBy for the total and
// per-tier fields plus ExpireNX into a single round trip; ExpireNX sets the
// 8-day TTL only when the key has none, so later increments never extend it.
//
// =============================================================================

const (
	fieldRequests = "requests"
	fieldUnits    = "units"
)

// RedisBackend stores counters in Redis hashes
type RedisBackend struct {
	client redis.UniversalClient
}

// NewRedisBackend wraps a connected client
func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

func redisKey(tenantId, day string) string {
	return fmt.Sprintf("usage:%s:%s", tenantId, day)
}

func tierField(tier shared.Tier, field string) string {
	return fmt.Sprintf("tier:%s:%s", tier, field)
}

// Increment updates all counters for one request in one round trip
func (r *RedisBackend) Increment(ctx context.Context, tenantId, day string, tier shared.Tier, units int64) error {
	key := redisKey(tenantId, day)

	pipe := r.client.Pipeline()
	pipe.HIncrBy(ctx, key, fieldRequests, 1)
	pipe.HIncrBy(ctx, key, fieldUnits, units)
	pipe.HIncrBy(ctx, key, tierField(tier, fieldRequests), 1)
	pipe.HIncrBy(ctx, key, tierField(tier, fieldUnits), units)
	pipe.ExpireNX(ctx, key, RetentionDays*24*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("usage increment: %w", err)
	}
	return nil
}

// Day reads one day's hash
func (r *RedisBackend) Day(ctx context.Context, tenantId, day string) (DayUsage, error) {
	fields, err := r.client.HGetAll(ctx, redisKey(tenantId, day)).Result()
	if err != nil {
		return DayUsage{}, fmt.Errorf("usage read: %w", err)
	}
	return decodeDay(day, fields), nil
}

// Days reads multiple days in one pipelined round trip
func (r *RedisBackend) Days(ctx context.Context, tenantId string, days []string) ([]DayUsage, error) {
	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(days))
	for i, day := range days {
		cmds[i] = pipe.HGetAll(ctx, redisKey(tenantId, day))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("usage range read: %w", err)
	}

	out := make([]DayUsage, 0, len(days))
	for i, day := range days {
		fields, err := cmds[i].Result()
		if err != nil {
			return nil, fmt.Errorf("usage range read %s: %w", day, err)
		}
		out = append(out, decodeDay(day, fields))
	}
	return out, nil
}

func decodeDay(day string, fields map[string]string) DayUsage {
	usage := DayUsage{Date: day, ByTier: make(map[shared.Tier]TierUsage)}

	for field, raw := range fields {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		switch field {
		case fieldRequests:
			usage.Requests = value
		case fieldUnits:
			usage.Units = value
		default:
			parts := strings.Split(field, ":")
			if len(parts) != 3 || parts[0] != "tier" {
				continue
			}
			tier := shared.Tier(parts[1])
			tu := usage.ByTier[tier]
			if parts[2] == fieldRequests {
				tu.Requests = value
			} else if parts[2] == fieldUnits {
				tu.Units = value
			}
			usage.ByTier[tier] = tu
		}
	}

	if len(usage.ByTier) == 0 {
		usage.ByTier = nil
	}
	return usage
}
