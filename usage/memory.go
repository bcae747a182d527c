package usage

import (
	"context"
	"sync"
	"time"

	"llmb/shared"
)

// =============================================================================
// MEMORY BACKEND
// =============================================================================

type memoryEntry struct {
	usage DayUsage

	// expiresAt is set on first increment and never extended
	expiresAt time.Time
}

// MemoryBackend is the in-process counter store
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry

	now func() time.Time
}

// NewMemoryBackend creates an empty store
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func memoryKey(tenantId, day string) string {
	return tenantId + ":" + day
}

// Increment is one atomic update under the store lock
func (m *MemoryBackend) Increment(ctx context.Context, tenantId, day string, tier shared.Tier, units int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked()

	key := memoryKey(tenantId, day)
	entry, ok := m.entries[key]
	if !ok {
		entry = &memoryEntry{
			usage:     DayUsage{Date: day, ByTier: make(map[shared.Tier]TierUsage)},
			expiresAt: m.now().Add(RetentionDays * 24 * time.Hour),
		}
		m.entries[key] = entry
	}

	entry.usage.Requests++
	entry.usage.Units += units
	tu := entry.usage.ByTier[tier]
	tu.Requests++
	tu.Units += units
	entry.usage.ByTier[tier] = tu
	return nil
}

// Day returns a copy of one day's counters; missing days are zero
func (m *MemoryBackend) Day(ctx context.Context, tenantId, day string) (DayUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked()

	entry, ok := m.entries[memoryKey(tenantId, day)]
	if !ok {
		return DayUsage{Date: day}, nil
	}
	return copyUsage(entry.usage), nil
}

// Days returns copies for each requested day in order
func (m *MemoryBackend) Days(ctx context.Context, tenantId string, days []string) ([]DayUsage, error) {
	out := make([]DayUsage, 0, len(days))
	for _, day := range days {
		usage, err := m.Day(ctx, tenantId, day)
		if err != nil {
			return nil, err
		}
		out = append(out, usage)
	}
	return out, nil
}

func (m *MemoryBackend) pruneLocked() {
	now := m.now()
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, key)
		}
	}
}

func copyUsage(u DayUsage) DayUsage {
	cp := u
	cp.ByTier = make(map[shared.Tier]TierUsage, len(u.ByTier))
	for tier, tu := range u.ByTier {
		cp.ByTier[tier] = tu
	}
	return cp
}
