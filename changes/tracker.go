// Package changes tracks URL content fingerprints across fetches and
// reports semantic deltas: which sections appeared or vanished, how much
// the word count moved, and how significant the change is.
package changes

import (
	"encoding/json"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"llmb/patterns"
	"llmb/shared"
)

// =============================================================================
// CONTENT-CHANGE TRACKER
// =============================================================================
//
// Invariants per tracked URL: change_count <= check_count and
// last_changed <= last_checked. History is bounded per URL and globally;
// persistence is one schema-versioned JSON file replaced atomically on a
// debounced schedule.
//
// =============================================================================

// changesSchemaVersion is bumped on breaking layout changes
const changesSchemaVersion = "1.0"

const (
	defaultMaxHistoryPerURL = 50
	defaultMaxHistoryGlobal = 1000
	defaultDebounce         = time.Second
)

// TrackedURL is the persistent record for one watched URL
type TrackedURL struct {
	URL    string   `json:"url"`
	Domain string   `json:"domain"`
	Label  string   `json:"label,omitempty"`
	Tags   []string `json:"tags,omitempty"`

	Fingerprint Fingerprint `json:"fingerprint"`

	CheckCount  int `json:"checkCount"`
	ChangeCount int `json:"changeCount"`

	FirstSeen   time.Time  `json:"firstSeen"`
	LastChecked time.Time  `json:"lastChecked"`
	LastChanged *time.Time `json:"lastChanged,omitempty"`

	History []ChangeRecord `json:"history,omitempty"`
}

// GlobalChange is one entry of the tracker-wide change feed
type GlobalChange struct {
	URL    string       `json:"url"`
	Domain string       `json:"domain"`
	Record ChangeRecord `json:"record"`
}

// CheckResult is the outcome of one change check
type CheckResult struct {
	URL     string        `json:"url"`
	Changed bool          `json:"changed"`
	Record  *ChangeRecord `json:"record,omitempty"`
}

// ListFilter narrows a List call
type ListFilter struct {
	Domain     string
	Tags       []string
	HasChanged *bool
	Limit      int
}

// Config carries tracker limits and persistence settings
type Config struct {
	PersistPath      string
	Debounce         time.Duration
	MaxHistoryPerURL int
	MaxHistoryGlobal int
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = defaultDebounce
	}
	if c.MaxHistoryPerURL <= 0 {
		c.MaxHistoryPerURL = defaultMaxHistoryPerURL
	}
	if c.MaxHistoryGlobal <= 0 {
		c.MaxHistoryGlobal = defaultMaxHistoryGlobal
	}
	return c
}

// changesFile is the on-disk layout of content-changes.json
type changesFile struct {
	SchemaVersion string         `json:"schemaVersion"`
	SavedAt       time.Time      `json:"savedAt"`
	Tracked       []TrackedURL   `json:"tracked"`
	Feed          []GlobalChange `json:"feed,omitempty"`
}

// Tracker owns tracked URLs and the global change feed
type Tracker struct {
	mu      sync.Mutex
	tracked map[string]*TrackedURL
	feed    []GlobalChange

	config Config
	logger *zap.Logger

	timer  *time.Timer
	closed bool

	now func() time.Time
}

// NewTracker creates an empty tracker
func NewTracker(config Config, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		tracked: make(map[string]*TrackedURL),
		config:  config.withDefaults(),
		logger:  logger,
		now:     time.Now,
	}
}

// ===== TRACKING =====

// Track registers a URL with its current text. Tracking an already-tracked
// URL refreshes label and tags without resetting counters.
func (t *Tracker) Track(rawURL, text, label string, tags []string) (*TrackedURL, error) {
	domain, err := domainOf(rawURL)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	record, ok := t.tracked[rawURL]
	if !ok {
		record = &TrackedURL{
			URL:         rawURL,
			Domain:      domain,
			Fingerprint: ComputeFingerprint(text),
			FirstSeen:   now,
			LastChecked: now,
		}
		t.tracked[rawURL] = record
	}
	record.Label = label
	record.Tags = append([]string(nil), tags...)

	t.schedulePersistLocked()
	return copyTracked(record), nil
}

// Untrack removes a URL and its history
func (t *Tracker) Untrack(rawURL string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.tracked[rawURL]; !ok {
		return shared.NewErrorf(shared.ErrCodeInvalidRequest, "url is not tracked: %s", rawURL)
	}
	delete(t.tracked, rawURL)
	t.schedulePersistLocked()
	return nil
}

// Check compares fresh text against the stored fingerprint and records a
// change when they differ
func (t *Tracker) Check(rawURL, text string) (*CheckResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.tracked[rawURL]
	if !ok {
		return nil, shared.NewErrorf(shared.ErrCodeInvalidRequest, "url is not tracked: %s", rawURL)
	}

	now := t.now()
	record.CheckCount++
	record.LastChecked = now

	curr := ComputeFingerprint(text)
	if curr.Hash == record.Fingerprint.Hash {
		t.schedulePersistLocked()
		return &CheckResult{URL: rawURL, Changed: false}, nil
	}

	change := diffFingerprints(record.Fingerprint, curr, now)
	record.Fingerprint = curr
	record.ChangeCount++
	record.LastChanged = &now

	record.History = append(record.History, change)
	if len(record.History) > t.config.MaxHistoryPerURL {
		record.History = record.History[len(record.History)-t.config.MaxHistoryPerURL:]
	}

	t.feed = append(t.feed, GlobalChange{URL: rawURL, Domain: record.Domain, Record: change})
	if len(t.feed) > t.config.MaxHistoryGlobal {
		t.feed = t.feed[len(t.feed)-t.config.MaxHistoryGlobal:]
	}

	t.schedulePersistLocked()
	cp := change
	return &CheckResult{URL: rawURL, Changed: true, Record: &cp}, nil
}

// Get returns a copy of one tracked URL
func (t *Tracker) Get(rawURL string) (*TrackedURL, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.tracked[rawURL]
	if !ok {
		return nil, false
	}
	return copyTracked(record), true
}

// List returns tracked URLs matching the filter, most recently checked first
func (t *Tracker) List(filter ListFilter) []*TrackedURL {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*TrackedURL
	for _, record := range t.tracked {
		if filter.Domain != "" && record.Domain != filter.Domain {
			continue
		}
		if len(filter.Tags) > 0 && !hasAllTags(record.Tags, filter.Tags) {
			continue
		}
		if filter.HasChanged != nil && (record.ChangeCount > 0) != *filter.HasChanged {
			continue
		}
		out = append(out, copyTracked(record))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastChecked.Equal(out[j].LastChecked) {
			return out[i].LastChecked.After(out[j].LastChecked)
		}
		return out[i].URL < out[j].URL
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// RecentChanges returns the newest entries of the global feed, newest first
func (t *Tracker) RecentChanges(limit int) []GlobalChange {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.feed) {
		limit = len(t.feed)
	}
	out := make([]GlobalChange, 0, limit)
	for i := len(t.feed) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, t.feed[i])
	}
	return out
}

// Len returns the number of tracked URLs
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracked)
}

// ===== PERSISTENCE =====

// Load reads a previously persisted state file. A missing file is not an
// error; an unknown major version is.
func (t *Tracker) Load() error {
	if t.config.PersistPath == "" {
		return nil
	}

	data, err := os.ReadFile(t.config.PersistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return shared.WrapError(shared.ErrCodeUnknown, "read content-changes file", err)
	}

	var file changesFile
	if err := json.Unmarshal(data, &file); err != nil {
		return shared.WrapError(shared.ErrCodeParseError, "parse content-changes file", err)
	}
	if err := patterns.CheckSchemaVersion(file.SchemaVersion, changesSchemaVersion); err != nil {
		return shared.WrapError(shared.ErrCodeParseError, "content-changes schema", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range file.Tracked {
		record := file.Tracked[i]
		t.tracked[record.URL] = &record
	}
	t.feed = file.Feed

	t.logger.Info("tracked urls loaded",
		zap.Int("count", len(file.Tracked)),
		zap.String("path", t.config.PersistPath))
	return nil
}

// Flush forces an immediate synchronous persist
func (t *Tracker) Flush() error {
	if t.config.PersistPath == "" {
		return nil
	}
	return patterns.WriteFileAtomic(t.config.PersistPath, t.exportState())
}

// Close stops the persist timer and writes a final snapshot
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()
	return t.Flush()
}

func (t *Tracker) schedulePersistLocked() {
	if t.config.PersistPath == "" || t.closed {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.config.Debounce, func() {
		if err := t.Flush(); err != nil {
			t.logger.Warn("content-changes persist failed", zap.Error(err))
		}
	})
}

func (t *Tracker) exportState() changesFile {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TrackedURL, 0, len(t.tracked))
	for _, record := range t.tracked {
		out = append(out, *copyTracked(record))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })

	return changesFile{
		SchemaVersion: changesSchemaVersion,
		SavedAt:       time.Now(),
		Tracked:       out,
		Feed:          append([]GlobalChange(nil), t.feed...),
	}
}

// ===== HELPERS =====

func domainOf(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return "", shared.NewErrorf(shared.ErrCodeInvalidRequest, "untrackable url: %q", rawURL)
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www."), nil
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func copyTracked(record *TrackedURL) *TrackedURL {
	cp := *record
	cp.Tags = append([]string(nil), record.Tags...)
	cp.History = append([]ChangeRecord(nil), record.History...)
	if record.LastChanged != nil {
		ts := *record.LastChanged
		cp.LastChanged = &ts
	}
	if record.Fingerprint.SectionHashes != nil {
		cp.Fingerprint.SectionHashes = make(map[string]string, len(record.Fingerprint.SectionHashes))
		for k, v := range record.Fingerprint.SectionHashes {
			cp.Fingerprint.SectionHashes[k] = v
		}
	}
	return &cp
}
