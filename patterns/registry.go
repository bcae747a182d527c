package patterns

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"

	"llmb/shared"
)

// =============================================================================
// PATTERN REGISTRY
// =============================================================================
//
// Patterns live in memory indexed by domain and template type, plus a
// compiled-regex match list ordered by confidence. Each pattern record has a
// single-writer lock; reads take snapshot copies under that lock. The
// registry-wide lock only guards the maps and indices.
//
// =============================================================================

// RegistryConfig tunes matching, decay, and persistence
type RegistryConfig struct {
	// MinConfidenceThreshold is the archive floor (default 0.2)
	MinConfidenceThreshold float64

	// ArchiveAfterDays is how long a pattern may sit under the floor
	// before being archived (default 14)
	ArchiveAfterDays int

	// MinSimilarity gates Transfer (default 0.3)
	MinSimilarity float64

	// TransferDecay scales confidence on transfer (default 0.5)
	TransferDecay float64

	// MaxRecentFailures bounds the per-pattern failure log (default 20)
	MaxRecentFailures int

	// IdleDecayAfter is how long a pattern may go unused before daily
	// decay starts (default 7 days)
	IdleDecayAfter time.Duration

	// PersistPath enables persistence when non-empty
	PersistPath string

	// PersistDebounce is the write debounce (default 1s)
	PersistDebounce time.Duration

	// HTTPTimeout bounds pattern application requests (default 15s)
	HTTPTimeout time.Duration
}

func (c *RegistryConfig) applyDefaults() {
	if c.MinConfidenceThreshold <= 0 {
		c.MinConfidenceThreshold = 0.2
	}
	if c.ArchiveAfterDays <= 0 {
		c.ArchiveAfterDays = 14
	}
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = 0.3
	}
	if c.TransferDecay <= 0 {
		c.TransferDecay = 0.5
	}
	if c.MaxRecentFailures <= 0 {
		c.MaxRecentFailures = 20
	}
	if c.IdleDecayAfter <= 0 {
		c.IdleDecayAfter = 7 * 24 * time.Hour
	}
	if c.PersistDebounce <= 0 {
		c.PersistDebounce = time.Second
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
}

// patternEntry pairs a pattern with its single-writer lock and compiled regexes
type patternEntry struct {
	mu       sync.Mutex
	pattern  *Pattern
	compiled []*regexp.Regexp
}

// snapshot returns a deep copy taken under the record lock
func (e *patternEntry) snapshot() Pattern {
	e.mu.Lock()
	defer e.mu.Unlock()
	var cp Pattern
	_ = copier.CopyWithOption(&cp, e.pattern, copier.Option{DeepCopy: true})
	return cp
}

// Registry is the learned-pattern store
type Registry struct {
	mu       sync.RWMutex
	patterns map[string]*patternEntry
	byDomain map[string][]string
	byType   map[TemplateType][]string

	antiPatterns *AntiPatternStore
	health       *HealthMonitor

	sink      EventSink
	extractor VariableExtractor
	mapper    ContentMapper

	httpClient *http.Client
	logger     *zap.Logger
	config     RegistryConfig
	now        func() time.Time

	persister *persister
}

// NewRegistry creates a registry. Nil collaborators get defaults; a nil
// sink discards events.
func NewRegistry(config RegistryConfig, antiPatterns *AntiPatternStore, health *HealthMonitor, sink EventSink, logger *zap.Logger) *Registry {
	config.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if antiPatterns == nil {
		antiPatterns = NewAntiPatternStore(DefaultStoreConfig, logger)
	}
	if health == nil {
		health = NewHealthMonitor(nil, logger)
	}
	if sink == nil {
		sink = nopSink{}
	}

	r := &Registry{
		patterns:     make(map[string]*patternEntry),
		byDomain:     make(map[string][]string),
		byType:       make(map[TemplateType][]string),
		antiPatterns: antiPatterns,
		health:       health,
		sink:         sink,
		extractor:    DefaultExtractor{},
		mapper:       DefaultMapper{},
		httpClient:   &http.Client{Timeout: config.HTTPTimeout},
		logger:       logger,
		config:       config,
		now:          time.Now,
	}

	if config.PersistPath != "" {
		r.persister = newPersister(config.PersistPath, config.PersistDebounce, r.exportState, logger)
	}

	return r
}

// SetHTTPClient overrides the client used by Apply (tests)
func (r *Registry) SetHTTPClient(client *http.Client) {
	r.httpClient = client
}

// AntiPatterns exposes the suppression store
func (r *Registry) AntiPatterns() *AntiPatternStore {
	return r.antiPatterns
}

// HealthMonitor exposes the health monitor
func (r *Registry) HealthMonitor() *HealthMonitor {
	return r.health
}

// =============================================================================
// ADD / GET
// =============================================================================

// Add registers a pattern and indexes it. Invalid regexes are rejected.
func (r *Registry) Add(p *Pattern) error {
	if p.Id == "" {
		p.Id = shared.NewId("pat")
	}
	if p.Metrics.FailuresByCategory == nil {
		p.Metrics.FailuresByCategory = make(map[shared.FailureCategory]int64)
	}

	compiled := make([]*regexp.Regexp, 0, len(p.URLPatterns))
	for _, raw := range p.URLPatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return fmt.Errorf("pattern %s: invalid url pattern %q: %w", p.Id, raw, err)
		}
		compiled = append(compiled, re)
	}

	r.mu.Lock()
	r.patterns[p.Id] = &patternEntry{pattern: p, compiled: compiled}
	for _, domain := range p.Metrics.Domains {
		r.byDomain[domain] = appendUnique(r.byDomain[domain], p.Id)
	}
	r.byType[p.TemplateType] = appendUnique(r.byType[p.TemplateType], p.Id)
	r.mu.Unlock()

	r.schedulePersist()
	return nil
}

// Get returns a snapshot copy of a pattern, or nil
func (r *Registry) Get(id string) *Pattern {
	r.mu.RLock()
	entry, ok := r.patterns[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	cp := entry.snapshot()
	return &cp
}

// Len returns the number of stored patterns, archived included
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.patterns)
}

// Resolve returns snapshot copies of a pattern's fallback chain, skipping
// archived or unknown ids. Fallbacks are stored as ids, so resolution is
// lazy and cycle-free.
func (r *Registry) Resolve(fallbackIds []string) []Pattern {
	var out []Pattern
	for _, id := range fallbackIds {
		if p := r.Get(id); p != nil && !p.Archived {
			out = append(out, *p)
		}
	}
	return out
}

// =============================================================================
// MATCH
// =============================================================================

// Match returns candidate patterns for a URL, best-first. Candidates with
// an active anti-pattern for the URL's domain are filtered out.
func (r *Registry) Match(rawURL string) []MatchResult {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	domain := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")

	r.mu.RLock()
	entries := make([]*patternEntry, 0, len(r.patterns))
	for _, entry := range r.patterns {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	now := r.now()
	var results []MatchResult

	for _, entry := range entries {
		entry.mu.Lock()
		p := entry.pattern
		if p.Archived {
			entry.mu.Unlock()
			continue
		}

		matched := false
		var matchedRegex string
		for i, re := range entry.compiled {
			if re.MatchString(rawURL) {
				matched = true
				matchedRegex = p.URLPatterns[i]
				break
			}
		}
		if !matched {
			entry.mu.Unlock()
			continue
		}

		var cp Pattern
		_ = copier.CopyWithOption(&cp, p, copier.Option{DeepCopy: true})
		entry.mu.Unlock()

		if _, suppressed := r.antiPatterns.Suppressed(cp.Id, domain); suppressed {
			continue
		}

		vars, err := r.extractor.Extract(u, cp.Extractors)
		if err != nil {
			continue
		}
		endpoint, err := SubstituteTemplate(cp.EndpointTemplate, vars)
		if err != nil {
			continue
		}

		results = append(results, MatchResult{
			Pattern:        cp,
			ExtractedVars:  vars,
			APIEndpoint:    endpoint,
			MatchedPattern: matchedRegex,
			Confidence:     cp.Metrics.Confidence * r.ageDecayFactor(cp.LastUsedAt, now),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Confidence != results[j].Confidence {
			return results[i].Confidence > results[j].Confidence
		}
		si := regexSpecificity(results[i].MatchedPattern)
		sj := regexSpecificity(results[j].MatchedPattern)
		if si != sj {
			return si > sj
		}
		return results[i].Pattern.LastUsedAt.After(results[j].Pattern.LastUsedAt)
	})

	return results
}

// ageDecayFactor discounts confidence for patterns idle beyond the decay
// horizon: 1% per idle day past it, floored at 0.5.
func (r *Registry) ageDecayFactor(lastUsed time.Time, now time.Time) float64 {
	if lastUsed.IsZero() {
		return 1.0
	}
	idle := now.Sub(lastUsed)
	if idle <= r.config.IdleDecayAfter {
		return 1.0
	}
	extraDays := float64(idle-r.config.IdleDecayAfter) / float64(24*time.Hour)
	factor := 1.0 - 0.01*extraDays
	if factor < 0.5 {
		factor = 0.5
	}
	return factor
}

// =============================================================================
// APPLY
// =============================================================================

// Apply dispatches an HTTP request against the matched endpoint, parses,
// validates, and maps the response, then feeds the outcome back into the
// pattern's metrics, health, and anti-pattern bookkeeping.
func (r *Registry) Apply(ctx context.Context, match MatchResult) ApplicationResult {
	p := match.Pattern
	domain := domainOf(match.APIEndpoint)
	start := r.now()

	fail := func(category shared.FailureCategory, status int, message string) ApplicationResult {
		elapsed := r.now().Sub(start).Milliseconds()
		r.ObserveFailure(p.Id, shared.FailureRecord{
			Timestamp:      r.now(),
			Category:       category,
			StatusCode:     status,
			Message:        message,
			Domain:         domain,
			AttemptedURL:   match.APIEndpoint,
			PatternId:      p.Id,
			ResponseTimeMs: elapsed,
		})
		return ApplicationResult{
			Success:        false,
			Status:         status,
			Category:       category,
			Error:          message,
			ResponseTimeMs: elapsed,
		}
	}

	method := p.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, match.APIEndpoint, nil)
	if err != nil {
		return fail(shared.FailureWrongEndpoint, 0, fmt.Sprintf("build request: %v", err))
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Accept") == "" && p.ResponseFormat == "json" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fail(shared.ClassifyError(err), 0, err.Error())
	}
	defer resp.Body.Close()

	elapsedMs := r.now().Sub(start).Milliseconds()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(shared.ClassifyStatus(resp.StatusCode), resp.StatusCode,
			fmt.Sprintf("endpoint returned status %d", resp.StatusCode))
	}

	if expected := p.Validation.ExpectedContentType; expected != "" {
		if !strings.Contains(resp.Header.Get("Content-Type"), expected) {
			return fail(shared.FailureValidationFailed, resp.StatusCode,
				fmt.Sprintf("unexpected content type %q", resp.Header.Get("Content-Type")))
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fail(shared.FailureNetworkError, resp.StatusCode, fmt.Sprintf("read body: %v", err))
	}

	content, structured, err := r.mapper.Map(p.ResponseFormat, body, p.ContentMapping)
	if err != nil {
		return fail(shared.FailureParseError, resp.StatusCode, err.Error())
	}

	for _, field := range p.Validation.RequiredFields {
		if structured == nil || !HasPath(structured, field) {
			return fail(shared.FailureValidationFailed, resp.StatusCode,
				fmt.Sprintf("required field %q missing", field))
		}
	}

	if min := p.Validation.MinContentLength; min > 0 && len(content.Text) < min {
		return fail(shared.FailureContentTooShort, resp.StatusCode,
			fmt.Sprintf("content length %d below minimum %d", len(content.Text), min))
	}

	if max := p.Validation.MaxResponseTimeMs; max > 0 && elapsedMs > max {
		return fail(shared.FailureTimeout, resp.StatusCode,
			fmt.Sprintf("response took %dms, budget %dms", elapsedMs, max))
	}

	r.ObserveSuccess(p.Id, elapsedMs, domain)

	r.sink.Emit(LearningEvent{
		Type:      EventPatternApplied,
		PatternId: p.Id,
		Domain:    domain,
		Timestamp: r.now(),
		Data:      map[string]interface{}{"endpoint": match.APIEndpoint, "responseTimeMs": elapsedMs},
	})

	return ApplicationResult{
		Success:        true,
		Status:         resp.StatusCode,
		Content:        content,
		StructuredData: structured,
		ResponseTimeMs: elapsedMs,
	}
}

// =============================================================================
// OBSERVATIONS
// =============================================================================

// ObserveSuccess records a successful application of a pattern
func (r *Registry) ObserveSuccess(patternId string, responseTimeMs int64, domain string) {
	r.mu.RLock()
	entry, ok := r.patterns[patternId]
	r.mu.RUnlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	p := entry.pattern
	now := r.now()
	p.Metrics.SuccessCount++
	p.Metrics.LastSuccess = &now
	p.Metrics.Confidence = clamp01(p.Metrics.Confidence + 0.05*(1-p.Metrics.Confidence))
	if responseTimeMs > 0 {
		n := float64(p.Metrics.SuccessCount)
		p.Metrics.AvgResponseTimeMs += (float64(responseTimeMs) - p.Metrics.AvgResponseTimeMs) / n
	}
	p.AddDomain(domain)
	p.LastUsedAt = now
	p.UpdatedAt = now
	p.BelowThresholdSince = nil
	entry.mu.Unlock()

	if domain != "" {
		r.mu.Lock()
		r.byDomain[domain] = appendUnique(r.byDomain[domain], patternId)
		r.mu.Unlock()
	}

	r.health.Observe(patternId, true, "")
	r.schedulePersist()

	r.sink.Emit(LearningEvent{
		Type:      EventPatternUpdated,
		PatternId: patternId,
		Domain:    domain,
		Timestamp: r.now(),
	})
}

// ObserveFailure records a classified failure of a pattern and runs the
// anti-pattern threshold logic.
func (r *Registry) ObserveFailure(patternId string, record shared.FailureRecord) {
	r.mu.RLock()
	entry, ok := r.patterns[patternId]
	r.mu.RUnlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	p := entry.pattern
	now := r.now()
	p.Metrics.FailureCount++
	p.Metrics.LastFailure = &now
	p.Metrics.LastFailureReason = record.Message
	p.Metrics.Confidence = clamp01(p.Metrics.Confidence - 0.1)
	if p.Metrics.FailuresByCategory == nil {
		p.Metrics.FailuresByCategory = make(map[shared.FailureCategory]int64)
	}
	p.Metrics.FailuresByCategory[record.Category]++
	p.Metrics.RecentFailures = append(p.Metrics.RecentFailures, record)
	if len(p.Metrics.RecentFailures) > r.config.MaxRecentFailures {
		p.Metrics.RecentFailures = p.Metrics.RecentFailures[len(p.Metrics.RecentFailures)-r.config.MaxRecentFailures:]
	}
	p.LastUsedAt = now
	p.UpdatedAt = now
	entry.mu.Unlock()

	r.health.Observe(patternId, false, record.Category)

	if ap := r.antiPatterns.RecordFailure(patternId, record.Domain, record.Category, record.Message); ap != nil {
		entry.mu.Lock()
		entry.pattern.Metrics.ActiveAntiPatterns = appendUnique(entry.pattern.Metrics.ActiveAntiPatterns, ap.Id)
		entry.mu.Unlock()

		r.sink.Emit(LearningEvent{
			Type:      EventAntiPatternCreated,
			PatternId: patternId,
			Domain:    record.Domain,
			Timestamp: r.now(),
			Data: map[string]interface{}{
				"antiPatternId": ap.Id,
				"category":      string(ap.FailureCategory),
				"action":        string(ap.RecommendedAction),
			},
		})
	}

	r.schedulePersist()
}

// =============================================================================
// LEARN / TRANSFER / DECAY
// =============================================================================

// Learn infers a template from a successful non-pattern fetch and registers
// it at confidence 0.5. Returns the new pattern, or nil when nothing could
// be inferred. When an equivalent live pattern already exists, it is
// reinforced instead of duplicated.
func (r *Registry) Learn(obs ExtractionObservation) (*Pattern, error) {
	p, err := InferTemplate(obs)
	if err != nil {
		if err == ErrNoTemplate {
			return nil, nil
		}
		return nil, err
	}

	if existingId := r.findEquivalent(p); existingId != "" {
		r.reinforce(existingId, obs.Domain)
		r.logger.Debug("pattern reinforced",
			zap.String("patternId", existingId),
			zap.String("domain", obs.Domain))
		return r.Get(existingId), nil
	}

	if err := r.Add(p); err != nil {
		return nil, err
	}

	r.logger.Info("pattern learned",
		zap.String("patternId", p.Id),
		zap.String("domain", obs.Domain),
		zap.String("templateType", string(p.TemplateType)))

	r.sink.Emit(LearningEvent{
		Type:      EventPatternLearned,
		PatternId: p.Id,
		Domain:    obs.Domain,
		Timestamp: r.now(),
		Data:      map[string]interface{}{"templateType": string(p.TemplateType)},
	})

	cp := r.Get(p.Id)
	return cp, nil
}

// findEquivalent returns the id of a live pattern with the same template
// type, endpoint template, and URL pattern set, or ""
func (r *Registry) findEquivalent(p *Pattern) string {
	r.mu.RLock()
	entries := make([]*patternEntry, 0, len(r.byType[p.TemplateType]))
	for _, id := range r.byType[p.TemplateType] {
		if entry, ok := r.patterns[id]; ok {
			entries = append(entries, entry)
		}
	}
	r.mu.RUnlock()

	for _, entry := range entries {
		entry.mu.Lock()
		q := entry.pattern
		same := !q.Archived &&
			q.EndpointTemplate == p.EndpointTemplate &&
			samePatternSet(q.URLPatterns, p.URLPatterns)
		id := q.Id
		entry.mu.Unlock()
		if same {
			return id
		}
	}
	return ""
}

func samePatternSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// reinforce nudges an existing pattern's confidence for a repeated
// observation; no event is emitted for a reinforcement
func (r *Registry) reinforce(patternId, domain string) {
	r.mu.RLock()
	entry, ok := r.patterns[patternId]
	r.mu.RUnlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	p := entry.pattern
	p.Metrics.Confidence = clamp01(p.Metrics.Confidence + 0.05*(1-p.Metrics.Confidence))
	p.AddDomain(domain)
	p.UpdatedAt = r.now()
	entry.mu.Unlock()

	if domain != "" {
		r.mu.Lock()
		r.byDomain[domain] = appendUnique(r.byDomain[domain], patternId)
		r.mu.Unlock()
	}
	r.schedulePersist()
}

// Transfer clones a pattern onto a similar target domain. Allowed when
// similarity >= MinSimilarity; the clone starts at confidence * TransferDecay.
func (r *Registry) Transfer(sourcePatternId, targetDomain string, similarity float64) (*Pattern, error) {
	if similarity < r.config.MinSimilarity {
		return nil, fmt.Errorf("similarity %.2f below minimum %.2f", similarity, r.config.MinSimilarity)
	}

	source := r.Get(sourcePatternId)
	if source == nil {
		return nil, fmt.Errorf("unknown source pattern %s", sourcePatternId)
	}

	now := r.now()
	clone := *source
	clone.Id = shared.NewId("pat")
	clone.Metrics = Metrics{
		Confidence:         clamp01(source.Metrics.Confidence * r.config.TransferDecay),
		Domains:            []string{targetDomain},
		FailuresByCategory: make(map[shared.FailureCategory]int64),
	}
	clone.URLPatterns = retargetPatterns(source.URLPatterns, source.Metrics.Domains, targetDomain)
	clone.FallbackPatterns = append([]string(nil), source.FallbackPatterns...)
	clone.CreatedAt = now
	clone.UpdatedAt = now
	clone.LastUsedAt = time.Time{}
	clone.Archived = false
	clone.ArchivedAt = nil
	clone.BelowThresholdSince = nil

	if err := r.Add(&clone); err != nil {
		return nil, err
	}

	r.sink.Emit(LearningEvent{
		Type:      EventPatternLearned,
		PatternId: clone.Id,
		Domain:    targetDomain,
		Timestamp: now,
		Data:      map[string]interface{}{"transferredFrom": sourcePatternId, "similarity": similarity},
	})

	cp := r.Get(clone.Id)
	return cp, nil
}

// retargetPatterns rewrites the source domains inside URL regexes to the
// target domain. Patterns that mention no source domain are kept as-is.
func retargetPatterns(urlPatterns, sourceDomains []string, targetDomain string) []string {
	escaped := regexp.QuoteMeta(targetDomain)
	out := make([]string, 0, len(urlPatterns))
	for _, raw := range urlPatterns {
		rewritten := raw
		for _, d := range sourceDomains {
			rewritten = strings.ReplaceAll(rewritten, regexp.QuoteMeta(d), escaped)
		}
		out = append(out, rewritten)
	}
	return out
}

// Decay runs one decay tick: idle patterns lose confidence, and patterns
// stuck below the archive floor get archived. Intended to run daily.
func (r *Registry) Decay() {
	r.mu.RLock()
	entries := make([]*patternEntry, 0, len(r.patterns))
	for _, entry := range r.patterns {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	now := r.now()
	archiveAfter := time.Duration(r.config.ArchiveAfterDays) * 24 * time.Hour

	for _, entry := range entries {
		entry.mu.Lock()
		p := entry.pattern
		if p.Archived {
			entry.mu.Unlock()
			continue
		}

		decayed := false
		if !p.LastUsedAt.IsZero() && now.Sub(p.LastUsedAt) > r.config.IdleDecayAfter {
			p.Metrics.Confidence = clamp01(p.Metrics.Confidence * 0.99)
			p.UpdatedAt = now
			decayed = true
		}

		archived := false
		if p.Metrics.Confidence < r.config.MinConfidenceThreshold {
			if p.BelowThresholdSince == nil {
				ts := now
				p.BelowThresholdSince = &ts
			} else if now.Sub(*p.BelowThresholdSince) > archiveAfter {
				p.Archived = true
				ts := now
				p.ArchivedAt = &ts
				archived = true
			}
		} else {
			p.BelowThresholdSince = nil
		}

		id := p.Id
		confidence := p.Metrics.Confidence
		entry.mu.Unlock()

		if decayed {
			r.sink.Emit(LearningEvent{
				Type:      EventConfidenceDecayed,
				PatternId: id,
				Timestamp: now,
				Data:      map[string]interface{}{"confidence": confidence},
			})
		}
		if archived {
			r.removeFromIndices(id)
			r.logger.Info("pattern archived", zap.String("patternId", id))
			r.sink.Emit(LearningEvent{
				Type:      EventPatternArchived,
				PatternId: id,
				Timestamp: now,
			})
		}
	}

	r.schedulePersist()
}

func (r *Registry) removeFromIndices(patternId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for domain, ids := range r.byDomain {
		r.byDomain[domain] = removeString(ids, patternId)
	}
	for t, ids := range r.byType {
		r.byType[t] = removeString(ids, patternId)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func removeString(ids []string, id string) []string {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
