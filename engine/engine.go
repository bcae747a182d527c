// Package engine wires the components into the fetch-and-learn core: it
// validates, throttles, fetches, verifies, and then feeds every outcome back
// into the pattern registry, usage counters, webhooks, and change tracker.
package engine

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"llmb/changes"
	"llmb/config"
	"llmb/fetch"
	"llmb/patterns"
	"llmb/safety"
	"llmb/scheduler"
	"llmb/secrets"
	"llmb/shared"
	"llmb/usage"
	"llmb/verify"
	"llmb/webhook"
)

// =============================================================================
// ENGINE
// =============================================================================
//
// Request path: safety validation -> global limiter -> budget check ->
// per-domain throttle -> tiered fetch with verification -> best-effort
// bookkeeping. Bookkeeping never blocks the caller; it runs on a tracked
// goroutine drained by Close.
//
// =============================================================================

const (
	defaultGlobalRate  = 50.0
	defaultGlobalBurst = 100

	// bookkeepingTimeout bounds one scope's background work
	bookkeepingTimeout = 30 * time.Second
)

// Options configures engine construction
type Options struct {
	// StateDir enables persistence of patterns.json and
	// content-changes.json when non-empty
	StateDir string

	// DefaultDailyLimit applies when the tenant record carries none
	DefaultDailyLimit int64

	// SessionKey is the passphrase for encrypted session blobs
	SessionKey string

	Safety  safety.Config
	Fetch   fetch.Config
	Webhook webhook.Config

	// UsageBackend is nil for memory-only counting
	UsageBackend usage.Backend

	// TierClients overrides the default client set (tests); when nil the
	// engine wires intelligence + lightweight, plus playwright when
	// EnableBrowser is set
	TierClients   []fetch.TierClient
	EnableBrowser bool

	// GlobalRatePerSecond / GlobalBurst tune the process-level limiter
	GlobalRatePerSecond float64
	GlobalBurst         int

	// DisableDecaySchedule turns the daily decay tick off (tests)
	DisableDecaySchedule bool
}

// FromConfig maps the environment configuration onto engine options
func FromConfig(cfg *config.Config) Options {
	return Options{
		StateDir:          cfg.StateDir,
		DefaultDailyLimit: cfg.DefaultDailyLimit,
		SessionKey:        cfg.SessionKey,
		Webhook:           webhook.Config{MaxEndpointsPerTenant: cfg.MaxWebhookEndpointsPerTenant},
	}
}

// Engine is the operation-level facade consumed by the hosting layer
type Engine struct {
	validator *safety.Validator
	scheduler *scheduler.Scheduler
	registry  *patterns.Registry
	verifier  *verify.Pipeline
	fetcher   *fetch.TieredFetcher
	usage     *usage.Counter
	webhooks  *webhook.Dispatcher
	tracker   *changes.Tracker

	limiter *rate.Limiter
	cron    *cron.Cron

	options Options
	logger  *zap.Logger

	// bg tracks scope bookkeeping goroutines for Close
	bg     sync.WaitGroup
	mu     sync.Mutex
	closed bool

	playwright *fetch.PlaywrightClient
}

// New builds a fully wired engine
func New(opts Options, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DefaultDailyLimit <= 0 {
		opts.DefaultDailyLimit = 10000
	}
	if opts.GlobalRatePerSecond <= 0 {
		opts.GlobalRatePerSecond = defaultGlobalRate
	}
	if opts.GlobalBurst <= 0 {
		opts.GlobalBurst = defaultGlobalBurst
	}

	e := &Engine{
		validator: safety.New(opts.Safety),
		scheduler: scheduler.New(logger),
		usage:     usage.NewCounter(opts.UsageBackend, logger),
		webhooks:  webhook.NewDispatcher(opts.Webhook, logger),
		limiter:   rate.NewLimiter(rate.Limit(opts.GlobalRatePerSecond), opts.GlobalBurst),
		options:   opts,
		logger:    logger,
	}

	registryConfig := patterns.RegistryConfig{}
	if opts.StateDir != "" {
		registryConfig.PersistPath = filepath.Join(opts.StateDir, "patterns.json")
	}
	health := patterns.NewHealthMonitor(e.onHealthTransition, logger)
	e.registry = patterns.NewRegistry(registryConfig, nil, health, learningBridge{e}, logger)

	if err := e.registry.Bootstrap(); err != nil {
		return nil, err
	}
	if err := e.registry.Load(); err != nil {
		return nil, err
	}

	trackerConfig := changes.Config{}
	if opts.StateDir != "" {
		trackerConfig.PersistPath = filepath.Join(opts.StateDir, "content-changes.json")
	}
	e.tracker = changes.NewTracker(trackerConfig, logger)
	if err := e.tracker.Load(); err != nil {
		return nil, err
	}

	e.verifier = verify.NewPipeline(nil, logger)

	clients := opts.TierClients
	if clients == nil {
		clients = []fetch.TierClient{
			fetch.NewIntelligenceClient(e.registry, logger),
			fetch.NewLightweightClient(logger),
		}
		if opts.EnableBrowser {
			pw, err := fetch.NewPlaywrightClient(logger)
			if err != nil {
				return nil, err
			}
			if opts.SessionKey != "" && opts.StateDir != "" {
				store, err := secrets.NewStore(filepath.Join(opts.StateDir, "sessions.json"), opts.SessionKey, logger)
				if err != nil {
					return nil, err
				}
				pw.SetSessionStore(store)
			}
			e.playwright = pw
			clients = append(clients, pw)
		}
	}
	e.fetcher = fetch.NewTieredFetcher(clients, e.registry, e.verifier, opts.Fetch, logger)

	if !opts.DisableDecaySchedule {
		e.cron = cron.New()
		_, _ = e.cron.AddFunc("@daily", e.registry.Decay)
		e.cron.Start()
	}

	return e, nil
}

// Webhooks exposes endpoint CRUD, test, history, and stats
func (e *Engine) Webhooks() *webhook.Dispatcher {
	return e.webhooks
}

// Changes exposes URL tracking and change listing
func (e *Engine) Changes() *changes.Tracker {
	return e.tracker
}

// Patterns exposes the learned-pattern registry
func (e *Engine) Patterns() *patterns.Registry {
	return e.registry
}

// Scheduler exposes per-domain rate limit registration
func (e *Engine) Scheduler() *scheduler.Scheduler {
	return e.scheduler
}

// Decay runs one confidence-decay tick immediately
func (e *Engine) Decay() {
	e.registry.Decay()
}

// Close drains bookkeeping, stops schedules, and flushes persistent state
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
	e.bg.Wait()
	e.webhooks.Close()

	var firstErr error
	if err := e.registry.Close(); err != nil {
		firstErr = err
	}
	if err := e.tracker.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if e.playwright != nil {
		if err := e.playwright.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// =============================================================================
// EVENT BRIDGING
// =============================================================================

// learningBridge forwards registry events into the webhook dispatcher
type learningBridge struct {
	engine *Engine
}

// Emit maps a learning event onto the wire event types and fans it out
func (b learningBridge) Emit(event patterns.LearningEvent) {
	var eventType shared.EventType
	severity := shared.SeverityLow

	switch event.Type {
	case patterns.EventPatternLearned:
		eventType = shared.EventPatternLearned
	case patterns.EventAntiPatternCreated:
		eventType = shared.EventAntiPatternCreated
		severity = shared.SeverityMedium
	default:
		// Metric-level events stay internal
		return
	}

	b.engine.broadcast(eventType, event.Domain, severity, map[string]interface{}{
		"patternId": event.PatternId,
		"detail":    event.Data,
	})
}

// onHealthTransition surfaces degraded/broken pattern health as events
func (e *Engine) onHealthTransition(t patterns.HealthTransition) {
	var eventType shared.EventType
	var severity shared.Severity

	switch t.NewStatus {
	case patterns.HealthBroken:
		eventType = shared.EventPatternBroken
		severity = shared.SeverityHigh
	case patterns.HealthDegraded, patterns.HealthFailing:
		eventType = shared.EventPatternDegraded
		severity = shared.SeverityMedium
	default:
		return
	}

	e.broadcast(eventType, "", severity, map[string]interface{}{
		"patternId":        t.PatternId,
		"previousStatus":   string(t.PreviousStatus),
		"newStatus":        string(t.NewStatus),
		"successRate":      t.SuccessRate,
		"suggestedActions": t.SuggestedActions,
	})
}

// broadcast dispatches a system-scoped event to every tenant that has
// webhook endpoints. Pattern state is shared across tenants, so each
// interested tenant gets its own event instance.
func (e *Engine) broadcast(eventType shared.EventType, domain string, severity shared.Severity, data map[string]interface{}) {
	for _, tenantId := range e.webhooks.Tenants() {
		event := shared.Event{
			Id:        shared.NewId("evt"),
			Type:      eventType,
			Category:  shared.EventCategory(eventType),
			TenantId:  tenantId,
			Timestamp: time.Now(),
			Data:      data,
			Metadata:  shared.EventMetadata{Domain: domain, Severity: severity},
		}
		if _, err := e.webhooks.Dispatch(event); err != nil {
			e.logger.Debug("event broadcast skipped",
				zap.String("eventType", string(eventType)), zap.Error(err))
		}
	}
}

// dispatchTo sends one tenant-scoped event
func (e *Engine) dispatchTo(tenantId string, eventType shared.EventType, domain string, severity shared.Severity, data map[string]interface{}) {
	event := shared.Event{
		Id:        shared.NewId("evt"),
		Type:      eventType,
		Category:  shared.EventCategory(eventType),
		TenantId:  tenantId,
		Timestamp: time.Now(),
		Data:      data,
		Metadata:  shared.EventMetadata{Domain: domain, Severity: severity},
	}
	if _, err := e.webhooks.Dispatch(event); err != nil {
		e.logger.Debug("event dispatch skipped",
			zap.String("eventType", string(eventType)), zap.Error(err))
	}
}

// logBoundaryError logs a surfaced error once, redacted, at the boundary
func (e *Engine) logBoundaryError(op, rawURL string, err error) {
	coreErr := shared.AsCoreError(err)
	e.logger.Warn("operation failed",
		zap.String("op", op),
		zap.String("url", rawURL),
		zap.String("code", string(coreErr.Code)),
		zap.String("message", shared.RedactString(coreErr.Message)),
		zap.Any("details", shared.RedactDetails(coreErr.Details)))
}

// spawn runs fn on a tracked background goroutine unless the engine is
// already closed
func (e *Engine) spawn(fn func(ctx context.Context)) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.bg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
		defer cancel()
		fn(ctx)
	}()
}
