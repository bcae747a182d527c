package engine

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"llmb/shared"
	"llmb/usage"
)

// =============================================================================
// OPERATIONS
// =============================================================================

// Browse fetches a URL with the full tier ladder available
func (e *Engine) Browse(ctx context.Context, tenant shared.Tenant, rawURL string, opts shared.FetchOptions) (*shared.FetchResult, error) {
	return e.run(ctx, "browse", tenant, rawURL, opts)
}

// Fetch is Browse restricted to the non-browser tiers
func (e *Engine) Fetch(ctx context.Context, tenant shared.Tenant, rawURL string, opts shared.FetchOptions) (*shared.FetchResult, error) {
	if opts.MaxCostTier == "" || shared.TierOrder(opts.MaxCostTier) > shared.TierOrder(shared.TierLightweight) {
		opts.MaxCostTier = shared.TierLightweight
	}
	return e.run(ctx, "fetch", tenant, rawURL, opts)
}

// run is the shared request path: validate, limit, budget, throttle, fetch,
// then hand the outcome to the scope for bookkeeping.
func (e *Engine) run(ctx context.Context, op string, tenant shared.Tenant, rawURL string, opts shared.FetchOptions) (*shared.FetchResult, error) {
	// Safety first: an unsafe URL must not touch any other component
	if verdict := e.validator.Validate(rawURL); !verdict.Safe {
		err := shared.NewError(shared.ErrCodeInvalidRequest, verdict.Reason).
			WithDetail("category", string(verdict.Category))
		e.logBoundaryError(op, rawURL, err)
		return nil, err
	}

	domain, err := requestDomain(rawURL)
	if err != nil {
		e.logBoundaryError(op, rawURL, err)
		return nil, err
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, shared.WrapError(shared.ErrCodeCancelled, "cancelled while rate limited", err)
	}

	// Budget backpressure before the domain throttle is touched
	if err := e.checkBudget(ctx, tenant, opts); err != nil {
		e.logBoundaryError(op, rawURL, err)
		return nil, err
	}

	if err := e.scheduler.Acquire(ctx, domain); err != nil {
		return nil, shared.WrapError(shared.ErrCodeCancelled, "cancelled while throttled", err)
	}

	sc := e.openScope(tenant, rawURL, domain, opts)
	result, err := e.fetcher.Fetch(ctx, rawURL, opts)
	sc.finish(result, err)

	if err != nil {
		e.logBoundaryError(op, rawURL, err)
		return nil, err
	}
	return result, nil
}

// checkBudget refuses the fetch when the planned tier cost would push the
// tenant over its daily unit budget. The planned cost assumes the lightweight
// tier; only a request capped at the intelligence tier plans cheaper.
func (e *Engine) checkBudget(ctx context.Context, tenant shared.Tenant, opts shared.FetchOptions) error {
	limit := tenant.DailyLimit
	if limit <= 0 {
		limit = e.options.DefaultDailyLimit
	}

	current, err := e.usage.UnitsToday(ctx, tenant.Id)
	if err != nil {
		return err
	}

	planned := int64(shared.TierCost(shared.TierLightweight))
	if opts.MaxCostTier == shared.TierIntelligence {
		planned = int64(shared.TierCost(shared.TierIntelligence))
	}

	if current+planned > limit {
		return shared.NewErrorf(shared.ErrCodeRateLimitExceeded,
			"daily unit budget exhausted: %d of %d used", current, limit).
			WithDetail("dailyLimit", limit).
			WithDetail("unitsUsed", current)
	}
	return nil
}

// =============================================================================
// BATCH
// =============================================================================

const defaultBatchConcurrency = 3

// Batch runs Browse over a URL list with bounded concurrency. Results keep
// the input order.
func (e *Engine) Batch(ctx context.Context, tenant shared.Tenant, urls []string, opts shared.FetchOptions, batchOpts shared.BatchOptions) []shared.BatchItemResult {
	concurrency := batchOpts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}
	if concurrency > len(urls) {
		concurrency = len(urls)
	}

	if batchOpts.TotalTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(batchOpts.TotalTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	results := make([]shared.BatchItemResult, len(urls))

	var mu sync.Mutex
	stopped := false

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, rawURL := range urls {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = shared.BatchItemResult{URL: rawURL, Status: shared.BatchItemSkipped}
			continue
		}

		// Re-check under the slot: an earlier item may have tripped the
		// stop flag while this one waited
		mu.Lock()
		skip := stopped || ctx.Err() != nil
		mu.Unlock()
		if skip {
			<-sem
			results[i] = shared.BatchItemResult{URL: rawURL, Status: shared.BatchItemSkipped}
			continue
		}

		wg.Add(1)
		go func(idx int, itemURL string) {
			defer wg.Done()
			defer func() { <-sem }()

			itemCtx := ctx
			if batchOpts.PerURLTimeoutMs > 0 {
				var cancel context.CancelFunc
				itemCtx, cancel = context.WithTimeout(ctx, time.Duration(batchOpts.PerURLTimeoutMs)*time.Millisecond)
				defer cancel()
			}

			start := time.Now()
			result, err := e.Browse(itemCtx, tenant, itemURL, opts)
			item := shared.BatchItemResult{
				URL:        itemURL,
				DurationMs: time.Since(start).Milliseconds(),
			}

			switch {
			case err == nil:
				item.Status = shared.BatchItemSuccess
				item.Result = result
			case isRateLimit(err):
				item.Status = shared.BatchItemRateLimited
				item.Error = shared.AsCoreError(err)
				if !batchOpts.ContinueOnRateLimit {
					mu.Lock()
					stopped = true
					mu.Unlock()
				}
			default:
				item.Status = shared.BatchItemError
				item.Error = shared.AsCoreError(err)
				if batchOpts.StopOnError {
					mu.Lock()
					stopped = true
					mu.Unlock()
				}
			}
			results[idx] = item
		}(i, rawURL)
	}

	wg.Wait()
	return results
}

func isRateLimit(err error) bool {
	code := shared.CodeOf(err)
	return code == shared.ErrCodeRateLimitExceeded || code == shared.ErrCodeRateLimited
}

// =============================================================================
// USAGE
// =============================================================================

// UsageLimits echoes the tenant's configured budgets
type UsageLimits struct {
	DailyLimit   int64 `json:"dailyLimit"`
	MonthlyLimit int64 `json:"monthlyLimit"`
}

// MonthUsage aggregates the current calendar month
type MonthUsage struct {
	Requests int64 `json:"requests"`
	Units    int64 `json:"units"`
}

// UsageReport is the tenant-facing usage summary
type UsageReport struct {
	Today  usage.DayUsage `json:"today"`
	Month  MonthUsage     `json:"month"`
	Limits UsageLimits    `json:"limits"`
}

// Usage reports today's and this month's consumption against the limits
func (e *Engine) Usage(ctx context.Context, tenant shared.Tenant) (*UsageReport, error) {
	today, err := e.usage.Today(ctx, tenant.Id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	days, err := e.usage.Range(ctx, tenant.Id, monthStart, now)
	if err != nil {
		return nil, err
	}

	var month MonthUsage
	for _, day := range days {
		month.Requests += day.Requests
		month.Units += day.Units
	}

	limits := UsageLimits{DailyLimit: tenant.DailyLimit, MonthlyLimit: tenant.MonthlyLimit}
	if limits.DailyLimit <= 0 {
		limits.DailyLimit = e.options.DefaultDailyLimit
	}

	return &UsageReport{Today: today, Month: month, Limits: limits}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func requestDomain(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return "", shared.NewErrorf(shared.ErrCodeInvalidRequest, "unfetchable url: %q", rawURL)
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www."), nil
}
