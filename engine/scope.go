package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"llmb/changes"
	"llmb/patterns"
	"llmb/shared"
)

// =============================================================================
// REQUEST SCOPE
// =============================================================================
//
// A scope carries per-request bookkeeping out of the caller's critical path:
// usage counting, learning observations, outcome events, and the automatic
// change check for tracked URLs. All of it is best effort; a bookkeeping
// failure is logged and never surfaces to the caller.
//
// =============================================================================

type scope struct {
	engine *Engine
	tenant shared.Tenant
	url    string
	domain string
	opts   shared.FetchOptions
	start  time.Time
}

func (e *Engine) openScope(tenant shared.Tenant, rawURL, domain string, opts shared.FetchOptions) *scope {
	return &scope{engine: e, tenant: tenant, url: rawURL, domain: domain, opts: opts, start: time.Now()}
}

// finish records the fetch outcome asynchronously
func (s *scope) finish(result *shared.FetchResult, fetchErr error) {
	if fetchErr != nil {
		s.engine.spawn(func(ctx context.Context) {
			coreErr := shared.AsCoreError(fetchErr)
			s.engine.dispatchTo(s.tenant.Id, shared.EventFetchFailed, s.domain, shared.SeverityMedium, map[string]interface{}{
				"url":     s.url,
				"code":    string(coreErr.Code),
				"message": shared.RedactString(coreErr.Message),
			})
		})
		return
	}

	s.engine.spawn(func(ctx context.Context) {
		e := s.engine

		if err := e.usage.Increment(ctx, s.tenant.Id, result.TierUsed); err != nil {
			e.logger.Warn("usage increment failed",
				zap.String("tenantId", s.tenant.Id), zap.Error(err))
		}

		// A successful fetch that did not come from a learned pattern is a
		// learning opportunity; the intelligence tier records its own outcomes.
		if result.PatternId == "" && result.TierUsed != shared.TierIntelligence {
			if _, err := e.registry.Learn(patterns.ExtractionObservation{
				URL:            s.url,
				Domain:         s.domain,
				HTTPStatus:     result.HTTPStatus,
				Content:        result.Content,
				DiscoveredAPIs: result.DiscoveredAPIs,
			}); err != nil {
				e.logger.Debug("learning pass skipped",
					zap.String("url", s.url), zap.Error(err))
			}
		}

		e.dispatchTo(s.tenant.Id, shared.EventFetchSucceeded, s.domain, shared.SeverityLow, map[string]interface{}{
			"url":        s.url,
			"tierUsed":   string(result.TierUsed),
			"durationMs": result.DurationMs,
			"httpStatus": result.HTTPStatus,
		})

		s.checkTrackedChange(result)
	})
}

// checkTrackedChange runs the change diff when the URL is under tracking.
// Cached-freshness requests are skipped: content the caller accepts as stale
// is not evidence about the live page.
func (s *scope) checkTrackedChange(result *shared.FetchResult) {
	e := s.engine
	if s.opts.Freshness == shared.FreshnessCached {
		return
	}
	if _, tracked := e.tracker.Get(s.url); !tracked {
		return
	}

	check, err := e.tracker.Check(s.url, result.Content.Text)
	if err != nil {
		e.logger.Warn("change check failed",
			zap.String("url", s.url), zap.Error(err))
		return
	}
	if !check.Changed {
		return
	}

	e.dispatchTo(s.tenant.Id, shared.EventChangeDetected, s.domain, changeSeverity(check.Record.Significance), map[string]interface{}{
		"url":             s.url,
		"significance":    string(check.Record.Significance),
		"addedSections":   check.Record.AddedSections,
		"removedSections": check.Record.RemovedSections,
		"wordCountDelta":  check.Record.WordCountDelta,
	})
}

func changeSeverity(s changes.Significance) shared.Severity {
	switch s {
	case changes.SignificanceHigh:
		return shared.SeverityHigh
	case changes.SignificanceMedium:
		return shared.SeverityMedium
	default:
		return shared.SeverityLow
	}
}
