package shared

import (
	"strings"
	"time"
)

// =============================================================================
// CORE TYPES
// =============================================================================
//
// Shared types for the fetch-and-learn engine: tiers, fetch results, request
// options, tenants, and the event envelope used by the webhook dispatcher.
//
// =============================================================================

// Tier identifies a fetch tier, in increasing cost and capability
type Tier string

const (
	// TierIntelligence applies a learned API pattern without a browser
	TierIntelligence Tier = "intelligence"

	// TierLightweight fetches HTML over plain HTTP and parses statically
	TierLightweight Tier = "lightweight"

	// TierPlaywright performs a full rendered fetch in a headless browser
	TierPlaywright Tier = "playwright"
)

// TierCost returns the abstract unit cost of a tier
func TierCost(t Tier) int {
	switch t {
	case TierIntelligence:
		return 1
	case TierLightweight:
		return 5
	case TierPlaywright:
		return 25
	default:
		return 0
	}
}

// TierOrder returns the escalation rank of a tier (lower = cheaper)
func TierOrder(t Tier) int {
	switch t {
	case TierIntelligence:
		return 0
	case TierLightweight:
		return 1
	case TierPlaywright:
		return 2
	default:
		return -1
	}
}

// NextTier returns the next tier in the escalation order, or "" at the top
func NextTier(t Tier) Tier {
	switch t {
	case TierIntelligence:
		return TierLightweight
	case TierLightweight:
		return TierPlaywright
	default:
		return ""
	}
}

// FreshnessRequirement hints how fresh the returned content must be
type FreshnessRequirement string

const (
	FreshnessRealtime FreshnessRequirement = "realtime"
	FreshnessCached   FreshnessRequirement = "cached"
	FreshnessAny      FreshnessRequirement = "any"
)

// =============================================================================
// TENANT
// =============================================================================

// Tenant is the borrowed tenant contract. The core only reads these fields.
type Tenant struct {
	Id           string `json:"id"`
	Plan         string `json:"plan,omitempty"`
	DailyLimit   int64  `json:"dailyLimit"`
	MonthlyLimit int64  `json:"monthlyLimit"`
}

// =============================================================================
// FETCH OPTIONS AND RESULT
// =============================================================================

// FetchOptions carries the per-request knobs accepted by Browse/Fetch
type FetchOptions struct {
	ContentType          string               `json:"contentType,omitempty"`
	FollowPagination     bool                 `json:"followPagination,omitempty"`
	MaxPages             int                  `json:"maxPages,omitempty"`
	WaitForSelector      string               `json:"waitForSelector,omitempty"`
	ScrollToLoad         bool                 `json:"scrollToLoad,omitempty"`
	DismissCookieBanner  bool                 `json:"dismissCookieBanner,omitempty"`
	SessionProfile       string               `json:"sessionProfile,omitempty"`
	MaxLatencyMs         int64                `json:"maxLatencyMs,omitempty"`
	MaxCostTier          Tier                 `json:"maxCostTier,omitempty"`
	Freshness            FreshnessRequirement `json:"freshnessRequirement,omitempty"`
	IncludeDecisionTrace bool                 `json:"includeDecisionTrace,omitempty"`

	// VerificationMode selects the built-in check set: basic, standard, thorough
	VerificationMode string `json:"verificationMode,omitempty"`

	// OnFailure hints what the pipeline should recommend when verification
	// fails: retry, fallback, or report
	OnFailure string `json:"onFailure,omitempty"`
}

// PageContent holds the extracted content of a fetched page
type PageContent struct {
	Markdown string `json:"markdown"`
	Text     string `json:"text"`
	HTML     string `json:"html,omitempty"`
}

// Table is a parsed HTML table
type Table struct {
	Caption string     `json:"caption,omitempty"`
	Headers []string   `json:"headers,omitempty"`
	Rows    [][]string `json:"rows"`
}

// DiscoveredAPI records an API endpoint observed during a fetch
type DiscoveredAPI struct {
	URL         string `json:"url"`
	Method      string `json:"method"`
	ContentType string `json:"contentType,omitempty"`
	Status      int    `json:"status,omitempty"`
}

// DecisionTraceEntry records one step of the tier/retry decision process
type DecisionTraceEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Tier      Tier            `json:"tier,omitempty"`
	Action    string          `json:"action"`
	Detail    string          `json:"detail,omitempty"`
	Category  FailureCategory `json:"category,omitempty"`
	DelayMs   int64           `json:"delayMs,omitempty"`
}

// FetchResult is the canonical result of a browse/fetch operation
type FetchResult struct {
	FinalURL       string          `json:"finalUrl"`
	HTTPStatus     int             `json:"httpStatus"`
	Content        PageContent     `json:"content"`
	Tables         []Table         `json:"tables,omitempty"`
	Links          []string        `json:"links,omitempty"`
	DiscoveredAPIs []DiscoveredAPI `json:"discoveredApis,omitempty"`

	TierUsed       Tier   `json:"tierUsed"`
	TiersAttempted []Tier `json:"tiersAttempted"`
	DurationMs     int64  `json:"durationMs"`
	TierCostUnits  int    `json:"tierCostUnits"`

	// VerificationConfidence is in [0,1]
	VerificationConfidence float64 `json:"verificationConfidence"`

	StructuredData map[string]interface{} `json:"structuredData,omitempty"`
	DecisionTrace  []DecisionTraceEntry   `json:"decisionTrace,omitempty"`

	// PatternId is set when the intelligence tier produced this result
	PatternId string `json:"patternId,omitempty"`
}

// =============================================================================
// BATCH
// =============================================================================

// BatchOptions controls a Batch operation
type BatchOptions struct {
	Concurrency         int   `json:"concurrency,omitempty"`
	StopOnError         bool  `json:"stopOnError,omitempty"`
	ContinueOnRateLimit bool  `json:"continueOnRateLimit,omitempty"`
	PerURLTimeoutMs     int64 `json:"perUrlTimeoutMs,omitempty"`
	TotalTimeoutMs      int64 `json:"totalTimeoutMs,omitempty"`
}

// BatchItemStatus is the per-URL outcome of a Batch operation
type BatchItemStatus string

const (
	BatchItemSuccess     BatchItemStatus = "success"
	BatchItemError       BatchItemStatus = "error"
	BatchItemSkipped     BatchItemStatus = "skipped"
	BatchItemRateLimited BatchItemStatus = "rate_limited"
)

// BatchItemResult is the result for a single URL within a batch
type BatchItemResult struct {
	URL        string          `json:"url"`
	Status     BatchItemStatus `json:"status"`
	Result     *FetchResult    `json:"result,omitempty"`
	Error      *CoreError      `json:"error,omitempty"`
	DurationMs int64           `json:"durationMs"`
}

// =============================================================================
// EVENTS
// =============================================================================

// EventType names are part of the webhook wire contract
type EventType string

const (
	EventFetchSucceeded     EventType = "fetch.succeeded"
	EventFetchFailed        EventType = "fetch.failed"
	EventPatternLearned     EventType = "pattern.learned"
	EventPatternDegraded    EventType = "pattern.degraded"
	EventPatternBroken      EventType = "pattern.broken"
	EventAntiPatternCreated EventType = "anti_pattern.created"
	EventChangeDetected     EventType = "change.detected"
	EventSystemHealth       EventType = "system.health"
)

// EventCategory returns an event type's family, the segment before the
// first dot: fetch, pattern, anti_pattern, change, or system
func EventCategory(t EventType) string {
	s := string(t)
	if idx := strings.Index(s, "."); idx >= 0 {
		return s[:idx]
	}
	return s
}

// Severity orders event importance for webhook filtering
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityRank returns the ordering rank of a severity (low=0 .. critical=3).
// Unknown severities rank below low.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// EventMetadata carries optional routing hints for webhook filtering
type EventMetadata struct {
	Domain   string   `json:"domain,omitempty"`
	Severity Severity `json:"severity,omitempty"`
}

// Event is the envelope delivered to webhook endpoints
type Event struct {
	Id        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Category  string                 `json:"category,omitempty"`
	TenantId  string                 `json:"tenantId"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Metadata  EventMetadata          `json:"metadata"`
}
