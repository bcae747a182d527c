// Package patterns stores, matches, scores, and decays learned API patterns,
// with anti-pattern suppression and per-pattern health monitoring.
package patterns

import (
	"time"

	"llmb/shared"
)

// =============================================================================
// PATTERN MODEL
// =============================================================================
//
// A learned pattern maps a URL shape to a direct API call: which URLs it
// matches, how to extract template variables from them, and how to turn the
// API response into canonical content. Fallbacks are stored as ids, never
// object references, so the persisted graph stays acyclic.
//
// =============================================================================

// TemplateType tags the inference/extraction behavior of a pattern
type TemplateType string

const (
	TemplateJSONSuffix     TemplateType = "json-suffix"
	TemplateRegistryLookup TemplateType = "registry-lookup"
	TemplateRESTResource   TemplateType = "rest-resource"
	TemplateFirebaseREST   TemplateType = "firebase-rest"
	TemplateQueryAPI       TemplateType = "query-api"
)

// ExtractorSource names where a template variable is extracted from
type ExtractorSource string

const (
	SourcePath      ExtractorSource = "path"
	SourceQuery     ExtractorSource = "query"
	SourceSubdomain ExtractorSource = "subdomain"
	SourceHostname  ExtractorSource = "hostname"
)

// Extractor pulls one template variable out of a matched URL
type Extractor struct {
	Name      string          `json:"name"`
	Source    ExtractorSource `json:"source"`
	Regex     string          `json:"regex"`
	Group     int             `json:"group"`
	Transform string          `json:"transform,omitempty"` // lower, upper, trim
}

// ContentMapping maps response fields into canonical content.
// Values are dot-separated paths into the parsed response.
type ContentMapping struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Body        string `json:"body,omitempty"`
	Metadata    string `json:"metadata,omitempty"`
}

// Validation gates whether an application result is acceptable
type Validation struct {
	RequiredFields      []string `json:"requiredFields,omitempty"`
	MinContentLength    int      `json:"minContentLength,omitempty"`
	MaxResponseTimeMs   int64    `json:"maxResponseTimeMs,omitempty"`
	ExpectedContentType string   `json:"expectedContentType,omitempty"`
}

// Metrics tracks a pattern's observed performance
type Metrics struct {
	SuccessCount      int64      `json:"successCount"`
	FailureCount      int64      `json:"failureCount"`
	LastSuccess       *time.Time `json:"lastSuccess,omitempty"`
	LastFailure       *time.Time `json:"lastFailure,omitempty"`
	LastFailureReason string     `json:"lastFailureReason,omitempty"`

	// Confidence is in [0,1]
	Confidence float64 `json:"confidence"`

	// Domains this pattern has been observed on
	Domains []string `json:"domains,omitempty"`

	AvgResponseTimeMs float64 `json:"avgResponseTimeMs,omitempty"`

	FailuresByCategory map[shared.FailureCategory]int64 `json:"failuresByCategory,omitempty"`

	// RecentFailures is bounded (see RegistryConfig.MaxRecentFailures)
	RecentFailures []shared.FailureRecord `json:"recentFailures,omitempty"`

	// ActiveAntiPatterns lists anti-pattern ids currently suppressing this
	// pattern somewhere
	ActiveAntiPatterns []string `json:"activeAntiPatterns,omitempty"`
}

// Pattern is a learned or bootstrapped rule mapping a URL shape to an API call
type Pattern struct {
	Id           string       `json:"id"`
	TemplateType TemplateType `json:"templateType"`

	// URLPatterns are regular expressions tried in order
	URLPatterns []string `json:"urlPatterns"`

	// EndpointTemplate contains {var} placeholders filled by extractors
	EndpointTemplate string `json:"endpointTemplate"`

	Extractors []Extractor `json:"extractors,omitempty"`

	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`

	// ResponseFormat is json, xml, or html
	ResponseFormat string `json:"responseFormat"`

	ContentMapping ContentMapping `json:"contentMapping"`
	Validation     Validation     `json:"validation"`

	Metrics Metrics `json:"metrics"`

	// FallbackPatterns are ids resolved lazily via the registry
	FallbackPatterns []string `json:"fallbackPatterns,omitempty"`

	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	LastUsedAt time.Time `json:"lastUsedAt,omitempty"`

	// Archived patterns are removed from the match set but retained for stats
	Archived   bool       `json:"archived,omitempty"`
	ArchivedAt *time.Time `json:"archivedAt,omitempty"`

	// BelowThresholdSince tracks how long confidence has been under the
	// archive threshold
	BelowThresholdSince *time.Time `json:"belowThresholdSince,omitempty"`
}

// HasDomain reports whether the pattern has been observed on a domain
func (p *Pattern) HasDomain(domain string) bool {
	for _, d := range p.Metrics.Domains {
		if d == domain {
			return true
		}
	}
	return false
}

// AddDomain records a domain in the pattern's domain set
func (p *Pattern) AddDomain(domain string) {
	if domain == "" || p.HasDomain(domain) {
		return
	}
	p.Metrics.Domains = append(p.Metrics.Domains, domain)
}

// =============================================================================
// MATCHES AND APPLICATION RESULTS
// =============================================================================

// MatchResult is one candidate produced by Registry.Match, ordered best-first
type MatchResult struct {
	// Pattern is a snapshot copy; mutating it does not affect the registry
	Pattern Pattern `json:"pattern"`

	ExtractedVars map[string]string `json:"extractedVars,omitempty"`

	// APIEndpoint is the endpoint template with variables substituted
	APIEndpoint string `json:"apiEndpoint"`

	// MatchedPattern is the URL regex that actually matched, used for
	// specificity tie-breaking
	MatchedPattern string `json:"matchedPattern"`

	// Confidence is the pattern confidence after age decay
	Confidence float64 `json:"confidence"`
}

// ApplicationResult is the outcome of applying a matched pattern
type ApplicationResult struct {
	Success        bool                   `json:"success"`
	Status         int                    `json:"status"`
	Content        shared.PageContent     `json:"content"`
	StructuredData map[string]interface{} `json:"structuredData,omitempty"`
	ResponseTimeMs int64                  `json:"responseTimeMs"`

	Category shared.FailureCategory `json:"category,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// =============================================================================
// LEARNING EVENTS
// =============================================================================

// LearningEventType names the events emitted by the registry
type LearningEventType string

const (
	EventPatternLearned     LearningEventType = "pattern_learned"
	EventPatternApplied     LearningEventType = "pattern_applied"
	EventPatternUpdated     LearningEventType = "pattern_updated"
	EventConfidenceDecayed  LearningEventType = "confidence_decayed"
	EventPatternArchived    LearningEventType = "pattern_archived"
	EventAntiPatternCreated LearningEventType = "anti_pattern_created"
)

// LearningEvent describes one registry state change
type LearningEvent struct {
	Type      LearningEventType      `json:"type"`
	PatternId string                 `json:"patternId,omitempty"`
	Domain    string                 `json:"domain,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventSink receives learning events. Implementations must not block.
type EventSink interface {
	Emit(event LearningEvent)
}

// nopSink discards events
type nopSink struct{}

func (nopSink) Emit(LearningEvent) {}

// ExtractionObservation describes a successful non-pattern fetch from which
// a template may be inferred
type ExtractionObservation struct {
	URL            string                 `json:"url"`
	Domain         string                 `json:"domain"`
	HTTPStatus     int                    `json:"httpStatus"`
	ContentType    string                 `json:"contentType,omitempty"`
	Content        shared.PageContent     `json:"content"`
	DiscoveredAPIs []shared.DiscoveredAPI `json:"discoveredApis,omitempty"`
}
