package webhook

import (
	"net/url"
	"time"

	"llmb/shared"
)

// =============================================================================
// ENDPOINT MODEL
// =============================================================================
//
// An endpoint is owned by one tenant and carries its own filter set, retry
// parameters, and health state. Health transitions: success resets
// consecutive failures and marks healthy; failures mark degraded at 2 and
// unhealthy at the configured threshold. Unhealthy endpoints are skipped by
// dispatch until the circuit-breaker reset elapses, at which point they are
// demoted to degraded and tried again.
//
// =============================================================================

// minSecretLength is the shortest accepted signing secret
const minSecretLength = 32

// HealthStatus is the endpoint circuit state
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// responseTimeAlpha is the EMA weight of the newest sample
const responseTimeAlpha = 0.2

// EndpointHealth tracks delivery outcomes for one endpoint
type EndpointHealth struct {
	Status              HealthStatus `json:"status"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	TotalDeliveries     int64        `json:"totalDeliveries"`
	TotalFailures       int64        `json:"totalFailures"`
	LastDeliveryAt      *time.Time   `json:"lastDeliveryAt,omitempty"`
	AvgResponseTimeMs   float64      `json:"avgResponseTimeMs"`

	// UnhealthySince is set when the circuit opens and cleared on demotion
	UnhealthySince *time.Time `json:"unhealthySince,omitempty"`
}

// Endpoint is a tenant-registered webhook target
type Endpoint struct {
	Id       string `json:"id"`
	TenantId string `json:"tenantId"`
	URL      string `json:"url"`
	Secret   string `json:"secret"`

	EnabledEvents     []shared.EventType `json:"enabledEvents"`
	EnabledCategories []string           `json:"enabledCategories,omitempty"`
	DomainFilter      []string           `json:"domainFilter,omitempty"`
	MinSeverity       shared.Severity    `json:"minSeverity,omitempty"`
	Enabled           bool               `json:"enabled"`

	MaxRetries          int   `json:"maxRetries"`
	InitialRetryDelayMs int64 `json:"initialRetryDelayMs"`
	MaxRetryDelayMs     int64 `json:"maxRetryDelayMs"`

	Headers map[string]string `json:"headers,omitempty"`

	Health    EndpointHealth `json:"health"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// EndpointParams is the mutable subset accepted by create/update
type EndpointParams struct {
	URL               string             `json:"url"`
	Secret            string             `json:"secret"`
	EnabledEvents     []shared.EventType `json:"enabledEvents"`
	EnabledCategories []string           `json:"enabledCategories,omitempty"`
	DomainFilter      []string           `json:"domainFilter,omitempty"`
	MinSeverity       shared.Severity    `json:"minSeverity,omitempty"`
	Enabled           *bool              `json:"enabled,omitempty"`

	MaxRetries          *int  `json:"maxRetries,omitempty"`
	InitialRetryDelayMs int64 `json:"initialRetryDelayMs,omitempty"`
	MaxRetryDelayMs     int64 `json:"maxRetryDelayMs,omitempty"`

	Headers map[string]string `json:"headers,omitempty"`
}

func validateParams(params EndpointParams) error {
	parsed, err := url.Parse(params.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return shared.NewErrorf(shared.ErrCodeInvalidRequest, "webhook url must be absolute http(s): %q", params.URL)
	}
	if len(params.Secret) < minSecretLength {
		return shared.NewErrorf(shared.ErrCodeInvalidRequest, "webhook secret must be at least %d characters", minSecretLength)
	}
	if len(params.EnabledEvents) == 0 {
		return shared.NewError(shared.ErrCodeInvalidRequest, "webhook endpoint must enable at least one event type")
	}
	return nil
}

// matches reports whether an event passes the endpoint's filter chain.
// Health is checked separately because the circuit reset mutates state.
func (e *Endpoint) matches(event shared.Event) bool {
	if !e.Enabled {
		return false
	}

	typeOk := false
	for _, t := range e.EnabledEvents {
		if t == event.Type {
			typeOk = true
			break
		}
	}
	if !typeOk {
		return false
	}

	if len(e.EnabledCategories) > 0 {
		catOk := false
		for _, c := range e.EnabledCategories {
			if c == event.Category {
				catOk = true
				break
			}
		}
		if !catOk {
			return false
		}
	}

	if len(e.DomainFilter) > 0 {
		domOk := false
		for _, d := range e.DomainFilter {
			if d == event.Metadata.Domain {
				domOk = true
				break
			}
		}
		if !domOk {
			return false
		}
	}

	if e.MinSeverity != "" {
		rank := shared.SeverityRank(event.Metadata.Severity)
		if rank < 0 {
			// Unannotated events rank as low
			rank = 0
		}
		if rank < shared.SeverityRank(e.MinSeverity) {
			return false
		}
	}

	return true
}

// recordSuccess applies a successful delivery to the health state
func (h *EndpointHealth) recordSuccess(responseTimeMs int64, now time.Time) {
	h.ConsecutiveFailures = 0
	h.Status = HealthHealthy
	h.UnhealthySince = nil
	h.TotalDeliveries++
	h.LastDeliveryAt = &now
	if h.AvgResponseTimeMs == 0 {
		h.AvgResponseTimeMs = float64(responseTimeMs)
	} else {
		h.AvgResponseTimeMs = responseTimeAlpha*float64(responseTimeMs) + (1-responseTimeAlpha)*h.AvgResponseTimeMs
	}
}

// recordFailure applies a failed delivery attempt to the health state
func (h *EndpointHealth) recordFailure(unhealthyThreshold int, now time.Time) {
	h.ConsecutiveFailures++
	h.TotalDeliveries++
	h.TotalFailures++
	h.LastDeliveryAt = &now

	switch {
	case h.ConsecutiveFailures >= unhealthyThreshold:
		if h.Status != HealthUnhealthy {
			h.UnhealthySince = &now
		}
		h.Status = HealthUnhealthy
	case h.ConsecutiveFailures >= 2:
		h.Status = HealthDegraded
	}
}

func copyEndpoint(e *Endpoint) *Endpoint {
	cp := *e
	cp.EnabledEvents = append([]shared.EventType(nil), e.EnabledEvents...)
	cp.EnabledCategories = append([]string(nil), e.EnabledCategories...)
	cp.DomainFilter = append([]string(nil), e.DomainFilter...)
	if e.Headers != nil {
		cp.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			cp.Headers[k] = v
		}
	}
	if e.Health.LastDeliveryAt != nil {
		t := *e.Health.LastDeliveryAt
		cp.Health.LastDeliveryAt = &t
	}
	if e.Health.UnhealthySince != nil {
		t := *e.Health.UnhealthySince
		cp.Health.UnhealthySince = &t
	}
	return &cp
}
