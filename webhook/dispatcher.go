// Package webhook matches engine events to tenant-registered endpoints,
// signs and delivers them over HTTP, retries with jittered exponential
// backoff, and circuit-breaks endpoints that keep failing.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"llmb/shared"
)

// =============================================================================
// DISPATCHER
// =============================================================================
//
// Dispatch filters the tenant's endpoints, creates one delivery per match,
// and runs the first attempt immediately. Retries are scheduled on timer
// handles owned by the dispatcher; deleting an endpoint cancels its pending
// retries and Close drains every handle before returning.
//
// Delivery state machine: pending -> success | retrying | failed, and
// retrying -> success | retrying | failed. Success and failed are terminal.
//
// =============================================================================

// DeliveryStatus is the state of one delivery record
type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliveryRetrying DeliveryStatus = "retrying"
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryFailed   DeliveryStatus = "failed"
)

// Delivery is the record of one event/endpoint pair
type Delivery struct {
	Id         string           `json:"id"`
	EndpointId string           `json:"endpointId"`
	EventId    string           `json:"eventId"`
	EventType  shared.EventType `json:"eventType"`

	Status      DeliveryStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"maxAttempts"`

	IdempotencyKey string `json:"idempotencyKey"`

	ResponseStatus int    `json:"responseStatus,omitempty"`
	ResponseTimeMs int64  `json:"responseTimeMs,omitempty"`
	ErrorMessage   string `json:"errorMessage,omitempty"`

	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// DeliveryStats summarizes recent deliveries for a tenant
type DeliveryStats struct {
	PeriodHours       int     `json:"periodHours"`
	Total             int     `json:"total"`
	Succeeded         int     `json:"succeeded"`
	Failed            int     `json:"failed"`
	InFlight          int     `json:"inFlight"`
	SuccessRate       float64 `json:"successRate"`
	AvgResponseTimeMs float64 `json:"avgResponseTimeMs"`

	ByEndpoint map[string]EndpointStats `json:"byEndpoint,omitempty"`
}

// EndpointStats is the per-endpoint slice of DeliveryStats
type EndpointStats struct {
	Total     int          `json:"total"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Health    HealthStatus `json:"health"`
}

// Config carries dispatcher-wide defaults and limits
type Config struct {
	MaxEndpointsPerTenant      int
	DefaultMaxRetries          int
	DefaultInitialRetryDelayMs int64
	DefaultMaxRetryDelayMs     int64
	UnhealthyThreshold         int
	CircuitBreakerResetMs      int64
	DeliveryTimeoutMs          int64
	HistoryLimit               int
}

func (c Config) withDefaults() Config {
	if c.MaxEndpointsPerTenant <= 0 {
		c.MaxEndpointsPerTenant = 10
	}
	if c.DefaultMaxRetries <= 0 {
		c.DefaultMaxRetries = 3
	}
	if c.DefaultInitialRetryDelayMs <= 0 {
		c.DefaultInitialRetryDelayMs = 1000
	}
	if c.DefaultMaxRetryDelayMs <= 0 {
		c.DefaultMaxRetryDelayMs = 60000
	}
	if c.UnhealthyThreshold <= 0 {
		c.UnhealthyThreshold = 5
	}
	if c.CircuitBreakerResetMs <= 0 {
		c.CircuitBreakerResetMs = 5 * 60 * 1000
	}
	if c.DeliveryTimeoutMs <= 0 {
		c.DeliveryTimeoutMs = 30000
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 100
	}
	return c
}

// deliveryState is the dispatcher-internal view of one delivery
type deliveryState struct {
	record  *Delivery
	payload []byte
	timer   *time.Timer
}

// Dispatcher owns endpoints, delivery records, and retry timers
type Dispatcher struct {
	mu         sync.Mutex
	endpoints  map[string]*Endpoint
	deliveries map[string]*deliveryState
	history    map[string][]*Delivery

	config     Config
	httpClient *http.Client
	logger     *zap.Logger

	wg     sync.WaitGroup
	closed bool

	now    func() time.Time
	jitter func() float64
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher(config Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	config = config.withDefaults()
	return &Dispatcher{
		endpoints:  make(map[string]*Endpoint),
		deliveries: make(map[string]*deliveryState),
		history:    make(map[string][]*Delivery),
		config:     config,
		httpClient: &http.Client{Timeout: time.Duration(config.DeliveryTimeoutMs) * time.Millisecond},
		logger:     logger,
		now:        time.Now,
		jitter:     func() float64 { return rand.Float64()*0.6 - 0.3 },
	}
}

// SetHTTPClient replaces the delivery client, for tests
func (d *Dispatcher) SetHTTPClient(client *http.Client) {
	d.httpClient = client
}

// ===== ENDPOINT CRUD =====

// CreateEndpoint registers a new endpoint for a tenant
func (d *Dispatcher) CreateEndpoint(tenantId string, params EndpointParams) (*Endpoint, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	count := 0
	for _, ep := range d.endpoints {
		if ep.TenantId == tenantId {
			count++
		}
	}
	if count >= d.config.MaxEndpointsPerTenant {
		return nil, shared.NewErrorf(shared.ErrCodeLimitExceeded,
			"tenant %s already has %d webhook endpoints", tenantId, count)
	}

	now := d.now()
	ep := &Endpoint{
		Id:                  shared.NewId("whe"),
		TenantId:            tenantId,
		URL:                 params.URL,
		Secret:              params.Secret,
		EnabledEvents:       append([]shared.EventType(nil), params.EnabledEvents...),
		EnabledCategories:   append([]string(nil), params.EnabledCategories...),
		DomainFilter:        append([]string(nil), params.DomainFilter...),
		MinSeverity:         params.MinSeverity,
		Enabled:             true,
		MaxRetries:          d.config.DefaultMaxRetries,
		InitialRetryDelayMs: d.config.DefaultInitialRetryDelayMs,
		MaxRetryDelayMs:     d.config.DefaultMaxRetryDelayMs,
		Headers:             params.Headers,
		Health:              EndpointHealth{Status: HealthHealthy},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if params.Enabled != nil {
		ep.Enabled = *params.Enabled
	}
	if params.MaxRetries != nil {
		ep.MaxRetries = *params.MaxRetries
	}
	if params.InitialRetryDelayMs > 0 {
		ep.InitialRetryDelayMs = params.InitialRetryDelayMs
	}
	if params.MaxRetryDelayMs > 0 {
		ep.MaxRetryDelayMs = params.MaxRetryDelayMs
	}

	d.endpoints[ep.Id] = ep
	return copyEndpoint(ep), nil
}

// UpdateEndpoint mutates an endpoint in place; health is preserved
func (d *Dispatcher) UpdateEndpoint(tenantId, endpointId string, params EndpointParams) (*Endpoint, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ep, err := d.ownedLocked(tenantId, endpointId)
	if err != nil {
		return nil, err
	}

	ep.URL = params.URL
	ep.Secret = params.Secret
	ep.EnabledEvents = append([]shared.EventType(nil), params.EnabledEvents...)
	ep.EnabledCategories = append([]string(nil), params.EnabledCategories...)
	ep.DomainFilter = append([]string(nil), params.DomainFilter...)
	ep.MinSeverity = params.MinSeverity
	ep.Headers = params.Headers
	if params.Enabled != nil {
		ep.Enabled = *params.Enabled
	}
	if params.MaxRetries != nil {
		ep.MaxRetries = *params.MaxRetries
	}
	if params.InitialRetryDelayMs > 0 {
		ep.InitialRetryDelayMs = params.InitialRetryDelayMs
	}
	if params.MaxRetryDelayMs > 0 {
		ep.MaxRetryDelayMs = params.MaxRetryDelayMs
	}
	ep.UpdatedAt = d.now()

	return copyEndpoint(ep), nil
}

// DeleteEndpoint removes an endpoint and cancels its pending retries
func (d *Dispatcher) DeleteEndpoint(tenantId, endpointId string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.ownedLocked(tenantId, endpointId); err != nil {
		return err
	}
	delete(d.endpoints, endpointId)

	now := d.now()
	for id, state := range d.deliveries {
		if state.record.EndpointId != endpointId {
			continue
		}
		if state.timer != nil {
			state.timer.Stop()
			state.timer = nil
		}
		if state.record.Status == DeliveryPending || state.record.Status == DeliveryRetrying {
			state.record.Status = DeliveryFailed
			state.record.ErrorMessage = "endpoint deleted"
			state.record.NextRetryAt = nil
			state.record.UpdatedAt = now
		}
		delete(d.deliveries, id)
	}
	return nil
}

// GetEndpoint returns a copy of one endpoint
func (d *Dispatcher) GetEndpoint(tenantId, endpointId string) (*Endpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ep, err := d.ownedLocked(tenantId, endpointId)
	if err != nil {
		return nil, err
	}
	return copyEndpoint(ep), nil
}

// ListEndpoints returns copies of a tenant's endpoints, oldest first
func (d *Dispatcher) ListEndpoints(tenantId string) []*Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*Endpoint
	for _, ep := range d.endpoints {
		if ep.TenantId == tenantId {
			out = append(out, copyEndpoint(ep))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Tenants returns the distinct tenant ids that have registered endpoints.
// Used to fan system-wide events out to every interested tenant.
func (d *Dispatcher) Tenants() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, ep := range d.endpoints {
		if !seen[ep.TenantId] {
			seen[ep.TenantId] = true
			out = append(out, ep.TenantId)
		}
	}
	sort.Strings(out)
	return out
}

func (d *Dispatcher) ownedLocked(tenantId, endpointId string) (*Endpoint, error) {
	ep, ok := d.endpoints[endpointId]
	if !ok || ep.TenantId != tenantId {
		return nil, shared.NewErrorf(shared.ErrCodeInvalidRequest, "unknown webhook endpoint %s", endpointId)
	}
	return ep, nil
}

// ===== DISPATCH =====

// Dispatch matches an event to the tenant's endpoints and starts one
// delivery per match. Returns copies of the created delivery records.
func (d *Dispatcher) Dispatch(event shared.Event) ([]*Delivery, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, shared.WrapError(shared.ErrCodeInvalidRequest, "event not serializable", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, shared.NewError(shared.ErrCodeCancelled, "dispatcher is shut down")
	}

	now := d.now()
	var created []*Delivery
	for _, ep := range d.endpoints {
		if ep.TenantId != event.TenantId || !ep.matches(event) {
			continue
		}

		if ep.Health.Status == HealthUnhealthy {
			since := ep.Health.UnhealthySince
			if since == nil || now.Sub(*since) < time.Duration(d.config.CircuitBreakerResetMs)*time.Millisecond {
				continue
			}
			// Circuit-breaker reset elapsed: demote and try again
			ep.Health.Status = HealthDegraded
			ep.Health.UnhealthySince = nil
			d.logger.Info("webhook endpoint circuit reset",
				zap.String("endpointId", ep.Id),
				zap.String("tenantId", ep.TenantId))
		}

		record := &Delivery{
			Id:             shared.NewId("whd"),
			EndpointId:     ep.Id,
			EventId:        event.Id,
			EventType:      event.Type,
			Status:         DeliveryPending,
			MaxAttempts:    ep.MaxRetries + 1,
			IdempotencyKey: shared.DeliveryIdempotencyKey(event.Id, ep.Id),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		d.deliveries[record.Id] = &deliveryState{record: record, payload: payload}
		d.appendHistoryLocked(ep.Id, record)
		created = append(created, copyDelivery(record))

		d.wg.Add(1)
		go d.attempt(record.Id)
	}
	return created, nil
}

// TestEndpoint sends a synthetic system.health event to one endpoint and
// waits for the single attempt to finish. No retries are scheduled.
func (d *Dispatcher) TestEndpoint(ctx context.Context, tenantId, endpointId string) (*Delivery, error) {
	d.mu.Lock()
	ep, err := d.ownedLocked(tenantId, endpointId)
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}

	event := shared.Event{
		Id:        shared.NewId("evt"),
		Type:      shared.EventSystemHealth,
		Category:  shared.EventCategory(shared.EventSystemHealth),
		TenantId:  tenantId,
		Timestamp: d.now(),
		Data:      map[string]interface{}{"test": true},
	}
	payload, merr := json.Marshal(event)
	if merr != nil {
		d.mu.Unlock()
		return nil, shared.WrapError(shared.ErrCodeUnknown, "test event not serializable", merr)
	}

	now := d.now()
	record := &Delivery{
		Id:             shared.NewId("whd"),
		EndpointId:     ep.Id,
		EventId:        event.Id,
		EventType:      event.Type,
		Status:         DeliveryPending,
		MaxAttempts:    1,
		IdempotencyKey: shared.DeliveryIdempotencyKey(event.Id, ep.Id),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	d.deliveries[record.Id] = &deliveryState{record: record, payload: payload}
	d.appendHistoryLocked(ep.Id, record)
	d.wg.Add(1)
	d.mu.Unlock()

	d.attempt(record.Id)

	d.mu.Lock()
	defer d.mu.Unlock()
	if state, ok := d.deliveries[record.Id]; ok {
		return copyDelivery(state.record), nil
	}
	return copyDelivery(record), nil
}

// GetDelivery returns a copy of one delivery record
func (d *Dispatcher) GetDelivery(deliveryId string) (*Delivery, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.deliveries[deliveryId]
	if !ok {
		return nil, false
	}
	return copyDelivery(state.record), true
}

// History returns an endpoint's delivery records, newest first
func (d *Dispatcher) History(tenantId, endpointId string, limit int) ([]*Delivery, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.ownedLocked(tenantId, endpointId); err != nil {
		return nil, err
	}

	records := d.history[endpointId]
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}

	out := make([]*Delivery, 0, limit)
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, copyDelivery(records[i]))
	}
	return out, nil
}

// Stats summarizes a tenant's deliveries over the trailing period
func (d *Dispatcher) Stats(tenantId string, periodHours int) DeliveryStats {
	if periodHours <= 0 {
		periodHours = 24
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-time.Duration(periodHours) * time.Hour)
	stats := DeliveryStats{PeriodHours: periodHours, ByEndpoint: make(map[string]EndpointStats)}

	var responseTimeSum int64
	var responseTimeCount int

	for _, ep := range d.endpoints {
		if ep.TenantId != tenantId {
			continue
		}
		epStats := EndpointStats{Health: ep.Health.Status}
		for _, record := range d.history[ep.Id] {
			if record.CreatedAt.Before(cutoff) {
				continue
			}
			stats.Total++
			epStats.Total++
			switch record.Status {
			case DeliverySuccess:
				stats.Succeeded++
				epStats.Succeeded++
			case DeliveryFailed:
				stats.Failed++
				epStats.Failed++
			default:
				stats.InFlight++
			}
			if record.ResponseTimeMs > 0 {
				responseTimeSum += record.ResponseTimeMs
				responseTimeCount++
			}
		}
		stats.ByEndpoint[ep.Id] = epStats
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.Total)
	}
	if responseTimeCount > 0 {
		stats.AvgResponseTimeMs = float64(responseTimeSum) / float64(responseTimeCount)
	}
	if len(stats.ByEndpoint) == 0 {
		stats.ByEndpoint = nil
	}
	return stats
}

// Close drains all retry timers and waits for in-flight deliveries
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	for _, state := range d.deliveries {
		if state.timer != nil {
			state.timer.Stop()
			state.timer = nil
		}
	}
	d.mu.Unlock()

	d.wg.Wait()
}

// ===== DELIVERY ATTEMPTS =====

// attempt runs one delivery attempt. The caller must have registered it on
// the wait group; attempt releases that registration.
func (d *Dispatcher) attempt(deliveryId string) {
	defer d.wg.Done()

	d.mu.Lock()
	state, ok := d.deliveries[deliveryId]
	if !ok {
		d.mu.Unlock()
		return
	}
	ep, ok := d.endpoints[state.record.EndpointId]
	if !ok {
		d.mu.Unlock()
		return
	}
	url := ep.URL
	secret := ep.Secret
	headers := make(map[string]string, len(ep.Headers))
	for k, v := range ep.Headers {
		headers[k] = v
	}
	record := *state.record
	payload := state.payload
	d.mu.Unlock()

	status, responseTimeMs, err := d.post(url, secret, headers, record, payload)

	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok = d.deliveries[deliveryId]
	if !ok {
		// Endpoint deleted while the attempt was in flight
		return
	}
	ep, epOk := d.endpoints[state.record.EndpointId]

	now := d.now()
	state.record.Attempts++
	state.record.ResponseStatus = status
	state.record.ResponseTimeMs = responseTimeMs
	state.record.NextRetryAt = nil
	state.record.UpdatedAt = now

	if err == nil && status >= 200 && status < 300 {
		state.record.Status = DeliverySuccess
		state.record.ErrorMessage = ""
		if epOk {
			ep.Health.recordSuccess(responseTimeMs, now)
		}
		d.logger.Debug("webhook delivered",
			zap.String("deliveryId", deliveryId),
			zap.Int("attempts", state.record.Attempts))
		return
	}

	if err != nil {
		state.record.ErrorMessage = err.Error()
	} else {
		state.record.ErrorMessage = "http " + strconv.Itoa(status)
	}
	if epOk {
		ep.Health.recordFailure(d.config.UnhealthyThreshold, now)
	}

	if state.record.Attempts >= state.record.MaxAttempts || d.closed || !epOk {
		state.record.Status = DeliveryFailed
		d.logger.Warn("webhook delivery failed",
			zap.String("deliveryId", deliveryId),
			zap.String("endpointId", state.record.EndpointId),
			zap.Int("attempts", state.record.Attempts),
			zap.String("error", state.record.ErrorMessage))
		return
	}

	delay := d.retryDelay(ep, state.record.Attempts)
	retryAt := now.Add(delay)
	state.record.Status = DeliveryRetrying
	state.record.NextRetryAt = &retryAt
	state.timer = time.AfterFunc(delay, func() { d.retryFired(deliveryId) })
}

// retryFired transfers a fired timer back into a tracked attempt
func (d *Dispatcher) retryFired(deliveryId string) {
	d.mu.Lock()
	state, ok := d.deliveries[deliveryId]
	if !ok || d.closed {
		d.mu.Unlock()
		return
	}
	state.timer = nil
	d.wg.Add(1)
	d.mu.Unlock()

	d.attempt(deliveryId)
}

// retryDelay computes the backoff before the next attempt.
// attempt is the number of attempts already made.
func (d *Dispatcher) retryDelay(ep *Endpoint, attempt int) time.Duration {
	base := float64(ep.InitialRetryDelayMs)
	for i := 1; i < attempt; i++ {
		base *= 2
	}
	delayMs := base * (1 + d.jitter())
	if maxMs := float64(ep.MaxRetryDelayMs); delayMs > maxMs {
		delayMs = maxMs
	}
	if delayMs < 0 {
		delayMs = 0
	}
	return time.Duration(delayMs * float64(time.Millisecond))
}

// post performs the signed HTTP delivery
func (d *Dispatcher) post(url, secret string, headers map[string]string, record Delivery, payload []byte) (int, int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(d.config.DeliveryTimeoutMs)*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Id", record.Id)
	req.Header.Set("X-Webhook-Event", string(record.EventType))
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(d.now().UnixMilli(), 10))
	req.Header.Set("X-Webhook-Signature", SignPayload(secret, payload))
	req.Header.Set("X-Idempotency-Key", record.IdempotencyKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return 0, elapsed, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, elapsed, nil
}

func (d *Dispatcher) appendHistoryLocked(endpointId string, record *Delivery) {
	records := append(d.history[endpointId], record)
	if len(records) > d.config.HistoryLimit {
		records = records[len(records)-d.config.HistoryLimit:]
	}
	d.history[endpointId] = records
}

func copyDelivery(record *Delivery) *Delivery {
	cp := *record
	if record.NextRetryAt != nil {
		t := *record.NextRetryAt
		cp.NextRetryAt = &t
	}
	return &cp
}
