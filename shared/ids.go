package shared

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// IDS AND HASHING
// =============================================================================

// NewId returns a prefixed unique identifier, e.g. "pat_4f9c..."
func NewId(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

// HashData returns the SHA256 hex digest of the canonical JSON encoding
func HashData(data interface{}) string {
	if data == nil {
		return ""
	}

	bytes, err := json.Marshal(data)
	if err != nil {
		bytes = []byte(fmt.Sprintf("%v", data))
	}

	hash := sha256.Sum256(bytes)
	return hex.EncodeToString(hash[:])
}

// HashString returns the SHA256 hex digest of a string
func HashString(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])
}

// DeliveryIdempotencyKey derives the idempotency key for one event/endpoint
// pair. Dispatching the same event to the same endpoint twice yields the
// same key, so well-behaved receivers can deduplicate.
func DeliveryIdempotencyKey(eventId, endpointId string) string {
	return HashData(map[string]string{
		"eventId":    eventId,
		"endpointId": endpointId,
	})
}

// RequestFingerprint identifies one fetch for the lifetime of the request
type RequestFingerprint struct {
	TenantId      string `json:"tenantId"`
	NormalizedURL string `json:"normalizedUrl"`
	OptionsHash   string `json:"optionsHash"`
}

// NewRequestFingerprint builds the immutable fingerprint of a fetch
func NewRequestFingerprint(tenantId, normalizedURL string, opts FetchOptions) RequestFingerprint {
	return RequestFingerprint{
		TenantId:      tenantId,
		NormalizedURL: normalizedURL,
		OptionsHash:   HashData(opts),
	}
}

// Key returns the fingerprint collapsed to a single hash
func (f RequestFingerprint) Key() string {
	return HashData(f)
}
