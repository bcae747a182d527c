package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// =============================================================================
// PAYLOAD SIGNING
// =============================================================================

// signaturePrefix identifies the signing scheme in the header value
const signaturePrefix = "sha256="

// SignPayload computes the X-Webhook-Signature value for a request body
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature header against the body using
// a timing-safe comparison. Receivers should always use this rather than a
// string equality check.
func VerifySignature(secret string, body []byte, header string) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	expected := SignPayload(secret, body)
	return hmac.Equal([]byte(expected), []byte(header))
}
