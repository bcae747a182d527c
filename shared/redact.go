package shared

import (
	"regexp"
	"strings"
)

// =============================================================================
// REDACTION
// =============================================================================
//
// Secrets are redacted before any log line is emitted at the boundary.
// The field list is whitelisted: only known-safe fields pass through
// verbatim; everything else that looks like a credential is masked.
//
// =============================================================================

// safeLogFields are the only structured fields logged verbatim
var safeLogFields = map[string]bool{
	"code":       true,
	"category":   true,
	"domain":     true,
	"url":        true,
	"tier":       true,
	"tenantId":   true,
	"patternId":  true,
	"endpointId": true,
	"eventId":    true,
	"eventType":  true,
	"status":     true,
	"attempts":   true,
	"durationMs": true,
	"message":    true,
}

// sensitiveFieldNames are field names whose values are always masked
var sensitiveFieldNames = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"set-cookie":    true,
	"token":         true,
	"password":      true,
	"secret":        true,
	"api_key":       true,
	"apikey":        true,
	"access_token":  true,
	"refresh_token": true,
}

// sensitivePatterns detect credential material embedded in free text
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]{16,}`),
	regexp.MustCompile(`(?i)basic\s+[a-zA-Z0-9+/=]{16,}`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password|passwd)[=:]\s*["']?[^"'\s&]{8,}["']?`),
	regexp.MustCompile(`(?i)(https?|redis|postgres|mongodb)://[^:/\s]+:[^@\s]+@`),
}

const redactedPlaceholder = "[REDACTED]"

// RedactString masks credential material found in free-form text
func RedactString(s string) string {
	for _, pattern := range sensitivePatterns {
		s = pattern.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}

// IsSafeLogField reports whether a structured field may be logged verbatim
func IsSafeLogField(name string) bool {
	return safeLogFields[name]
}

// RedactHeaders returns a copy of a header bag with sensitive values masked
func RedactHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if sensitiveFieldNames[strings.ToLower(k)] {
			out[k] = redactedPlaceholder
		} else {
			out[k] = RedactString(v)
		}
	}
	return out
}

// RedactDetails masks sensitive values inside an error details map
func RedactDetails(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return nil
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		if sensitiveFieldNames[strings.ToLower(k)] {
			out[k] = redactedPlaceholder
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = RedactString(s)
		} else {
			out[k] = v
		}
	}
	return out
}
