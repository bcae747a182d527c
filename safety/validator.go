// Package safety rejects SSRF-prone URLs before anything is scheduled.
package safety

import (
	"net"
	"net/url"
	"strings"
)

// =============================================================================
// URL SAFETY VALIDATOR
// =============================================================================
//
// Synchronous, no I/O. Hostnames are judged syntactically; no DNS resolution
// happens here. Each guard can be opted out individually, and an explicit
// allowlist overrides any block. Disabling the validator wholesale is a
// single explicit flag reserved for test fixtures.
//
// =============================================================================

// BlockCategory identifies which guard rejected a URL
type BlockCategory string

const (
	BlockProtocol        BlockCategory = "protocol"
	BlockPrivateIP       BlockCategory = "private_ip"
	BlockLocalhost       BlockCategory = "localhost"
	BlockLinkLocal       BlockCategory = "link_local"
	BlockMetadata        BlockCategory = "metadata"
	BlockBlockedHostname BlockCategory = "blocked_hostname"
)

// Config controls the individual guards
type Config struct {
	// Disabled turns the validator off entirely. For test fixtures only;
	// never the default.
	Disabled bool `json:"disabled"`

	AllowPrivateIPs        bool `json:"allowPrivateIps"`
	AllowLocalhost         bool `json:"allowLocalhost"`
	AllowLinkLocal         bool `json:"allowLinkLocal"`
	AllowMetadataEndpoints bool `json:"allowMetadataEndpoints"`

	// AllowedHostnames overrides any block for the listed hosts
	AllowedHostnames []string `json:"allowedHostnames,omitempty"`

	// BlockedHostnames rejects additional hosts outright
	BlockedHostnames []string `json:"blockedHostnames,omitempty"`
}

// Result is the validator's verdict
type Result struct {
	Safe     bool          `json:"safe"`
	Category BlockCategory `json:"category,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

// metadataHosts are cloud metadata endpoints blocked by default
var metadataHosts = map[string]bool{
	"169.254.169.254":          true,
	"metadata.google.internal": true,
	"100.100.100.200":          true,
}

// Validator applies the configured guards
type Validator struct {
	config Config
}

// New creates a validator with the given config
func New(config Config) *Validator {
	return &Validator{config: config}
}

// Validate judges a raw URL string
func (v *Validator) Validate(rawURL string) Result {
	if v.config.Disabled {
		return Result{Safe: true}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Result{Safe: false, Category: BlockProtocol, Reason: "unparseable URL"}
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return Result{Safe: false, Category: BlockProtocol, Reason: "scheme must be http or https"}
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return Result{Safe: false, Category: BlockProtocol, Reason: "missing hostname"}
	}

	for _, allowed := range v.config.AllowedHostnames {
		if strings.EqualFold(allowed, host) {
			return Result{Safe: true}
		}
	}

	for _, blocked := range v.config.BlockedHostnames {
		if strings.EqualFold(blocked, host) {
			return Result{Safe: false, Category: BlockBlockedHostname, Reason: "hostname is blocklisted"}
		}
	}

	if !v.config.AllowMetadataEndpoints && metadataHosts[host] {
		return Result{Safe: false, Category: BlockMetadata, Reason: "cloud metadata endpoint"}
	}

	if !v.config.AllowLocalhost && isLocalhost(host) {
		return Result{Safe: false, Category: BlockLocalhost, Reason: "localhost is not allowed"}
	}

	if ip := net.ParseIP(host); ip != nil {
		return v.validateIP(ip)
	}

	return Result{Safe: true}
}

func (v *Validator) validateIP(ip net.IP) Result {
	if !v.config.AllowLocalhost && (ip.IsLoopback() || ip.IsUnspecified()) {
		return Result{Safe: false, Category: BlockLocalhost, Reason: "loopback address"}
	}

	if !v.config.AllowLinkLocal && (ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()) {
		return Result{Safe: false, Category: BlockLinkLocal, Reason: "link-local address"}
	}

	if !v.config.AllowPrivateIPs && ip.IsPrivate() {
		return Result{Safe: false, Category: BlockPrivateIP, Reason: "private address range"}
	}

	return Result{Safe: true}
}

// isLocalhost matches localhost and any *.localhost label
func isLocalhost(host string) bool {
	return host == "localhost" || strings.HasSuffix(host, ".localhost")
}
