package safety

import (
	"testing"
)

func TestValidate_Schemes(t *testing.T) {
	v := New(Config{})

	tests := []struct {
		url      string
		safe     bool
		category BlockCategory
	}{
		{"https://example.com/page", true, ""},
		{"http://example.com", true, ""},
		{"file:///etc/passwd", false, BlockProtocol},
		{"ftp://example.com/file", false, BlockProtocol},
		{"gopher://example.com", false, BlockProtocol},
		{"javascript:alert(1)", false, BlockProtocol},
	}

	for _, tc := range tests {
		result := v.Validate(tc.url)
		if result.Safe != tc.safe {
			t.Errorf("Validate(%s): safe = %v, want %v", tc.url, result.Safe, tc.safe)
		}
		if !tc.safe && result.Category != tc.category {
			t.Errorf("Validate(%s): category = %s, want %s", tc.url, result.Category, tc.category)
		}
	}
}

func TestValidate_PrivateAndLoopback(t *testing.T) {
	v := New(Config{})

	tests := []struct {
		url      string
		category BlockCategory
	}{
		{"http://localhost/admin", BlockLocalhost},
		{"http://foo.localhost/", BlockLocalhost},
		{"http://127.0.0.1:8080/", BlockLocalhost},
		{"http://127.1.2.3/", BlockLocalhost},
		{"http://0.0.0.0/", BlockLocalhost},
		{"http://10.0.0.5/", BlockPrivateIP},
		{"http://172.16.0.1/", BlockPrivateIP},
		{"http://172.31.255.255/", BlockPrivateIP},
		{"http://192.168.1.1/", BlockPrivateIP},
		{"http://169.254.1.1/", BlockLinkLocal},
	}

	for _, tc := range tests {
		result := v.Validate(tc.url)
		if result.Safe {
			t.Errorf("Validate(%s): expected unsafe", tc.url)
			continue
		}
		if result.Category != tc.category {
			t.Errorf("Validate(%s): category = %s, want %s", tc.url, result.Category, tc.category)
		}
	}
}

func TestValidate_MetadataHosts(t *testing.T) {
	v := New(Config{})

	for _, url := range []string{
		"http://169.254.169.254/latest/meta-data/",
		"http://metadata.google.internal/computeMetadata/v1/",
		"http://100.100.100.200/latest/meta-data/",
	} {
		result := v.Validate(url)
		if result.Safe {
			t.Errorf("Validate(%s): expected unsafe", url)
		}
		if result.Category != BlockMetadata {
			t.Errorf("Validate(%s): category = %s, want metadata", url, result.Category)
		}
	}
}

func TestValidate_OptOuts(t *testing.T) {
	v := New(Config{AllowLocalhost: true, AllowPrivateIPs: true, AllowLinkLocal: true})

	for _, url := range []string{
		"http://localhost:3000/",
		"http://10.0.0.5/",
		"http://169.254.1.1/",
	} {
		if result := v.Validate(url); !result.Safe {
			t.Errorf("Validate(%s) with opt-outs: expected safe, got %s", url, result.Category)
		}
	}

	// Metadata stays blocked: AllowLinkLocal does not cover metadata hosts
	if result := v.Validate("http://169.254.169.254/"); result.Safe {
		t.Error("metadata endpoint should stay blocked without AllowMetadataEndpoints")
	}
}

func TestValidate_AllowlistOverridesBlock(t *testing.T) {
	v := New(Config{AllowedHostnames: []string{"metadata.google.internal", "localhost"}})

	if result := v.Validate("http://metadata.google.internal/"); !result.Safe {
		t.Errorf("allowlisted metadata host should pass, got %s", result.Category)
	}
	if result := v.Validate("http://localhost/"); !result.Safe {
		t.Errorf("allowlisted localhost should pass, got %s", result.Category)
	}
}

func TestValidate_BlockedHostnames(t *testing.T) {
	v := New(Config{BlockedHostnames: []string{"internal.corp.example"}})

	result := v.Validate("https://internal.corp.example/secrets")
	if result.Safe {
		t.Fatal("blocklisted hostname should be rejected")
	}
	if result.Category != BlockBlockedHostname {
		t.Errorf("category = %s, want blocked_hostname", result.Category)
	}
}

func TestValidate_DisabledFlag(t *testing.T) {
	v := New(Config{Disabled: true})

	if result := v.Validate("file:///etc/passwd"); !result.Safe {
		t.Error("disabled validator should accept anything")
	}
}
