package patterns

import (
	"net/url"
	"regexp"
	"strings"
	"testing"

	"llmb/shared"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestDefaultExtractor(t *testing.T) {
	u := mustParse(t, "https://api.news.example.com/Article/42?sort=TOP")

	vars, err := DefaultExtractor{}.Extract(u, []Extractor{
		{Name: "articleId", Source: SourcePath, Regex: `^/[^/]+/([^/]+)$`, Group: 1},
		{Name: "slug", Source: SourcePath, Regex: `^/([^/]+)`, Group: 1, Transform: "lower"},
		{Name: "sub", Source: SourceSubdomain},
		{Name: "query", Source: SourceQuery},
	})
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]string{
		"hostname":  "api.news.example.com",
		"path":      "/Article/42",
		"articleId": "42",
		"slug":      "article",
		"sub":       "api.news",
		"query":     "sort=TOP",
	}
	for k, v := range want {
		if vars[k] != v {
			t.Errorf("vars[%q] = %q, want %q", k, vars[k], v)
		}
	}
}

func TestDefaultExtractor_NoMatch(t *testing.T) {
	u := mustParse(t, "https://example.com/")
	_, err := DefaultExtractor{}.Extract(u, []Extractor{
		{Name: "id", Source: SourcePath, Regex: `^/item/(\d+)$`, Group: 1},
	})
	if err == nil {
		t.Fatal("expected error when the extractor regex does not match")
	}
}

func TestSubstituteTemplate(t *testing.T) {
	got, err := SubstituteTemplate("https://{hostname}/api/{id}.json", map[string]string{
		"hostname": "example.com",
		"id":       "42",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://example.com/api/42.json" {
		t.Errorf("substituted = %q", got)
	}

	if _, err := SubstituteTemplate("https://{hostname}/{missing}", map[string]string{"hostname": "x"}); err == nil {
		t.Error("unresolved variable should error")
	}
}

func TestDefaultMapper_JSON(t *testing.T) {
	body := []byte(`{"info":{"name":"pkg","summary":"a summary"},"readme":"the readme"}`)
	content, structured, err := DefaultMapper{}.Map("json", body, ContentMapping{
		Title:       "info.name",
		Description: "info.summary",
		Body:        "readme",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(content.Markdown, "# pkg") {
		t.Errorf("markdown = %q, want title heading", content.Markdown)
	}
	if !strings.Contains(content.Text, "the readme") {
		t.Errorf("text missing body: %q", content.Text)
	}
	if structured["readme"] != "the readme" {
		t.Errorf("structured readme = %v", structured["readme"])
	}
}

func TestDefaultMapper_ArrayHops(t *testing.T) {
	body := []byte(`[{"data":{"children":[{"data":{"title":"thread title","selftext":"thread body"}}]}}]`)
	content, _, err := DefaultMapper{}.Map("json", body, ContentMapping{
		Title: "0.data.children.0.data.title",
		Body:  "0.data.children.0.data.selftext",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(content.Text, "thread title") || !strings.Contains(content.Text, "thread body") {
		t.Errorf("text = %q", content.Text)
	}
}

func TestHasPath(t *testing.T) {
	var data interface{}
	data = map[string]interface{}{
		"a": map[string]interface{}{"b": []interface{}{map[string]interface{}{"c": "x"}}},
		"n": nil,
	}
	cases := []struct {
		path string
		want bool
	}{
		{"a", true},
		{"a.b.0.c", true},
		{"a.b.1.c", false},
		{"a.missing", false},
		{"n", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := HasPath(data, tc.path); got != tc.want {
			t.Errorf("HasPath(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestGeneralizePathPattern(t *testing.T) {
	u := mustParse(t, "https://www.reddit.com/r/golang/comments/abc/")
	pattern := generalizePathPattern(u)

	re, err := regexp.Compile(pattern)
	if err != nil {
		t.Fatalf("generated pattern does not compile: %v", err)
	}

	matching := []string{
		"https://reddit.com/r/rust/comments/xyz",
		"https://www.reddit.com/r/go/comments/123/",
		"http://reddit.com/r/a/b/c",
	}
	for _, m := range matching {
		if !re.MatchString(m) {
			t.Errorf("pattern %q should match %q", pattern, m)
		}
	}

	nonMatching := []string{
		"https://reddit.com/r/golang",                  // fewer segments
		"https://reddit.com/r/golang/comments/abc/d",   // more segments
		"https://notreddit.com/r/golang/comments/abc",  // wrong host
		"https://sub.reddit.com/r/golang/comments/abc", // non-www subdomain
	}
	for _, m := range nonMatching {
		if re.MatchString(m) {
			t.Errorf("pattern %q should not match %q", pattern, m)
		}
	}
}

func TestJSONSuffixInferrer(t *testing.T) {
	p, err := JSONSuffixInferrer{}.Infer(ExtractionObservation{
		URL:    "https://reddit.com/r/golang/comments/abc123/",
		Domain: "reddit.com",
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.TemplateType != TemplateJSONSuffix {
		t.Errorf("templateType = %s", p.TemplateType)
	}
	if p.Metrics.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5", p.Metrics.Confidence)
	}

	// Root URLs carry no path shape to learn from
	if _, err := (JSONSuffixInferrer{}).Infer(ExtractionObservation{URL: "https://example.com/"}); err != ErrNoTemplate {
		t.Errorf("root URL: err = %v, want ErrNoTemplate", err)
	}
}

func TestRESTResourceInferrer(t *testing.T) {
	obs := ExtractionObservation{
		URL:    "https://shop.example/product/widget-42",
		Domain: "shop.example",
		DiscoveredAPIs: []shared.DiscoveredAPI{
			{URL: "https://shop.example/api/v2/products/widget-42", Method: "GET", ContentType: "application/json", Status: 200},
		},
	}

	p, err := RESTResourceInferrer{}.Infer(obs)
	if err != nil {
		t.Fatal(err)
	}
	if p.TemplateType != TemplateRESTResource {
		t.Errorf("templateType = %s", p.TemplateType)
	}
	if p.EndpointTemplate != "https://shop.example/api/v2/products/{resource}" {
		t.Errorf("endpoint template = %s", p.EndpointTemplate)
	}

	// The extractor must recover the resource id from a sibling URL
	u := mustParse(t, "https://shop.example/product/gizmo-7")
	vars, err := DefaultExtractor{}.Extract(u, p.Extractors)
	if err != nil {
		t.Fatal(err)
	}
	if vars["resource"] != "gizmo-7" {
		t.Errorf("resource = %q, want gizmo-7", vars["resource"])
	}

	// Non-JSON discovered calls are ignored
	obs.DiscoveredAPIs[0].ContentType = "text/html"
	if _, err := (RESTResourceInferrer{}).Infer(obs); err != ErrNoTemplate {
		t.Errorf("non-json API: err = %v, want ErrNoTemplate", err)
	}
}

func TestRegexSpecificity(t *testing.T) {
	generic := `^https?://[^/]+/.*$`
	specific := `^https?://(www\.)?reddit\.com/r/[^/]+/comments/[^/]+/?$`
	if regexSpecificity(specific) <= regexSpecificity(generic) {
		t.Error("longer literal-heavy pattern should score higher")
	}
}
