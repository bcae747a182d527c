package patterns

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"llmb/shared"
)

// collectSink records emitted learning events for assertions
type collectSink struct {
	events []LearningEvent
}

func (s *collectSink) Emit(e LearningEvent) {
	s.events = append(s.events, e)
}

func (s *collectSink) count(t LearningEventType) int {
	n := 0
	for _, e := range s.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func newTestRegistry(t *testing.T) (*Registry, *collectSink) {
	t.Helper()
	sink := &collectSink{}
	r := NewRegistry(RegistryConfig{}, nil, nil, sink, nil)
	return r, sink
}

func TestLearnAndMatch_JSONSuffix(t *testing.T) {
	r, sink := newTestRegistry(t)

	obs := ExtractionObservation{
		URL:        "https://reddit.com/r/foo/comments/abc123/title/",
		Domain:     "reddit.com",
		HTTPStatus: 200,
		Content:    shared.PageContent{Text: "a perfectly fine comment thread"},
	}

	learned, err := r.Learn(obs)
	if err != nil {
		t.Fatalf("Learn: %v", err)
	}
	if learned == nil {
		t.Fatal("Learn returned no pattern")
	}
	if learned.Metrics.Confidence != 0.5 {
		t.Errorf("new pattern confidence = %v, want 0.5", learned.Metrics.Confidence)
	}
	if sink.count(EventPatternLearned) != 1 {
		t.Errorf("pattern_learned events = %d, want 1", sink.count(EventPatternLearned))
	}

	// A structurally similar URL on the same domain must match
	matches := r.Match("https://reddit.com/r/foo/comments/xyz789/other/")
	if len(matches) == 0 {
		t.Fatal("expected at least one match for sibling URL")
	}

	top := matches[0]
	if !strings.HasSuffix(top.APIEndpoint, ".json") {
		t.Errorf("api endpoint = %s, want .json suffix", top.APIEndpoint)
	}
	if top.Confidence < 0.5 {
		t.Errorf("confidence = %v, want >= 0.5", top.Confidence)
	}
	if !strings.Contains(top.APIEndpoint, "/comments/xyz789/") {
		t.Errorf("endpoint should carry the new URL's path, got %s", top.APIEndpoint)
	}
}

func TestMatch_TieBreaksOnMatchedRegexSpecificity(t *testing.T) {
	r, _ := newTestRegistry(t)

	add := func(id, urlPattern string) {
		p := &Pattern{
			Id:               id,
			TemplateType:     TemplateJSONSuffix,
			URLPatterns:      []string{urlPattern},
			EndpointTemplate: "https://example.com/api{path}",
			Method:           "GET",
			ResponseFormat:   "json",
			Metrics:          Metrics{Confidence: 0.6},
		}
		if err := r.Add(p); err != nil {
			t.Fatal(err)
		}
	}

	add("pat_generic", `^https?://example\.com/.*$`)
	add("pat_specific", `^https?://example\.com/item/[0-9]+/?$`)

	matches := r.Match("https://example.com/item/42")
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Pattern.Id != "pat_specific" {
		t.Errorf("top match = %s, want pat_specific on equal confidence", matches[0].Pattern.Id)
	}
	if matches[0].MatchedPattern != `^https?://example\.com/item/[0-9]+/?$` {
		t.Errorf("matchedPattern = %q", matches[0].MatchedPattern)
	}
}

func TestLearn_RepeatedObservationReinforces(t *testing.T) {
	r, sink := newTestRegistry(t)

	obs := ExtractionObservation{
		URL:        "https://reddit.com/r/foo/comments/abc123/title/",
		Domain:     "reddit.com",
		HTTPStatus: 200,
		Content:    shared.PageContent{Text: "a perfectly fine comment thread"},
	}

	first, err := r.Learn(obs)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		again, err := r.Learn(obs)
		if err != nil {
			t.Fatal(err)
		}
		if again.Id != first.Id {
			t.Fatalf("duplicate pattern %s created alongside %s", again.Id, first.Id)
		}
	}

	matches := r.Match("https://reddit.com/r/foo/comments/xyz789/other/")
	if len(matches) != 1 {
		t.Fatalf("got %d match candidates, want 1", len(matches))
	}
	if c := matches[0].Pattern.Metrics.Confidence; c <= 0.5 {
		t.Errorf("confidence = %v, want reinforced above 0.5", c)
	}
	if sink.count(EventPatternLearned) != 1 {
		t.Errorf("pattern_learned events = %d, want 1", sink.count(EventPatternLearned))
	}
}

func TestMatch_OrderedByConfidence(t *testing.T) {
	r, _ := newTestRegistry(t)

	add := func(id string, confidence float64) {
		p := &Pattern{
			Id:               id,
			TemplateType:     TemplateJSONSuffix,
			URLPatterns:      []string{`^https?://example\.com/item/[^/]+/?$`},
			EndpointTemplate: "https://example.com/api{path}",
			Method:           "GET",
			ResponseFormat:   "json",
			Metrics:          Metrics{Confidence: confidence},
		}
		if err := r.Add(p); err != nil {
			t.Fatal(err)
		}
	}

	add("pat_low", 0.3)
	add("pat_high", 0.9)
	add("pat_mid", 0.6)

	matches := r.Match("https://example.com/item/42")
	if len(matches) != 3 {
		t.Fatalf("got %d matches, want 3", len(matches))
	}
	want := []string{"pat_high", "pat_mid", "pat_low"}
	for i, id := range want {
		if matches[i].Pattern.Id != id {
			t.Errorf("match[%d] = %s, want %s", i, matches[i].Pattern.Id, id)
		}
	}
}

func TestObserve_MetricsInvariants(t *testing.T) {
	r, _ := newTestRegistry(t)

	p := &Pattern{
		Id:               "pat_x",
		TemplateType:     TemplateJSONSuffix,
		URLPatterns:      []string{`^https?://example\.com/.*$`},
		EndpointTemplate: "https://example.com/api",
		ResponseFormat:   "json",
		Metrics:          Metrics{Confidence: 0.5},
	}
	if err := r.Add(p); err != nil {
		t.Fatal(err)
	}

	const successes, failures = 4, 3
	for i := 0; i < successes; i++ {
		r.ObserveSuccess("pat_x", 100, "example.com")
	}
	for i := 0; i < failures; i++ {
		r.ObserveFailure("pat_x", shared.FailureRecord{
			Timestamp:    time.Now(),
			Category:     shared.FailureServerError,
			Message:      "boom",
			Domain:       "example.com",
			AttemptedURL: "https://example.com/api",
			PatternId:    "pat_x",
		})
	}

	got := r.Get("pat_x")
	if got.Metrics.SuccessCount != successes {
		t.Errorf("successCount = %d, want %d", got.Metrics.SuccessCount, successes)
	}
	if got.Metrics.FailureCount != failures {
		t.Errorf("failureCount = %d, want %d", got.Metrics.FailureCount, failures)
	}

	var byCategory int64
	for _, n := range got.Metrics.FailuresByCategory {
		byCategory += n
	}
	if byCategory != failures {
		t.Errorf("sum(failuresByCategory) = %d, want %d", byCategory, failures)
	}
	if len(got.Metrics.RecentFailures) != failures {
		t.Errorf("recentFailures = %d, want %d", len(got.Metrics.RecentFailures), failures)
	}
	// Every recent failure has a matching category increment
	for _, rec := range got.Metrics.RecentFailures {
		if got.Metrics.FailuresByCategory[rec.Category] == 0 {
			t.Errorf("recent failure category %s has no matching count", rec.Category)
		}
	}
}

func TestConfidence_Clamped(t *testing.T) {
	r, _ := newTestRegistry(t)

	p := &Pattern{
		Id:               "pat_clamp",
		TemplateType:     TemplateJSONSuffix,
		URLPatterns:      []string{`^https?://example\.com/.*$`},
		EndpointTemplate: "https://example.com/api",
		ResponseFormat:   "json",
		Metrics:          Metrics{Confidence: 1.0},
	}
	if err := r.Add(p); err != nil {
		t.Fatal(err)
	}

	r.ObserveSuccess("pat_clamp", 10, "example.com")
	if c := r.Get("pat_clamp").Metrics.Confidence; c > 1 {
		t.Errorf("confidence exceeded 1: %v", c)
	}

	for i := 0; i < 15; i++ {
		r.ObserveFailure("pat_clamp", shared.FailureRecord{
			Category: shared.FailureServerError, Domain: "example.com", PatternId: "pat_clamp",
		})
	}
	if c := r.Get("pat_clamp").Metrics.Confidence; c < 0 {
		t.Errorf("confidence went below 0: %v", c)
	}
}

func TestAntiPatternSuppression_RemovesCandidate(t *testing.T) {
	r, _ := newTestRegistry(t)

	p := &Pattern{
		Id:               "pat_auth",
		TemplateType:     TemplateJSONSuffix,
		URLPatterns:      []string{`^https?://(www\.)?secure\.example/.*$`},
		EndpointTemplate: "https://secure.example/api{path}",
		ResponseFormat:   "json",
		Metrics:          Metrics{Confidence: 0.9},
	}
	if err := r.Add(p); err != nil {
		t.Fatal(err)
	}

	if got := r.Match("https://secure.example/doc/1"); len(got) != 1 {
		t.Fatalf("precondition: expected one match, got %d", len(got))
	}

	// Three auth_required failures on the same domain within the window
	for i := 0; i < 3; i++ {
		r.ObserveFailure("pat_auth", shared.FailureRecord{
			Timestamp: time.Now(),
			Category:  shared.FailureAuthRequired,
			Domain:    "secure.example",
			PatternId: "pat_auth",
			Message:   "401 from endpoint",
		})
	}

	if got := r.Match("https://secure.example/doc/2"); len(got) != 0 {
		t.Fatalf("suppressed pattern still matched: %d candidates", len(got))
	}

	// Clearing the suppression restores the candidate
	ap, suppressed := r.AntiPatterns().Suppressed("pat_auth", "secure.example")
	if !suppressed {
		t.Fatal("expected active suppression")
	}
	if ap.RecommendedAction != ActionSkipDomain {
		t.Errorf("action = %s, want skip_domain", ap.RecommendedAction)
	}
	if !ap.ExpiresAt.IsZero() {
		t.Errorf("auth_required suppression should be indefinite, expires %v", ap.ExpiresAt)
	}

	r.AntiPatterns().Clear(ap.Id)
	if got := r.Match("https://secure.example/doc/3"); len(got) != 1 {
		t.Fatalf("cleared suppression: expected one match, got %d", len(got))
	}
}

func TestTransfer(t *testing.T) {
	r, _ := newTestRegistry(t)

	p := &Pattern{
		Id:               "pat_src",
		TemplateType:     TemplateJSONSuffix,
		URLPatterns:      []string{`^https?://(www\.)?source\.example/thread/[^/]+/?$`},
		EndpointTemplate: "https://{hostname}{cleanPath}.json",
		Extractors: []Extractor{
			{Name: "cleanPath", Source: SourcePath, Regex: `^(.*?)/?$`, Group: 1},
		},
		ResponseFormat: "json",
		Metrics:        Metrics{Confidence: 0.8, Domains: []string{"source.example"}},
	}
	if err := r.Add(p); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Transfer("pat_src", "target.example", 0.1); err == nil {
		t.Error("transfer below min similarity should fail")
	}

	clone, err := r.Transfer("pat_src", "target.example", 0.6)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if clone.Metrics.Confidence != 0.4 {
		t.Errorf("transferred confidence = %v, want 0.8*0.5=0.4", clone.Metrics.Confidence)
	}

	matches := r.Match("https://target.example/thread/99")
	found := false
	for _, m := range matches {
		if m.Pattern.Id == clone.Id {
			found = true
		}
	}
	if !found {
		t.Error("transferred pattern should match the target domain")
	}
}

func TestDecay_ArchivesStalePatterns(t *testing.T) {
	r, sink := newTestRegistry(t)

	p := &Pattern{
		Id:               "pat_stale",
		TemplateType:     TemplateJSONSuffix,
		URLPatterns:      []string{`^https?://stale\.example/.*$`},
		EndpointTemplate: "https://stale.example/api",
		ResponseFormat:   "json",
		Metrics:          Metrics{Confidence: 0.1},
	}
	if err := r.Add(p); err != nil {
		t.Fatal(err)
	}

	base := time.Now()
	r.now = func() time.Time { return base }
	r.Decay() // sets belowThresholdSince

	r.now = func() time.Time { return base.Add(15 * 24 * time.Hour) }
	r.Decay() // past archiveAfterDays -> archived

	got := r.Get("pat_stale")
	if !got.Archived {
		t.Fatal("pattern under the floor past the archive window should be archived")
	}
	if sink.count(EventPatternArchived) != 1 {
		t.Errorf("pattern_archived events = %d, want 1", sink.count(EventPatternArchived))
	}

	if matches := r.Match("https://stale.example/x"); len(matches) != 0 {
		t.Errorf("archived pattern still matched: %d candidates", len(matches))
	}
}

func TestApply_SuccessAndValidation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"title":"Widget 42","description":"A fine widget","body":"Long widget prose here"}`))
	}))
	defer server.Close()

	r, sink := newTestRegistry(t)
	p := &Pattern{
		Id:               "pat_api",
		TemplateType:     TemplateRESTResource,
		URLPatterns:      []string{`^https?://shop\.example/product/[^/]+$`},
		EndpointTemplate: server.URL + "/api/product",
		Method:           "GET",
		ResponseFormat:   "json",
		ContentMapping:   ContentMapping{Title: "title", Description: "description", Body: "body"},
		Validation:       Validation{RequiredFields: []string{"title"}, MinContentLength: 10},
		Metrics:          Metrics{Confidence: 0.5},
	}
	if err := r.Add(p); err != nil {
		t.Fatal(err)
	}

	result := r.Apply(context.Background(), MatchResult{Pattern: *r.Get("pat_api"), APIEndpoint: p.EndpointTemplate})
	if !result.Success {
		t.Fatalf("Apply failed: %s (%s)", result.Error, result.Category)
	}
	if !strings.Contains(result.Content.Markdown, "Widget 42") {
		t.Errorf("mapped markdown missing title: %q", result.Content.Markdown)
	}

	got := r.Get("pat_api")
	if got.Metrics.SuccessCount != 1 {
		t.Errorf("successCount = %d, want 1", got.Metrics.SuccessCount)
	}
	if got.Metrics.Confidence <= 0.5 {
		t.Errorf("confidence should rise after success, got %v", got.Metrics.Confidence)
	}
	if sink.count(EventPatternApplied) != 1 {
		t.Errorf("pattern_applied events = %d, want 1", sink.count(EventPatternApplied))
	}
}

func TestApply_FailureCategorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	r, _ := newTestRegistry(t)
	p := &Pattern{
		Id:               "pat_403",
		TemplateType:     TemplateRESTResource,
		URLPatterns:      []string{`^https?://x\.example/.*$`},
		EndpointTemplate: server.URL + "/api",
		ResponseFormat:   "json",
		Metrics:          Metrics{Confidence: 0.5},
	}
	if err := r.Add(p); err != nil {
		t.Fatal(err)
	}

	result := r.Apply(context.Background(), MatchResult{Pattern: *r.Get("pat_403"), APIEndpoint: p.EndpointTemplate})
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Category != shared.FailureAuthRequired {
		t.Errorf("category = %s, want auth_required (403)", result.Category)
	}

	got := r.Get("pat_403")
	if got.Metrics.FailureCount != 1 {
		t.Errorf("failureCount = %d, want 1", got.Metrics.FailureCount)
	}
	if got.Metrics.FailuresByCategory[shared.FailureAuthRequired] != 1 {
		t.Errorf("auth_required count = %d, want 1", got.Metrics.FailuresByCategory[shared.FailureAuthRequired])
	}
}

func TestBootstrap_SeedsMatch(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.Bootstrap(); err != nil {
		t.Fatal(err)
	}

	matches := r.Match("https://www.reddit.com/r/golang/comments/abc123/some_title/")
	if len(matches) == 0 {
		t.Fatal("reddit seed should match")
	}
	if !strings.HasSuffix(matches[0].APIEndpoint, ".json") {
		t.Errorf("endpoint = %s, want .json suffix", matches[0].APIEndpoint)
	}

	matches = r.Match("https://www.npmjs.com/package/leftpad")
	if len(matches) == 0 {
		t.Fatal("npm seed should match")
	}
	if matches[0].APIEndpoint != "https://registry.npmjs.org/leftpad" {
		t.Errorf("npm endpoint = %s", matches[0].APIEndpoint)
	}
}
