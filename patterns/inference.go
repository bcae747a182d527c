package patterns

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"llmb/shared"
)

// =============================================================================
// TEMPLATE INFERENCE, VARIABLE EXTRACTION, CONTENT MAPPING
// =============================================================================
//
// The registry depends on three pluggable behaviors, modeled as small
// capability interfaces. Dispatch is by template-type tag, so the hot path
// stays branchless: each template type owns its inference rules, while
// extraction and mapping are shared default implementations.
//
// =============================================================================

// ErrNoTemplate is returned when no template can be inferred from an observation
var ErrNoTemplate = errors.New("no template inferable from observation")

// TemplateInferrer derives a pattern from an observed successful fetch
type TemplateInferrer interface {
	Infer(obs ExtractionObservation) (*Pattern, error)
}

// VariableExtractor populates template variables from a matched URL
type VariableExtractor interface {
	Extract(u *url.URL, extractors []Extractor) (map[string]string, error)
}

// ContentMapper turns a parsed API response into canonical content
type ContentMapper interface {
	Map(format string, body []byte, mapping ContentMapping) (shared.PageContent, map[string]interface{}, error)
}

// =============================================================================
// DEFAULT VARIABLE EXTRACTOR
// =============================================================================

// DefaultExtractor is the standard regex-driven variable extractor
type DefaultExtractor struct{}

// Extract runs each extractor against its source and returns the variable map
func (DefaultExtractor) Extract(u *url.URL, extractors []Extractor) (map[string]string, error) {
	vars := map[string]string{
		"hostname": u.Hostname(),
		"path":     u.Path,
	}

	for _, ex := range extractors {
		source := sourceValue(u, ex.Source)

		value := source
		if ex.Regex != "" {
			re, err := regexp.Compile(ex.Regex)
			if err != nil {
				return nil, fmt.Errorf("extractor %s: %w", ex.Name, err)
			}
			groups := re.FindStringSubmatch(source)
			if groups == nil {
				return nil, fmt.Errorf("extractor %s: no match in %s source", ex.Name, ex.Source)
			}
			idx := ex.Group
			if idx < 0 || idx >= len(groups) {
				return nil, fmt.Errorf("extractor %s: group %d out of range", ex.Name, idx)
			}
			value = groups[idx]
		}

		vars[ex.Name] = applyTransform(value, ex.Transform)
	}

	return vars, nil
}

func sourceValue(u *url.URL, source ExtractorSource) string {
	switch source {
	case SourcePath:
		return u.Path
	case SourceQuery:
		return u.RawQuery
	case SourceSubdomain:
		host := u.Hostname()
		parts := strings.Split(host, ".")
		if len(parts) > 2 {
			return strings.Join(parts[:len(parts)-2], ".")
		}
		return ""
	case SourceHostname:
		return u.Hostname()
	default:
		return ""
	}
}

func applyTransform(value, transform string) string {
	switch transform {
	case "lower":
		return strings.ToLower(value)
	case "upper":
		return strings.ToUpper(value)
	case "trim":
		return strings.TrimSpace(value)
	default:
		return value
	}
}

// SubstituteTemplate fills {var} placeholders in an endpoint template
func SubstituteTemplate(template string, vars map[string]string) (string, error) {
	result := template
	for name, value := range vars {
		result = strings.ReplaceAll(result, "{"+name+"}", value)
	}
	if idx := strings.Index(result, "{"); idx >= 0 {
		if end := strings.Index(result[idx:], "}"); end >= 0 {
			return "", fmt.Errorf("unresolved template variable %s", result[idx:idx+end+1])
		}
	}
	return result, nil
}

// =============================================================================
// DEFAULT CONTENT MAPPER
// =============================================================================

// DefaultMapper maps json/xml/html responses via dot-path lookups
type DefaultMapper struct{}

// Map parses the body per format and applies the content mapping
func (DefaultMapper) Map(format string, body []byte, mapping ContentMapping) (shared.PageContent, map[string]interface{}, error) {
	var content shared.PageContent

	switch format {
	case "json":
		var parsed interface{}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return content, nil, fmt.Errorf("parse json response: %w", err)
		}

		structured, _ := parsed.(map[string]interface{})

		title := lookupPath(parsed, mapping.Title)
		description := lookupPath(parsed, mapping.Description)
		bodyText := lookupPath(parsed, mapping.Body)
		if bodyText == "" {
			bodyText = description
		}

		content.Text = joinNonEmpty([]string{title, description, bodyText}, "\n\n")
		content.Markdown = content.Text
		if title != "" {
			content.Markdown = "# " + title
			rest := joinNonEmpty([]string{description, bodyText}, "\n\n")
			if rest != "" {
				content.Markdown += "\n\n" + rest
			}
		}
		return content, structured, nil

	case "xml", "html":
		text := string(body)
		content.HTML = text
		content.Text = stripTags(text)
		content.Markdown = content.Text
		return content, nil, nil

	default:
		return content, nil, fmt.Errorf("unsupported response format %q", format)
	}
}

// lookupPath walks a dot-separated path through parsed JSON. Array hops use
// numeric segments ("data.children.0.title"). Returns "" when absent.
func lookupPath(data interface{}, path string) string {
	if path == "" {
		return ""
	}

	current := data
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			current = node[segment]
		case []interface{}:
			var idx int
			if _, err := fmt.Sscanf(segment, "%d", &idx); err != nil || idx < 0 || idx >= len(node) {
				return ""
			}
			current = node[idx]
		default:
			return ""
		}
	}

	switch v := current.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

// HasPath reports whether a dot-separated path resolves to a non-nil value
func HasPath(data interface{}, path string) bool {
	if path == "" {
		return false
	}
	current := data
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			var ok bool
			current, ok = node[segment]
			if !ok {
				return false
			}
		case []interface{}:
			var idx int
			if _, err := fmt.Sscanf(segment, "%d", &idx); err != nil || idx < 0 || idx >= len(node) {
				return false
			}
			current = node[idx]
		default:
			return false
		}
	}
	return current != nil
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func stripTags(s string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(s, " "))
}

func joinNonEmpty(parts []string, sep string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// =============================================================================
// TEMPLATE INFERRERS
// =============================================================================

// InferrerFor returns the inferrer for a template type, or nil
func InferrerFor(t TemplateType) TemplateInferrer {
	switch t {
	case TemplateJSONSuffix:
		return JSONSuffixInferrer{}
	case TemplateRESTResource:
		return RESTResourceInferrer{}
	default:
		return nil
	}
}

// defaultInferrers are tried in order when learning from an observation
var defaultInferrers = []TemplateInferrer{
	JSONSuffixInferrer{},
	RESTResourceInferrer{},
}

// JSONSuffixInferrer handles sites where appending .json to the page URL
// yields the API representation (reddit-style).
type JSONSuffixInferrer struct{}

// Infer builds a json-suffix pattern covering the observed URL's path shape
func (JSONSuffixInferrer) Infer(obs ExtractionObservation) (*Pattern, error) {
	u, err := url.Parse(obs.URL)
	if err != nil {
		return nil, ErrNoTemplate
	}

	path := strings.TrimSuffix(u.Path, "/")
	if path == "" {
		return nil, ErrNoTemplate
	}

	now := time.Now()
	p := &Pattern{
		Id:           shared.NewId("pat"),
		TemplateType: TemplateJSONSuffix,
		URLPatterns:  []string{generalizePathPattern(u)},
		// The trailing slash is stripped by the path extractor below
		EndpointTemplate: "https://{hostname}{cleanPath}.json",
		Extractors: []Extractor{
			{Name: "cleanPath", Source: SourcePath, Regex: `^(.*?)/?$`, Group: 1},
		},
		Method:         "GET",
		ResponseFormat: "json",
		ContentMapping: ContentMapping{Title: "title", Body: "body"},
		Validation:     Validation{MinContentLength: 1},
		Metrics:        Metrics{Confidence: 0.5, FailuresByCategory: make(map[shared.FailureCategory]int64)},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	p.AddDomain(obs.Domain)
	return p, nil
}

// RESTResourceInferrer learns from discovered API calls observed during a
// successful fetch: when a captured JSON request shares an id segment with
// the page URL, the API URL is templated on that segment.
type RESTResourceInferrer struct{}

// Infer templates the discovered API on the shared path segment
func (RESTResourceInferrer) Infer(obs ExtractionObservation) (*Pattern, error) {
	u, err := url.Parse(obs.URL)
	if err != nil {
		return nil, ErrNoTemplate
	}

	pageSegments := splitPath(u.Path)
	if len(pageSegments) == 0 {
		return nil, ErrNoTemplate
	}

	for _, api := range obs.DiscoveredAPIs {
		if api.Status != 0 && (api.Status < 200 || api.Status >= 300) {
			continue
		}
		if !strings.Contains(api.ContentType, "json") {
			continue
		}
		apiURL, err := url.Parse(api.URL)
		if err != nil {
			continue
		}

		// The templated variable is the last page path segment that also
		// appears in the API path
		for i := len(pageSegments) - 1; i >= 0; i-- {
			segment := pageSegments[i]
			if len(segment) < 2 || !strings.Contains(apiURL.Path, segment) {
				continue
			}

			now := time.Now()
			endpoint := strings.Replace(api.URL, segment, "{resource}", 1)
			p := &Pattern{
				Id:               shared.NewId("pat"),
				TemplateType:     TemplateRESTResource,
				URLPatterns:      []string{generalizePathPattern(u)},
				EndpointTemplate: endpoint,
				Extractors: []Extractor{
					{Name: "resource", Source: SourcePath, Regex: segmentCaptureRegex(pageSegments, i), Group: 1},
				},
				Method:         firstNonEmpty(api.Method, "GET"),
				ResponseFormat: "json",
				ContentMapping: ContentMapping{Title: "title", Description: "description", Body: "body"},
				Validation:     Validation{MinContentLength: 1},
				Metrics:        Metrics{Confidence: 0.5, FailuresByCategory: make(map[shared.FailureCategory]int64)},
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			p.AddDomain(obs.Domain)
			return p, nil
		}
	}

	return nil, ErrNoTemplate
}

// InferTemplate tries each registered inferrer in order
func InferTemplate(obs ExtractionObservation) (*Pattern, error) {
	for _, inferrer := range defaultInferrers {
		p, err := inferrer.Infer(obs)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNoTemplate) {
			return nil, err
		}
	}
	return nil, ErrNoTemplate
}

// =============================================================================
// URL PATTERN HELPERS
// =============================================================================

// generalizePathPattern turns a concrete URL into a regex matching URLs of
// the same shape: the scheme and host are kept (www. optional), each path
// segment becomes a wildcard.
func generalizePathPattern(u *url.URL) string {
	host := regexp.QuoteMeta(strings.TrimPrefix(u.Hostname(), "www."))

	segments := splitPath(u.Path)
	var sb strings.Builder
	sb.WriteString(`^https?://(www\.)?`)
	sb.WriteString(host)
	for range segments {
		sb.WriteString(`/[^/]+`)
	}
	sb.WriteString(`/?$`)
	return sb.String()
}

// segmentCaptureRegex builds a path regex capturing segment i
func segmentCaptureRegex(segments []string, i int) string {
	var sb strings.Builder
	sb.WriteString("^")
	for j := range segments {
		sb.WriteString("/")
		if j == i {
			sb.WriteString("([^/]+)")
		} else {
			sb.WriteString("[^/]+")
		}
	}
	sb.WriteString("/?$")
	return sb.String()
}

func splitPath(path string) []string {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// regexSpecificity scores a URL regex for tie-breaking: longer expressions
// with more literal characters win.
func regexSpecificity(pattern string) int {
	literals := 0
	for _, r := range pattern {
		switch r {
		case '^', '$', '(', ')', '[', ']', '+', '*', '?', '.', '\\', '|':
		default:
			literals++
		}
	}
	return len(pattern) + literals
}
