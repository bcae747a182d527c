// Package verify runs declarative check lists against fetch results, with
// optional JSON-Schema validation and per-domain learned checks.
package verify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"llmb/shared"
)

// =============================================================================
// CHECK MODEL
// =============================================================================

// Mode selects the built-in check set
type Mode string

const (
	ModeBasic    Mode = "basic"
	ModeStandard Mode = "standard"
	ModeThorough Mode = "thorough"
)

// CheckType classifies what a check inspects
type CheckType string

const (
	CheckContent CheckType = "content"
	CheckAction  CheckType = "action"
	CheckState   CheckType = "state"
	CheckCustom  CheckType = "custom"
)

// CheckOp is the operation a content or action check performs
type CheckOp string

const (
	OpFieldExists   CheckOp = "field_exists"
	OpFieldNotEmpty CheckOp = "field_not_empty"
	OpFieldMatches  CheckOp = "field_matches"
	OpMinLength     CheckOp = "min_length"
	OpMaxLength     CheckOp = "max_length"
	OpStatusCode    CheckOp = "status_code"
	OpContainsText  CheckOp = "contains_text"
	OpExcludesText  CheckOp = "excludes_text"
)

// CheckSeverity grades a failed check
type CheckSeverity string

const (
	SeverityWarning  CheckSeverity = "warning"
	SeverityError    CheckSeverity = "error"
	SeverityCritical CheckSeverity = "critical"
)

// CustomCheckFunc is a caller-supplied check
type CustomCheckFunc func(ctx context.Context, result *shared.FetchResult) CheckResult

// StateProbe verifies external state for state checks: browse a secondary
// URL or call an API and require success.
type StateProbe func(ctx context.Context, url string) error

// Check is one declarative verification step.
//
// Field addresses result content: "markdown", "text", "html", or "content"
// (the longer of markdown/text); any other value is a dot path into the
// structured data.
type Check struct {
	Name     string        `json:"name"`
	Type     CheckType     `json:"type"`
	Op       CheckOp       `json:"op,omitempty"`
	Severity CheckSeverity `json:"severity"`

	Field      string `json:"field,omitempty"`
	Pattern    string `json:"pattern,omitempty"`
	Value      string `json:"value,omitempty"`
	MinLength  int    `json:"minLength,omitempty"`
	MaxLength  int    `json:"maxLength,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`

	// URL is probed by state checks
	URL string `json:"url,omitempty"`

	// Fn runs custom checks; not serialized
	Fn CustomCheckFunc `json:"-"`
}

// CheckResult is the outcome of one executed check
type CheckResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Message  string        `json:"message,omitempty"`
	Severity CheckSeverity `json:"severity"`
}

// =============================================================================
// BUILT-IN MODES
// =============================================================================

// builtinChecks returns the check set for a mode. Unknown modes get basic.
func builtinChecks(mode Mode) []Check {
	basic := []Check{
		{Name: "status_ok", Type: CheckAction, Op: OpStatusCode, StatusCode: 200, Severity: SeverityCritical},
		{Name: "content_min_50", Type: CheckContent, Op: OpMinLength, Field: "content", MinLength: 50, Severity: SeverityError},
	}

	switch mode {
	case ModeStandard:
		return append(basic,
			Check{Name: "no_access_denied", Type: CheckAction, Op: OpExcludesText, Value: "access denied", Severity: SeverityError},
			Check{Name: "no_rate_limit_page", Type: CheckAction, Op: OpExcludesText, Value: "rate limit exceeded", Severity: SeverityError},
		)
	case ModeThorough:
		return append(builtinChecks(ModeStandard),
			Check{Name: "content_min_100", Type: CheckContent, Op: OpMinLength, Field: "content", MinLength: 100, Severity: SeverityWarning},
		)
	default:
		return basic
	}
}

// =============================================================================
// EVALUATION
// =============================================================================

// evaluate runs one check against a result
func (p *Pipeline) evaluate(ctx context.Context, result *shared.FetchResult, check Check) CheckResult {
	out := CheckResult{Name: check.Name, Severity: check.Severity}
	if out.Severity == "" {
		out.Severity = SeverityError
	}

	switch check.Type {
	case CheckContent, CheckAction:
		passed, message := evaluateOp(result, check)
		out.Passed = passed
		out.Message = message

	case CheckState:
		if check.URL == "" {
			out.Message = "state check has no url"
			return out
		}
		if p.probe == nil {
			out.Message = "no state probe configured"
			return out
		}
		if err := p.probe(ctx, check.URL); err != nil {
			out.Message = fmt.Sprintf("state probe %s: %v", check.URL, err)
			return out
		}
		out.Passed = true

	case CheckCustom:
		if check.Fn == nil {
			out.Message = "custom check has no callable"
			return out
		}
		inner := check.Fn(ctx, result)
		if inner.Name == "" {
			inner.Name = check.Name
		}
		if inner.Severity == "" {
			inner.Severity = out.Severity
		}
		return inner

	default:
		out.Message = fmt.Sprintf("unknown check type %q", check.Type)
	}

	return out
}

func evaluateOp(result *shared.FetchResult, check Check) (bool, string) {
	switch check.Op {
	case OpFieldExists:
		if _, ok := fieldValue(result, check.Field); !ok {
			return false, fmt.Sprintf("field %q absent", check.Field)
		}
		return true, ""

	case OpFieldNotEmpty:
		value, ok := fieldValue(result, check.Field)
		if !ok || strings.TrimSpace(value) == "" {
			return false, fmt.Sprintf("field %q empty", check.Field)
		}
		return true, ""

	case OpFieldMatches:
		value, _ := fieldValue(result, check.Field)
		re, err := regexp.Compile(check.Pattern)
		if err != nil {
			return false, fmt.Sprintf("invalid pattern %q: %v", check.Pattern, err)
		}
		if !re.MatchString(value) {
			return false, fmt.Sprintf("field %q does not match %q", check.Field, check.Pattern)
		}
		return true, ""

	case OpMinLength:
		value, _ := fieldValue(result, check.Field)
		if len(value) < check.MinLength {
			return false, fmt.Sprintf("length %d below minimum %d", len(value), check.MinLength)
		}
		return true, ""

	case OpMaxLength:
		value, _ := fieldValue(result, check.Field)
		if len(value) > check.MaxLength {
			return false, fmt.Sprintf("length %d above maximum %d", len(value), check.MaxLength)
		}
		return true, ""

	case OpStatusCode:
		if result.HTTPStatus != check.StatusCode {
			return false, fmt.Sprintf("status %d, want %d", result.HTTPStatus, check.StatusCode)
		}
		return true, ""

	case OpContainsText:
		if !strings.Contains(strings.ToLower(pageText(result)), strings.ToLower(check.Value)) {
			return false, fmt.Sprintf("content does not contain %q", check.Value)
		}
		return true, ""

	case OpExcludesText:
		if strings.Contains(strings.ToLower(pageText(result)), strings.ToLower(check.Value)) {
			return false, fmt.Sprintf("content contains %q", check.Value)
		}
		return true, ""

	default:
		return false, fmt.Sprintf("unknown check op %q", check.Op)
	}
}

// fieldValue resolves a check field against the result
func fieldValue(result *shared.FetchResult, field string) (string, bool) {
	switch field {
	case "markdown":
		return result.Content.Markdown, true
	case "text":
		return result.Content.Text, true
	case "html":
		return result.Content.HTML, result.Content.HTML != ""
	case "content", "":
		if len(result.Content.Markdown) >= len(result.Content.Text) {
			return result.Content.Markdown, true
		}
		return result.Content.Text, true
	default:
		return structuredValue(result.StructuredData, field)
	}
}

// structuredValue walks a dot path through the structured data
func structuredValue(data map[string]interface{}, path string) (string, bool) {
	if data == nil {
		return "", false
	}
	var current interface{} = data
	for _, segment := range strings.Split(path, ".") {
		node, ok := current.(map[string]interface{})
		if !ok {
			return "", false
		}
		current, ok = node[segment]
		if !ok {
			return "", false
		}
	}
	switch v := current.(type) {
	case string:
		return v, true
	case nil:
		return "", false
	default:
		return fmt.Sprintf("%v", v), true
	}
}

func pageText(result *shared.FetchResult) string {
	return result.Content.Markdown + "\n" + result.Content.Text
}
