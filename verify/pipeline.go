package verify

import (
	"context"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"llmb/shared"
)

// =============================================================================
// VERIFICATION PIPELINE
// =============================================================================
//
// Checks run in order after a tier produces a candidate result: built-in mode
// checks, then learned per-domain checks, then caller-supplied checks.
// Overall pass means no error or critical failure; the confidence score is
// the pass ratio discounted by the worst failed severity.
//
// =============================================================================

// OnFailureHint tells the fetcher what to do with a failed result
type OnFailureHint string

const (
	OnFailureRetry    OnFailureHint = "retry"
	OnFailureFallback OnFailureHint = "fallback"
	OnFailureReport   OnFailureHint = "report"
)

// SchemaError is one JSON-Schema validation failure
type SchemaError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Keyword string `json:"keyword"`
}

// Request describes one verification run
type Request struct {
	Mode   Mode
	Domain string
	URL    string

	// Checks are caller-supplied and run after built-in and learned checks
	Checks []Check

	// Schema, when non-empty, is a draft-07 JSON Schema applied to the
	// result's structured data
	Schema string

	// OnFailure is the hint returned when verification fails. The default is
	// fallback, so an unverified result escalates instead of being surfaced;
	// report is opt-in.
	OnFailure OnFailureHint
}

// Outcome is the result of a verification run
type Outcome struct {
	Passed     bool           `json:"passed"`
	Confidence float64        `json:"confidence"`
	Checks     []CheckResult  `json:"checks"`
	SchemaErrs []SchemaError  `json:"schemaErrors,omitempty"`
	OnFailure  OnFailureHint  `json:"onFailure,omitempty"`
}

// severity discount multipliers applied to the pass ratio
const (
	criticalDiscount = 0.3
	errorDiscount    = 0.6
)

// Pipeline runs verification and feeds outcomes into learned checks
type Pipeline struct {
	probe   StateProbe
	learned *LearnedChecks
	logger  *zap.Logger
}

// NewPipeline creates a pipeline. probe may be nil (state checks then fail);
// a nil logger is replaced with a no-op.
func NewPipeline(probe StateProbe, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		probe:   probe,
		learned: NewLearnedChecks(),
		logger:  logger,
	}
}

// Learned exposes the learned-check store
func (p *Pipeline) Learned() *LearnedChecks {
	return p.learned
}

// Verify runs the full check list against a result. Cancellation skips the
// remaining checks and returns the context error.
func (p *Pipeline) Verify(ctx context.Context, result *shared.FetchResult, req Request) (Outcome, error) {
	checks := builtinChecks(req.Mode)
	checks = append(checks, p.learned.For(req.Domain)...)
	checks = append(checks, req.Checks...)

	outcome := Outcome{Checks: make([]CheckResult, 0, len(checks))}

	for _, check := range checks {
		select {
		case <-ctx.Done():
			return outcome, ctx.Err()
		default:
		}
		outcome.Checks = append(outcome.Checks, p.evaluate(ctx, result, check))
	}

	if req.Schema != "" {
		errs, err := validateSchema(req.Schema, result.StructuredData)
		if err != nil {
			outcome.Checks = append(outcome.Checks, CheckResult{
				Name:     "schema",
				Passed:   false,
				Message:  err.Error(),
				Severity: SeverityError,
			})
		} else {
			outcome.SchemaErrs = errs
			outcome.Checks = append(outcome.Checks, CheckResult{
				Name:     "schema",
				Passed:   len(errs) == 0,
				Message:  schemaSummary(errs),
				Severity: SeverityError,
			})
		}
	}

	outcome.Passed, outcome.Confidence = score(outcome.Checks)

	if !outcome.Passed {
		outcome.OnFailure = req.OnFailure
		if outcome.OnFailure == "" {
			outcome.OnFailure = OnFailureFallback
		}
	}

	p.learned.ObserveRun(req.Domain, fingerprint(req), req.Checks, outcome.Checks, outcome.Passed)

	return outcome, nil
}

// score computes overall pass and the discounted confidence
func score(results []CheckResult) (bool, float64) {
	if len(results) == 0 {
		return true, 1.0
	}

	passed := 0
	criticalFailed, errorFailed := false, false
	for _, r := range results {
		if r.Passed {
			passed++
			continue
		}
		switch r.Severity {
		case SeverityCritical:
			criticalFailed = true
		case SeverityError:
			errorFailed = true
		}
	}

	confidence := float64(passed) / float64(len(results))
	switch {
	case criticalFailed:
		confidence *= criticalDiscount
	case errorFailed:
		confidence *= errorDiscount
	}

	return !criticalFailed && !errorFailed, confidence
}

// validateSchema applies a draft-07 schema to the structured data
func validateSchema(schema string, data map[string]interface{}) ([]SchemaError, error) {
	loader := gojsonschema.NewSchemaLoader()
	loader.Draft = gojsonschema.Draft7
	loader.AutoDetect = false

	compiled, err := loader.Compile(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	var doc interface{} = data
	if data == nil {
		doc = map[string]interface{}{}
	}
	validation, err := compiled.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	var out []SchemaError
	for _, e := range validation.Errors() {
		out = append(out, SchemaError{
			Path:    e.Field(),
			Message: e.Description(),
			Keyword: e.Type(),
		})
	}
	return out, nil
}

func schemaSummary(errs []SchemaError) string {
	if len(errs) == 0 {
		return ""
	}
	return fmt.Sprintf("%d schema violation(s), first at %s: %s", len(errs), errs[0].Path, errs[0].Message)
}

// fingerprint identifies "the identical request" for learned-check attribution
func fingerprint(req Request) string {
	return shared.HashString(req.Domain + "|" + req.URL + "|" + string(req.Mode))
}
