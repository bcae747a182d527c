package fetch

import (
	"context"

	"go.uber.org/zap"

	"llmb/patterns"
	"llmb/shared"
)

// =============================================================================
// INTELLIGENCE TIER
// =============================================================================
//
// Applies learned patterns: match candidates best-first, try the top few,
// fall through their fallback chains. The registry records each outcome, so
// confidence, health, and anti-pattern state move with every call.
//
// =============================================================================

// maxCandidateAttempts bounds how many matched patterns one fetch will try
const maxCandidateAttempts = 3

// IntelligenceClient is the pattern-application tier
type IntelligenceClient struct {
	registry *patterns.Registry
	logger   *zap.Logger
}

// NewIntelligenceClient wraps the registry as a tier client
func NewIntelligenceClient(registry *patterns.Registry, logger *zap.Logger) *IntelligenceClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntelligenceClient{registry: registry, logger: logger}
}

func (c *IntelligenceClient) Tier() shared.Tier {
	return shared.TierIntelligence
}

// Fetch tries matched patterns best-first
func (c *IntelligenceClient) Fetch(ctx context.Context, rawURL string, opts shared.FetchOptions) (*shared.FetchResult, error) {
	matches := c.registry.Match(rawURL)
	if len(matches) == 0 {
		return nil, shared.NewError(shared.ErrCodeWrongEndpoint, "no pattern matches url")
	}
	if len(matches) > maxCandidateAttempts {
		matches = matches[:maxCandidateAttempts]
	}

	var lastErr error
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return nil, shared.WrapError(shared.ErrCodeCancelled, "pattern application cancelled", ctx.Err())
		default:
		}

		applied := c.registry.Apply(ctx, match)
		if applied.Success {
			return &shared.FetchResult{
				FinalURL:       match.APIEndpoint,
				HTTPStatus:     applied.Status,
				Content:        applied.Content,
				StructuredData: applied.StructuredData,
				PatternId:      match.Pattern.Id,
			}, nil
		}

		c.logger.Debug("pattern application failed",
			zap.String("patternId", match.Pattern.Id),
			zap.String("category", string(applied.Category)),
			zap.String("endpoint", match.APIEndpoint))
		lastErr = shared.NewError(shared.ErrorCodeFor(applied.Category), applied.Error)

		// Auth and rate-limit failures apply domain-wide; trying siblings
		// would just repeat them
		if applied.Category == shared.FailureAuthRequired || applied.Category == shared.FailureRateLimited {
			break
		}
	}

	return nil, lastErr
}
