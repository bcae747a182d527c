package patterns

import (
	"time"

	"llmb/shared"
)

// =============================================================================
// BOOTSTRAP SEEDS
// =============================================================================
//
// Seed patterns make Match useful before any learning has happened. They
// start at the same confidence as freshly learned patterns and earn (or
// lose) trust the same way.
//
// =============================================================================

// Bootstrap registers the built-in seed patterns
func (r *Registry) Bootstrap() error {
	now := time.Now()

	seeds := []*Pattern{
		{
			Id:           "pat_seed_reddit_json",
			TemplateType: TemplateJSONSuffix,
			URLPatterns: []string{
				`^https?://(www\.|old\.)?reddit\.com/r/[^/]+/comments/[^/]+(/[^/]+)?/?$`,
				`^https?://(www\.|old\.)?reddit\.com/r/[^/]+/?$`,
			},
			EndpointTemplate: "https://{hostname}{cleanPath}.json",
			Extractors: []Extractor{
				{Name: "cleanPath", Source: SourcePath, Regex: `^(.*?)/?$`, Group: 1},
			},
			Method:         "GET",
			ResponseFormat: "json",
			ContentMapping: ContentMapping{
				Title: "0.data.children.0.data.title",
				Body:  "0.data.children.0.data.selftext",
			},
			Validation: Validation{MinContentLength: 1},
			Metrics: Metrics{
				Confidence:         0.5,
				Domains:            []string{"reddit.com"},
				FailuresByCategory: make(map[shared.FailureCategory]int64),
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			Id:           "pat_seed_npm_registry",
			TemplateType: TemplateRegistryLookup,
			URLPatterns: []string{
				`^https?://(www\.)?npmjs\.com/package/([^/]+)/?$`,
			},
			EndpointTemplate: "https://registry.npmjs.org/{pkg}",
			Extractors: []Extractor{
				{Name: "pkg", Source: SourcePath, Regex: `^/package/([^/]+)/?$`, Group: 1},
			},
			Method:         "GET",
			ResponseFormat: "json",
			ContentMapping: ContentMapping{
				Title:       "name",
				Description: "description",
				Body:        "readme",
			},
			Validation: Validation{RequiredFields: []string{"name"}, MinContentLength: 1},
			Metrics: Metrics{
				Confidence:         0.5,
				Domains:            []string{"npmjs.com"},
				FailuresByCategory: make(map[shared.FailureCategory]int64),
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			Id:           "pat_seed_pypi_registry",
			TemplateType: TemplateRegistryLookup,
			URLPatterns: []string{
				`^https?://(www\.)?pypi\.org/project/([^/]+)/?$`,
			},
			EndpointTemplate: "https://pypi.org/pypi/{pkg}/json",
			Extractors: []Extractor{
				{Name: "pkg", Source: SourcePath, Regex: `^/project/([^/]+)/?$`, Group: 1},
			},
			Method:         "GET",
			ResponseFormat: "json",
			ContentMapping: ContentMapping{
				Title:       "info.name",
				Description: "info.summary",
				Body:        "info.description",
			},
			Validation: Validation{RequiredFields: []string{"info"}, MinContentLength: 1},
			Metrics: Metrics{
				Confidence:         0.5,
				Domains:            []string{"pypi.org"},
				FailuresByCategory: make(map[shared.FailureCategory]int64),
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	for _, seed := range seeds {
		// Reloaded state wins over seeds
		if r.Get(seed.Id) != nil {
			continue
		}
		if err := r.Add(seed); err != nil {
			return err
		}
	}
	return nil
}
