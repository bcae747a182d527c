package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"llmb/shared"
)

// =============================================================================
// LIGHTWEIGHT TIER
// =============================================================================
//
// Plain HTTP fetch of the HTML plus static parse: title, text, a markdown
// rendering of the heading/paragraph structure, tables, and links. No
// JavaScript runs; pages that need rendering escalate to playwright.
//
// =============================================================================

const (
	lightweightTimeout = 20 * time.Second
	maxBodyBytes       = 10 << 20
	defaultUserAgent   = "Mozilla/5.0 (compatible; llmb/1.0)"
)

// LightweightClient is the static-HTML tier
type LightweightClient struct {
	httpClient *http.Client
	userAgent  string
	logger     *zap.Logger
}

// NewLightweightClient creates the tier client with a default HTTP client
func NewLightweightClient(logger *zap.Logger) *LightweightClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LightweightClient{
		httpClient: &http.Client{Timeout: lightweightTimeout},
		userAgent:  defaultUserAgent,
		logger:     logger,
	}
}

// SetHTTPClient overrides the transport (tests)
func (c *LightweightClient) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *LightweightClient) Tier() shared.Tier {
	return shared.TierLightweight
}

// Fetch performs the HTTP request and static parse
func (c *LightweightClient) Fetch(ctx context.Context, rawURL string, opts shared.FetchOptions) (*shared.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, shared.NewErrorf(shared.ErrCodeInvalidRequest, "build request: %v", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		category := shared.ClassifyError(err)
		return nil, shared.WrapError(shared.ErrorCodeFor(category), "http fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		category := shared.ClassifyStatus(resp.StatusCode)
		return nil, shared.NewErrorf(shared.ErrorCodeFor(category), "status %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, shared.WrapError(shared.ErrCodeNetworkError, "read body", err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	result, err := parseHTML(finalURL, string(body))
	if err != nil {
		return nil, shared.WrapError(shared.ErrCodeParseError, "parse html", err)
	}
	result.HTTPStatus = resp.StatusCode
	return result, nil
}

// =============================================================================
// STATIC HTML PARSE
// =============================================================================

// parseHTML extracts canonical content from an HTML document. Shared by the
// lightweight and playwright tiers.
func parseHTML(pageURL, html string) (*shared.FetchResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	doc.Find("script, style, noscript, template").Remove()

	base, _ := url.Parse(pageURL)

	result := &shared.FetchResult{
		FinalURL: pageURL,
		Content: shared.PageContent{
			HTML:     html,
			Text:     normalizeWhitespace(doc.Find("body").Text()),
			Markdown: renderMarkdown(doc),
		},
		Tables: parseTables(doc),
		Links:  parseLinks(doc, base),
	}
	if result.Content.Text == "" {
		// Documents without a body element (fragments, feeds)
		result.Content.Text = normalizeWhitespace(doc.Text())
	}
	return result, nil
}

// renderMarkdown walks headings, paragraphs, and list items in document order
func renderMarkdown(doc *goquery.Document) string {
	var sb strings.Builder

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		sb.WriteString("# " + title + "\n\n")
	}

	doc.Find("h1, h2, h3, h4, h5, h6, p, li, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		text := normalizeWhitespace(s.Text())
		if text == "" {
			return
		}
		switch goquery.NodeName(s) {
		case "h1":
			sb.WriteString("# " + text + "\n\n")
		case "h2":
			sb.WriteString("## " + text + "\n\n")
		case "h3":
			sb.WriteString("### " + text + "\n\n")
		case "h4", "h5", "h6":
			sb.WriteString("#### " + text + "\n\n")
		case "li":
			sb.WriteString("- " + text + "\n")
		case "pre":
			sb.WriteString("```\n" + strings.TrimSpace(s.Text()) + "\n```\n\n")
		case "blockquote":
			sb.WriteString("> " + text + "\n\n")
		default:
			sb.WriteString(text + "\n\n")
		}
	})

	return strings.TrimSpace(sb.String())
}

// parseTables extracts each table's caption, header row, and data rows
func parseTables(doc *goquery.Document) []shared.Table {
	var tables []shared.Table

	doc.Find("table").Each(func(_ int, t *goquery.Selection) {
		table := shared.Table{
			Caption: normalizeWhitespace(t.Find("caption").First().Text()),
		}

		t.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			headers := cellTexts(tr.Find("th"))
			if len(headers) > 0 && table.Headers == nil {
				table.Headers = headers
				return
			}
			if row := cellTexts(tr.Find("td")); len(row) > 0 {
				table.Rows = append(table.Rows, row)
			}
		})

		if table.Headers != nil || len(table.Rows) > 0 {
			tables = append(tables, table)
		}
	})

	return tables
}

func cellTexts(cells *goquery.Selection) []string {
	var out []string
	cells.Each(func(_ int, c *goquery.Selection) {
		out = append(out, normalizeWhitespace(c.Text()))
	})
	return out
}

// parseLinks resolves hrefs against the page URL, deduplicated in order
func parseLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]bool)
	var links []string

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}
		if base != nil {
			if ref, err := url.Parse(href); err == nil {
				href = base.ResolveReference(ref).String()
			}
		}
		if !seen[href] {
			seen[href] = true
			links = append(links, href)
		}
	})

	return links
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
