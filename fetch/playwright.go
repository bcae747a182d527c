package fetch

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"llmb/shared"
)

// =============================================================================
// PLAYWRIGHT TIER
// =============================================================================
//
// Full rendered fetch in a headless browser. The page's network traffic is
// observed to surface JSON API calls (feeding pattern learning), the DOM
// after rendering is parsed with the same static parser as the lightweight
// tier, and the per-request knobs (wait_for_selector, scroll_to_load,
// dismiss_cookie_banner) are honored here.
//
// =============================================================================

const (
	playwrightNavTimeout = 30 * time.Second
	selectorWaitTimeout  = 10 * time.Second
	scrollRounds         = 5
	scrollSettle         = 300 * time.Millisecond
)

// cookieBannerSelectors are tried in order when dismissing consent banners
var cookieBannerSelectors = []string{
	`button[id*="accept"]`,
	`button[class*="accept"]`,
	`button[id*="consent"]`,
	`[aria-label*="accept" i]`,
	`#onetrust-accept-btn-handler`,
}

// SessionStore persists named browser session state between fetches
type SessionStore interface {
	Load(profile string) (blob []byte, ok bool, err error)
	Save(profile string, blob []byte) error
}

// PlaywrightClient is the rendered-browser tier
type PlaywrightClient struct {
	mu       sync.Mutex
	pw       *playwright.Playwright
	browser  playwright.Browser
	sessions SessionStore
	logger   *zap.Logger
}

// NewPlaywrightClient starts the driver and launches a headless Chromium.
// The browser is shared; each fetch gets its own context and page.
func NewPlaywrightClient(logger *zap.Logger) (*PlaywrightClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, shared.WrapError(shared.ErrCodeUnknown, "start playwright driver", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, shared.WrapError(shared.ErrCodeUnknown, "launch browser", err)
	}

	return &PlaywrightClient{pw: pw, browser: browser, logger: logger}, nil
}

func (c *PlaywrightClient) Tier() shared.Tier {
	return shared.TierPlaywright
}

// SetSessionStore enables session_profile support
func (c *PlaywrightClient) SetSessionStore(store SessionStore) {
	c.mu.Lock()
	c.sessions = store
	c.mu.Unlock()
}

// Close shuts down the shared browser and driver
func (c *PlaywrightClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	if c.browser != nil {
		if err := c.browser.Close(); err != nil {
			firstErr = err
		}
		c.browser = nil
	}
	if c.pw != nil {
		if err := c.pw.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.pw = nil
	}
	return firstErr
}

// Fetch renders the page and parses the final DOM
func (c *PlaywrightClient) Fetch(ctx context.Context, rawURL string, opts shared.FetchOptions) (*shared.FetchResult, error) {
	c.mu.Lock()
	browser := c.browser
	sessions := c.sessions
	c.mu.Unlock()
	if browser == nil {
		return nil, shared.NewError(shared.ErrCodeUnknown, "playwright client closed")
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(defaultUserAgent),
	}
	if opts.SessionProfile != "" && sessions != nil {
		if state := c.loadSession(sessions, opts.SessionProfile); state != nil {
			contextOpts.StorageState = state
		}
	}

	browserCtx, err := browser.NewContext(contextOpts)
	if err != nil {
		return nil, shared.WrapError(shared.ErrCodeUnknown, "new browser context", err)
	}
	defer browserCtx.Close()

	page, err := browserCtx.NewPage()
	if err != nil {
		return nil, shared.WrapError(shared.ErrCodeUnknown, "new page", err)
	}

	// Observe network traffic for API discovery
	var apiMu sync.Mutex
	var discovered []shared.DiscoveredAPI
	page.OnResponse(func(resp playwright.Response) {
		contentType := ""
		if headers := resp.Headers(); headers != nil {
			contentType = headers["content-type"]
		}
		if !strings.Contains(contentType, "json") {
			return
		}
		apiMu.Lock()
		if len(discovered) < 50 {
			discovered = append(discovered, shared.DiscoveredAPI{
				URL:         resp.URL(),
				Method:      resp.Request().Method(),
				ContentType: contentType,
				Status:      resp.Status(),
			})
		}
		apiMu.Unlock()
	})

	navTimeout := playwrightNavTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < navTimeout {
			navTimeout = remaining
		}
	}

	resp, err := page.Goto(rawURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(float64(navTimeout.Milliseconds())),
	})
	if err != nil {
		category := shared.ClassifyError(err)
		return nil, shared.WrapError(shared.ErrorCodeFor(category), "navigate", err)
	}

	status := 0
	finalURL := rawURL
	if resp != nil {
		status = resp.Status()
		finalURL = resp.URL()
	}
	if status != 0 && (status < 200 || status >= 300) {
		category := shared.ClassifyStatus(status)
		return nil, shared.NewErrorf(shared.ErrorCodeFor(category), "status %d from %s", status, rawURL)
	}

	if opts.DismissCookieBanner {
		c.dismissCookieBanner(page)
	}

	if opts.WaitForSelector != "" {
		err := page.Locator(opts.WaitForSelector).First().WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateVisible,
			Timeout: playwright.Float(float64(selectorWaitTimeout.Milliseconds())),
		})
		if err != nil {
			return nil, shared.WrapError(shared.ErrCodeTimeout, "wait for selector "+opts.WaitForSelector, err)
		}
	}

	if opts.ScrollToLoad {
		c.scrollToLoad(page)
	}

	html, err := page.Content()
	if err != nil {
		return nil, shared.WrapError(shared.ErrCodeParseError, "read dom", err)
	}

	result, err := parseHTML(finalURL, html)
	if err != nil {
		return nil, shared.WrapError(shared.ErrCodeParseError, "parse dom", err)
	}
	result.HTTPStatus = status

	apiMu.Lock()
	result.DiscoveredAPIs = discovered
	apiMu.Unlock()

	if opts.SessionProfile != "" && sessions != nil {
		c.saveSession(sessions, opts.SessionProfile, browserCtx)
	}

	return result, nil
}

// loadSession best-effort restores a stored session profile
func (c *PlaywrightClient) loadSession(store SessionStore, profile string) *playwright.OptionalStorageState {
	blob, ok, err := store.Load(profile)
	if err != nil {
		c.logger.Warn("session profile load failed",
			zap.String("profile", profile), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var state playwright.OptionalStorageState
	if err := json.Unmarshal(blob, &state); err != nil {
		c.logger.Warn("session profile decode failed",
			zap.String("profile", profile), zap.Error(err))
		return nil
	}
	return &state
}

// saveSession best-effort captures the context's storage state after a
// successful fetch, so logins and consent choices survive across requests
func (c *PlaywrightClient) saveSession(store SessionStore, profile string, browserCtx playwright.BrowserContext) {
	state, err := browserCtx.StorageState()
	if err != nil {
		c.logger.Warn("session capture failed",
			zap.String("profile", profile), zap.Error(err))
		return
	}
	blob, err := json.Marshal(state)
	if err != nil {
		return
	}
	if err := store.Save(profile, blob); err != nil {
		c.logger.Warn("session profile save failed",
			zap.String("profile", profile), zap.Error(err))
	}
}

// dismissCookieBanner best-effort clicks the first visible consent button
func (c *PlaywrightClient) dismissCookieBanner(page playwright.Page) {
	for _, selector := range cookieBannerSelectors {
		locator := page.Locator(selector).First()
		visible, err := locator.IsVisible()
		if err != nil || !visible {
			continue
		}
		if err := locator.Click(playwright.LocatorClickOptions{
			Timeout: playwright.Float(2000),
		}); err == nil {
			return
		}
	}
}

// scrollToLoad scrolls the page bottom-ward to trigger lazy loading
func (c *PlaywrightClient) scrollToLoad(page playwright.Page) {
	for i := 0; i < scrollRounds; i++ {
		if _, err := page.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			return
		}
		time.Sleep(scrollSettle)
	}
	_, _ = page.Evaluate(`window.scrollTo(0, 0)`)
}
