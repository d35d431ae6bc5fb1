package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightEngine implements Engine on top of a shared Playwright driver.
// One engine serves many sessions; each Launch creates an isolated browser,
// context, and page.
type PlaywrightEngine struct {
	mu          sync.Mutex
	pw          *playwright.Playwright
	callTimeout time.Duration
	headless    bool
	initialized bool
}

// PlaywrightOptions configures a PlaywrightEngine.
type PlaywrightOptions struct {
	// Headless controls whether launched browsers have a visible window.
	// Sessions run headless by default.
	Headless bool

	// CallTimeout overrides the per-interaction timeout. Zero keeps the
	// default.
	CallTimeout time.Duration
}

// NewPlaywrightEngine creates an engine. The Playwright driver is installed
// and started lazily on the first Launch.
func NewPlaywrightEngine(opts PlaywrightOptions) *PlaywrightEngine {
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &PlaywrightEngine{
		callTimeout: timeout,
		headless:    opts.Headless,
	}
}

// initialize installs and starts the Playwright driver once. Output is
// discarded so driver installation noise never reaches the caller's stdout.
func (e *PlaywrightEngine) initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}

	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(runOpts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	e.pw = pw
	e.initialized = true
	return nil
}

// Launch starts an isolated browser and returns its page.
func (e *PlaywrightEngine) Launch(ctx context.Context) (Page, error) {
	if err := e.initialize(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	browser, err := e.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &e.headless,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browserCtx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  DefaultViewportWidth,
			Height: DefaultViewportHeight,
		},
	})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		browserCtx.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(e.callTimeout.Milliseconds()))

	return &playwrightPage{
		browser:     browser,
		context:     browserCtx,
		page:        page,
		callTimeout: float64(e.callTimeout.Milliseconds()),
	}, nil
}

// Shutdown stops the Playwright driver. Pages launched earlier become
// unusable.
func (e *PlaywrightEngine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized || e.pw == nil {
		return nil
	}
	if err := e.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	e.initialized = false
	return nil
}

// playwrightPage adapts one Playwright browser/context/page triple to the
// Page interface.
type playwrightPage struct {
	browser     playwright.Browser
	context     playwright.BrowserContext
	page        playwright.Page
	callTimeout float64

	closeOnce sync.Once
	closeErr  error
}

func (p *playwrightPage) Navigate(ctx context.Context, url string) (PageInfo, error) {
	if err := ctx.Err(); err != nil {
		return PageInfo{}, err
	}

	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   &p.callTimeout,
	})
	if err != nil {
		return PageInfo{}, fmt.Errorf("navigation failed: %w", err)
	}

	title, err := p.page.Title()
	if err != nil {
		title = ""
	}
	return PageInfo{Title: title, URL: p.page.URL()}, nil
}

func (p *playwrightPage) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.page.Click(selector, playwright.PageClickOptions{Timeout: &p.callTimeout}); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

func (p *playwrightPage) Type(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.page.Fill(selector, value, playwright.PageFillOptions{Timeout: &p.callTimeout}); err != nil {
		return fmt.Errorf("fill failed: %w", err)
	}
	return nil
}

// Submit clicks the selector and then waits for the page to settle, since
// submissions usually trigger a navigation or an async update.
func (p *playwrightPage) Submit(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.page.Click(selector, playwright.PageClickOptions{Timeout: &p.callTimeout}); err != nil {
		return fmt.Errorf("submit click failed: %w", err)
	}

	if err := p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateLoad,
		Timeout: &p.callTimeout,
	}); err != nil {
		// The page may not navigate at all; a settle delay is enough then.
		time.Sleep(DefaultSettleDelay)
	}
	return nil
}

func (p *playwrightPage) Extract(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if selector == "" {
		selector = "body"
	}

	element, err := p.page.QuerySelector(selector)
	if err != nil {
		return "", fmt.Errorf("selector query failed: %w", err)
	}
	if element == nil {
		return "", fmt.Errorf("no element found matching selector: %s", selector)
	}
	content, err := element.TextContent()
	if err != nil {
		return "", fmt.Errorf("text extraction failed: %w", err)
	}
	return strings.TrimSpace(content), nil
}

func (p *playwrightPage) Scroll(ctx context.Context, direction ScrollDirection) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	offset := DefaultScrollOffset
	if direction == ScrollUp {
		offset = -offset
	}
	script := fmt.Sprintf("window.scrollBy(0, %d)", offset)
	if _, err := p.page.Evaluate(script); err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	time.Sleep(DefaultSettleDelay)
	return nil
}

func (p *playwrightPage) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Timeout: &p.callTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}

func (p *playwrightPage) DOMSnapshot(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	content, err := p.page.Content()
	if err != nil {
		return "", fmt.Errorf("dom snapshot failed: %w", err)
	}
	return content, nil
}

// Close tears down the page, context, and browser. It is idempotent and
// safe to call from the hard-timeout goroutine while an interaction is in
// flight: closing the browser causes the pending call to fail.
func (p *playwrightPage) Close() error {
	p.closeOnce.Do(func() {
		_ = p.page.Close()
		_ = p.context.Close()
		if err := p.browser.Close(); err != nil {
			p.closeErr = fmt.Errorf("failed to close browser: %w", err)
		}
	})
	return p.closeErr
}
