// Package engine defines the browser capability the session runner drives.
//
// The runner depends only on the Engine and Page interfaces; the Playwright
// implementation lives alongside so tests can substitute a mock engine and
// exercise the full state machine without a real browser.
package engine

import (
	"context"
	"time"
)

// Default interaction limits. Every call into the page is bounded; nothing
// the runner awaits may hang past its timeout.
const (
	// DefaultCallTimeout bounds each individual page interaction.
	DefaultCallTimeout = 10 * time.Second

	// DefaultSettleDelay is the pause after submit and scroll for the page
	// to settle before evidence capture.
	DefaultSettleDelay = 500 * time.Millisecond

	// DefaultScrollOffset is the fixed pixel offset of one scroll action.
	DefaultScrollOffset = 600

	// DefaultViewportWidth and DefaultViewportHeight size the page.
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
)

// ScrollDirection is the direction of a scroll action.
type ScrollDirection string

const (
	ScrollUp   ScrollDirection = "up"
	ScrollDown ScrollDirection = "down"
)

// PageInfo describes the page after a navigation.
type PageInfo struct {
	// Title is the document title.
	Title string

	// URL is the final URL after redirects.
	URL string
}

// Engine launches browser pages. Launch is called once per session; the
// returned Page lives until its Close, which may be invoked from a timeout
// goroutine while an interaction is still in flight.
type Engine interface {
	Launch(ctx context.Context) (Page, error)
}

// Page is one live browser page. All interactions are bounded by fixed
// per-call timeouts; Close is idempotent and must cause any in-flight
// interaction to fail rather than hang.
type Page interface {
	Navigate(ctx context.Context, url string) (PageInfo, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, value string) error
	Submit(ctx context.Context, selector string) error
	Extract(ctx context.Context, selector string) (string, error)
	Scroll(ctx context.Context, direction ScrollDirection) error
	Screenshot(ctx context.Context) ([]byte, error)
	DOMSnapshot(ctx context.Context) (string, error)
	Close() error
}
