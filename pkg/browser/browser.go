// Package browser defines the contract with the browser-automation
// collaborator and its Playwright-backed implementation.
//
// The pipeline core only ever talks to the Controller and Page interfaces;
// it never manages browser process lifecycle beyond them. Each Page is an
// isolated browser context so parallel workers cannot leak state into one
// another through cookies or storage.
package browser

import (
	"context"
	"time"
)

// ActionKind identifies a page interaction.
type ActionKind string

const (
	ActionNavigate ActionKind = "navigate"
	ActionClick    ActionKind = "click"
	ActionFill     ActionKind = "fill"
	ActionWait     ActionKind = "wait"
)

// Action is one interaction to perform against a live page.
type Action struct {
	Kind     ActionKind
	Selector string
	Value    string
	URL      string
	Timeout  time.Duration
}

// ActionResult reports the outcome of a performed action.
type ActionResult struct {
	URL      string
	Duration time.Duration
}

// Page is a handle to one live page in its own browser context.
//
// Close must be called on every exit path; a leaked Page leaks an
// OS-level browser context.
type Page interface {
	// URL returns the current page URL.
	URL() string

	// Title returns the current page title.
	Title() (string, error)

	// Content returns the full serialized DOM of the page.
	Content() (string, error)

	// Screenshot captures the current viewport as PNG bytes.
	Screenshot() ([]byte, error)

	// Perform executes an action against the page.
	Perform(ctx context.Context, action Action) (*ActionResult, error)

	// Count returns how many elements match the selector. Used by the
	// locator resolver's uniqueness re-check.
	Count(selector string) (int, error)

	// Evaluate runs a JavaScript expression in the page and returns the
	// result serialized as JSON. Used for geometry and visibility
	// enrichment during extraction.
	Evaluate(script string) (string, error)

	// Detached reports whether the handle is no longer usable (the page
	// or its context was closed underneath us).
	Detached() bool

	// VideoPath returns the recorded video file for this page, empty when
	// recording is disabled.
	VideoPath() (string, error)

	// Close releases the page and its browser context.
	Close() error
}

// Controller opens pages against a running browser.
type Controller interface {
	// OpenPage creates an isolated browser context, opens a page in it,
	// and navigates to the URL.
	OpenPage(ctx context.Context, url string) (Page, error)

	// Close shuts down the browser and all remaining contexts.
	Close() error
}
