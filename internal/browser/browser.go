// Package browser defines the contract between bank connectors and the
// headless automation runtime. Connectors script portal flows against the
// Session interface; the concrete driver (a devtools-protocol wrapper in
// production, a scripted fake in tests) is injected at wiring time so no
// connector depends on a specific automation engine.
package browser

import (
	"context"
	"errors"
)

// ErrNavTimeout is returned when a navigation or wait does not settle
// within the driver's deadline.
var ErrNavTimeout = errors.New("browser: navigation timed out")

// ErrElementNotFound is returned when a selector matches nothing on the
// current page.
var ErrElementNotFound = errors.New("browser: element not found")

// Driver launches automation sessions. One session corresponds to one
// isolated browser context (own cookies, own page).
type Driver interface {
	NewSession(ctx context.Context) (Session, error)
}

// Session is a live automation session against an institution portal.
// Sessions are scoped resources: every path that obtains one must call
// Close, including timeout and failure paths.
type Session interface {
	// Navigate loads the given URL and waits for the page to settle.
	Navigate(ctx context.Context, url string) error

	// WaitFor blocks until the selector is present or the context expires.
	WaitFor(ctx context.Context, selector string) error

	// Fill types value into the element matched by selector.
	Fill(ctx context.Context, selector, value string) error

	// Click activates the element matched by selector.
	Click(ctx context.Context, selector string) error

	// Text returns the text content of the element matched by selector.
	Text(ctx context.Context, selector string) (string, error)

	// TextAll returns the text content of every element matching selector.
	TextAll(ctx context.Context, selector string) ([]string, error)

	// Download triggers the element matched by selector and returns the
	// bytes of the file the portal serves in response.
	Download(ctx context.Context, selector string) ([]byte, error)

	// Reload reloads the current page, discarding transient page state.
	// Connectors use it between authentication retries.
	Reload(ctx context.Context) error

	// Close tears the session down. Safe to call more than once.
	Close() error
}
