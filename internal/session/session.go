// Package session defines the browsing capabilities the harvester needs from a rendering engine
// and provides two drivers: a headless Chrome driver (rod) and a static HTML driver.
package session

import (
	"context"
	"fmt"
	"time"
)

// Link is one anchor found on a rendered page
type Link struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// Selector addresses an element by CSS selector and, optionally, its exact visible text
type Selector struct {
	CSS  string
	Text string
}

func (s Selector) String() string {
	if s.Text == "" {
		return s.CSS
	}
	return fmt.Sprintf("%s[text=%q]", s.CSS, s.Text)
}

// Session is one isolated browsing context. Sessions are not safe for concurrent use; every
// worker opens its own.
type Session interface {
	// Navigate loads url and waits for the document to load.
	Navigate(ctx context.Context, url string) error
	// WaitFor waits at most timeout for selector to be present and returns its text.
	// It fails with domain.ErrWaitTimeout when the element never shows up.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) (string, error)
	// Links returns every element matching selector with its resolved href and text.
	Links(ctx context.Context, selector string) ([]Link, error)
	// Click activates the element addressed by sel, waiting at most timeout for it.
	Click(ctx context.Context, sel Selector, timeout time.Duration) error
	// Refresh reloads the current page.
	Refresh(ctx context.Context) error
	Close() error
}

// Factory opens sessions. Close releases anything shared between the sessions it opened.
type Factory interface {
	Open(ctx context.Context) (Session, error)
	Close() error
}
