// Package browser drives emulated mobile Chromium sessions and records the
// network requests each page makes so its resources can be mirrored.
package browser

import (
	"context"
	"net/url"
	"time"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/api/schemas"
)

// SessionOptions carries the per-session identity. A zero value yields a
// plain direct session with the configured device profile.
type SessionOptions struct {
	// ProxyURL routes all session traffic when set.
	ProxyURL *url.URL

	// Regional identity. Empty fields leave the browser defaults alone.
	Timezone  string
	Locale    string
	Latitude  float64
	Longitude float64
}

// Session is one isolated capture tab with its own browser process.
// Implementations are not safe for concurrent use; the pipeline drives one
// session at a time.
type Session interface {
	// Navigate opens the URL and then settles for the given delay.
	Navigate(ctx context.Context, url string, settle time.Duration) error

	// WaitFullLoad scrolls lazy content into view and waits until network
	// activity stays quiet. Bounded by the configured load timeout.
	WaitFullLoad(ctx context.Context) error

	// Title returns the current document title.
	Title(ctx context.Context) (string, error)

	// HTML returns the serialized DOM of the current page.
	HTML(ctx context.Context) (string, error)

	// Screenshot captures the full page as PNG.
	Screenshot(ctx context.Context) ([]byte, error)

	// PDF renders the current page to PDF.
	PDF(ctx context.Context) ([]byte, error)

	// Resources lists every network request observed since the session
	// opened, in first-seen order.
	Resources() []schemas.ResourceRequest

	// CurrentURL returns the page's final location after redirects.
	CurrentURL(ctx context.Context) (string, error)

	// Close tears down the tab and its browser process.
	Close() error
}

// SessionFactory opens capture sessions. The worker depends on this
// interface so tests can substitute a scripted session.
type SessionFactory interface {
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
}
