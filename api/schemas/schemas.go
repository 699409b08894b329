package schemas

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// -- Work Items --

// WorkItem is one link plus its review metadata, as ingested from the batch
// source. Items are immutable once enqueued; identity is Link+Region.
type WorkItem struct {
	Link        string `json:"link"`
	Title       string `json:"title"`
	Region      string `json:"region"`
	ImageURL    string `json:"image_url"`
	Description string `json:"description"`
}

// Key returns the scheduling identity of the item.
func (w WorkItem) Key() string {
	return w.Link + "|" + w.Region
}

// -- Proxy Profiles --

// ProxyProfile describes the upstream SOCKS endpoint and the locale/geo
// emulation parameters for one region. Profiles are read-only after load.
type ProxyProfile struct {
	Host       string  `json:"host"`
	Port       int     `json:"port"`
	Username   string  `json:"username"`
	Password   string  `json:"password"`
	Timezone   string  `json:"timezone"`
	Locale     string  `json:"locale"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	PostalCode string  `json:"zipcode"`
}

// Address returns the host:port of the upstream endpoint.
func (p ProxyProfile) Address() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// URL renders the profile as a socks5 URL, including credentials when set.
func (p ProxyProfile) URL() string {
	u := url.URL{Scheme: "socks5", Host: p.Address()}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u.String()
}

// Authenticated reports whether the upstream requires credentials. Chromium
// cannot authenticate to a SOCKS proxy itself, so such profiles must be
// reached through a local tunnel.
func (p ProxyProfile) Authenticated() bool {
	return p.Username != ""
}

// -- Retry Records --

// PendingRetry is a WorkItem awaiting a future re-attempt. It carries the
// item by value and the proxy resolved on the first attempt so later
// attempts reuse the same route.
type PendingRetry struct {
	Item              WorkItem      `json:"item"`
	Proxy             *ProxyProfile `json:"proxy,omitempty"`
	AttemptsRemaining int           `json:"attempts_remaining"`
	NotBefore         time.Time     `json:"not_before"`
}

// -- Captured Resources --

// ResourceRequest is one network request observed on a rendered page.
type ResourceRequest struct {
	URL     string `json:"url"`
	Referer string `json:"referer"`
}

// ResourceRecord is one resource that was captured and downloaded. The
// SourceURL->record mapping is rebuilt for every WorkItem.
type ResourceRecord struct {
	SourceURL     string `json:"source_url"`
	LocalFilename string `json:"local_filename"`
	Referer       string `json:"referer"`
}

// -- Results --

// Status is the terminal disposition of a WorkItem.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Result records the single terminal outcome of one WorkItem in a run.
// Resources lists what the archived copy contains and is empty on failures.
type Result struct {
	RunID        string           `json:"run_id"`
	Status       Status           `json:"status"`
	Item         WorkItem         `json:"item"`
	Timestamp    time.Time        `json:"timestamp"`
	ArtifactPath string           `json:"artifact_path,omitempty"`
	Context      string           `json:"context,omitempty"`
	Attempts     int              `json:"attempts"`
	Resources    []ResourceRecord `json:"resources,omitempty"`
}

// -- Task Errors --

// ErrorKind classifies a per-item failure and decides its retry routing.
type ErrorKind string

const (
	// ErrUnreachableLink: the plain reachability probe failed or returned a
	// non-2xx status before any browser work started. Terminal.
	ErrUnreachableLink ErrorKind = "UnreachableLink"
	// ErrCloakDetected: direct and proxied titles matched for a proxied
	// region, so the target is masking content. Retried.
	ErrCloakDetected ErrorKind = "CloakDetected"
	// ErrCaptureFailure: navigation, rendering, or pipeline error inside the
	// browser-driven capture. Retried.
	ErrCaptureFailure ErrorKind = "CaptureFailure"
	// ErrNoProxyForRegion: the region needs a proxy and the registry has
	// none. Terminal, and no browser session is ever opened.
	ErrNoProxyForRegion ErrorKind = "NoProxyForRegion"
	// ErrArchiveFailure: zip or file-move error after a successful capture.
	// Terminal and loud; the uncompressed source is never deleted on failure.
	ErrArchiveFailure ErrorKind = "ArchiveFailure"
)

// Retryable reports whether a failure of this kind goes back through the
// delayed queue rather than producing an immediate terminal result.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrCloakDetected, ErrCaptureFailure:
		return true
	default:
		return false
	}
}

// TaskError is the boundary error type for per-item failures. Everything a
// worker can fail with is converted to a TaskError before it reaches the
// scheduler.
type TaskError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewTaskError builds a TaskError wrapping an underlying cause.
func NewTaskError(kind ErrorKind, message string, err error) *TaskError {
	return &TaskError{Kind: kind, Message: message, Err: err}
}

func (e *TaskError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// ContextMessage renders the human-readable context stored on a terminal
// Result for this failure.
func (e *TaskError) ContextMessage() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(" (")
		b.WriteString(e.Err.Error())
		b.WriteString(")")
	}
	return b.String()
}

// AsTaskError unwraps err to a *TaskError if one is in the chain.
func AsTaskError(err error) (*TaskError, bool) {
	for err != nil {
		if te, ok := err.(*TaskError); ok {
			return te, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
