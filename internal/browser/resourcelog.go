package browser

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/api/schemas"
)

// ResourceLog records every network request a page issues. Requests are
// deduplicated by URL in first-seen order; the raw event count keeps
// growing and doubles as the page's activity signal.
type ResourceLog struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	items []schemas.ResourceRequest
	count atomic.Int64
}

// NewResourceLog creates an empty log.
func NewResourceLog() *ResourceLog {
	return &ResourceLog{
		seen: make(map[string]struct{}),
	}
}

// Attach subscribes the log to the target's network events. Must be called
// once, before navigation, on a context carrying a chromedp target.
func (l *ResourceLog) Attach(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if e, ok := ev.(*network.EventRequestWillBeSent); ok {
			l.record(e)
		}
	})
}

func (l *ResourceLog) record(ev *network.EventRequestWillBeSent) {
	rawURL := ev.Request.URL
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return
	}

	// Every event counts as activity, including repeats of the same URL.
	l.count.Add(1)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.seen[rawURL]; dup {
		return
	}
	l.seen[rawURL] = struct{}{}
	l.items = append(l.items, schemas.ResourceRequest{
		URL:     rawURL,
		Referer: headerString(ev.Request.Headers, "Referer"),
	})
}

// Count returns the total number of observed request events.
func (l *ResourceLog) Count() int64 {
	return l.count.Load()
}

// Snapshot returns a copy of the deduplicated requests in first-seen order.
func (l *ResourceLog) Snapshot() []schemas.ResourceRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]schemas.ResourceRequest, len(l.items))
	copy(out, l.items)
	return out
}

// headerString pulls a header value out of the loosely-typed CDP header map.
func headerString(h network.Headers, key string) string {
	for k, v := range h {
		if strings.EqualFold(k, key) {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
