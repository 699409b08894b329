package browser

import (
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestEvent(url string, headers map[string]interface{}) *network.EventRequestWillBeSent {
	return &network.EventRequestWillBeSent{
		Request: &network.Request{
			URL:     url,
			Headers: network.Headers(headers),
		},
	}
}

func TestResourceLogRecordsFirstSeenOrder(t *testing.T) {
	t.Parallel()

	log := NewResourceLog()
	log.record(requestEvent("https://site.example/app.js", map[string]interface{}{"Referer": "https://site.example/"}))
	log.record(requestEvent("https://cdn.example/style.css", nil))
	log.record(requestEvent("https://site.example/app.js", nil)) // duplicate URL

	items := log.Snapshot()
	require.Len(t, items, 2)
	assert.Equal(t, "https://site.example/app.js", items[0].URL)
	assert.Equal(t, "https://site.example/", items[0].Referer)
	assert.Equal(t, "https://cdn.example/style.css", items[1].URL)

	// Duplicates still count as network activity.
	assert.Equal(t, int64(3), log.Count())
}

func TestResourceLogSkipsNonHTTPSchemes(t *testing.T) {
	t.Parallel()

	log := NewResourceLog()
	log.record(requestEvent("data:image/png;base64,AAAA", nil))
	log.record(requestEvent("blob:https://site.example/123", nil))
	log.record(requestEvent("about:blank", nil))
	log.record(requestEvent("https://site.example/", nil))

	assert.Len(t, log.Snapshot(), 1)
	assert.Equal(t, int64(1), log.Count(), "non-http requests are not activity either")
}

func TestResourceLogSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	log := NewResourceLog()
	log.record(requestEvent("https://site.example/a", nil))

	first := log.Snapshot()
	first[0].URL = "mutated"

	assert.Equal(t, "https://site.example/a", log.Snapshot()[0].URL)
}

func TestHeaderStringIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	headers := network.Headers{"referer": "https://low.example/"}
	assert.Equal(t, "https://low.example/", headerString(headers, "Referer"))
	assert.Equal(t, "", headerString(nil, "Referer"))
	assert.Equal(t, "", headerString(network.Headers{"Referer": 42}, "Referer"), "non-string header values are ignored")
}
