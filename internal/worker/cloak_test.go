package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/network"
)

func newTestDetector() *Detector {
	clientCfg := network.NewDefaultClientConfig()
	clientCfg.ForceHTTP2 = false
	clientCfg.Logger = zap.NewNop()
	return NewDetector(network.NewClient(clientCfg), zap.NewNop())
}

func TestDirectTitle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><head><title>  Summer Offer  </title></head><body></body></html>")
	}))
	defer server.Close()

	title, err := newTestDetector().DirectTitle(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "Summer Offer", title)
}

func TestDirectTitleWindows1251(t *testing.T) {
	// "Привет" in windows-1251.
	encoded := []byte{0xCF, 0xF0, 0xE8, 0xE2, 0xE5, 0xF2}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1251")
		w.Write([]byte("<html><head><title>"))
		w.Write(encoded)
		w.Write([]byte("</title></head><body></body></html>"))
	}))
	defer server.Close()

	title, err := newTestDetector().DirectTitle(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "Привет", title)
}

func TestDirectTitleMissingTitleTag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>no head here</body></html>")
	}))
	defer server.Close()

	title, err := newTestDetector().DirectTitle(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Empty(t, title)
}

func TestDirectTitleErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestDetector().DirectTitle(context.Background(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestTitlesMatch(t *testing.T) {
	testCases := []struct {
		name     string
		direct   string
		proxied  string
		expected bool
	}{
		{name: "identical", direct: "Offer", proxied: "Offer", expected: true},
		{name: "identical after trim", direct: "  Offer ", proxied: "Offer\n", expected: true},
		{name: "different", direct: "Offer", proxied: "Другой", expected: false},
		{name: "case sensitive", direct: "Offer", proxied: "offer", expected: false},
		{name: "both empty", direct: "", proxied: "", expected: false},
		{name: "one empty", direct: "Offer", proxied: "", expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, TitlesMatch(tc.direct, tc.proxied))
		})
	}
}
