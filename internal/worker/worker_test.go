package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/api/schemas"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/archive"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/config"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/engine"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/mocks"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/network"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/proxy"
)

// testTarget is an httptest landing page plus one asset, with hit counters.
type testTarget struct {
	server     *httptest.Server
	landerHits atomic.Int32
	title      string
	status     int
}

func newTestTarget(title string) *testTarget {
	target := &testTarget{title: title, status: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		target.landerHits.Add(1)
		if target.status != http.StatusOK {
			w.WriteHeader(target.status)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<html><head><title>%s</title></head><body>lander</body></html>", target.title)
	})
	mux.HandleFunc("/app.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/javascript")
		fmt.Fprint(w, "console.log('offer')")
	})
	target.server = httptest.NewServer(mux)
	return target
}

func (t *testTarget) link() string { return t.server.URL + "/" }

// workerHarness bundles a CaptureWorker over real archive/proxy/network
// components and a mocked browser.
type workerHarness struct {
	worker  *CaptureWorker
	factory *mocks.MockSessionFactory
	cfg     *config.Config
	outDir  string
	staging string
}

func newHarness(t *testing.T, registry *proxy.Registry) *workerHarness {
	t.Helper()
	outDir := t.TempDir()
	staging := t.TempDir()
	cfg := &config.Config{
		Capture: config.CaptureConfig{
			SettleDelay: time.Millisecond,
		},
		Download: config.DownloadConfig{
			Workers:        3,
			Attempts:       1,
			RetryDelay:     time.Millisecond,
			RequestTimeout: 2 * time.Second,
		},
		Archive: config.ArchiveConfig{
			OutputDir:  outDir,
			StagingDir: staging,
			MakeZip:    true,
		},
		Proxy: config.ProxyConfig{
			DirectRegions: []string{"ru"},
		},
	}

	clientCfg := network.NewDefaultClientConfig()
	clientCfg.ForceHTTP2 = false
	clientCfg.Logger = zap.NewNop()
	client := network.NewClient(clientCfg)

	factory := new(mocks.MockSessionFactory)
	w := New(
		cfg,
		zap.NewNop(),
		registry,
		proxy.NewManager(cfg.Proxy, zap.NewNop()),
		factory,
		NewDetector(client, zap.NewNop()),
		archive.NewDownloader(client, cfg.Download, zap.NewNop()),
		archive.NewArchiver(cfg.Archive, zap.NewNop()),
	)
	return &workerHarness{worker: w, factory: factory, cfg: cfg, outDir: outDir, staging: staging}
}

func kzRegistry() *proxy.Registry {
	return proxy.New(map[string][]schemas.ProxyProfile{
		"kz": {{Host: "203.0.113.7", Port: 1080, Timezone: "Asia/Almaty", Locale: "kk-KZ"}},
	}, []string{"ru"})
}

// renderedSession builds a MockSession for a page that references the
// target's asset.
func renderedSession(target *testTarget, proxiedTitle string) *mocks.MockSession {
	session := new(mocks.MockSession)
	session.On("Navigate", mock.Anything, target.link(), mock.Anything).Return(nil)
	session.On("WaitFullLoad", mock.Anything).Return(nil)
	session.On("CurrentURL", mock.Anything).Return(target.link(), nil)
	session.On("Title", mock.Anything).Return(proxiedTitle, nil)
	session.On("HTML", mock.Anything).Return(fmt.Sprintf(
		`<html><head><title>%s</title><script src="%s/app.js"></script></head><body></body></html>`,
		proxiedTitle, target.server.URL), nil)
	session.On("Resources").Return([]schemas.ResourceRequest{
		{URL: target.server.URL + "/app.js", Referer: target.link()},
	})
	session.On("Close").Return(nil)
	return session
}

func TestProcessCapturesProxiedItem(t *testing.T) {
	target := newTestTarget("Direct Offer")
	defer target.server.Close()

	h := newHarness(t, kzRegistry())
	session := renderedSession(target, "Казахстанский Оффер")
	h.factory.On("NewSession", mock.Anything, mock.Anything).Return(session, nil)

	task := engine.Task{
		Item:    schemas.WorkItem{Link: target.link(), Title: "Offer", Region: "kz", Description: "null"},
		Attempt: 1,
	}
	outcome, err := h.worker.Process(context.Background(), task)
	require.NoError(t, err)

	require.NotNil(t, outcome.Proxy)
	assert.Equal(t, "203.0.113.7", outcome.Proxy.Host)
	assert.Equal(t, filepath.Join(h.outDir, "kz", "1"), outcome.ArtifactPath)

	// The page was rewritten against the mirrored asset.
	index, err := os.ReadFile(filepath.Join(outcome.ArtifactPath, "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(index), `src="app.js"`)
	assert.NotContains(t, string(index), target.server.URL+"/app.js")

	assert.FileExists(t, filepath.Join(outcome.ArtifactPath, "app.js"))
	assert.FileExists(t, filepath.Join(h.outDir, "kz", "1.zip"))

	// The outcome carries the manifest of what was mirrored.
	require.Len(t, outcome.Resources, 1)
	assert.Equal(t, "app.js", outcome.Resources[0].LocalFilename)
	assert.Equal(t, target.server.URL+"/app.js", outcome.Resources[0].SourceURL)

	// Provenance file: description "null" falls back to the ad title.
	info, err := os.ReadFile(filepath.Join(outcome.ArtifactPath, "info.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(info), "url: "+target.link())
	assert.Contains(t, string(info), "description: Offer")

	session.AssertExpectations(t)
}

func TestProcessSurvivesFailingResource(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><head><title>Degraded</title></head><body>lander</body></html>")
	})
	mux.HandleFunc("/style.css", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		fmt.Fprint(w, "body{margin:0}")
	})
	mux.HandleFunc("/logo.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		fmt.Fprint(w, "png bytes")
	})
	mux.HandleFunc("/broken.js", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	link := srv.URL + "/"

	h := newHarness(t, kzRegistry())

	session := new(mocks.MockSession)
	session.On("Navigate", mock.Anything, link, mock.Anything).Return(nil)
	session.On("WaitFullLoad", mock.Anything).Return(nil)
	session.On("CurrentURL", mock.Anything).Return(link, nil)
	session.On("HTML", mock.Anything).Return(fmt.Sprintf(
		`<html><head><link rel="stylesheet" href="%s/style.css"><script src="%s/broken.js"></script></head><body><img src="%s/logo.png"></body></html>`,
		srv.URL, srv.URL, srv.URL), nil)
	session.On("Resources").Return([]schemas.ResourceRequest{
		{URL: srv.URL + "/style.css", Referer: link},
		{URL: srv.URL + "/broken.js", Referer: link},
		{URL: srv.URL + "/logo.png", Referer: link},
	})
	session.On("Close").Return(nil)
	h.factory.On("NewSession", mock.Anything, mock.Anything).Return(session, nil)

	task := engine.Task{
		Item:    schemas.WorkItem{Link: link, Region: "ru", Title: "Degraded"},
		Attempt: 1,
	}
	outcome, err := h.worker.Process(context.Background(), task)
	require.NoError(t, err, "one dead asset must not sink the capture")

	index, err := os.ReadFile(filepath.Join(outcome.ArtifactPath, "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(index), `href="style.css"`)
	assert.Contains(t, string(index), `src="logo.png"`)
	// The dead asset keeps its absolute URL so the page stays honest about
	// what could not be mirrored.
	assert.Contains(t, string(index), srv.URL+"/broken.js")

	assert.FileExists(t, filepath.Join(outcome.ArtifactPath, "style.css"))
	assert.FileExists(t, filepath.Join(outcome.ArtifactPath, "logo.png"))
	require.Len(t, outcome.Resources, 2)
	assert.Equal(t, "logo.png", outcome.Resources[0].LocalFilename)
	assert.Equal(t, "style.css", outcome.Resources[1].LocalFilename)
}

func TestProcessDetectsCloaking(t *testing.T) {
	target := newTestTarget("Same Title Everywhere")
	defer target.server.Close()

	h := newHarness(t, kzRegistry())
	session := renderedSession(target, "Same Title Everywhere")
	h.factory.On("NewSession", mock.Anything, mock.Anything).Return(session, nil)

	task := engine.Task{
		Item:    schemas.WorkItem{Link: target.link(), Region: "kz"},
		Attempt: 1,
	}
	outcome, err := h.worker.Process(context.Background(), task)
	require.Error(t, err)

	taskErr, ok := schemas.AsTaskError(err)
	require.True(t, ok)
	assert.Equal(t, schemas.ErrCloakDetected, taskErr.Kind)
	assert.True(t, taskErr.Kind.Retryable())

	// The route rides along for the retry; nothing was archived.
	assert.NotNil(t, outcome.Proxy)
	assert.NoDirExists(t, filepath.Join(h.outDir, "kz"))
	session.AssertCalled(t, "Close")
}

func TestProcessUnreachableLink(t *testing.T) {
	target := newTestTarget("Gone")
	defer target.server.Close()
	target.status = http.StatusNotFound

	h := newHarness(t, kzRegistry())

	task := engine.Task{
		Item:    schemas.WorkItem{Link: target.link(), Region: "kz"},
		Attempt: 1,
	}
	_, err := h.worker.Process(context.Background(), task)
	require.Error(t, err)

	taskErr, ok := schemas.AsTaskError(err)
	require.True(t, ok)
	assert.Equal(t, schemas.ErrUnreachableLink, taskErr.Kind)
	assert.False(t, taskErr.Kind.Retryable())
	h.factory.AssertNotCalled(t, "NewSession", mock.Anything, mock.Anything)
}

func TestProcessMissingRegionPool(t *testing.T) {
	target := newTestTarget("Unused")
	defer target.server.Close()

	h := newHarness(t, kzRegistry())

	task := engine.Task{
		Item:    schemas.WorkItem{Link: target.link(), Region: "br"},
		Attempt: 1,
	}
	_, err := h.worker.Process(context.Background(), task)
	require.Error(t, err)

	taskErr, ok := schemas.AsTaskError(err)
	require.True(t, ok)
	assert.Equal(t, schemas.ErrNoProxyForRegion, taskErr.Kind)

	// Failed before any network or browser work.
	assert.Equal(t, int32(0), target.landerHits.Load())
	h.factory.AssertNotCalled(t, "NewSession", mock.Anything, mock.Anything)
}

func TestProcessDirectRegionSkipsProxyAndCloak(t *testing.T) {
	target := newTestTarget("Домашняя страница")
	defer target.server.Close()

	h := newHarness(t, kzRegistry())

	// No Title expectation: the mock fails the test if the cloak
	// comparison runs for a direct region.
	session := new(mocks.MockSession)
	session.On("Navigate", mock.Anything, target.link(), mock.Anything).Return(nil)
	session.On("WaitFullLoad", mock.Anything).Return(nil)
	session.On("CurrentURL", mock.Anything).Return(target.link(), nil)
	session.On("HTML", mock.Anything).Return("<html><body>ru</body></html>", nil)
	session.On("Resources").Return([]schemas.ResourceRequest(nil))
	session.On("Close").Return(nil)
	h.factory.On("NewSession", mock.Anything, mock.Anything).Return(session, nil)

	task := engine.Task{
		Item:    schemas.WorkItem{Link: target.link(), Region: "ru", Title: "Offer"},
		Attempt: 1,
	}
	outcome, err := h.worker.Process(context.Background(), task)
	require.NoError(t, err)

	assert.Nil(t, outcome.Proxy)
	assert.Equal(t, filepath.Join(h.outDir, "ru", "1"), outcome.ArtifactPath)
	session.AssertExpectations(t)
}

func TestProcessReusesPinnedProxy(t *testing.T) {
	target := newTestTarget("Direct Offer")
	defer target.server.Close()

	h := newHarness(t, kzRegistry())
	session := renderedSession(target, "Different Proxied Title")
	h.factory.On("NewSession", mock.Anything, mock.Anything).Return(session, nil)

	pinned := &schemas.ProxyProfile{Host: "198.51.100.42", Port: 1080, Timezone: "Asia/Almaty"}
	task := engine.Task{
		Item:    schemas.WorkItem{Link: target.link(), Region: "kz"},
		Proxy:   pinned,
		Attempt: 2,
	}
	outcome, err := h.worker.Process(context.Background(), task)
	require.NoError(t, err)

	// The retry kept its pinned route instead of drawing from the pool.
	require.NotNil(t, outcome.Proxy)
	assert.Equal(t, "198.51.100.42", outcome.Proxy.Host)
}

func TestProcessArchiveFailureKeepsStaging(t *testing.T) {
	target := newTestTarget("Direct Offer")
	defer target.server.Close()

	h := newHarness(t, kzRegistry())
	session := renderedSession(target, "Different Proxied Title")
	h.factory.On("NewSession", mock.Anything, mock.Anything).Return(session, nil)

	// Turn the output root into a file so the region dir cannot be made.
	blocked := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))
	h.cfg.Archive.OutputDir = blocked

	task := engine.Task{
		Item:    schemas.WorkItem{Link: target.link(), Region: "kz"},
		Attempt: 1,
	}
	_, err := h.worker.Process(context.Background(), task)
	require.Error(t, err)

	taskErr, ok := schemas.AsTaskError(err)
	require.True(t, ok)
	assert.Equal(t, schemas.ErrArchiveFailure, taskErr.Kind)
	assert.False(t, taskErr.Kind.Retryable())

	// The finished capture is still sitting in the staging area.
	entries, readErr := os.ReadDir(h.staging)
	require.NoError(t, readErr)
	require.Len(t, entries, 1)
	assert.FileExists(t, filepath.Join(h.staging, entries[0].Name(), "index.html"))
}

func TestProcessWritesOptionalSnapshots(t *testing.T) {
	target := newTestTarget("Direct Offer")
	defer target.server.Close()

	h := newHarness(t, kzRegistry())
	h.cfg.Capture.Screenshot = true
	h.cfg.Capture.PDF = true

	session := renderedSession(target, "Different Proxied Title")
	session.On("Screenshot", mock.Anything).Return([]byte{0x89, 0x50, 0x4e, 0x47}, nil)
	session.On("PDF", mock.Anything).Return([]byte("%PDF-1.4"), nil)
	h.factory.On("NewSession", mock.Anything, mock.Anything).Return(session, nil)

	task := engine.Task{
		Item:    schemas.WorkItem{Link: target.link(), Region: "kz"},
		Attempt: 1,
	}
	outcome, err := h.worker.Process(context.Background(), task)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(outcome.ArtifactPath, "screenshot.png"))
	assert.FileExists(t, filepath.Join(outcome.ArtifactPath, "page.pdf"))
}

func TestDescribeItem(t *testing.T) {
	testCases := []struct {
		name     string
		item     schemas.WorkItem
		expected string
	}{
		{
			name:     "description present",
			item:     schemas.WorkItem{Title: "Offer", Description: "summer promo"},
			expected: "summer promo",
		},
		{
			name:     "empty description falls back to title",
			item:     schemas.WorkItem{Title: "Offer", Description: ""},
			expected: "Offer",
		},
		{
			name:     "literal null falls back to title",
			item:     schemas.WorkItem{Title: "Offer", Description: "null"},
			expected: "Offer",
		},
		{
			name:     "uppercase NULL falls back to title",
			item:     schemas.WorkItem{Title: "Offer", Description: "NULL"},
			expected: "Offer",
		},
		{
			name:     "whitespace only falls back to title",
			item:     schemas.WorkItem{Title: "Offer", Description: "   "},
			expected: "Offer",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, describeItem(tc.item))
		})
	}
}
