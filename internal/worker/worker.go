// Package worker drives one WorkItem end to end: reachability probe,
// proxied mobile render, cloak comparison, resource mirroring, and the
// final archive. The engine calls it once per scheduled execution.
package worker

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/api/schemas"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/archive"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/browser"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/config"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/engine"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/proxy"
)

// Artifact filenames inside a capture folder.
const (
	indexFilename      = "index.html"
	screenshotFilename = "screenshot.png"
	pdfFilename        = "page.pdf"
)

// CaptureWorker implements engine.Worker over the capture pipeline.
type CaptureWorker struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *proxy.Registry
	tunnels  *proxy.Manager
	sessions browser.SessionFactory
	detector *Detector
	download *archive.Downloader
	archiver *archive.Archiver
}

var _ engine.Worker = (*CaptureWorker)(nil)

// New wires the capture pipeline. All dependencies are required.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	registry *proxy.Registry,
	tunnels *proxy.Manager,
	sessions browser.SessionFactory,
	detector *Detector,
	download *archive.Downloader,
	archiver *archive.Archiver,
) *CaptureWorker {
	return &CaptureWorker{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "worker")),
		registry: registry,
		tunnels:  tunnels,
		sessions: sessions,
		detector: detector,
		download: download,
		archiver: archiver,
	}
}

// Process runs one execution of an item. The returned Outcome carries the
// resolved proxy even on failure so the engine can pin the route for the
// retry. Failures come back as TaskErrors; the kind decides the routing.
func (w *CaptureWorker) Process(ctx context.Context, task engine.Task) (engine.Outcome, error) {
	item := task.Item
	log := w.logger.With(
		zap.String("link", item.Link),
		zap.String("region", item.Region),
		zap.Int("attempt", task.Attempt),
	)
	outcome := engine.Outcome{Proxy: task.Proxy}

	// Route resolution comes first: an item whose region has no pool must
	// fail before any network or browser work is spent on it.
	direct := w.registry.IsDirect(item.Region)
	if !direct && outcome.Proxy == nil {
		profile, ok := w.registry.Pick(item.Region)
		if !ok {
			return outcome, schemas.NewTaskError(schemas.ErrNoProxyForRegion,
				fmt.Sprintf("no proxy pool for region %q", item.Region), nil)
		}
		outcome.Proxy = &profile
	}

	directTitle, err := w.detector.DirectTitle(ctx, item.Link)
	if err != nil {
		return outcome, schemas.NewTaskError(schemas.ErrUnreachableLink,
			"link did not answer a plain request", err)
	}
	log.Debug("Direct probe succeeded", zap.String("title", directTitle))

	var proxyURL *url.URL
	if outcome.Proxy != nil {
		proxyURL, err = w.tunnels.Ensure(ctx, *outcome.Proxy)
		if err != nil {
			return outcome, schemas.NewTaskError(schemas.ErrCaptureFailure,
				"proxy tunnel did not come up", err)
		}
	}

	session, err := w.sessions.NewSession(ctx, w.sessionOptions(proxyURL, outcome.Proxy))
	if err != nil {
		return outcome, schemas.NewTaskError(schemas.ErrCaptureFailure,
			"browser session did not open", err)
	}
	defer session.Close()

	if err := session.Navigate(ctx, item.Link, w.cfg.Capture.SettleDelay); err != nil {
		return outcome, schemas.NewTaskError(schemas.ErrCaptureFailure, "navigation failed", err)
	}
	if err := session.WaitFullLoad(ctx); err != nil {
		return outcome, schemas.NewTaskError(schemas.ErrCaptureFailure,
			"page did not finish loading", err)
	}

	// Ad links are redirect chains; record where this one landed.
	if landed, err := session.CurrentURL(ctx); err == nil && landed != item.Link {
		log.Debug("Redirect chain landed", zap.String("url", landed))
	}

	// Direct regions see the real page by definition; only proxied views
	// can be cloaked against.
	if outcome.Proxy != nil {
		proxiedTitle, err := session.Title(ctx)
		if err != nil {
			return outcome, schemas.NewTaskError(schemas.ErrCaptureFailure, "title read failed", err)
		}
		if TitlesMatch(directTitle, proxiedTitle) {
			return outcome, schemas.NewTaskError(schemas.ErrCloakDetected,
				fmt.Sprintf("direct and proxied titles are identical (%q)", strings.TrimSpace(directTitle)), nil)
		}
	}

	staging, err := w.newStagingDir()
	if err != nil {
		return outcome, schemas.NewTaskError(schemas.ErrCaptureFailure,
			"staging dir not created", err)
	}
	keepStaging := false
	defer func() {
		if !keepStaging {
			os.RemoveAll(staging)
		}
	}()

	records, err := w.capture(ctx, session, item, staging)
	if err != nil {
		return outcome, err
	}

	folder, zipPath, err := w.archiver.Store(staging, item.Region)
	if err != nil {
		// The staging dir survives so the finished capture is recoverable.
		keepStaging = true
		log.Error("Capture could not be archived",
			zap.String("staging", staging),
			zap.Error(err),
		)
		return outcome, schemas.NewTaskError(schemas.ErrArchiveFailure,
			fmt.Sprintf("capture left in %s", staging), err)
	}
	keepStaging = true // Store consumed the directory.

	outcome.ArtifactPath = folder
	if outcome.ArtifactPath == "" {
		outcome.ArtifactPath = zipPath
	}
	outcome.Resources = recordList(records)
	log.Info("Capture complete",
		zap.String("artifact", outcome.ArtifactPath),
		zap.Int("resources", len(outcome.Resources)),
	)
	return outcome, nil
}

// capture renders the already-loaded page into the staging directory:
// mirrored resources, rewritten index.html, provenance file, and the
// optional screenshot and PDF. Returns the records of what was mirrored.
func (w *CaptureWorker) capture(ctx context.Context, session browser.Session, item schemas.WorkItem, staging string) (map[string]schemas.ResourceRecord, error) {
	pageHTML, err := session.HTML(ctx)
	if err != nil {
		return nil, schemas.NewTaskError(schemas.ErrCaptureFailure, "page source read failed", err)
	}

	records, err := w.download.Fetch(ctx, session.Resources(), staging)
	if err != nil {
		return nil, schemas.NewTaskError(schemas.ErrCaptureFailure, "resource download aborted", err)
	}

	rewritten := archive.RewriteHTML(pageHTML, records)
	if err := os.WriteFile(filepath.Join(staging, indexFilename), []byte(rewritten), 0o644); err != nil {
		return nil, schemas.NewTaskError(schemas.ErrCaptureFailure, "index.html not written", err)
	}

	if err := archive.WriteInfo(staging, item.Link, describeItem(item), time.Now()); err != nil {
		return nil, schemas.NewTaskError(schemas.ErrCaptureFailure, "info file not written", err)
	}

	if w.cfg.Capture.Screenshot {
		img, err := session.Screenshot(ctx)
		if err != nil {
			return nil, schemas.NewTaskError(schemas.ErrCaptureFailure, "screenshot failed", err)
		}
		if err := os.WriteFile(filepath.Join(staging, screenshotFilename), img, 0o644); err != nil {
			return nil, schemas.NewTaskError(schemas.ErrCaptureFailure, "screenshot not written", err)
		}
	}

	if w.cfg.Capture.PDF {
		doc, err := session.PDF(ctx)
		if err != nil {
			return nil, schemas.NewTaskError(schemas.ErrCaptureFailure, "pdf render failed", err)
		}
		if err := os.WriteFile(filepath.Join(staging, pdfFilename), doc, 0o644); err != nil {
			return nil, schemas.NewTaskError(schemas.ErrCaptureFailure, "pdf not written", err)
		}
	}
	return records, nil
}

// sessionOptions maps the resolved route onto the browser's emulation
// surface. A direct region gets the mobile identity with no locale or geo
// overrides.
func (w *CaptureWorker) sessionOptions(proxyURL *url.URL, profile *schemas.ProxyProfile) browser.SessionOptions {
	opts := browser.SessionOptions{ProxyURL: proxyURL}
	if profile != nil {
		opts.Timezone = profile.Timezone
		opts.Locale = profile.Locale
		opts.Latitude = profile.Latitude
		opts.Longitude = profile.Longitude
	}
	return opts
}

func (w *CaptureWorker) newStagingDir() (string, error) {
	root := w.cfg.Archive.StagingDir
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return "", err
		}
	}
	return os.MkdirTemp(root, "capture-*")
}

// describeItem picks the info.txt description: the sheet's description
// column unless it is empty or the literal "null" the export tool writes,
// in which case the ad title stands in.
func describeItem(item schemas.WorkItem) string {
	desc := strings.TrimSpace(item.Description)
	if desc == "" || strings.EqualFold(desc, "null") {
		return item.Title
	}
	return desc
}

// recordList flattens the download map in stable filename order.
func recordList(records map[string]schemas.ResourceRecord) []schemas.ResourceRecord {
	if len(records) == 0 {
		return nil
	}
	out := make([]schemas.ResourceRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalFilename < out[j].LocalFilename })
	return out
}
