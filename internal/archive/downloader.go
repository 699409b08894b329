// Package archive turns a captured page into a self-contained artifact:
// mirror its resources, rebind the HTML to the local copies, and store the
// result as a numbered folder with an optional zip.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/api/schemas"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/config"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/network"
)

// Worker pool bounds. Fewer than minWorkers wastes the wall-clock a page
// capture already spent; more than maxWorkers starts tripping host
// rate limits.
const (
	minWorkers = 3
	maxWorkers = 10
)

// extByContentType maps response content types to filename extensions for
// URLs whose path carries none.
var extByContentType = map[string]string{
	"text/javascript":        ".js",
	"application/javascript": ".js",
	"text/css":               ".css",
	"image/png":              ".png",
	"image/jpeg":             ".jpg",
	"image/webp":             ".webp",
	"image/gif":              ".gif",
	"image/svg+xml":          ".svg",
	"font/woff":              ".woff",
	"font/woff2":             ".woff2",
	"application/json":       ".json",
	"text/html":              ".html",
	"application/xml":        ".xml",
}

// Downloader mirrors page resources onto disk with bounded parallelism.
type Downloader struct {
	client *network.Client
	cfg    config.DownloadConfig
	logger *zap.Logger
}

// NewDownloader creates a downloader on top of the shared HTTP client.
func NewDownloader(client *network.Client, cfg config.DownloadConfig, logger *zap.Logger) *Downloader {
	return &Downloader{
		client: client,
		cfg:    cfg,
		logger: logger.Named("downloader"),
	}
}

// Fetch downloads every resource into destDir and returns the records for
// the ones that made it, keyed by source URL. Individual failures are
// logged and skipped; the page is still worth archiving without them. Only
// context cancellation aborts the whole batch.
func (d *Downloader) Fetch(ctx context.Context, resources []schemas.ResourceRequest, destDir string) (map[string]schemas.ResourceRecord, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating download dir: %w", err)
	}

	var (
		mu      sync.Mutex
		used    = make(map[string]struct{})
		records = make(map[string]schemas.ResourceRecord)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(clampWorkers(d.cfg.Workers))

	for _, res := range resources {
		res := res
		if skippable(res.URL) {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			body, contentType, err := d.fetchOne(gctx, res)
			if err != nil {
				d.logger.Warn("Resource skipped",
					zap.String("url", res.URL),
					zap.Error(err),
				)
				return nil
			}

			mu.Lock()
			name := localFilename(res.URL, contentType, used)
			used[name] = struct{}{}
			mu.Unlock()

			if err := os.WriteFile(filepath.Join(destDir, name), body, 0o644); err != nil {
				d.logger.Warn("Resource not written", zap.String("url", res.URL), zap.Error(err))
				return nil
			}

			mu.Lock()
			records[res.URL] = schemas.ResourceRecord{
				SourceURL:     res.URL,
				LocalFilename: name,
				Referer:       res.Referer,
			}
			mu.Unlock()

			d.logger.Debug("Resource saved", zap.String("url", res.URL), zap.String("file", name))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// fetchOne retries transient failures with a linearly growing backoff.
func (d *Downloader) fetchOne(ctx context.Context, res schemas.ResourceRequest) ([]byte, string, error) {
	attempts := d.cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt-1) * d.cfg.RetryDelay
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		body, contentType, err := d.request(ctx, res)
		if err == nil {
			return body, contentType, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
	}
	return nil, "", fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

func (d *Downloader) request(ctx context.Context, res schemas.ResourceRequest) ([]byte, string, error) {
	reqCtx := ctx
	if d.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, d.cfg.RequestTimeout)
		defer cancel()
	}

	req, err := d.client.NewRequest(reqCtx, res.URL, res.Referer)
	if err != nil {
		return nil, "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, "", fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// skippable filters pseudo-schemes that have no fetchable representation.
func skippable(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.HasPrefix(lower, "data:") ||
		strings.HasPrefix(lower, "blob:") ||
		strings.HasPrefix(lower, "about:") ||
		strings.HasPrefix(lower, "chrome:") ||
		strings.HasPrefix(lower, "javascript:")
}

// localFilename derives a stable on-disk name for a resource URL. The URL
// path's base name is preferred; the content type supplies an extension
// when the path has none, and name collisions get a short content-address
// suffix. The caller must hold the coordination lock around used.
func localFilename(rawURL, contentType string, used map[string]struct{}) string {
	base := ""
	if u, err := url.Parse(rawURL); err == nil {
		base = path.Base(u.Path)
	}
	if base == "." || base == "/" || base == "" {
		base = "resource"
	}

	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = extFromContentType(contentType)
	}

	name := stem + ext
	if _, taken := used[name]; !taken {
		return name
	}
	return fmt.Sprintf("%s-%s%s", stem, hashSuffix(rawURL), ext)
}

func extFromContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return extByContentType[strings.ToLower(mediaType)]
}

// hashSuffix returns a short content-address for disambiguating names.
func hashSuffix(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:8]
}

func clampWorkers(n int) int {
	if n < minWorkers {
		return minWorkers
	}
	if n > maxWorkers {
		return maxWorkers
	}
	return n
}
