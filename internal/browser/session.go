package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/api/schemas"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/browser/humanoid"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/config"
)

const (
	// growthPoll is how often the scroll loop re-reads the document height
	// while waiting for lazy content to extend the page.
	growthPoll = 100 * time.Millisecond

	// maxFlicksPerPass bounds one touch-scroll descent. Pages that keep
	// growing under the finger get further passes from WaitFullLoad.
	maxFlicksPerPass = 24

	// bottomSlack is how close to the document end counts as arrived.
	bottomSlack = 4.0
)

// chromeSession drives one Chromium tab through CDP. Each session owns its
// browser process so proxy routing and identity stay fully isolated.
type chromeSession struct {
	id     string
	logger *zap.Logger
	cfg    *config.Config
	log    *ResourceLog

	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	// gestures is nil when human scrolling is disabled; the session then
	// falls back to scripted window.scrollTo calls.
	gestures *humanoid.Gestures

	manager   *Manager
	closeOnce sync.Once
}

var (
	_ Session            = (*chromeSession)(nil)
	_ humanoid.Dispatcher = (*chromeSession)(nil)
)

// Navigate opens the URL, then settles for the given delay with a little
// jitter so captures do not pace identically.
func (s *chromeSession) Navigate(ctx context.Context, rawURL string, settle time.Duration) error {
	navCtx, cancel := s.actionContext(s.cfg.Browser.NavigationTimeout)
	defer cancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(rawURL)); err != nil {
		return fmt.Errorf("navigating to %s: %w", rawURL, err)
	}
	return hesitate(ctx, jitter(settle))
}

// WaitFullLoad scrolls the page to the bottom until its height stops
// growing, then waits for the request stream to stay quiet. Both phases
// share the configured load timeout; running out of budget is not an error,
// the capture proceeds with whatever loaded.
func (s *chromeSession) WaitFullLoad(ctx context.Context) error {
	capture := s.cfg.Capture
	deadline := time.Now().Add(capture.LoadTimeout)

	lastHeight, err := s.scrollHeight()
	if err != nil {
		return err
	}

	for attempt := 0; attempt < capture.MaxScrollAttempts; attempt++ {
		if time.Now().After(deadline) {
			break
		}
		if err := s.scrollToBottom(ctx); err != nil {
			return err
		}
		grew, newHeight, err := s.waitHeightGrowth(ctx, lastHeight, capture.ScrollWait)
		if err != nil {
			return err
		}
		if !grew || newHeight == lastHeight {
			break
		}
		lastHeight = newHeight
	}

	return s.waitNetworkQuiet(ctx, time.Until(deadline))
}

// waitHeightGrowth polls the document height until it exceeds prev or the
// wait window closes.
func (s *chromeSession) waitHeightGrowth(ctx context.Context, prev float64, wait time.Duration) (bool, float64, error) {
	windowEnd := time.Now().Add(wait)
	for time.Now().Before(windowEnd) {
		if err := hesitate(ctx, growthPoll); err != nil {
			return false, prev, err
		}
		height, err := s.scrollHeight()
		if err != nil {
			return false, prev, err
		}
		if height > prev {
			return true, height, nil
		}
	}
	return false, prev, nil
}

// waitNetworkQuiet returns once no new request events arrive for a full
// quiet period, or when the budget runs out.
func (s *chromeSession) waitNetworkQuiet(ctx context.Context, budget time.Duration) error {
	capture := s.cfg.Capture
	deadline := time.Now().Add(budget)

	for time.Now().Before(deadline) {
		current := s.log.Count()
		if err := hesitate(ctx, capture.IdlePoll); err != nil {
			return err
		}
		if s.log.Count() != current {
			continue
		}
		if err := hesitate(ctx, capture.QuietPeriod); err != nil {
			return err
		}
		if s.log.Count() == current {
			return nil
		}
	}

	s.logger.Debug("Network never settled inside the load budget, proceeding",
		zap.Int64("observed_requests", s.log.Count()))
	return nil
}

func (s *chromeSession) scrollHeight() (float64, error) {
	var height float64
	evalCtx, cancel := s.actionContext(10 * time.Second)
	defer cancel()
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(`document.body.scrollHeight`, &height)); err != nil {
		return 0, fmt.Errorf("reading scroll height: %w", err)
	}
	return height, nil
}

// scrollToBottom descends to the current document end, swiping when touch
// gestures are enabled and falling back to a scripted scroll otherwise.
func (s *chromeSession) scrollToBottom(ctx context.Context) error {
	if s.gestures != nil {
		err := s.flickToBottom(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		s.logger.Debug("Touch scrolling failed, falling back to scripted scroll", zap.Error(err))
	}

	evalCtx, cancel := s.actionContext(10 * time.Second)
	defer cancel()
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil)); err != nil {
		return fmt.Errorf("scrolling: %w", err)
	}
	return nil
}

// flickToBottom swipes until the viewport rests at the document bottom or
// the per-pass flick budget runs out.
func (s *chromeSession) flickToBottom(ctx context.Context) error {
	viewport := s.cfg.Browser.Viewport
	for i := 0; i < maxFlicksPerPass; i++ {
		remainder, err := s.scrollRemainder()
		if err != nil {
			return err
		}
		if remainder < bottomSlack {
			return nil
		}
		if err := s.gestures.FlickUp(ctx, viewport.Width, viewport.Height); err != nil {
			return err
		}
	}
	return nil
}

// scrollRemainder reports how much document is left below the viewport.
func (s *chromeSession) scrollRemainder() (float64, error) {
	var remainder float64
	evalCtx, cancel := s.actionContext(10 * time.Second)
	defer cancel()
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(`document.body.scrollHeight - window.scrollY - window.innerHeight`, &remainder)); err != nil {
		return 0, fmt.Errorf("reading scroll position: %w", err)
	}
	return remainder, nil
}

// DispatchTouch forwards one synthesized touch event to the tab.
func (s *chromeSession) DispatchTouch(ctx context.Context, typ input.TouchType, points []*input.TouchPoint) error {
	opCtx, cancel := s.actionContext(5 * time.Second)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.ActionFunc(func(runCtx context.Context) error {
		return input.DispatchTouchEvent(typ, points).Do(runCtx)
	})); err != nil {
		return fmt.Errorf("dispatching %s: %w", typ, err)
	}
	return nil
}

// Title returns the current document title.
func (s *chromeSession) Title(ctx context.Context) (string, error) {
	var title string
	opCtx, cancel := s.actionContext(10 * time.Second)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("reading title: %w", err)
	}
	return title, nil
}

// HTML returns the serialized DOM.
func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	var html string
	opCtx, cancel := s.actionContext(30 * time.Second)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("serializing page: %w", err)
	}
	return html, nil
}

// Screenshot captures the full page as PNG.
func (s *chromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	opCtx, cancel := s.actionContext(30 * time.Second)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	return buf, nil
}

// PDF renders the current page to PDF with backgrounds.
func (s *chromeSession) PDF(ctx context.Context) ([]byte, error) {
	var buf []byte
	opCtx, cancel := s.actionContext(60 * time.Second)
	defer cancel()
	err := chromedp.Run(opCtx, chromedp.ActionFunc(func(actionCtx context.Context) error {
		data, _, err := page.PrintToPDF().WithPrintBackground(true).Do(actionCtx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("rendering pdf: %w", err)
	}
	return buf, nil
}

// Resources lists every observed request in first-seen order.
func (s *chromeSession) Resources() []schemas.ResourceRequest {
	return s.log.Snapshot()
}

// CurrentURL returns the page's final location after redirects.
func (s *chromeSession) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	opCtx, cancel := s.actionContext(10 * time.Second)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("reading location: %w", err)
	}
	return loc, nil
}

// Close tears down the tab and its browser process. Safe to call more than
// once.
func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.allocCancel()
		if s.manager != nil {
			s.manager.unregister(s.id)
		}
		s.logger.Debug("Session closed", zap.String("session_id", s.id))
	})
	return nil
}

// actionContext derives a bounded context from the session's chromedp
// context so a wedged browser call cannot hang the pipeline.
func (s *chromeSession) actionContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, timeout)
}

// identityTasks builds the emulation sequence that turns a stock headless
// target into the configured mobile device in the requested region.
func (s *chromeSession) identityTasks(opts SessionOptions) chromedp.Tasks {
	browserCfg := s.cfg.Browser
	viewport := browserCfg.Viewport

	uaOverride := emulation.SetUserAgentOverride(browserCfg.UserAgent).
		WithPlatform("Linux armv8l").
		WithUserAgentMetadata(&emulation.UserAgentMetadata{
			Platform:        "Android",
			PlatformVersion: "14",
			Model:           "Pixel 7",
			Architecture:    "arm",
			Mobile:          true,
			Brands: []*emulation.UserAgentBrandVersion{
				{Brand: "Not A(Brand", Version: "99"},
				{Brand: "Chromium", Version: "121"},
				{Brand: "Google Chrome", Version: "121"},
			},
		})
	if opts.Locale != "" {
		uaOverride = uaOverride.WithAcceptLanguage(acceptLanguage(opts.Locale))
	}

	tasks := chromedp.Tasks{
		network.Enable(),
		uaOverride,
		emulation.SetDeviceMetricsOverride(int64(viewport.Width), int64(viewport.Height), viewport.Scale, viewport.Mobile),
		emulation.SetAutomationOverride(false),
	}

	if viewport.Mobile {
		tasks = append(tasks, emulation.SetTouchEmulationEnabled(true).WithMaxTouchPoints(5))
	}
	if opts.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(opts.Timezone))
	}
	if opts.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(opts.Locale))
	}
	if opts.Latitude != 0 || opts.Longitude != 0 {
		tasks = append(tasks, emulation.SetGeolocationOverride().
			WithLatitude(opts.Latitude).
			WithLongitude(opts.Longitude).
			WithAccuracy(50))
	}

	return tasks
}

// acceptLanguage expands a locale like "kk-KZ" into a weighted header.
// Malformed locales pass through unweighted rather than failing the session.
func acceptLanguage(locale string) string {
	tag, err := language.Parse(locale)
	if err != nil {
		return locale
	}
	base, _ := tag.Base()
	if base.String() == "en" || base.String() == locale {
		return locale + ",en;q=0.9"
	}
	return fmt.Sprintf("%s,%s;q=0.9,en-US;q=0.8,en;q=0.7", locale, base)
}
