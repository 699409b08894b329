package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/browser/humanoid"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/browser/stealth"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/config"
)

// Manager opens capture sessions. Every session gets its own browser
// process because the proxy route is an executable-level flag; sharing one
// process would leak one region's route into another's capture.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config

	sessions map[string]*chromeSession
	mu       sync.Mutex
}

var _ SessionFactory = (*Manager)(nil)

// NewManager creates the session factory.
func NewManager(logger *zap.Logger, cfg *config.Config) *Manager {
	return &Manager{
		logger:   logger.Named("browser"),
		cfg:      cfg,
		sessions: make(map[string]*chromeSession),
	}
}

// NewSession launches a browser process with the session's proxy route and
// device identity, and verifies it is alive before handing it out.
func (m *Manager) NewSession(ctx context.Context, opts SessionOptions) (Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, m.allocatorOptions(opts)...)

	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Errorf),
	)

	cleanup := func() {
		tabCancel()
		allocCancel()
	}

	log := NewResourceLog()
	log.Attach(tabCtx)

	// The first Run starts the process; about:blank proves the target is
	// responsive before any real work is queued on it.
	if err := chromedp.Run(tabCtx, chromedp.Navigate("about:blank")); err != nil {
		cleanup()
		return nil, fmt.Errorf("starting browser process: %w", err)
	}

	session := &chromeSession{
		id:          uuid.New().String(),
		logger:      m.logger,
		cfg:         m.cfg,
		log:         log,
		ctx:         tabCtx,
		cancel:      tabCancel,
		allocCancel: allocCancel,
		manager:     m,
	}
	if m.cfg.Browser.HumanGestures {
		session.gestures = humanoid.New(session, m.logger)
	}

	setup := session.identityTasks(opts)
	setup = append(setup, stealth.Apply(m.logger))
	if err := chromedp.Run(tabCtx, setup); err != nil {
		cleanup()
		return nil, fmt.Errorf("applying session identity: %w", err)
	}

	m.mu.Lock()
	m.sessions[session.id] = session
	m.mu.Unlock()

	m.logger.Info("Session opened",
		zap.String("session_id", session.id),
		zap.Bool("proxied", opts.ProxyURL != nil),
		zap.String("timezone", opts.Timezone),
		zap.String("locale", opts.Locale),
	)
	return session, nil
}

// allocatorOptions builds the executable flags for one session.
func (m *Manager) allocatorOptions(opts SessionOptions) []chromedp.ExecAllocatorOption {
	browserCfg := m.cfg.Browser

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	if !browserCfg.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if browserCfg.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(browserCfg.ExecPath))
	}
	if browserCfg.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(browserCfg.UserAgent))
	}

	allocOpts = append(allocOpts,
		// Automation detection evasion at the flag level.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		// Stability in containerized and repeated-launch use.
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-extensions", true),

		chromedp.Flag("disable-gpu", browserCfg.Headless),
		chromedp.Flag("ignore-certificate-errors", browserCfg.IgnoreTLSErrors),

		chromedp.WindowSize(browserCfg.Viewport.Width, browserCfg.Viewport.Height),
	)

	if opts.ProxyURL != nil {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.ProxyURL.String()))
	}

	allocOpts = append(allocOpts, customFlags(browserCfg.Args)...)

	return allocOpts
}

// customFlags converts raw --name=value arguments from the config into
// allocator options.
func customFlags(args []string) []chromedp.ExecAllocatorOption {
	var out []chromedp.ExecAllocatorOption
	for _, arg := range args {
		arg = strings.TrimPrefix(strings.TrimSpace(arg), "--")
		if arg == "" {
			continue
		}
		if name, value, found := strings.Cut(arg, "="); found {
			out = append(out, chromedp.Flag(name, value))
		} else {
			out = append(out, chromedp.Flag(arg, true))
		}
	}
	return out
}

// unregister removes a closed session from tracking.
func (m *Manager) unregister(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Shutdown closes any sessions still open. Each close gets its own grace
// window so one wedged browser cannot stall the rest.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	open := make([]*chromeSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.sessions = make(map[string]*chromeSession)
	m.mu.Unlock()

	if len(open) == 0 {
		return nil
	}
	m.logger.Info("Closing remaining sessions", zap.Int("count", len(open)))

	var wg sync.WaitGroup
	for _, s := range open {
		wg.Add(1)
		go func(s *chromeSession) {
			defer wg.Done()
			done := make(chan struct{})
			go func() {
				_ = s.Close()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(10 * time.Second):
				m.logger.Warn("Session close timed out", zap.String("session_id", s.id))
			case <-ctx.Done():
			}
		}(s)
	}
	wg.Wait()
	return nil
}
