package proxy

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/api/schemas"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/config"
)

const (
	// stopGrace is how long a tunnel process gets to exit after an
	// interrupt before it is killed.
	stopGrace = 5 * time.Second
	// listenPoll is the interval between dial attempts while waiting for
	// the inbound to come up.
	listenPoll = 100 * time.Millisecond
	// portSpan rotates listen ports so a restart never races the previous
	// process for the same socket.
	portSpan = 16
)

// tunnel is one running sing-box bridge.
type tunnel struct {
	upstream   string
	localURL   *url.URL
	cmd        *exec.Cmd
	done       chan error
	configPath string
}

// Manager runs at most one local tunnel at a time, matching the capture
// pipeline's one-session-at-a-time execution model.
type Manager struct {
	cfg    config.ProxyConfig
	logger *zap.Logger

	mu     sync.Mutex
	active *tunnel
	seq    int
}

// NewManager creates a tunnel manager. With an empty singbox_path the
// manager degrades to passthrough and hands out upstream URLs unchanged.
func NewManager(cfg config.ProxyConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.Named("tunnel"),
	}
}

// Ensure returns a proxy URL for the profile, starting or reusing a local
// tunnel as needed. The returned URL is what the browser should be pointed
// at.
func (m *Manager) Ensure(ctx context.Context, profile schemas.ProxyProfile) (*url.URL, error) {
	if m.cfg.SingboxPath == "" {
		// Passthrough. Chromium has no SOCKS credential support, so an
		// authenticated upstream without a tunnel binary will likely fail;
		// warn rather than guess.
		if profile.Authenticated() {
			m.logger.Warn("No tunnel binary configured; passing authenticated SOCKS upstream directly to the browser",
				zap.String("upstream", profile.Address()))
		}
		u, err := url.Parse(profile.URL())
		if err != nil {
			return nil, fmt.Errorf("parsing upstream proxy url: %w", err)
		}
		return u, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && m.active.upstream == profile.Address() {
		return m.active.localURL, nil
	}

	m.stopLocked()

	t, err := m.startLocked(ctx, profile)
	if err != nil {
		return nil, err
	}
	m.active = t
	return t.localURL, nil
}

// Stop terminates the active tunnel, if any.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// Close implements the component shutdown contract.
func (m *Manager) Close() error {
	m.Stop()
	return nil
}

func (m *Manager) startLocked(ctx context.Context, profile schemas.ProxyProfile) (*tunnel, error) {
	port := m.cfg.BasePort + m.seq%portSpan
	m.seq++

	listenAddr := net.JoinHostPort(m.cfg.ListenHost, fmt.Sprintf("%d", port))
	localURL := &url.URL{Scheme: "socks5", Host: listenAddr}

	cfgBytes, err := buildSingboxConfig(profile, m.cfg.ListenHost, port)
	if err != nil {
		return nil, fmt.Errorf("building tunnel config: %w", err)
	}

	configDir := m.cfg.ConfigDir
	if configDir == "" {
		configDir = os.TempDir()
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating tunnel config dir: %w", err)
	}
	configPath := filepath.Join(configDir, fmt.Sprintf("singbox-%d.json", port))
	if err := os.WriteFile(configPath, cfgBytes, 0o600); err != nil {
		return nil, fmt.Errorf("writing tunnel config: %w", err)
	}

	// The process must outlive ctx (it serves the whole capture), so it is
	// not started with CommandContext; lifecycle is managed explicitly.
	cmd := exec.Command(m.cfg.SingboxPath, "run", "-c", configPath)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting tunnel process: %w", err)
	}

	t := &tunnel{
		upstream:   profile.Address(),
		localURL:   localURL,
		cmd:        cmd,
		done:       make(chan error, 1),
		configPath: configPath,
	}
	go func() { t.done <- cmd.Wait() }()

	m.logger.Info("Tunnel started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("listen", listenAddr),
		zap.String("upstream", profile.Address()),
	)

	if err := m.waitForListen(ctx, t, listenAddr); err != nil {
		m.terminate(t)
		return nil, fmt.Errorf("tunnel did not come up on %s: %w", listenAddr, err)
	}
	return t, nil
}

// waitForListen polls the inbound address until it accepts connections, the
// start timeout elapses, or the process dies first.
func (m *Manager) waitForListen(ctx context.Context, t *tunnel, addr string) error {
	timeout := m.cfg.StartTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(listenPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-t.done:
			// Put the exit back for terminate().
			t.done <- err
			return fmt.Errorf("tunnel process exited during startup: %v", err)
		case <-deadline.C:
			return fmt.Errorf("timed out after %s", timeout)
		case <-ticker.C:
			conn, err := net.DialTimeout("tcp", addr, listenPoll)
			if err == nil {
				conn.Close()
				return nil
			}
		}
	}
}

func (m *Manager) stopLocked() {
	if m.active == nil {
		return
	}
	m.terminate(m.active)
	m.active = nil
}

// terminate interrupts the process, waits out the grace period, then kills.
func (m *Manager) terminate(t *tunnel) {
	if t.cmd.Process != nil {
		if err := t.cmd.Process.Signal(os.Interrupt); err != nil {
			_ = t.cmd.Process.Kill()
		}
	}

	select {
	case <-t.done:
	case <-time.After(stopGrace):
		m.logger.Warn("Tunnel ignored interrupt, killing", zap.Int("pid", t.cmd.Process.Pid))
		_ = t.cmd.Process.Kill()
		<-t.done
	}

	if t.configPath != "" {
		_ = os.Remove(t.configPath)
	}
	m.logger.Info("Tunnel stopped", zap.String("upstream", t.upstream))
}
