package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/archive"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/browser"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/config"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/engine"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/network"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/observability"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/proxy"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/store"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/workbook"
	"github.com/akhmedovh4mid/AntiDetectedMobileBrowser/internal/worker"
)

// Components holds the initialized services for a capture run. The struct
// centralizes lifecycle management so commands share one shutdown path.
type Components struct {
	Registry *proxy.Registry
	Tunnels  *proxy.Manager
	Browser  *browser.Manager
	Engine   *engine.Engine
	Store    engine.Store
	Workbook *workbook.Workbook
	DBPool   *pgxpool.Pool
}

// Shutdown releases all components in reverse dependency order.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning component shutdown sequence")

	if c.Browser != nil {
		// A separate timeout keeps shutdown bounded even when the run
		// context is already canceled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.Browser.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser shutdown", zap.Error(err))
		} else {
			logger.Debug("Browser manager shut down")
		}
	}

	if c.Tunnels != nil {
		if err := c.Tunnels.Close(); err != nil {
			logger.Warn("Error during tunnel shutdown", zap.Error(err))
		} else {
			logger.Debug("Proxy tunnels shut down")
		}
	}

	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed")
	}

	logger.Info("All components shut down")
}

// newComponents handles the dependency injection for the capture pipeline.
func newComponents(ctx context.Context) (*Components, error) {
	logger := observability.GetLogger()
	cfg := config.Get()

	components := &Components{}

	// Release whatever was brought up if a later step fails.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components",
				zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Proxy registry
	if cfg.Proxy.RegistryPath != "" {
		registry, err := proxy.LoadFile(cfg.Proxy.RegistryPath, cfg.Proxy.DirectRegions)
		if err != nil {
			initializationErr = fmt.Errorf("failed to load proxy registry: %w", err)
			return nil, initializationErr
		}
		components.Registry = registry
		logger.Debug("Proxy registry loaded",
			zap.Int("regions", registry.Count()),
			zap.Strings("direct", cfg.Proxy.DirectRegions))
	} else {
		components.Registry = proxy.New(nil, cfg.Proxy.DirectRegions)
		logger.Warn("No proxy registry configured; only direct regions will be served")
	}

	// 2. Proxy tunnels
	components.Tunnels = proxy.NewManager(cfg.Proxy, logger)

	// 3. Plain HTTP client for probes and asset downloads
	clientCfg := network.NewDefaultClientConfig()
	clientCfg.Logger = logger.Named("httpclient")
	clientCfg.IgnoreTLSErrors = cfg.Network.IgnoreTLSErrors
	if cfg.Network.Timeout > 0 {
		clientCfg.RequestTimeout = cfg.Network.Timeout
	}
	if cfg.Network.UserAgent != "" {
		clientCfg.UserAgent = cfg.Network.UserAgent
	}
	httpClient := network.NewClient(clientCfg)

	// 4. Browser manager
	components.Browser = browser.NewManager(logger, cfg)
	logger.Debug("Browser manager initialized")

	// 5. Result store
	if cfg.Postgres.Enabled {
		dbPool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			initializationErr = fmt.Errorf("failed to create database connection pool: %w", err)
			return nil, initializationErr
		}
		components.DBPool = dbPool

		dbStore, err := store.New(ctx, dbPool, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize result store: %w", err)
			return nil, initializationErr
		}
		if err := dbStore.EnsureSchema(ctx); err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		components.Store = dbStore
		logger.Debug("Result store initialized")
	} else {
		components.Store = store.NopStore{}
		logger.Debug("Result store disabled; results stay in the workbook only")
	}

	// 6. Capture worker
	captureWorker := worker.New(
		cfg,
		logger,
		components.Registry,
		components.Tunnels,
		components.Browser,
		worker.NewDetector(httpClient, logger),
		archive.NewDownloader(httpClient, cfg.Download, logger),
		archive.NewArchiver(cfg.Archive, logger),
	)

	// 7. Scheduler
	captureEngine, err := engine.New(cfg, logger, captureWorker, components.Store)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize engine: %w", err)
		return nil, initializationErr
	}
	components.Engine = captureEngine

	// 8. Workbook accessor
	components.Workbook = workbook.New(cfg.Workbook, logger)

	logger.Info("All components initialized")
	return components, nil
}
