// Package app wires fetchkit's components into one coordinator:
// configuration, logging, the local cache, mirror policy, transport
// processors, and the resource manager. It owns the process-level
// shutdown sequence and signal handling.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"

	"github.com/fetchkit/fetchkit/internal/cache"
	"github.com/fetchkit/fetchkit/internal/config"
	"github.com/fetchkit/fetchkit/internal/logger"
	"github.com/fetchkit/fetchkit/internal/metrics"
	"github.com/fetchkit/fetchkit/internal/mirror"
	"github.com/fetchkit/fetchkit/internal/progress"
	"github.com/fetchkit/fetchkit/internal/resource"
	"github.com/fetchkit/fetchkit/internal/taxonomy"
	"github.com/fetchkit/fetchkit/internal/transport"
)

// App is the main application coordinator.
type App struct {
	configLoader func() (*config.Config, error)

	config  *config.Config
	logger  *logger.Logger
	db      *cache.DB
	cache   *cache.Manager
	metrics *metrics.Metrics
	policy  *mirror.Policy
	mgr     *resource.Manager

	shutdownChan  chan struct{}
	mu            sync.RWMutex
	shutdownOnce  sync.Once
	isInitialized bool
}

// Option customizes App construction.
type Option func(*App)

// WithConfigLoader overrides how Initialize loads configuration,
// primarily for tests that need an isolated viper instance.
func WithConfigLoader(loader func() (*config.Config, error)) Option {
	return func(a *App) { a.configLoader = loader }
}

// New creates a new application instance.
func New(opts ...Option) (*App, error) {
	a := &App{shutdownChan: make(chan struct{})}
	for _, opt := range opts {
		opt(a)
	}
	if a.configLoader == nil {
		a.configLoader = func() (*config.Config, error) { return config.Load() }
	}
	return a, nil
}

// Initialize loads configuration and brings up the logger, local
// cache, and mirror policy.
func (app *App) Initialize() error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.isInitialized {
		return fmt.Errorf("application already initialized")
	}

	cfg, err := app.configLoader()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	app.config = cfg

	var output io.Writer = os.Stdout
	logConfig := &logger.Config{
		Level:         cfg.Log.Level,
		Output:        output,
		Pretty:        cfg.Log.Format == "text" || cfg.Log.Format == "pretty",
		IncludeCaller: true,
	}
	app.logger = logger.New(logConfig)
	app.logger.Info("initializing fetchkit",
		"version", cfg.Version,
		"config", viper.ConfigFileUsed(),
	)

	if err := os.MkdirAll(cfg.Cache.Directory, 0o750); err != nil {
		return taxonomy.New(taxonomy.FilesystemCannotCreateDirectory, cfg.Cache.Directory, err)
	}
	if err := os.MkdirAll(cfg.Cache.PermanentDirectory, 0o750); err != nil {
		return taxonomy.New(taxonomy.FilesystemCannotCreateDirectory, cfg.Cache.PermanentDirectory, err)
	}

	dbCfg := cache.DefaultConfig()
	dbCfg.Path = filepath.Join(cfg.Cache.Directory, "fetchkit-cache.db")
	db, err := cache.NewDB(dbCfg)
	if err != nil {
		return taxonomy.New(taxonomy.CacheStorageError, "failed to open cache database", err)
	}
	app.db = db

	cacheMgr, err := cache.NewManager(db, cfg.Cache.Directory, cfg.Cache.PermanentDirectory, app.logger)
	if err != nil {
		return taxonomy.New(taxonomy.CacheStorageError, "failed to initialize cache manager", err)
	}
	app.cache = cacheMgr

	app.metrics = metrics.New()
	app.policy = mirror.New(cfg.Mirror.RetryBudget, resource.DefaultFactory(), nil, app.logger)

	app.logger.Info("application initialized successfully")
	app.isInitialized = true
	return nil
}

// InitializeResourceManager brings up the download queues, registers
// the default web transport processor, and is ready to accept
// requests. ctx governs the lifetime of the underlying queues.
func (app *App) InitializeResourceManager(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if !app.isInitialized {
		return fmt.Errorf("application not initialized")
	}
	if app.mgr != nil {
		return nil
	}

	mgr := resource.New(ctx, app.config.Queue.SimultaneousDownloads, app.config.Queue.PriorityCapacity, app.cache, app.policy, app.metrics, app.logger)

	webCfg := transport.DefaultWebProcessorConfig()
	webCfg.RequestsPerSecond = float64(app.config.Mirror.RequestsPerSecond)
	webCfg.Burst = app.config.Mirror.Burst
	webCfg.RetriableStatusCodes = app.config.Mirror.RetriableStatusCodes
	webProcessor, err := transport.NewWebProcessor(webCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize web processor: %w", err)
	}
	mgr.AddProcessor(webProcessor)

	app.mgr = mgr
	app.logger.Info("resource manager initialized successfully")
	return nil
}

// Request submits resources for download, consulting the cache first.
func (app *App) Request(ctx context.Context, reqs []resource.Request) ([]resource.DownloadRequest, error) {
	app.mu.RLock()
	initialized := app.isInitialized
	mgr := app.mgr
	app.mu.RUnlock()

	if !initialized {
		return nil, fmt.Errorf("application not initialized")
	}
	if mgr == nil {
		if err := app.InitializeResourceManager(ctx); err != nil {
			return nil, err
		}
		app.mu.RLock()
		mgr = app.mgr
		app.mu.RUnlock()
	}
	return mgr.Request(ctx, reqs), nil
}

// GetProgress returns the aggregate progress across every tracked
// download, or nil if the resource manager has not been initialized.
func (app *App) GetProgress() *progress.Node {
	app.mu.RLock()
	defer app.mu.RUnlock()
	if app.mgr == nil {
		return nil
	}
	return app.mgr.Progress()
}

// GetResourceManager returns the resource manager.
func (app *App) GetResourceManager() *resource.Manager {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.mgr
}

// GetCache returns the local cache manager.
func (app *App) GetCache() *cache.Manager {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.cache
}

// GetMetrics returns the application's monotonic counters.
func (app *App) GetMetrics() *metrics.Metrics {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.metrics
}

// Stop stops the application gracefully, closing the cache database.
func (app *App) Stop() error {
	app.shutdownOnce.Do(func() {
		close(app.shutdownChan)

		app.mu.Lock()
		defer app.mu.Unlock()

		if app.logger != nil {
			app.logger.Info("shutting down fetchkit...")
		}

		if app.mgr != nil {
			app.mgr.CancelAll()
		}

		if app.db != nil {
			if err := app.db.Close(); err != nil && app.logger != nil {
				app.logger.Error(err, "failed to close cache database")
			}
		}

		if app.logger != nil {
			app.logger.Info("fetchkit shutdown complete")
		}
	})

	return nil
}

func (app *App) handleSignals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	app.setupSignalHandling(sigChan)

	select {
	case sig := <-sigChan:
		if app.logger != nil {
			app.logger.Info("received signal", "signal", sig)
		}
		cancel()
	case <-app.shutdownChan:
		cancel()
	}
}
