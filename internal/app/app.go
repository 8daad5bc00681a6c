// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/api"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/fetcher/cache"
	collyfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-crawler/internal/hash/sha256"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/catalog-crawler/internal/runner"
)

// App holds all the shared, long-lived services for the application.
// It is initialized once at startup and handed to the CLI commands.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	cache      *cache.Store
	controller *runner.Controller
	apiServer  *api.Server
}

// Build creates the process logger from cfg and then the App.
func Build(cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.OutputPaths...)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return NewApp(cfg, logger)
}

// NewApp wires the response cache, transport, run controller and HTTP API.
// It fails fast if any service cannot be initialized.
func NewApp(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("start_url", cfg.Crawler.StartURL),
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
	)
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}

	transportCfg := collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.Crawler.RequestTimeout,
	}
	deps := runner.Deps{
		Clock:  system.New(),
		IDs:    uuid.New(),
		Logger: logger.Named("run"),
	}
	if cfg.Crawler.MaxRequestsPerSecond > 0 {
		deps.Limiter = ratelimit.New(ratelimit.Config{
			RPS:   cfg.Crawler.MaxRequestsPerSecond,
			Burst: cfg.Crawler.Burst,
		})
	}
	if cfg.Cache.Enabled {
		a.cache = cache.New(cfg.CacheStoreConfig(), sha256.New(), logger.Named("cache"))
		if err := a.cache.Load(); err != nil {
			logger.Warn("response cache not loaded, starting empty", zap.Error(err))
		}
		transportCfg.Wrap = a.cache.Wrap
		deps.Cache = a.cache
	}
	deps.Transport = collyfetcher.New(transportCfg)

	controller, err := runner.New(runner.Settings{
		Crawl:      cfg.CrawlConfig(),
		Fetch:      cfg.FetchConfig(),
		Schema:     cfg.Schema(),
		Output:     cfg.WriterConfig(),
		OutputDir:  cfg.Output.Dir,
		RunLogFile: cfg.Logging.File,
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("run controller init failed: %w", err)
	}
	a.controller = controller
	a.apiServer = api.NewServer(controller, logger.Named("api"), api.Options{
		APIKey:  cfg.APIKey(),
		Timeout: cfg.Server.RequestTimeout,
	})
	return a, nil
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// Controller exposes the run controller.
func (a *App) Controller() *runner.Controller {
	return a.controller
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Serve runs the HTTP API until ctx is canceled or SIGINT/SIGTERM arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case err := <-errCh:
		return fmt.Errorf("serve http: %w", err)
	default:
		return nil
	}
}

// Close cancels an active run, waits for it to exit and flushes the logger.
// The run itself persists the response cache when it finishes.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("shutting down application services")
	var errs []error
	if err := a.controller.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.logger.Sync(); err != nil && !isSyncNoise(err) {
		errs = append(errs, fmt.Errorf("sync logger: %w", err))
	}
	return errors.Join(errs...)
}

// isSyncNoise reports the EINVAL/ENOTTY errors zap returns when syncing a terminal.
func isSyncNoise(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)
}
