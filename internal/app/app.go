// Package app wires configuration into long-lived services and runs crawl
// and replay commands with them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitearchiver/internal/browser"
	"github.com/JakeFAU/sitearchiver/internal/config"
	"github.com/JakeFAU/sitearchiver/internal/crawler"
	collyfetcher "github.com/JakeFAU/sitearchiver/internal/fetcher/colly"
	"github.com/JakeFAU/sitearchiver/internal/metrics"
	"github.com/JakeFAU/sitearchiver/internal/publisher"
	pspub "github.com/JakeFAU/sitearchiver/internal/publisher/pubsub"
	"github.com/JakeFAU/sitearchiver/internal/storage"
	"github.com/JakeFAU/sitearchiver/internal/storage/gcs"
	"github.com/JakeFAU/sitearchiver/internal/storage/local"
)

// BrowserFactory launches the browser used for one crawl.
type BrowserFactory func(cfg browser.Config, logger *zap.Logger) (crawler.Browser, error)

// FetcherFactory builds the direct fetcher.
type FetcherFactory func(cfg collyfetcher.Config, logger *zap.Logger) crawler.Fetcher

// Option customizes App construction.
type Option func(*App)

// WithBrowserFactory replaces the Chrome launcher.
func WithBrowserFactory(f BrowserFactory) Option {
	return func(a *App) { a.newBrowser = f }
}

// WithFetcherFactory replaces the colly fetcher.
func WithFetcherFactory(f FetcherFactory) Option {
	return func(a *App) { a.newFetcher = f }
}

// WithBlobStore overrides the configured export provider.
func WithBlobStore(s storage.BlobStore) Option {
	return func(a *App) { a.store = s }
}

// WithPublisher overrides the configured notification provider.
func WithPublisher(p publisher.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// App holds the services shared by every command.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     storage.BlobStore
	publisher publisher.Publisher

	newBrowser BrowserFactory
	newFetcher FetcherFactory

	metricsSrv *http.Server
	closers    []func() error
}

// New builds the App from cfg. Export and notification clients are
// created according to their providers unless overridden by options.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:        cfg,
		logger:     logger,
		newBrowser: launchChrome,
		newFetcher: newCollyFetcher,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.store == nil {
		if err := a.initExport(ctx); err != nil {
			return nil, err
		}
	}
	if a.publisher == nil {
		if err := a.initNotify(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.startMetrics()
	return a, nil
}

func launchChrome(cfg browser.Config, logger *zap.Logger) (crawler.Browser, error) {
	b, err := browser.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func newCollyFetcher(cfg collyfetcher.Config, logger *zap.Logger) crawler.Fetcher {
	return collyfetcher.New(cfg, logger)
}

func (a *App) initExport(ctx context.Context) error {
	switch a.cfg.Export.Provider {
	case "local":
		a.logger.Info("Using local export", zap.String("dir", a.cfg.Export.LocalDir))
		s, err := local.New(local.Config{BaseDir: a.cfg.Export.LocalDir})
		if err != nil {
			return fmt.Errorf("failed to initialize export: %w", err)
		}
		a.store = s
	case "gcs":
		a.logger.Info("Using GCS export", zap.String("bucket", a.cfg.Export.GCSBucket))
		s, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Export.GCSBucket})
		if err != nil {
			return fmt.Errorf("failed to initialize export: %w", err)
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
	default:
		a.logger.Debug("Archive export disabled")
	}
	return nil
}

func (a *App) initNotify(ctx context.Context) error {
	if a.cfg.Notify.Provider != "pubsub" {
		a.logger.Debug("Crawl notifications disabled")
		return nil
	}
	a.logger.Info("Connecting to GCP Pub/Sub", zap.String("topic", a.cfg.Notify.Topic))
	p, err := pspub.Open(ctx, a.cfg.Notify.ProjectID, a.cfg.Notify.Topic)
	if err != nil {
		return fmt.Errorf("failed to initialize notifications: %w", err)
	}
	a.publisher = p
	a.closers = append(a.closers, p.Close)
	return nil
}

func (a *App) startMetrics() {
	if a.cfg.Metrics.Addr == "" {
		return
	}
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Handle("/metrics", metrics.Handler())
	a.metricsSrv = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := a.metricsSrv
	go func() {
		a.logger.Info("Metrics server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Close shuts down the metrics server and releases cloud clients.
func (a *App) Close() {
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.logger.Warn("Metrics server shutdown error", zap.Error(err))
		}
		cancel()
		a.metricsSrv = nil
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("Error closing service", zap.Error(err))
		}
	}
	a.closers = nil
}
