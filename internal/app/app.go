// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the serve and crawl commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/webspider/internal/api"
	"github.com/JakeFAU/webspider/internal/config"
	collyfetcher "github.com/JakeFAU/webspider/internal/fetcher/colly"
	"github.com/JakeFAU/webspider/internal/policy/ratelimit"
	"github.com/JakeFAU/webspider/internal/progress"
	"github.com/JakeFAU/webspider/internal/progress/sinks"
	"github.com/JakeFAU/webspider/internal/sitetree"
	"github.com/JakeFAU/webspider/internal/spider"
	"github.com/JakeFAU/webspider/internal/storage"
	boltstore "github.com/JakeFAU/webspider/internal/storage/bolt"
	"github.com/JakeFAU/webspider/internal/storage/memory"
	pgstore "github.com/JakeFAU/webspider/internal/storage/postgres"
)

// App holds the shared, long-lived services. It is built once at startup
// and closed on shutdown.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	store      storage.MessageStore
	tree       *sitetree.Tree
	registrar  *sitetree.Registrar
	hub        *progress.Hub
	reporter   *progress.Reporter
	controller *spider.Controller
	server     *api.Server
}

type options struct {
	registerer prometheus.Registerer
	fetcher    sitetree.Fetcher
	engines    spider.EngineFactory
}

// Option customizes NewApp.
type Option func(*options)

// WithRegisterer registers progress metrics against reg instead of the
// default registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithFetcher replaces the colly prober used for site registration.
func WithFetcher(f sitetree.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithEngineFactory replaces the colly engine factory.
func WithEngineFactory(f spider.EngineFactory) Option {
	return func(o *options) { o.engines = f }
}

// NewApp wires every service from cfg. It fails fast when a backing store
// cannot be opened.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	logger.Info("initializing application services", zap.String("storage", cfg.Storage.Driver))

	defaults, err := cfg.ScanOptions()
	if err != nil {
		return nil, err
	}
	tree, err := sitetree.New(cfg.Spider.Includes, cfg.Spider.Excludes)
	if err != nil {
		return nil, fmt.Errorf("build site tree: %w", err)
	}
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := restoreTree(store, tree, logger); err != nil {
		_ = store.Close()
		return nil, err
	}

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	hub := progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		FlushInterval:  time.Duration(cfg.Progress.FlushIntervalMs) * time.Millisecond,
		Logger:         logger.Named("progress"),
	}, sinks.NewLogSink(logger.Named("scan-events")), promSink)
	reporter := progress.NewReporter(hub, logger.Named("progress"))

	recorder := sitetree.NewRecorder(store, tree)
	fetchCfg := collyfetcher.Config{
		UserAgent:     cfg.Spider.UserAgent,
		RespectRobots: cfg.Spider.RespectRobots,
		Timeout:       cfg.RequestTimeout(),
		Limiter: ratelimit.New(ratelimit.Config{
			RPS:   cfg.Spider.RequestsPerSecond,
			Burst: cfg.Spider.Burst,
		}),
	}
	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = collyfetcher.NewProber(fetchCfg, logger)
	}
	engines := o.engines
	if engines == nil {
		engines = collyfetcher.NewFactory(fetchCfg, tree, recorder, logger)
	}
	registrar := sitetree.NewRegistrar(fetcher, recorder, tree)

	controller := spider.NewController(spider.ControllerConfig{
		Engines:  engines,
		Tree:     tree,
		Store:    store,
		Defaults: defaults,
		Listener: reporter,
		Observer: reporter,
		Logger:   logger.Named("controller"),
	})

	logger.Info("application services initialized", zap.String("run_id", reporter.RunID().String()))
	return &App{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		tree:       tree,
		registrar:  registrar,
		hub:        hub,
		reporter:   reporter,
		controller: controller,
		server:     api.NewServer(controller, registrar, cfg, logger),
	}, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.MessageStore, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory, "":
		logger.Info("using in-memory message store; messages are lost on exit")
		return memory.NewMessageStore(), nil
	case config.DriverBolt:
		logger.Info("opening bolt message store", zap.String("path", cfg.Storage.BoltPath))
		store, err := boltstore.NewMessageStore(cfg.Storage.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("initialize storage: %w", err)
		}
		return store, nil
	case config.DriverPostgres:
		logger.Info("connecting to PostgreSQL", zap.String("table", cfg.Storage.Table))
		store, err := pgstore.NewMessageStore(ctx, pgstore.MessageStoreConfig{
			DSN:             cfg.DB.DSN,
			Table:           cfg.Storage.Table,
			MaxConns:        int32(cfg.DB.MaxConns), //nolint:gosec // bounded by config validation
			MinConns:        int32(cfg.DB.MinConns), //nolint:gosec // bounded by config validation
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize storage: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("initialize storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}
}

// latestIndex is implemented by stores that remember the latest message per
// URI across restarts.
type latestIndex interface {
	EachLatest(fn func(uri string, ref int64) error) error
}

// restoreTree files previously stored messages back into tree so scans can
// seed from sites registered by an earlier process.
func restoreTree(store storage.MessageStore, tree *sitetree.Tree, logger *zap.Logger) error {
	idx, ok := store.(latestIndex)
	if !ok {
		return nil
	}
	restored := 0
	err := idx.EachLatest(func(uri string, ref int64) error {
		if _, ok := tree.Add(uri, ref); ok {
			restored++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("restore site tree: %w", err)
	}
	logger.Info("restored site tree from store", zap.Int("nodes", restored))
	return nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Controller returns the scan controller.
func (a *App) Controller() *spider.Controller { return a.controller }

// Registrar returns the site registrar.
func (a *App) Registrar() *sitetree.Registrar { return a.registrar }

// Tree returns the site tree.
func (a *App) Tree() *sitetree.Tree { return a.tree }

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// WaitForScan blocks until scan id finishes or ctx ends. A scan that never
// started is reported as an error.
func (a *App) WaitForScan(ctx context.Context, id int) (spider.Summary, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		scan, ok := a.controller.Scan(id)
		if !ok {
			return spider.Summary{}, fmt.Errorf("scan %d not found", id)
		}
		summary := scan.Summary()
		switch {
		case summary.State == spider.StateNotStarted:
			return summary, fmt.Errorf("scan %d did not start", id)
		case summary.State == spider.StateFinished || scan.IsStopped():
			return summary, nil
		}
		select {
		case <-ctx.Done():
			return summary, fmt.Errorf("wait for scan %d: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close stops every scan, flushes the progress hub and closes the store.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("shutting down application services")
	a.controller.StopAllScans()
	var errs []error
	if err := a.hub.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error during shutdown", zap.Error(err))
		return err
	}
	return nil
}
