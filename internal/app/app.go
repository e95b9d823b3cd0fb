// Package app initializes and holds the long-lived services of a crawl,
// acting as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	gcstorage "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemirror/internal/config"
	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/fetcher"
	collyfetcher "github.com/JakeFAU/sitemirror/internal/fetcher/colly"
	"github.com/JakeFAU/sitemirror/internal/handler"
	"github.com/JakeFAU/sitemirror/internal/logging"
	"github.com/JakeFAU/sitemirror/internal/markup"
	"github.com/JakeFAU/sitemirror/internal/pipeline"
	"github.com/JakeFAU/sitemirror/internal/policy/ratelimit"
	"github.com/JakeFAU/sitemirror/internal/policy/robots"
	"github.com/JakeFAU/sitemirror/internal/proxy"
	"github.com/JakeFAU/sitemirror/internal/restriction"
	fsstore "github.com/JakeFAU/sitemirror/internal/storage/fs"
	"github.com/JakeFAU/sitemirror/internal/storage/memory"
	"github.com/JakeFAU/sitemirror/internal/storage/postgres"
	"github.com/JakeFAU/sitemirror/internal/storage/sqlite"
	"github.com/JakeFAU/sitemirror/internal/transform"
	"github.com/JakeFAU/sitemirror/internal/uri"
	fswriter "github.com/JakeFAU/sitemirror/internal/writer/fs"
	gcswriter "github.com/JakeFAU/sitemirror/internal/writer/gcs"
)

// Store persists both the item registry and the proxy pool.
type Store interface {
	crawler.ItemStore
	proxy.Store
}

// App holds the shared services of one command invocation.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	runID   string
	store   Store
	writer  handler.Writer
	fetcher fetcher.Fetcher
	closers []func() error
}

type options struct {
	fs      afero.Fs
	fetcher fetcher.Fetcher
	writer  handler.Writer
}

// Option overrides a service New would otherwise build from config.
type Option func(*options)

// WithFs sets the filesystem used by the fs store and writer.
func WithFs(fsys afero.Fs) Option {
	return func(o *options) { o.fs = fsys }
}

// WithFetcher replaces the colly fetcher. The retry decorator still applies.
func WithFetcher(f fetcher.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithWriter replaces the configured output writer.
func WithWriter(w handler.Writer) Option {
	return func(o *options) { o.writer = w }
}

// New builds the store, writer and fetcher described by cfg. It fails fast
// when any of them cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	o := options{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(&o)
	}
	runID := uuid.NewString()
	a := &App{
		cfg:    cfg,
		runID:  runID,
		logger: logging.OrNop(logger).With(zap.String("run_id", runID)),
	}

	store, closeStore, err := openStore(ctx, cfg.Store, o.fs)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	a.store = store
	a.addCloser(closeStore)
	a.logger.Info("store ready", zap.String("driver", cfg.Store.Driver))

	if o.writer != nil {
		a.writer = o.writer
	} else {
		w, closeWriter, err := openWriter(ctx, cfg.Output, o.fs)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("init writer: %w", err)
		}
		a.writer = w
		a.addCloser(closeWriter)
	}

	f := o.fetcher
	if f == nil {
		f = collyfetcher.New(collyfetcher.Config{
			UserAgent:   cfg.Crawl.UserAgent,
			Timeout:     cfg.HTTP.Timeout,
			MaxBodySize: cfg.HTTP.MaxBodySize,
		})
	}
	if cfg.HTTP.MaxRetries > 0 {
		policy := fetcher.NewExponentialRetryPolicy(cfg.HTTP.MaxRetries+1, cfg.HTTP.BackoffInitial, cfg.HTTP.BackoffMax)
		f = fetcher.WithRetry(policy, a.logger.Named("retry"))(f)
	}
	a.fetcher = f
	return a, nil
}

func (a *App) addCloser(fn func() error) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// RunID identifies this invocation in logs and the status server.
func (a *App) RunID() string { return a.runID }

// Store returns the configured store.
func (a *App) Store() Store { return a.store }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Operation assembles a pipeline over the app's services.
func (a *App) Operation(ctx context.Context, reporter pipeline.Reporter) (*pipeline.Operation, error) {
	crawl := a.cfg.Crawl
	starts := make([]*url.URL, 0, len(crawl.StartURIs))
	for _, raw := range crawl.StartURIs {
		u, err := uri.Parse(raw)
		if err != nil {
			return nil, err
		}
		starts = append(starts, u)
	}
	rs, err := restriction.ParseAll(crawl.Restrictions)
	if err != nil {
		return nil, fmt.Errorf("parse restrictions: %w", err)
	}

	tables := handler.NewTables()
	markup.RegisterDefaults(tables)
	tables.Writers.Register(handler.Wildcard, a.writer)
	for ct, limit := range crawl.SizeLimits {
		// Zero is registered too so it overrides a wildcard ceiling for ct.
		tables.SizeLimits.Register(ct, limit)
	}

	deps := pipeline.Deps{
		Store:       a.store,
		Fetcher:     a.fetcher,
		Tables:      tables,
		Transformer: transform.StripHost(crawl.BasePath),
		ProxyStore:  a.store,
		Selection:   a.selection(),
		Robots:      robots.New(crawl.RespectRobots, crawl.UserAgent, nil, a.logger.Named("robots")),
		Reporter:    reporter,
		Logger:      a.logger.Named("pipeline"),
	}
	if a.cfg.RateLimit.RPS > 0 {
		deps.Limiter = ratelimit.New(ratelimit.Config{DefaultRPS: a.cfg.RateLimit.RPS, DefaultBurst: a.cfg.RateLimit.Burst})
	}
	if a.cfg.Proxy.Enabled {
		pool, err := proxy.LoadPool(ctx, a.store)
		if err != nil {
			return nil, err
		}
		deps.Proxies = pool
		a.logger.Info("proxy pool loaded", zap.Int("proxies", pool.Len()))
	}

	op, err := pipeline.New(ctx, pipeline.Config{
		StartURIs:       starts,
		Restrictions:    rs,
		Concurrency:     crawl.Concurrency,
		CheckpointEvery: crawl.CheckpointEvery,
		Lifetime:        crawl.Lifetime,
		DelayMin:        crawl.DelayMin,
		DelayMax:        crawl.DelayMax,
		UseProxies:      a.cfg.Proxy.Enabled,
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	return op, nil
}

// selection builds the proxy chain from config: active proxies, optionally
// capped by attempts, ordered by last use and limited per item.
func (a *App) selection() proxy.Selection {
	p := a.cfg.Proxy
	steps := []proxy.Step{proxy.OnlyActive()}
	if p.MaxAttempts > 0 {
		steps = append(steps, proxy.MaxAttempts(p.MaxAttempts))
	}
	dir := proxy.Ascending
	if strings.EqualFold(p.Order, "desc") {
		dir = proxy.Descending
	}
	steps = append(steps, proxy.SortByLastUse(dir))
	if p.Limit > 0 {
		steps = append(steps, proxy.Limit(p.Limit))
	}
	return proxy.Chain(steps...)
}

// Close releases services in reverse order of creation and flushes the logger.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg config.StoreConfig, fsys afero.Fs) (Store, func() error, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.NewStore(), nil, nil
	case config.DriverFS:
		s, err := fsstore.New(fsys, fsstore.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, postgres.Config{DSN: cfg.DSN, TablePrefix: cfg.TablePrefix})
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func openWriter(ctx context.Context, cfg config.OutputConfig, fsys afero.Fs) (handler.Writer, func() error, error) {
	switch cfg.Driver {
	case config.DriverFS:
		w, err := fswriter.New(fsys, fswriter.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, nil, err
		}
		return w, nil, nil
	case config.DriverGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client: %w", err)
		}
		w, err := gcswriter.New(client, gcswriter.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return w, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown output driver %q", cfg.Driver)
	}
}
