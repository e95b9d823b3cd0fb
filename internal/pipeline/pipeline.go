// Package pipeline runs the Download, Process and Write phases over the item
// registry and checkpoints its state to the configured store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/fetcher"
	"github.com/JakeFAU/sitemirror/internal/handler"
	"github.com/JakeFAU/sitemirror/internal/logging"
	"github.com/JakeFAU/sitemirror/internal/metrics"
	"github.com/JakeFAU/sitemirror/internal/proxy"
	"github.com/JakeFAU/sitemirror/internal/restriction"
	"github.com/JakeFAU/sitemirror/internal/transform"
)

// Configuration errors returned by New.
var (
	ErrNoStartURI = errors.New("no start uri configured")
	ErrNoWriter   = errors.New("no writer configured")
	ErrNoStore    = errors.New("no item store configured")
	ErrNoFetcher  = errors.New("no fetcher configured")
)

// Config holds the crawl parameters.
type Config struct {
	StartURIs    []*url.URL
	Restrictions []restriction.Restriction
	// Concurrency bounds the number of items downloaded, processed or written
	// at once.
	Concurrency int
	// CheckpointEvery saves the registry after this many finished items; zero
	// leaves only the end-of-phase checkpoint.
	CheckpointEvery int
	// Lifetime stamps an expiry on downloaded items; zero means never.
	Lifetime time.Duration
	DelayMin time.Duration
	DelayMax time.Duration
	// UseProxies routes downloads through the proxy pool. With an empty pool
	// every download fails with status 0.
	UseProxies bool
}

// RobotsPolicy reports whether a URI may be fetched.
type RobotsPolicy interface {
	Allowed(ctx context.Context, u *url.URL) bool
}

// Limiter blocks until a request to u may be sent.
type Limiter interface {
	Wait(ctx context.Context, u *url.URL) error
}

// Reporter receives progress updates while a phase runs.
type Reporter interface {
	Progress(phase Phase, done int64, pending int)
	Done(s Summary)
}

// Deps are the collaborators an Operation drives.
type Deps struct {
	Store       crawler.ItemStore
	Fetcher     fetcher.Fetcher
	Tables      handler.Tables
	Transformer transform.Transformer

	Proxies    *proxy.Pool
	ProxyStore proxy.Store
	Selection  proxy.Selection

	Robots   RobotsPolicy
	Limiter  Limiter
	Reporter Reporter

	Clock   crawler.Clock
	Sleeper crawler.Sleeper
	// Jitter returns a value in [0, n]; used to randomize the request delay.
	Jitter func(n int64) int64
	Logger *zap.Logger
}

// Operation owns the registry for one crawl and runs its phases.
type Operation struct {
	cfg    Config
	deps   Deps
	reg    *crawler.Registry
	logger *zap.Logger

	saveMu sync.Mutex
}

// New validates cfg and deps, restores the registry from the store and seeds
// it with the start URIs.
func New(ctx context.Context, cfg Config, deps Deps) (*Operation, error) {
	if len(cfg.StartURIs) == 0 {
		return nil, ErrNoStartURI
	}
	if deps.Store == nil {
		return nil, ErrNoStore
	}
	if deps.Fetcher == nil {
		return nil, ErrNoFetcher
	}
	if deps.Tables.Writers == nil || len(deps.Tables.Writers.Keys()) == 0 {
		return nil, ErrNoWriter
	}
	if deps.Tables.Parsers == nil {
		deps.Tables.Parsers = handler.NewTable[handler.Parser]()
	}
	if deps.Tables.Preparers == nil {
		deps.Tables.Preparers = handler.NewTable[handler.Preparer]()
	}
	if deps.Tables.SizeLimits == nil {
		deps.Tables.SizeLimits = handler.NewTable[int64]()
	}
	if deps.Transformer == nil {
		deps.Transformer = transform.StripHost("")
	}
	if deps.Selection == nil {
		deps.Selection = proxy.Chain()
	}
	if deps.Clock == nil {
		deps.Clock = crawler.SystemClock
	}
	if deps.Sleeper == nil {
		deps.Sleeper = crawler.TimerSleeper{}
	}
	if deps.Jitter == nil {
		deps.Jitter = defaultJitter
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.DelayMax < cfg.DelayMin {
		return nil, fmt.Errorf("delay max %s is below delay min %s", cfg.DelayMax, cfg.DelayMin)
	}
	if cfg.UseProxies && deps.Proxies == nil {
		deps.Proxies = proxy.NewPool(nil)
	}

	rs := restriction.Effective(cfg.Restrictions, cfg.StartURIs)
	reg, err := crawler.LoadRegistry(ctx, deps.Store, rs, deps.Clock.Now())
	if err != nil {
		return nil, err
	}
	for _, u := range cfg.StartURIs {
		reg.AddIfAbsent(u)
	}

	return &Operation{
		cfg:    cfg,
		deps:   deps,
		reg:    reg,
		logger: logging.OrNop(deps.Logger),
	}, nil
}

// Registry exposes the item registry for status queries.
func (o *Operation) Registry() *crawler.Registry { return o.reg }

// Records returns a snapshot of every item's persisted projection.
func (o *Operation) Records() []crawler.Record { return o.reg.Records() }

// Checkpoint saves the registry snapshot to the store.
func (o *Operation) Checkpoint(ctx context.Context, phase Phase) error {
	o.saveMu.Lock()
	defer o.saveMu.Unlock()
	if err := o.deps.Store.Save(ctx, o.reg.Records()); err != nil {
		return fmt.Errorf("checkpoint %s: %w", phase, err)
	}
	metrics.ObserveCheckpoint(string(phase))
	return nil
}

// Run executes Download, Process and Write in order, stopping at the first
// phase that returns an error.
func (o *Operation) Run(ctx context.Context) ([]Summary, error) {
	phases := []func(context.Context) (Summary, error){o.Download, o.Process, o.Write}
	out := make([]Summary, 0, len(phases))
	for _, run := range phases {
		s, err := run(ctx)
		out = append(out, s)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// ticker counts finished items and checkpoints every n of them.
type ticker struct {
	op    *Operation
	phase Phase
	done  atomic.Int64
}

func (o *Operation) newTicker(phase Phase) *ticker {
	return &ticker{op: o, phase: phase}
}

func (t *ticker) tick(ctx context.Context) {
	n := t.done.Add(1)
	pending := t.op.reg.Pending()
	metrics.SetQueueDepth(pending)
	if t.op.deps.Reporter != nil {
		t.op.deps.Reporter.Progress(t.phase, n, pending)
	}
	every := int64(t.op.cfg.CheckpointEvery)
	if every <= 0 || n%every != 0 {
		return
	}
	if err := t.op.Checkpoint(context.WithoutCancel(ctx), t.phase); err != nil {
		t.op.logger.Warn("checkpoint failed", zap.String("phase", string(t.phase)), zap.Error(err))
	}
}

// finish runs the final checkpoint and reports the summary.
func (o *Operation) finish(ctx context.Context, s *Summary, runErr error) (Summary, error) {
	if err := o.Checkpoint(context.WithoutCancel(ctx), s.Phase); err != nil {
		runErr = errors.Join(runErr, err)
	}
	o.logger.Info("phase finished",
		zap.String("phase", string(s.Phase)),
		zap.Int64("total", s.Total),
		zap.Int64("succeeded", s.Succeeded),
		zap.Int64("failed", s.Failed),
		zap.Int64("skipped", s.Skipped),
		zap.String("bytes", s.HumanBytes()),
	)
	if o.deps.Reporter != nil {
		o.deps.Reporter.Done(*s)
	}
	return *s, runErr
}

func interrupted(ctx context.Context, phase Phase) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s interrupted: %w", phase, err)
	}
	return nil
}
