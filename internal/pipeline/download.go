package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/remeh/sizedwaitgroup"
	"github.com/tomnomnom/linkheader"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/fetcher"
	"github.com/JakeFAU/sitemirror/internal/handler"
	"github.com/JakeFAU/sitemirror/internal/markup"
	"github.com/JakeFAU/sitemirror/internal/metrics"
	"github.com/JakeFAU/sitemirror/internal/proxy"
	"github.com/JakeFAU/sitemirror/internal/uri"
)

// Reason phrases recorded for downloads that were refused or discarded.
const (
	ReasonRobots     = "blocked by robots.txt"
	ReasonNoProxy    = "no usable proxy"
	ReasonTooLarge   = "body exceeds size limit"
	ReasonTruncated  = "body truncated"
	ReasonRateLimit  = "rate limit wait aborted"
	downloadMethod   = "GET"
	linkHeaderName   = "Link"
	reasonStoreError = "store body"
)

// Download fetches every allowed item whose download has not been attempted,
// following the links found in successful responses until the queue drains.
func (o *Operation) Download(ctx context.Context) (Summary, error) {
	o.deps.Tables.Parsers.EnsureWildcard(markup.HTMLParser)
	o.reg.Requeue()

	var (
		c        counter
		tick     = o.newTicker(PhaseDownload)
		pool     = sizedwaitgroup.New(o.cfg.Concurrency)
		inflight atomic.Int64
		wake     = make(chan struct{}, 1)
	)

	for ctx.Err() == nil {
		it, ok := o.reg.Next()
		if !ok {
			if inflight.Load() == 0 {
				// Workers enqueue before they finish, so an empty queue with
				// nothing in flight means the crawl is done.
				if o.reg.Pending() == 0 {
					break
				}
				continue
			}
			select {
			case <-wake:
			case <-ctx.Done():
			}
			continue
		}

		inflight.Add(1)
		pool.Add()
		go func(it *crawler.Item) {
			defer pool.Done()
			defer func() {
				inflight.Add(-1)
				select {
				case wake <- struct{}{}:
				default:
				}
			}()
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()

			c.record(o.downloadItem(ctx, it, &c))
			tick.tick(ctx)
		}(it)
	}
	pool.Wait()

	s := c.summary(PhaseDownload)
	return o.finish(ctx, &s, interrupted(ctx, PhaseDownload))
}

// downloadItem runs one item to a finalized outcome. Cancellation of ctx only
// shortens the politeness delay; the fetch itself completes.
func (o *Operation) downloadItem(ctx context.Context, it *crawler.Item, c *counter) outcome {
	workCtx := context.WithoutCancel(ctx)
	log := o.logger.With(zap.String("uri", it.String()))

	if !it.Allow {
		log.Debug("skip: not allowed")
		metrics.ObserveItem(string(PhaseDownload), string(outcomeSkipped))
		return outcomeSkipped
	}
	if it.Download.Set() {
		log.Debug("skip: already downloaded", zap.Stringer("status", it.Download))
		metrics.ObserveItem(string(PhaseDownload), string(outcomeSkipped))
		return outcomeSkipped
	}

	expires := it.Expires
	switch {
	case o.cfg.Lifetime <= 0:
		expires = nil
	case expires == nil:
		exp := o.deps.Clock.Now().Add(o.cfg.Lifetime)
		expires = &exp
	}

	resp := o.fetch(workCtx, ctx, it)

	size := resp.Size
	if n := int64(len(resp.Body)); n > size {
		size = n
	}
	within := true
	switch {
	case resp.Truncated:
		within = false
		resp.ReasonPhrase = ReasonTruncated
		log.Warn("body truncated by fetcher", zap.Int64("size", size), zap.Int("kept", len(resp.Body)))
	case resp.StatusCode != 0:
		// A ceiling of zero or less means the type is unlimited.
		if limit, limited := o.deps.Tables.SizeLimits.Lookup(resp.ContentType); limited && limit > 0 && size > limit {
			within = false
			resp.ReasonPhrase = ReasonTooLarge
			log.Warn("body exceeds size limit", zap.Int64("size", size), zap.Int64("limit", limit))
		}
	}

	ok := resp.Success() && within
	// Error pages are kept too so a failed item can be inspected later.
	if within && resp.StatusCode != 0 && (ok || len(resp.Body) > 0) {
		if err := o.deps.Store.SaveBody(workCtx, it.URI.String(), resp.Body); err != nil {
			ok = false
			resp.ReasonPhrase = fmt.Sprintf("%s: %v", reasonStoreError, err)
		}
	}

	o.reg.Update(it, func(it *crawler.Item) {
		it.StatusCode = resp.StatusCode
		it.ReasonPhrase = resp.ReasonPhrase
		it.ContentType = resp.ContentType
		it.Download = crawler.StatusOf(ok)
		it.Expires = expires
		if ok {
			it.Body = resp.Body
			// A fresh body invalidates the previous write.
			it.Write = crawler.StatusUnset
		}
	})

	if !ok {
		log.Warn("download failed", zap.Int("status", resp.StatusCode), zap.String("reason", resp.ReasonPhrase))
		metrics.ObserveItem(string(PhaseDownload), string(outcomeFailure))
		return outcomeFailure
	}

	c.bytes.Add(size)
	metrics.ObserveBytes(it.URI.String(), size)
	found := o.discover(it, resp)
	o.reg.Update(it, (*crawler.Item).Release)

	log.Info("downloaded",
		zap.Int("status", resp.StatusCode),
		zap.String("content_type", resp.ContentType),
		zap.Int64("size", size),
		zap.Int("new_links", found),
	)
	metrics.ObserveItem(string(PhaseDownload), string(outcomeSuccess))
	return outcomeSuccess
}

// fetch applies the gates that precede a send, sends the request directly or
// through the selected proxies, then sleeps the politeness delay. Network work
// uses workCtx; only the delay observes ctx.
func (o *Operation) fetch(workCtx, ctx context.Context, it *crawler.Item) fetcher.Response {
	if o.deps.Robots != nil && !o.deps.Robots.Allowed(workCtx, it.URI) {
		return fetcher.Failed(ReasonRobots)
	}
	if o.deps.Limiter != nil {
		if err := o.deps.Limiter.Wait(workCtx, it.URI); err != nil {
			return fetcher.Failed(fmt.Sprintf("%s: %v", ReasonRateLimit, err))
		}
	}

	var resp fetcher.Response
	if o.cfg.UseProxies {
		resp = o.sendViaProxies(workCtx, it)
	} else {
		resp = o.send(workCtx, fetcher.Request{Method: downloadMethod, URI: it.URI})
	}

	o.deps.Sleeper.Sleep(ctx, o.delay())
	return resp
}

func (o *Operation) send(ctx context.Context, req fetcher.Request) fetcher.Response {
	resp, err := o.deps.Fetcher.Fetch(ctx, req)
	if err != nil {
		return fetcher.Failed(err.Error())
	}
	return resp
}

// sendViaProxies tries the selected proxies in order until one produces a
// response. Every trial is recorded on the proxy and persisted.
func (o *Operation) sendViaProxies(ctx context.Context, it *crawler.Item) fetcher.Response {
	candidates := o.deps.Selection(o.deps.Proxies.Snapshot(), it)
	if len(candidates) == 0 {
		return fetcher.Failed(ReasonNoProxy)
	}

	last := fetcher.Failed(ReasonNoProxy)
	for _, candidate := range candidates {
		var resp fetcher.Response
		updated, err := o.deps.Proxies.Dispatch(candidate.Key(), o.deps.Clock.Now, func(px proxy.Proxy) bool {
			resp = o.send(ctx, fetcher.Request{Method: downloadMethod, URI: it.URI, Proxy: &px})
			return resp.StatusCode != 0
		})
		if err != nil {
			o.logger.Warn("proxy dispatch failed", zap.String("proxy", candidate.Key()), zap.Error(err))
			continue
		}
		if o.deps.ProxyStore != nil {
			if err := o.deps.ProxyStore.SaveProxy(ctx, updated); err != nil {
				o.logger.Warn("save proxy failed", zap.String("proxy", updated.Key()), zap.Error(err))
			}
		}
		if resp.StatusCode != 0 {
			return resp
		}
		metrics.ObserveProxyFailure(updated.Key())
		o.logger.Debug("proxy trial failed",
			zap.String("proxy", updated.Key()),
			zap.String("uri", it.String()),
			zap.String("reason", resp.ReasonPhrase),
		)
		last = resp
	}
	return last
}

func (o *Operation) delay() time.Duration {
	spread := int64(o.cfg.DelayMax - o.cfg.DelayMin)
	return o.cfg.DelayMin + time.Duration(o.deps.Jitter(spread))
}

// discover extracts links from the body and the Link header and registers the
// fetchable ones. It returns how many were new.
func (o *Operation) discover(it *crawler.Item, resp fetcher.Response) int {
	var refs []string
	if parser, ok := o.deps.Tables.Parsers.Lookup(resp.ContentType); ok {
		links, err := parser.ExtractLinks(it.Body, resp.ContentType)
		if err != nil {
			o.logger.Warn("extract links failed",
				zap.String("uri", it.String()),
				zap.String("content_type", handler.Normalize(resp.ContentType)),
				zap.Error(err),
			)
		}
		refs = append(refs, links...)
	}
	if values := resp.Header.Values(linkHeaderName); len(values) > 0 {
		for _, l := range linkheader.ParseMultiple(values) {
			refs = append(refs, l.URL)
		}
	}

	added := 0
	for _, ref := range refs {
		u, err := uri.Parse(ref)
		if err != nil || !uri.Fetchable(u) {
			continue
		}
		abs := uri.Resolve(it.URI, u)
		if _, isNew := o.reg.AddIfAbsent(abs); isNew {
			added++
		}
	}
	return added
}
