package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/metrics"
)

// Process computes the target URI of every allowed item not yet processed.
// It never fails an item.
func (o *Operation) Process(ctx context.Context) (Summary, error) {
	return o.parallel(ctx, PhaseProcess, o.processItem)
}

func (o *Operation) processItem(_ context.Context, it *crawler.Item) outcome {
	log := o.logger.With(zap.String("uri", it.String()))
	if !it.Allow {
		log.Debug("skip: not allowed")
		return outcomeSkipped
	}
	if it.Process.Set() {
		log.Debug("skip: already processed")
		return outcomeSkipped
	}

	target := o.deps.Transformer.Transform(it.URI)
	if target == nil {
		target = it.URI
	}
	if target.String() == it.URI.String() {
		log.Info("transform left uri unchanged")
	}
	o.reg.Update(it, func(it *crawler.Item) {
		it.NewURI = target
		it.Process = crawler.StatusSuccess
	})
	log.Debug("processed", zap.Stringer("new_uri", target))
	return outcomeSuccess
}

// parallel drains the queue through fn with at most Concurrency items in
// flight. Process and Write never add items, so a single pass suffices.
func (o *Operation) parallel(
	ctx context.Context,
	phase Phase,
	fn func(context.Context, *crawler.Item) outcome,
) (Summary, error) {
	o.reg.Requeue()

	var (
		c    counter
		tick = o.newTicker(phase)
		g    errgroup.Group
	)
	g.SetLimit(o.cfg.Concurrency)
	workCtx := context.WithoutCancel(ctx)

	for ctx.Err() == nil {
		it, ok := o.reg.Next()
		if !ok {
			break
		}
		g.Go(func() error {
			res := fn(workCtx, it)
			c.record(res)
			metrics.ObserveItem(string(phase), string(res))
			tick.tick(ctx)
			return nil
		})
	}
	_ = g.Wait()

	s := c.summary(phase)
	return o.finish(ctx, &s, interrupted(ctx, phase))
}
