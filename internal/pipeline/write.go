package pipeline

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/handler"
	"github.com/JakeFAU/sitemirror/internal/markup"
	"github.com/JakeFAU/sitemirror/internal/uri"
)

// Reason phrases recorded on write failures are only logged; the item keeps
// the reason of its download.
const (
	writeNotDownloaded = "not downloaded"
	writeNoBody        = "body missing from store"
	writeNoWriter      = "no writer for content type"
)

// Write rewrites the cross-links of every downloaded item to their targets
// and hands the result to the writer registered for its content type.
func (o *Operation) Write(ctx context.Context) (Summary, error) {
	o.deps.Tables.Preparers.EnsureWildcard(markup.HTMLPreparer)
	targets := o.targets()
	return o.parallel(ctx, PhaseWrite, func(ctx context.Context, it *crawler.Item) outcome {
		return o.writeItem(ctx, it, targets)
	})
}

// targets maps the dedup key of every processed item to its target URI.
func (o *Operation) targets() map[string]*url.URL {
	out := make(map[string]*url.URL)
	for _, rec := range o.reg.Records() {
		if !rec.Allow || rec.NewItemURI == "" {
			continue
		}
		src, err := uri.Parse(rec.ItemURI)
		if err != nil {
			continue
		}
		dst, err := uri.Parse(rec.NewItemURI)
		if err != nil {
			continue
		}
		out[uri.Key(src)] = dst
	}
	return out
}

// resolver rewrites references found on it to the target of the item they
// point at. References to unknown items are left alone.
func resolver(it *crawler.Item, targets map[string]*url.URL) handler.ResolveFunc {
	return func(ref string) (string, bool) {
		u, err := uri.Parse(ref)
		if err != nil || !uri.Fetchable(u) {
			return "", false
		}
		target, ok := targets[uri.Key(uri.Resolve(it.URI, u))]
		if !ok {
			return "", false
		}
		out := *target
		out.Fragment = u.Fragment
		out.RawFragment = ""
		return out.String(), true
	}
}

func (o *Operation) writeItem(ctx context.Context, it *crawler.Item, targets map[string]*url.URL) outcome {
	log := o.logger.With(zap.String("uri", it.String()))
	if !it.Allow {
		log.Debug("skip: not allowed")
		return outcomeSkipped
	}
	if it.Write.Set() {
		log.Debug("skip: already written", zap.Stringer("status", it.Write))
		return outcomeSkipped
	}

	fail := func(reason string, fields ...zap.Field) outcome {
		o.reg.Update(it, func(it *crawler.Item) {
			it.Write = crawler.StatusFailure
			it.Release()
		})
		log.Warn("write failed", append(fields, zap.String("reason", reason))...)
		return outcomeFailure
	}

	if it.Download != crawler.StatusSuccess {
		return fail(writeNotDownloaded)
	}
	body, ok, err := o.deps.Store.Body(ctx, it.URI.String())
	if err != nil {
		return fail(writeNoBody, zap.Error(err))
	}
	if !ok {
		return fail(writeNoBody)
	}

	ct := it.ContentType
	prepared := body
	if preparer, found := o.deps.Tables.Preparers.Lookup(ct); found {
		prepared, err = preparer.Prepare(body, ct, resolver(it, targets))
		if err != nil {
			return fail("prepare", zap.Error(err))
		}
	}
	w, found := o.deps.Tables.Writers.Lookup(ct)
	if !found {
		return fail(writeNoWriter, zap.String("content_type", handler.Normalize(ct)))
	}

	o.reg.Update(it, func(it *crawler.Item) {
		it.Body = body
		it.PreparedBody = prepared
	})
	if err := w.Write(ctx, it, prepared); err != nil {
		return fail("writer", zap.Error(err))
	}
	o.reg.Update(it, func(it *crawler.Item) {
		it.Write = crawler.StatusSuccess
		it.Release()
	})
	log.Info("written", zap.Int("size", len(prepared)))
	return outcomeSuccess
}
