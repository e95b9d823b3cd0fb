// Package collyfetcher implements fetcher.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/sitemirror/internal/fetcher"
	"github.com/JakeFAU/sitemirror/internal/proxy"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodySize caps how much of a body is read; zero means unlimited.
	MaxBodySize int
}

// Fetcher implements fetcher.Fetcher using a fresh Colly collector per send.
// Transports are cached per proxy so connections are reused.
type Fetcher struct {
	cfg        Config
	direct     http.RoundTripper
	transports sync.Map
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Fetcher{
		cfg:    cfg,
		direct: newHTTPTransport(nil),
	}
}

// Fetch executes a single request.
func (f *Fetcher) Fetch(ctx context.Context, req fetcher.Request) (fetcher.Response, error) {
	var (
		result   fetcher.Response
		fetchErr error
	)
	collector := f.buildCollector(req, &result, &fetchErr)

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	done := make(chan error, 1)
	go func() {
		done <- collector.Request(method, req.URI.String(), nil, nil, nil)
	}()

	select {
	case <-ctx.Done():
		return fetcher.Response{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fetcher.Response{}, fmt.Errorf("colly visit failed: %w", err)
		}
		if fetchErr != nil {
			return fetcher.Response{}, fmt.Errorf("colly response failed: %w", fetchErr)
		}
		if result.StatusCode == 0 {
			return fetcher.Response{}, errors.New("colly fetch produced no result")
		}
		return result, nil
	}
}

func (f *Fetcher) buildCollector(req fetcher.Request, result *fetcher.Response, fetchErr *error) *colly.Collector {
	// One byte past the cap tells a body of exactly MaxBodySize from a cut one.
	readLimit := 0
	if f.cfg.MaxBodySize > 0 {
		readLimit = f.cfg.MaxBodySize + 1
	}
	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.MaxBodySize(readLimit),
	)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.ParseHTTPErrorResponse = true
	collector.WithTransport(f.transport(req.Proxy))
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		header := http.Header{}
		if r.Headers != nil {
			header = r.Headers.Clone()
		}
		body := r.Body
		size := int64(len(body))
		truncated := false
		if limit := f.cfg.MaxBodySize; limit > 0 && len(body) > limit {
			body = body[:limit]
			truncated = true
		}
		if declared, err := strconv.ParseInt(header.Get("Content-Length"), 10, 64); err == nil && declared > size {
			size = declared
		}
		if size > int64(len(body)) {
			truncated = true
		}
		*result = fetcher.Response{
			StatusCode:   r.StatusCode,
			ReasonPhrase: http.StatusText(r.StatusCode),
			ContentType:  header.Get("Content-Type"),
			Header:       header,
			Body:         append([]byte(nil), body...),
			Size:         size,
			Truncated:    truncated,
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			return
		}
		*fetchErr = err
	})
	return collector
}

func (f *Fetcher) transport(p *proxy.Proxy) http.RoundTripper {
	if p == nil {
		return f.direct
	}
	key := p.URL().String()
	if t, ok := f.transports.Load(key); ok {
		return t.(http.RoundTripper)
	}
	t, _ := f.transports.LoadOrStore(key, newHTTPTransport(p))
	return t.(http.RoundTripper)
}

func newHTTPTransport(p *proxy.Proxy) *http.Transport {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	if p != nil {
		t.Proxy = http.ProxyURL(p.URL())
	}
	return t
}
