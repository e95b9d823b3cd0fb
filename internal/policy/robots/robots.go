// Package robots gates downloads on robots.txt directives, cached per origin.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// Policy reports whether a URI may be fetched.
type Policy interface {
	Allowed(ctx context.Context, u *url.URL) bool
}

// Enforcer enforces robots.txt directives per origin.
type Enforcer struct {
	client    *http.Client
	cache     sync.Map
	userAgent string
	logger    *zap.Logger
}

// New builds a Policy respecting the config toggle. A nil client gets a
// client with a 10 second timeout whose robots.txt probes retry on timeouts.
func New(respect bool, userAgent string, client *http.Client, logger *zap.Logger) Policy {
	if !respect {
		return AllowAll{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = &http.Client{
			Timeout:   10 * time.Second,
			Transport: newProbeTransport(http.DefaultTransport, defaultProbeBackoff, logger),
		}
	}
	return &Enforcer{
		client:    client,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Allowed implements Policy. A failed robots.txt fetch allows the origin and
// is remembered, so the origin is not probed again during the run.
func (r *Enforcer) Allowed(ctx context.Context, u *url.URL) bool {
	if r == nil || u == nil {
		return true
	}
	data, err := r.load(ctx, u)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing the origin", zap.String("host", u.Host), zap.Error(err))
		if ctx.Err() == nil {
			// A 4xx robots.txt means no restrictions.
			unrestricted, _ := robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
			r.cache.LoadOrStore(originOf(u), unrestricted)
		}
		return true
	}
	group := data.FindGroup(r.userAgent)
	if group == nil {
		return true
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return group.Test(p)
}

func (r *Enforcer) load(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	origin := originOf(u)
	if data, ok := r.cache.Load(origin); ok {
		cached, assertOK := data.(*robotstxt.RobotsData)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", data)
		}
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	r.cache.Store(origin, data)
	return data, nil
}

func originOf(u *url.URL) string {
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// AllowAll permits every URI.
type AllowAll struct{}

// Allowed implements Policy.
func (AllowAll) Allowed(context.Context, *url.URL) bool { return true }
