package app_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemirror/internal/app"
	"github.com/JakeFAU/sitemirror/internal/config"
	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/fetcher"
	"github.com/JakeFAU/sitemirror/internal/proxy"
)

func testConfig() config.Config {
	return config.Config{
		Crawl: config.CrawlConfig{
			StartURIs:   []string{"http://example.test/"},
			Concurrency: 2,
			SizeLimits:  map[string]int64{"image/png": 0},
		},
		HTTP:   config.HTTPConfig{Timeout: time.Second},
		Store:  config.StoreConfig{Driver: config.DriverFS, Dir: "/state"},
		Output: config.OutputConfig{Driver: config.DriverFS, Dir: "/mirror"},
	}
}

func pages() fetcher.Func {
	return func(_ context.Context, req fetcher.Request) (fetcher.Response, error) {
		switch req.URI.Path {
		case "/":
			body := `<html><head></head><body><a href="about/">about</a></body></html>`
			return fetcher.Response{StatusCode: http.StatusOK, ContentType: "text/html", Body: []byte(body)}, nil
		case "/about/":
			body := `<html><head></head><body><a href="../">home</a></body></html>`
			return fetcher.Response{StatusCode: http.StatusOK, ContentType: "text/html", Body: []byte(body)}, nil
		}
		return fetcher.Response{StatusCode: http.StatusNotFound}, nil
	}
}

func TestApp_CrawlToFilesystem(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	a, err := app.New(ctx, testConfig(), zap.NewNop(), app.WithFs(fsys), app.WithFetcher(pages()))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	assert.NotEmpty(t, a.RunID())

	op, err := a.Operation(ctx, nil)
	require.NoError(t, err)
	summaries, err := op.Run(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	assert.Equal(t, int64(2), summaries[2].Succeeded)

	home, err := afero.ReadFile(fsys, "/mirror/index.html")
	require.NoError(t, err)
	assert.Contains(t, string(home), `href="/about/"`)
	about, err := afero.ReadFile(fsys, "/mirror/about/index.html")
	require.NoError(t, err)
	assert.Contains(t, string(about), `href="/"`)

	records, err := a.Store().Load(ctx)
	require.NoError(t, err)
	tally := crawler.Count(records)
	assert.Equal(t, crawler.PhaseCounts{Success: 2}, tally.Write)
}

func TestApp_ProxiesFromStore(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Store = config.StoreConfig{Driver: config.DriverMemory}
	cfg.Proxy = config.ProxyConfig{Enabled: true, Order: "asc"}

	var (
		mu   sync.Mutex
		seen []string
	)
	f := fetcher.Func(func(ctx context.Context, req fetcher.Request) (fetcher.Response, error) {
		if req.Proxy != nil {
			mu.Lock()
			seen = append(seen, req.Proxy.Key())
			mu.Unlock()
		}
		return pages()(ctx, req)
	})
	a, err := app.New(ctx, cfg, nil, app.WithFs(afero.NewMemMapFs()), app.WithFetcher(f))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NoError(t, a.Store().SaveProxy(ctx, proxy.Proxy{Type: proxy.TypeHTTP, Host: "p1", Port: 3128, Active: true}))

	op, err := a.Operation(ctx, nil)
	require.NoError(t, err)
	_, err = op.Download(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, seen)
	saved, err := a.Store().LoadProxies(ctx)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.NotNil(t, saved[0].LastUse)
	assert.Zero(t, saved[0].Attempts)
}

func TestApp_UnknownDrivers(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig()
	cfg.Store.Driver = "etcd"
	_, err := app.New(ctx, cfg, nil, app.WithFs(afero.NewMemMapFs()))
	require.ErrorContains(t, err, `unknown store driver "etcd"`)

	cfg = testConfig()
	cfg.Output.Driver = "ftp"
	_, err = app.New(ctx, cfg, nil, app.WithFs(afero.NewMemMapFs()))
	require.ErrorContains(t, err, `unknown output driver "ftp"`)
}

func TestApp_SQLiteStore(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Store = config.StoreConfig{Driver: config.DriverSQLite, Dir: t.TempDir()}
	a, err := app.New(ctx, cfg, nil, app.WithFs(afero.NewMemMapFs()), app.WithFetcher(pages()))
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	op, err := a.Operation(ctx, nil)
	require.NoError(t, err)
	_, err = op.Download(ctx)
	require.NoError(t, err)

	records, err := a.Store().Load(ctx)
	require.NoError(t, err)
	assert.Len(t, crawler.Downloaded(records), 2)
}

func TestApp_OperationRequiresStartURI(t *testing.T) {
	cfg := testConfig()
	cfg.Crawl.StartURIs = nil
	a, err := app.New(context.Background(), cfg, nil, app.WithFs(afero.NewMemMapFs()), app.WithFetcher(pages()))
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	_, err = a.Operation(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no start uri")
}
