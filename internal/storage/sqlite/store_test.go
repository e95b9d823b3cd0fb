package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/proxy"
	"github.com/JakeFAU/sitemirror/internal/storage/sqlite"
)

var (
	_ crawler.ItemStore = (*sqlite.Store)(nil)
	_ proxy.Store       = (*sqlite.Store)(nil)
)

func openStore(t *testing.T, dir string) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_ItemsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, t.TempDir())

	exp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []crawler.Record{
		{
			ItemURI:        "https://example.test/b.html",
			Allow:          true,
			StatusCode:     404,
			ReasonPhrase:   "Not Found",
			DownloadStatus: crawler.StatusFailure,
			ContentType:    "text/html",
		},
		{
			ItemURI:        "https://example.test/a/index.html",
			Allow:          true,
			StatusCode:     200,
			ReasonPhrase:   "OK",
			DownloadStatus: crawler.StatusSuccess,
			ProcessStatus:  crawler.StatusSuccess,
			WriteStatus:    crawler.StatusSuccess,
			ContentType:    "text/html",
			NewItemURI:     "/a/index.html",
			Expires:        &exp,
		},
	}
	require.NoError(t, store.Save(ctx, records))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, records[0], got[0])
	assert.Equal(t, records[1].NewItemURI, got[1].NewItemURI)
	assert.Equal(t, crawler.StatusSuccess, got[1].WriteStatus)
	require.NotNil(t, got[1].Expires)
	assert.True(t, exp.Equal(*got[1].Expires))

	require.NoError(t, store.Save(ctx, records[:1]))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := sqlite.Open(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, []crawler.Record{{ItemURI: "https://example.test/", Allow: true}}))
	require.NoError(t, first.SaveBody(ctx, "https://example.test/", []byte("<html></html>")))
	require.NoError(t, first.Close())

	second := openStore(t, dir)
	got, err := second.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, crawler.StatusUnset, got[0].DownloadStatus)
	body, ok, err := second.Body(ctx, "https://example.test/")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "<html></html>", string(body))
}

func TestStore_BodiesAndClear(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, "")

	require.NoError(t, store.SaveBody(ctx, "u", []byte("one")))
	require.NoError(t, store.SaveBody(ctx, "u", []byte("two")))
	body, ok, err := store.Body(ctx, "u")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", string(body))

	require.NoError(t, store.SaveProxy(ctx, proxy.Proxy{Type: proxy.TypeHTTP, Host: "p.test", Port: 3128, Active: true}))
	require.NoError(t, store.Save(ctx, []crawler.Record{{ItemURI: "u"}}))
	require.NoError(t, store.Clear(ctx))

	_, ok, err = store.Body(ctx, "u")
	require.NoError(t, err)
	assert.False(t, ok)
	records, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
	proxies, err := store.LoadProxies(ctx)
	require.NoError(t, err)
	assert.Len(t, proxies, 1)
}

func TestStore_Proxies(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, "")
	used := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveProxy(ctx, proxy.Proxy{Type: proxy.TypeSOCKS5, Host: "s.test", Port: 1080, UserName: "u", Password: "p", Active: true}))
	require.NoError(t, store.SaveProxy(ctx, proxy.Proxy{Type: proxy.TypeSOCKS5, Host: "s.test", Port: 1080, UserName: "u", Password: "p", Attempts: 4, LastUse: &used}))

	proxies, err := store.LoadProxies(ctx)
	require.NoError(t, err)
	require.Len(t, proxies, 1)
	p := proxies[0]
	assert.Equal(t, proxy.TypeSOCKS5, p.Type)
	assert.Equal(t, 4, p.Attempts)
	assert.False(t, p.Active)
	require.NotNil(t, p.LastUse)
	assert.True(t, used.Equal(*p.LastUse))
}
