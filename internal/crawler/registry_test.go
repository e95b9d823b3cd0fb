package crawler_test

import (
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/restriction"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestRegistry_AddIfAbsent(t *testing.T) {
	reg := crawler.NewRegistry([]restriction.Restriction{restriction.Domain{Host: "example.test"}})

	it, created := reg.AddIfAbsent(mustURL(t, "https://example.test/a.html#one"))
	require.True(t, created)
	assert.Equal(t, "https://example.test/a.html", it.URI.String())
	assert.True(t, it.Allow)

	again, created := reg.AddIfAbsent(mustURL(t, "https://EXAMPLE.test/a.html#two"))
	assert.False(t, created)
	assert.Same(t, it, again)
	assert.Equal(t, 1, reg.Len())

	outside, created := reg.AddIfAbsent(mustURL(t, "https://other.test/"))
	require.True(t, created)
	assert.False(t, outside.Allow, "disallowed items are kept for bookkeeping")
	assert.Equal(t, 2, reg.Pending())
}

func TestRegistry_EmptyRestrictionsDenyAll(t *testing.T) {
	reg := crawler.NewRegistry(nil)
	it, _ := reg.AddIfAbsent(mustURL(t, "https://example.test/"))
	assert.False(t, it.Allow)
}

func TestRegistry_QueueIsFIFOAndGrows(t *testing.T) {
	reg := crawler.NewRegistry([]restriction.Restriction{restriction.Domain{Host: "example.test"}})
	reg.AddIfAbsent(mustURL(t, "https://example.test/1"))
	reg.AddIfAbsent(mustURL(t, "https://example.test/2"))

	var seen []string
	for {
		it, ok := reg.Next()
		if !ok {
			break
		}
		seen = append(seen, it.URI.Path)
		if it.URI.Path == "/1" {
			reg.AddIfAbsent(mustURL(t, "https://example.test/3"))
		}
	}
	assert.Equal(t, []string{"/1", "/2", "/3"}, seen)

	reg.Requeue()
	assert.Equal(t, 3, reg.Pending())
	first, _ := reg.Next()
	assert.Equal(t, "/1", first.URI.Path)
}

func TestRegistry_ConcurrentAdd(t *testing.T) {
	reg := crawler.NewRegistry([]restriction.Restriction{restriction.Domain{Host: "example.test"}})
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := reg.AddIfAbsent(mustURL(t, "https://example.test/same#frag")); ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_RecordsAndQueries(t *testing.T) {
	reg := crawler.NewRegistry([]restriction.Restriction{restriction.Domain{Host: "example.test"}})
	a, _ := reg.AddIfAbsent(mustURL(t, "https://example.test/a"))
	reg.AddIfAbsent(mustURL(t, "https://example.test/b"))
	reg.AddIfAbsent(mustURL(t, "https://other.test/c"))

	reg.Update(a, func(it *crawler.Item) { it.Download = crawler.StatusSuccess })

	records := reg.Records()
	require.Len(t, records, 3)
	assert.Len(t, crawler.Downloaded(records), 1)
	pending := crawler.Pending(records)
	require.Len(t, pending, 1)
	assert.Equal(t, "https://example.test/b", pending[0].ItemURI)

	got, ok := reg.Get(mustURL(t, "https://example.test/a#x"))
	require.True(t, ok)
	assert.Same(t, a, got)
}

func TestCount(t *testing.T) {
	records := []crawler.Record{
		{ItemURI: "https://example.test/a", Allow: true, DownloadStatus: crawler.StatusSuccess, ProcessStatus: crawler.StatusSuccess},
		{ItemURI: "https://example.test/b", Allow: true, DownloadStatus: crawler.StatusFailure},
		{ItemURI: "https://other.test/c"},
	}
	got := crawler.Count(records)
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 2, got.Allowed)
	assert.Equal(t, crawler.PhaseCounts{Success: 1, Failure: 1}, got.Download)
	assert.Equal(t, crawler.PhaseCounts{Success: 1, Unset: 1}, got.Process)
	assert.Equal(t, crawler.PhaseCounts{Unset: 2}, got.Write)
}
