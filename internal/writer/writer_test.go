package writer_test

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/transform"
	"github.com/JakeFAU/sitemirror/internal/writer"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestTargetPath(t *testing.T) {
	tests := []struct {
		name   string
		uri    string
		newURI string
		want   string
	}{
		{name: "file", uri: "https://example.test/a/b.html", want: "a/b.html"},
		{name: "root", uri: "https://example.test/", want: "index.html"},
		{name: "directory", uri: "https://example.test/docs/", want: "docs/index.html"},
		{name: "new uri wins", uri: "https://example.test/a", newURI: "/mirror/a", want: "mirror/a"},
		{name: "dot segments cannot escape", uri: "https://example.test/x", newURI: "/../../etc/passwd", want: "etc/passwd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := &crawler.Item{URI: mustURL(t, tt.uri)}
			if tt.newURI != "" {
				it.NewURI = mustURL(t, tt.newURI)
			}
			assert.Equal(t, tt.want, writer.TargetPath(it))
		})
	}
}

// A link rewritten by StripHost must resolve to the file the item is written
// to, and pages that differ only by query must not share that file.
func TestTargetPath_QueryMatchesRewrittenLink(t *testing.T) {
	strip := transform.StripHost("")
	seen := make(map[string]string)
	for _, raw := range []string{
		"https://example.test/list?page=1",
		"https://example.test/list?page=2",
		"https://example.test/list",
		"https://example.test/docs/?v=2",
	} {
		u := mustURL(t, raw)
		processed := &crawler.Item{URI: u, NewURI: strip.Transform(u)}
		unprocessed := &crawler.Item{URI: u}

		got := writer.TargetPath(processed)
		assert.Equal(t, strings.TrimPrefix(processed.NewURI.Path, "/"), got)
		assert.Equal(t, got, writer.TargetPath(unprocessed))
		if prev, dup := seen[got]; dup {
			t.Fatalf("%s and %s both map to %s", prev, raw, got)
		}
		seen[got] = raw
	}
}
