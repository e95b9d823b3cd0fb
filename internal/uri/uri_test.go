package uri_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemirror/internal/uri"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := uri.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestResolve(t *testing.T) {
	base := "https://example.test/a/index.html?x=1"
	tests := []struct {
		name string
		ref  string
		want string
	}{
		{name: "parent", ref: "../b.html", want: "https://example.test/b.html"},
		{name: "sibling", ref: "c.html", want: "https://example.test/a/c.html"},
		{name: "dot segments", ref: "./d/./e/../f.html", want: "https://example.test/a/d/f.html"},
		{name: "absolute path", ref: "/z/y.html", want: "https://example.test/z/y.html"},
		{name: "never escapes root", ref: "../../../../etc/passwd", want: "https://example.test/etc/passwd"},
		{name: "directory kept", ref: "docs/", want: "https://example.test/a/docs/"},
		{name: "dot dot directory", ref: "..", want: "https://example.test/"},
		{name: "query only", ref: "?page=2", want: "https://example.test/a/index.html?page=2"},
		{name: "fragment only", ref: "#top", want: "https://example.test/a/index.html?x=1#top"},
		{name: "other host", ref: "http://other.test/p/../q", want: "http://other.test/q"},
		{name: "scheme relative", ref: "//cdn.test/lib.js", want: "https://cdn.test/lib.js"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := uri.Resolve(mustParse(t, base), mustParse(t, tt.ref))
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestResolveInheritsBaseAuthority(t *testing.T) {
	base := mustParse(t, "http://example.test:8080/deep/dir/page")
	for _, ref := range []string{"x", "/x", "../../../x", "?q", ""} {
		got := uri.Resolve(base, mustParse(t, ref))
		assert.Equal(t, base.Scheme, got.Scheme, ref)
		assert.Equal(t, base.Host, got.Host, ref)
		assert.Equal(t, base.Port(), got.Port(), ref)
		assert.True(t, len(got.Path) > 0 && got.Path[0] == '/', ref)
	}
}

func TestCanonicalAndKey(t *testing.T) {
	a := mustParse(t, "HTTPS://Example.TEST/a/b.html?q=1#frag")
	b := mustParse(t, "https://example.test/a/b.html?q=1")

	assert.Equal(t, "https://example.test/a/b.html?q=1", uri.Canonical(a).String())
	assert.Equal(t, uri.Key(a), uri.Key(b))
	assert.NotEqual(t, uri.Key(b), uri.Key(mustParse(t, "https://example.test/a/b.html?q=2")))
	assert.Equal(t, "https://example.test/", uri.Canonical(mustParse(t, "https://example.test")).String())
}

func TestDir(t *testing.T) {
	assert.Equal(t, "https://example.test/a/", uri.Dir(mustParse(t, "https://example.test/a/index.html?x=1")).String())
	assert.Equal(t, "https://example.test/", uri.Dir(mustParse(t, "https://example.test")).String())
	assert.Equal(t, "https://example.test/a/b/", uri.Dir(mustParse(t, "https://example.test/a/b/")).String())
}

func TestFetchable(t *testing.T) {
	assert.True(t, uri.Fetchable(mustParse(t, "https://example.test/")))
	assert.True(t, uri.Fetchable(mustParse(t, "../x.html")))
	assert.False(t, uri.Fetchable(mustParse(t, "mailto:someone@example.test")))
	assert.False(t, uri.Fetchable(mustParse(t, "javascript:void(0)")))
	assert.False(t, uri.Fetchable(mustParse(t, "ftp://example.test/file")))
}
