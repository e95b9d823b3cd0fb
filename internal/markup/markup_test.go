package markup_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemirror/internal/handler"
	"github.com/JakeFAU/sitemirror/internal/markup"
)

const page = `<!DOCTYPE html>
<html><head>
<link rel="stylesheet" href="style.css">
<script src="/js/app.js"></script>
</head><body>
<a href="../b.html">b</a>
<a href="https://other.example/x">x</a>
<img src="img/logo.png" srcset="img/logo-2x.png 2x, img/logo-3x.png 3x">
</body></html>`

func TestHTMLParser(t *testing.T) {
	links, err := markup.HTMLParser.ExtractLinks([]byte(page), "text/html; charset=utf-8")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"style.css", "/js/app.js", "../b.html", "https://other.example/x",
		"img/logo.png", "img/logo-2x.png", "img/logo-3x.png",
	}, links)
}

func TestHTMLParser_IgnoresNonHTML(t *testing.T) {
	links, err := markup.HTMLParser.ExtractLinks([]byte(`<a href="x">`), "image/png")
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestHTMLPreparer(t *testing.T) {
	resolve := func(ref string) (string, bool) {
		if strings.HasPrefix(ref, "https://") {
			return "", false
		}
		return "local/" + ref, true
	}
	out, err := markup.HTMLPreparer.Prepare([]byte(page), "text/html", resolve)
	require.NoError(t, err)
	body := string(out)
	assert.Contains(t, body, `href="local/../b.html"`)
	assert.Contains(t, body, `href="https://other.example/x"`)
	assert.Contains(t, body, `src="local/img/logo.png"`)
	assert.Contains(t, body, `srcset="local/img/logo-2x.png 2x, local/img/logo-3x.png 3x"`)
}

func TestHTMLPreparer_PassesThroughNonHTML(t *testing.T) {
	body := []byte{0x89, 'P', 'N', 'G'}
	out, err := markup.HTMLPreparer.Prepare(body, "image/png", func(string) (string, bool) { return "x", true })
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestCSS(t *testing.T) {
	css := `@import "base.css";
body { background: url('img/bg.png'); }
.icon { background-image: url(icons/a.svg); }`

	links, err := markup.CSSParser.ExtractLinks([]byte(css), "text/css")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"img/bg.png", "icons/a.svg", "base.css"}, links)

	out, err := markup.CSSPreparer.Prepare([]byte(css), "text/css", func(ref string) (string, bool) {
		return "../" + ref, true
	})
	require.NoError(t, err)
	assert.Contains(t, string(out), `@import "../base.css"`)
	assert.Contains(t, string(out), `url('../img/bg.png')`)
	assert.Contains(t, string(out), `url(../icons/a.svg)`)
}

func TestSitemapParser(t *testing.T) {
	xml := `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/a.html</loc></url>
  <url><loc>https://example.com/b.html</loc></url>
</urlset>`
	links, err := markup.SitemapParser.ExtractLinks([]byte(xml), "application/xml")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"https://example.com/a.html", "https://example.com/b.html"}, links)
}

func TestTextParser(t *testing.T) {
	links, err := markup.TextParser.ExtractLinks([]byte("see https://example.com/x and http://example.org/"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/x", "http://example.org/"}, links)
}

func TestRegisterDefaults(t *testing.T) {
	tables := handler.NewTables()
	markup.RegisterDefaults(tables)
	for _, ct := range []string{"text/html", "text/css", "application/xml", "text/plain"} {
		assert.True(t, tables.Parsers.Has(ct), ct)
		assert.True(t, tables.Preparers.Has(ct), ct)
	}
	assert.False(t, tables.Parsers.Has(handler.Wildcard))
}
