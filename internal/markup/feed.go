package markup

import (
	"fmt"
	"strings"

	"github.com/clbanning/mxj/v2"
	"mvdan.cc/xurls/v2"

	"github.com/JakeFAU/sitemirror/internal/handler"
)

// SitemapParser extracts <loc> entries from sitemaps and sitemap indexes.
var SitemapParser = handler.ParserFunc(func(body []byte, _ string) ([]string, error) {
	if len(body) == 0 {
		return nil, nil
	}
	m, err := mxj.NewMapXml(body)
	if err != nil {
		return nil, fmt.Errorf("parse xml: %w", err)
	}
	values, err := m.ValuesForKey("loc")
	if err != nil {
		return nil, fmt.Errorf("read loc values: %w", err)
	}
	links := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			links = append(links, strings.TrimSpace(s))
		}
	}
	return links, nil
})

var strictURLs = xurls.Strict()

// TextParser extracts absolute URLs appearing in plain text.
var TextParser = handler.ParserFunc(func(body []byte, _ string) ([]string, error) {
	return strictURLs.FindAllString(string(body), -1), nil
})

// RegisterDefaults installs the built-in parsers and preparers for the
// content types they understand. The wildcard entries are left to the caller.
func RegisterDefaults(t handler.Tables) {
	for _, ct := range []string{"text/html", "application/xhtml+xml"} {
		t.Parsers.Register(ct, HTMLParser)
		t.Preparers.Register(ct, HTMLPreparer)
	}
	t.Parsers.Register("text/css", CSSParser)
	t.Preparers.Register("text/css", CSSPreparer)
	for _, ct := range []string{"application/xml", "text/xml"} {
		t.Parsers.Register(ct, SitemapParser)
		t.Preparers.Register(ct, handler.Passthrough)
	}
	t.Parsers.Register("text/plain", TextParser)
	t.Preparers.Register("text/plain", handler.Passthrough)
}
