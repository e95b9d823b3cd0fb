// Package markup provides the default link parsers and preparers registered in
// the content-type tables: HTML via goquery, CSS, XML sitemaps and plain text.
package markup

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/sitemirror/internal/handler"
)

type linkAttr struct {
	selector string
	attr     string
	srcset   bool
}

var htmlLinkAttrs = []linkAttr{
	{selector: "a[href]", attr: "href"},
	{selector: "area[href]", attr: "href"},
	{selector: "link[href]", attr: "href"},
	{selector: "img[src]", attr: "src"},
	{selector: "script[src]", attr: "src"},
	{selector: "iframe[src]", attr: "src"},
	{selector: "frame[src]", attr: "src"},
	{selector: "source[src]", attr: "src"},
	{selector: "video[poster]", attr: "poster"},
	{selector: "img[srcset]", attr: "srcset", srcset: true},
	{selector: "source[srcset]", attr: "srcset", srcset: true},
}

// IsHTML reports whether contentType should be treated as markup. An unknown
// (empty) type is assumed to be HTML.
func IsHTML(contentType string) bool {
	switch handler.Normalize(contentType) {
	case "", "text/html", "application/xhtml+xml":
		return true
	default:
		return false
	}
}

// HTMLParser extracts references from link-bearing HTML attributes.
var HTMLParser = handler.ParserFunc(func(body []byte, contentType string) ([]string, error) {
	if !IsHTML(contentType) || len(body) == 0 {
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var links []string
	for _, la := range htmlLinkAttrs {
		doc.Find(la.selector).Each(func(_ int, s *goquery.Selection) {
			value, ok := s.Attr(la.attr)
			if !ok {
				return
			}
			if la.srcset {
				links = append(links, srcsetURLs(value)...)
				return
			}
			if value = strings.TrimSpace(value); value != "" {
				links = append(links, value)
			}
		})
	}
	return links, nil
})

// HTMLPreparer rewrites link-bearing attributes through the resolve function.
// Bodies that are not HTML pass through untouched.
var HTMLPreparer = handler.PreparerFunc(func(body []byte, contentType string, resolve handler.ResolveFunc) ([]byte, error) {
	if !IsHTML(contentType) || len(body) == 0 {
		return body, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	changed := false
	for _, la := range htmlLinkAttrs {
		doc.Find(la.selector).Each(func(_ int, s *goquery.Selection) {
			value, ok := s.Attr(la.attr)
			if !ok {
				return
			}
			var rewritten string
			if la.srcset {
				rewritten = rewriteSrcset(value, resolve)
			} else if replacement, ok := resolve(strings.TrimSpace(value)); ok {
				rewritten = replacement
			} else {
				return
			}
			if rewritten != value {
				s.SetAttr(la.attr, rewritten)
				changed = true
			}
		})
	}
	if !changed {
		return body, nil
	}
	out, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return []byte(out), nil
})

func srcsetURLs(value string) []string {
	var out []string
	for _, candidate := range strings.Split(value, ",") {
		fields := strings.Fields(candidate)
		if len(fields) > 0 {
			out = append(out, fields[0])
		}
	}
	return out
}

func rewriteSrcset(value string, resolve handler.ResolveFunc) string {
	candidates := strings.Split(value, ",")
	for i, candidate := range candidates {
		fields := strings.Fields(candidate)
		if len(fields) == 0 {
			continue
		}
		if replacement, ok := resolve(fields[0]); ok {
			fields[0] = replacement
		}
		candidates[i] = strings.Join(fields, " ")
	}
	return strings.Join(candidates, ", ")
}
