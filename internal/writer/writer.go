// Package writer holds what the mirror writers share: mapping an item to the
// relative object path it is written to.
package writer

import (
	"path"
	"strings"

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/transform"
)

// IndexFile is written for items whose target path names a directory.
const IndexFile = "index.html"

// TargetPath returns the slash-separated relative path for it. The processed
// target URI is preferred over the canonical one. A query is folded into the
// path the same way transform.StripHost folds it.
func TargetPath(it *crawler.Item) string {
	u := it.URI
	if it.NewURI != nil {
		u = it.NewURI
	}
	p := transform.FoldQuery(u.Path, u.RawQuery)
	if p == "" || strings.HasSuffix(p, "/") {
		p += IndexFile
	}
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}
