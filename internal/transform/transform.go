// Package transform maps canonical external URIs to the target URIs used when
// rewriting cross-links in the mirror.
package transform

import (
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// queryIndex names the file of a directory path that carries a query.
const queryIndex = "index"

// Transformer maps an item URI to its target URI. Implementations must be
// total.
type Transformer interface {
	Transform(u *url.URL) *url.URL
}

// Func adapts a function to Transformer.
type Func func(u *url.URL) *url.URL

// Transform implements Transformer.
func (f Func) Transform(u *url.URL) *url.URL { return f(u) }

// StripHost drops scheme, credentials, host and port. The query is folded into
// the path by FoldQuery so pages that differ only by query stay distinct. A
// non-empty basePath is prefixed to the result.
func StripHost(basePath string) Transformer {
	prefix := strings.TrimRight(basePath, "/")
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return Func(func(u *url.URL) *url.URL {
		p := u.Path
		if p == "" {
			p = "/"
		}
		if prefix != "" {
			trailing := strings.HasSuffix(p, "/")
			p = path.Join(prefix, p)
			if trailing && !strings.HasSuffix(p, "/") {
				p += "/"
			}
		}
		return &url.URL{Path: FoldQuery(p, u.RawQuery)}
	})
}

// FoldQuery returns p with a hash of rawQuery inserted before the extension of
// the last segment, so /list?page=2 becomes /list-<hash> and /a.html?x=1
// becomes /a-<hash>.html. A directory path gets index-<hash>.html. An empty
// query leaves p unchanged.
func FoldQuery(p, rawQuery string) string {
	if rawQuery == "" {
		return p
	}
	tag := strconv.FormatUint(xxh3.HashString(rawQuery), 16)
	if p == "" || strings.HasSuffix(p, "/") {
		return p + queryIndex + "-" + tag + ".html"
	}
	dir, base := path.Split(p)
	ext := path.Ext(base)
	return dir + strings.TrimSuffix(base, ext) + "-" + tag + ext
}

// Identity returns the input unchanged.
var Identity = Func(func(u *url.URL) *url.URL {
	out := *u
	return &out
})
