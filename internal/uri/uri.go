// Package uri resolves discovered links against the item they were found on and
// computes the canonical form used as the registry's dedup key.
package uri

import (
	"fmt"
	"net/url"
	"strings"
)

// Parse parses raw into a URL, trimming surrounding whitespace first.
func Parse(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse uri %q: %w", raw, err)
	}
	return u, nil
}

// Resolve returns ref made absolute against base. The result never escapes the
// root: ".." segments beyond the first level are dropped.
func Resolve(base, ref *url.URL) *url.URL {
	out := *ref
	if ref.Host == "" {
		out.Scheme = base.Scheme
		out.Host = base.Host
		out.User = base.User
	} else if ref.Scheme == "" {
		out.Scheme = base.Scheme
	}

	switch {
	case ref.Host != "":
		out.Path = collapse(ref.Path)
	case ref.Path == "":
		out.Path = collapse(base.Path)
		if ref.RawQuery == "" && !ref.ForceQuery {
			out.RawQuery = base.RawQuery
		}
	case strings.HasPrefix(ref.Path, "/"):
		out.Path = collapse(ref.Path)
	default:
		out.Path = collapse(dirPath(base.Path) + ref.Path)
	}
	out.RawPath = ""
	out.Opaque = ""
	return &out
}

// Canonical returns u with a lower-cased scheme and host, an explicit root
// path and no fragment.
func Canonical(u *url.URL) *url.URL {
	out := *u
	out.Scheme = strings.ToLower(u.Scheme)
	out.Host = strings.ToLower(u.Host)
	out.Fragment = ""
	out.RawFragment = ""
	if out.Path == "" {
		out.Path = "/"
	}
	out.RawPath = ""
	return &out
}

// Key is the dedup key of u: scheme, host, port, path and query.
func Key(u *url.URL) string {
	c := Canonical(u)
	var b strings.Builder
	b.WriteString(c.Scheme)
	b.WriteString("://")
	b.WriteString(c.Host)
	b.WriteString(c.EscapedPath())
	if c.RawQuery != "" || c.ForceQuery {
		b.WriteByte('?')
		b.WriteString(c.RawQuery)
	}
	return b.String()
}

// Dir returns the directory of u: the path up to and including its last slash,
// without query or fragment.
func Dir(u *url.URL) *url.URL {
	out := *Canonical(u)
	out.Path = dirPath(out.Path)
	out.RawQuery = ""
	out.ForceQuery = false
	return &out
}

// Fetchable reports whether u can be crawled: http(s) or scheme-less references
// that are not opaque (mailto:, javascript:, data:).
func Fetchable(u *url.URL) bool {
	if u.Opaque != "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "", "http", "https":
		return true
	default:
		return false
	}
}

func dirPath(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "/"
	}
	return p[:i+1]
}

// collapse removes "." and ".." segments left to right. A trailing slash, or a
// final dot segment, keeps the result a directory.
func collapse(p string) string {
	segments := strings.Split(p, "/")
	stack := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}
	out := "/" + strings.Join(stack, "/")
	last := segments[len(segments)-1]
	if len(stack) > 0 && (last == "" || last == "." || last == "..") {
		out += "/"
	}
	return out
}
