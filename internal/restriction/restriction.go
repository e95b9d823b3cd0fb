// Package restriction decides whether a URI is inside the crawl scope.
package restriction

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/sitemirror/internal/uri"
)

// Restriction is a scope predicate over a URI.
type Restriction interface {
	Allow(u *url.URL) bool
}

// Domain allows URIs without a host or whose host equals Host.
type Domain struct {
	Host string
}

// Allow implements Restriction.
func (d Domain) Allow(u *url.URL) bool {
	return u.Host == "" || strings.EqualFold(u.Host, d.Host)
}

// PathPrefix allows URIs on Host whose path starts with Path, compared case
// insensitively. An empty Path means the root.
type PathPrefix struct {
	Host string
	Path string
}

// Allow implements Restriction.
func (p PathPrefix) Allow(u *url.URL) bool {
	prefix := p.Path
	if prefix == "" {
		prefix = "/"
	}
	switch {
	case u.Host == "":
		if prefix != "/" {
			return false
		}
	case !strings.EqualFold(u.Host, p.Host):
		return false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return strings.HasPrefix(strings.ToLower(path), strings.ToLower(prefix))
}

// DenyAll never allows anything.
type DenyAll struct{}

// Allow implements Restriction.
func (DenyAll) Allow(*url.URL) bool { return false }

// Func adapts a user-defined predicate.
type Func func(u *url.URL) bool

// Allow implements Restriction.
func (f Func) Allow(u *url.URL) bool { return f(u) }

// IsAllowed reports whether any restriction allows u. An empty set denies
// everything.
func IsAllowed(rs []Restriction, u *url.URL) bool {
	for _, r := range rs {
		if r.Allow(u) {
			return true
		}
	}
	return false
}

// Defaults builds one PathPrefix per distinct start directory.
func Defaults(starts []*url.URL) []Restriction {
	seen := make(map[string]struct{}, len(starts))
	out := make([]Restriction, 0, len(starts))
	for _, s := range starts {
		dir := uri.Dir(s)
		key := dir.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, PathPrefix{Host: dir.Host, Path: dir.Path})
	}
	return out
}

// Effective returns configured when it is non-empty and the defaults for
// starts otherwise.
func Effective(configured []Restriction, starts []*url.URL) []Restriction {
	if len(configured) > 0 {
		return configured
	}
	return Defaults(starts)
}

// Parse reads one restriction from its config form: "domain:<host>",
// "path:<url>" or "deny".
func Parse(spec string) (Restriction, error) {
	spec = strings.TrimSpace(spec)
	kind, arg, _ := strings.Cut(spec, ":")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(kind) {
	case "deny":
		return DenyAll{}, nil
	case "domain":
		if arg == "" {
			return nil, fmt.Errorf("restriction %q: missing host", spec)
		}
		return Domain{Host: strings.ToLower(arg)}, nil
	case "path":
		u, err := uri.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("restriction %q: %w", spec, err)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("restriction %q: missing host", spec)
		}
		return PathPrefix{Host: strings.ToLower(u.Host), Path: u.Path}, nil
	default:
		return nil, fmt.Errorf("restriction %q: unknown kind %q", spec, kind)
	}
}

// ParseAll parses every spec, stopping at the first error.
func ParseAll(specs []string) ([]Restriction, error) {
	out := make([]Restriction, 0, len(specs))
	for _, s := range specs {
		r, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
