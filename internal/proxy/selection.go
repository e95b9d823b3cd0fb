package proxy

import (
	"sort"

	"github.com/JakeFAU/sitemirror/internal/crawler"
)

// Selection narrows and orders the proxies to try for one item.
type Selection func(pool []Proxy, it *crawler.Item) []Proxy

// Step wraps a Selection, filtering or reordering its result.
type Step func(next Selection) Selection

// Direction orders SortByLastUse.
type Direction int

// Sort directions.
const (
	Ascending Direction = iota
	Descending
)

// AllActive is the innermost selection: every active proxy.
func AllActive(pool []Proxy, _ *crawler.Item) []Proxy {
	return keep(pool, func(p Proxy) bool { return p.Active })
}

// Chain composes steps over AllActive. Steps apply in order, each one to the
// result of the previous.
func Chain(steps ...Step) Selection {
	sel := Selection(AllActive)
	for _, step := range steps {
		sel = step(sel)
	}
	return sel
}

// OnlyActive drops inactive proxies.
func OnlyActive() Step {
	return func(next Selection) Selection {
		return func(pool []Proxy, it *crawler.Item) []Proxy {
			return keep(next(pool, it), func(p Proxy) bool { return p.Active })
		}
	}
}

// MaxAttempts drops proxies whose failed attempts exceed n.
func MaxAttempts(n int) Step {
	return func(next Selection) Selection {
		return func(pool []Proxy, it *crawler.Item) []Proxy {
			return keep(next(pool, it), func(p Proxy) bool { return p.Attempts <= n })
		}
	}
}

// SortByLastUse orders by last use. Never-used proxies come first when
// ascending and last when descending.
func SortByLastUse(dir Direction) Step {
	return func(next Selection) Selection {
		return func(pool []Proxy, it *crawler.Item) []Proxy {
			out := next(pool, it)
			sort.SliceStable(out, func(i, j int) bool {
				a, b := out[i].LastUse, out[j].LastUse
				switch {
				case a == nil && b == nil:
					return false
				case a == nil:
					return dir == Ascending
				case b == nil:
					return dir == Descending
				case dir == Ascending:
					return a.Before(*b)
				default:
					return a.After(*b)
				}
			})
			return out
		}
	}
}

// Limit keeps the first k proxies.
func Limit(k int) Step {
	return func(next Selection) Selection {
		return func(pool []Proxy, it *crawler.Item) []Proxy {
			out := next(pool, it)
			if k >= 0 && len(out) > k {
				out = out[:k]
			}
			return out
		}
	}
}

func keep(in []Proxy, ok func(Proxy) bool) []Proxy {
	out := make([]Proxy, 0, len(in))
	for _, p := range in {
		if ok(p) {
			out = append(out, p)
		}
	}
	return out
}
