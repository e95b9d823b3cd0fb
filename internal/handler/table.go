// Package handler holds the per-content-type strategy tables used by the
// pipeline: link parsers, item preparers, writers and size limits.
package handler

import (
	"mime"
	"strings"
	"sync"
)

// Wildcard is the fallback key of every table.
const Wildcard = "*"

// Table maps lower-cased MIME types to handlers with a wildcard fallback.
type Table[H any] struct {
	mu       sync.RWMutex
	handlers map[string]H
}

// NewTable returns an empty table.
func NewTable[H any]() *Table[H] {
	return &Table[H]{handlers: make(map[string]H)}
}

// Register installs h for contentType, replacing any previous handler.
func (t *Table[H]) Register(contentType string, h H) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[Normalize(contentType)] = h
}

// Remove drops the handler for contentType, if any.
func (t *Table[H]) Remove(contentType string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, Normalize(contentType))
}

// Has reports whether a handler is registered under exactly contentType.
func (t *Table[H]) Has(contentType string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.handlers[Normalize(contentType)]
	return ok
}

// Lookup returns the handler for contentType, falling back to the wildcard.
func (t *Table[H]) Lookup(contentType string) (H, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if h, ok := t.handlers[Normalize(contentType)]; ok {
		return h, true
	}
	h, ok := t.handlers[Wildcard]
	return h, ok
}

// EnsureWildcard installs def as the wildcard handler unless one exists.
func (t *Table[H]) EnsureWildcard(def H) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.handlers[Wildcard]; !ok {
		t.handlers[Wildcard] = def
	}
}

// Keys lists the registered content types.
func (t *Table[H]) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.handlers))
	for k := range t.handlers {
		out = append(out, k)
	}
	return out
}

// Normalize lower-cases a content type and strips its parameters
// ("text/HTML; charset=utf-8" becomes "text/html").
func Normalize(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == Wildcard {
		return Wildcard
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		return mediaType
	}
	base, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
