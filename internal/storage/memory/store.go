// Package memory keeps items, bodies and proxies in-memory for development
// and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/proxy"
)

// Store implements crawler.ItemStore and proxy.Store.
type Store struct {
	mu      sync.RWMutex
	records []crawler.Record
	bodies  map[string][]byte
	proxies map[string]proxy.Proxy
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		bodies:  make(map[string][]byte),
		proxies: make(map[string]proxy.Proxy),
	}
}

// Load returns a copy of the last saved records.
func (s *Store) Load(_ context.Context) ([]crawler.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.Record(nil), s.records...), nil
}

// Save replaces the stored records.
func (s *Store) Save(_ context.Context, records []crawler.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append([]crawler.Record(nil), records...)
	return nil
}

// SaveBody stores a copy of body under itemURI.
func (s *Store) SaveBody(_ context.Context, itemURI string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[itemURI] = append([]byte(nil), body...)
	return nil
}

// Body returns the stored body for itemURI.
func (s *Store) Body(_ context.Context, itemURI string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.bodies[itemURI]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), body...), true, nil
}

// Clear drops every record and body. Proxies are kept.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.bodies = make(map[string][]byte)
	return nil
}

// LoadProxies returns the stored proxies ordered by key.
func (s *Store) LoadProxies(_ context.Context) ([]proxy.Proxy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]proxy.Proxy, 0, len(s.proxies))
	for _, p := range s.proxies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// SaveProxy upserts p by key.
func (s *Store) SaveProxy(_ context.Context, p proxy.Proxy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proxies[p.Key()] = p
	return nil
}
