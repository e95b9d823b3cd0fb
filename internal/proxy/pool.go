package proxy

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type entry struct {
	dispatch sync.Mutex
	proxy    Proxy
}

// Pool tracks proxy state. Reads go through Snapshot; each proxy is used by at
// most one request at a time through Dispatch.
type Pool struct {
	mu      sync.RWMutex
	entries []*entry
	byKey   map[string]*entry
}

// NewPool builds a pool from proxies, dropping duplicate keys.
func NewPool(proxies []Proxy) *Pool {
	p := &Pool{byKey: make(map[string]*entry, len(proxies))}
	for _, px := range proxies {
		p.Put(px)
	}
	return p
}

// LoadPool reads every proxy from store.
func LoadPool(ctx context.Context, store Store) (*Pool, error) {
	proxies, err := store.LoadProxies(ctx)
	if err != nil {
		return nil, fmt.Errorf("load proxies: %w", err)
	}
	return NewPool(proxies), nil
}

// Put inserts px or replaces the state of the proxy with the same key.
func (p *Pool) Put(px Proxy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.byKey[px.Key()]; ok {
		e.proxy = px
		return
	}
	e := &entry{proxy: px}
	p.entries = append(p.entries, e)
	p.byKey[px.Key()] = e
}

// Len returns the number of proxies.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Snapshot copies the current proxy state in insertion order.
func (p *Pool) Snapshot() []Proxy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Proxy, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.proxy)
	}
	return out
}

// Dispatch runs fn with exclusive use of the proxy identified by key and
// records the use: LastUse always, Attempts only when fn reports that no
// response was obtained. It returns the updated proxy.
func (p *Pool) Dispatch(key string, now func() time.Time, fn func(Proxy) bool) (Proxy, error) {
	p.mu.RLock()
	e, ok := p.byKey[key]
	p.mu.RUnlock()
	if !ok {
		return Proxy{}, fmt.Errorf("proxy %s not in pool", key)
	}

	e.dispatch.Lock()
	defer e.dispatch.Unlock()

	p.mu.RLock()
	current := e.proxy
	p.mu.RUnlock()

	responded := fn(current)

	p.mu.Lock()
	defer p.mu.Unlock()
	used := now()
	e.proxy.LastUse = &used
	if !responded {
		e.proxy.Attempts++
	}
	return e.proxy, nil
}
