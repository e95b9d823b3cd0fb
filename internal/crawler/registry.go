package crawler

import (
	"net/url"
	"sync"

	"github.com/JakeFAU/sitemirror/internal/restriction"
	"github.com/JakeFAU/sitemirror/internal/uri"
)

// Registry holds every known item keyed by canonical URI, in discovery order,
// plus the FIFO work queue drained by the phases. It is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	items        map[string]*Item
	order        []*Item
	queue        []*Item
	restrictions []restriction.Restriction
}

// NewRegistry returns an empty registry evaluating new items against rs.
func NewRegistry(rs []restriction.Restriction) *Registry {
	return &Registry{
		items:        make(map[string]*Item),
		restrictions: append([]restriction.Restriction(nil), rs...),
	}
}

// AddIfAbsent creates and enqueues an item for u unless its canonical form is
// already known. The allow flag is computed once, here.
func (r *Registry) AddIfAbsent(u *url.URL) (*Item, bool) {
	canonical := uri.Canonical(u)
	key := uri.Key(canonical)

	r.mu.Lock()
	defer r.mu.Unlock()
	if it, ok := r.items[key]; ok {
		return it, false
	}
	it := &Item{
		URI:   canonical,
		Allow: restriction.IsAllowed(r.restrictions, canonical),
	}
	r.items[key] = it
	r.order = append(r.order, it)
	r.queue = append(r.queue, it)
	return it, true
}

// Restore inserts an item loaded from a store, keeping its recorded allow flag.
// It returns false when the URI is already present.
func (r *Registry) Restore(it *Item) bool {
	it.URI = uri.Canonical(it.URI)
	key := uri.Key(it.URI)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[key]; ok {
		return false
	}
	r.items[key] = it
	r.order = append(r.order, it)
	r.queue = append(r.queue, it)
	return true
}

// Get looks up the item for u.
func (r *Registry) Get(u *url.URL) (*Item, bool) {
	key := uri.Key(u)
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[key]
	return it, ok
}

// Len returns the number of known items.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Next pops the head of the queue.
func (r *Registry) Next() (*Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return nil, false
	}
	it := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]
	return it, true
}

// Pending returns the queue length.
func (r *Registry) Pending() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.queue)
}

// Requeue replaces the queue with every known item in discovery order.
func (r *Registry) Requeue() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(make([]*Item, 0, len(r.order)), r.order...)
}

// Update applies fn to it while holding the registry's write lock, so that
// snapshots never observe a half-applied mutation.
func (r *Registry) Update(it *Item, fn func(*Item)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(it)
}

// Items returns a copy of the item list in discovery order.
func (r *Registry) Items() []*Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Item(nil), r.order...)
}

// Records returns a consistent snapshot of every item's persisted projection.
func (r *Registry) Records() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.order))
	for _, it := range r.order {
		out = append(out, RecordOf(it))
	}
	return out
}

// Filter returns the records matching keep.
func Filter(records []Record, keep func(Record) bool) []Record {
	var out []Record
	for _, rec := range records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Downloaded returns the records whose download succeeded.
func Downloaded(records []Record) []Record {
	return Filter(records, func(rec Record) bool { return rec.DownloadStatus == StatusSuccess })
}

// Pending returns the allowed records whose download has not been attempted.
func Pending(records []Record) []Record {
	return Filter(records, func(rec Record) bool { return rec.Allow && !rec.DownloadStatus.Set() })
}

// PhaseCounts tallies the outcomes of one phase.
type PhaseCounts struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Unset   int `json:"unset"`
}

func (c *PhaseCounts) add(s Status) {
	switch s {
	case StatusSuccess:
		c.Success++
	case StatusFailure:
		c.Failure++
	default:
		c.Unset++
	}
}

// Tally summarizes a registry snapshot. Phase counts cover allowed items only.
type Tally struct {
	Total    int         `json:"total"`
	Allowed  int         `json:"allowed"`
	Download PhaseCounts `json:"download"`
	Process  PhaseCounts `json:"process"`
	Write    PhaseCounts `json:"write"`
}

// Count tallies records.
func Count(records []Record) Tally {
	var t Tally
	for _, rec := range records {
		t.Total++
		if !rec.Allow {
			continue
		}
		t.Allowed++
		t.Download.add(rec.DownloadStatus)
		t.Process.add(rec.ProcessStatus)
		t.Write.add(rec.WriteStatus)
	}
	return t
}
