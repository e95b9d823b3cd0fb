package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/sitemirror/internal/restriction"
	"github.com/JakeFAU/sitemirror/internal/uri"
)

// Record is the persisted projection of an Item. Null status fields mean the
// phase has not been attempted.
type Record struct {
	ItemURI        string     `json:"itemUri"`
	Allow          bool       `json:"allow"`
	StatusCode     int        `json:"statusCode"`
	ReasonPhrase   string     `json:"reasonPhrase"`
	DownloadStatus Status     `json:"downloadStatus"`
	ProcessStatus  Status     `json:"processStatus"`
	WriteStatus    Status     `json:"writeStatus"`
	ContentType    string     `json:"contentType"`
	NewItemURI     string     `json:"newItemUri,omitempty"`
	Expires        *time.Time `json:"expires,omitempty"`
}

// RecordOf projects it.
func RecordOf(it *Item) Record {
	rec := Record{
		ItemURI:        it.URI.String(),
		Allow:          it.Allow,
		StatusCode:     it.StatusCode,
		ReasonPhrase:   it.ReasonPhrase,
		DownloadStatus: it.Download,
		ProcessStatus:  it.Process,
		WriteStatus:    it.Write,
		ContentType:    it.ContentType,
	}
	if it.NewURI != nil {
		rec.NewItemURI = it.NewURI.String()
	}
	if it.Expires != nil {
		exp := *it.Expires
		rec.Expires = &exp
	}
	return rec
}

// Item rebuilds the item described by the record.
func (rec Record) Item() (*Item, error) {
	u, err := uri.Parse(rec.ItemURI)
	if err != nil {
		return nil, err
	}
	it := &Item{
		URI:          u,
		Allow:        rec.Allow,
		StatusCode:   rec.StatusCode,
		ReasonPhrase: rec.ReasonPhrase,
		Download:     rec.DownloadStatus,
		Process:      rec.ProcessStatus,
		Write:        rec.WriteStatus,
		ContentType:  rec.ContentType,
	}
	if rec.NewItemURI != "" {
		it.NewURI, err = uri.Parse(rec.NewItemURI)
		if err != nil {
			return nil, err
		}
	}
	if rec.Expires != nil {
		exp := *rec.Expires
		it.Expires = &exp
	}
	return it, nil
}

// ItemStore persists the registry and downloaded bodies. Load followed by a
// Save of an empty record set is equivalent to a fresh start.
type ItemStore interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, records []Record) error
	SaveBody(ctx context.Context, itemURI string, body []byte) error
	// Body returns the stored body; ok is false when none was saved.
	Body(ctx context.Context, itemURI string) (body []byte, ok bool, err error)
	Clear(ctx context.Context) error
}

// LoadRegistry rebuilds a registry from store. Items whose expiry has passed
// get their download outcome reset so the next Download pass fetches them
// again; the stale expiry is dropped so a fresh one is stamped.
func LoadRegistry(
	ctx context.Context,
	store ItemStore,
	rs []restriction.Restriction,
	now time.Time,
) (*Registry, error) {
	records, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	reg := NewRegistry(rs)
	for _, rec := range records {
		it, err := rec.Item()
		if err != nil {
			return nil, fmt.Errorf("restore item %q: %w", rec.ItemURI, err)
		}
		if it.Expired(now) {
			it.Download = StatusUnset
			it.Expires = nil
		}
		reg.Restore(it)
	}
	return reg, nil
}
