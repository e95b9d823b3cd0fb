// Package crawler defines the item model, the registry that dedups and queues
// items, and the persistence contract shared by the pipeline phases.
package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"time"
)

// Status is the tri-state outcome of a pipeline phase for one item.
type Status int8

// Phase outcomes. StatusUnset means the phase has not been attempted.
const (
	StatusUnset Status = iota
	StatusSuccess
	StatusFailure
)

// StatusOf converts a boolean outcome into a Status.
func StatusOf(ok bool) Status {
	if ok {
		return StatusSuccess
	}
	return StatusFailure
}

// Set reports whether the phase was attempted.
func (s Status) Set() bool { return s != StatusUnset }

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	default:
		return "unset"
	}
}

// Bool returns the outcome as a nullable boolean for SQL columns.
func (s Status) Bool() *bool {
	if s == StatusUnset {
		return nil
	}
	ok := s == StatusSuccess
	return &ok
}

// StatusFromBool is the inverse of Status.Bool.
func StatusFromBool(b *bool) Status {
	if b == nil {
		return StatusUnset
	}
	return StatusOf(*b)
}

// MarshalJSON encodes unset as null and the outcomes as booleans.
func (s Status) MarshalJSON() ([]byte, error) {
	switch s {
	case StatusSuccess:
		return []byte("true"), nil
	case StatusFailure:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts null, true or false.
func (s *Status) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "null":
		*s = StatusUnset
	case "true":
		*s = StatusSuccess
	case "false":
		*s = StatusFailure
	default:
		return fmt.Errorf("invalid status %s", data)
	}
	return nil
}

// Item is one discovered resource and its per-phase outcome state.
//
// URI and Allow are fixed at creation. Body and PreparedBody are ephemeral and
// released once the item is done with a phase.
type Item struct {
	URI          *url.URL
	Allow        bool
	StatusCode   int
	ReasonPhrase string
	Download     Status
	Process      Status
	Write        Status
	ContentType  string
	Body         []byte
	PreparedBody []byte
	NewURI       *url.URL
	Expires      *time.Time
}

// Release drops the in-memory bodies.
func (it *Item) Release() {
	it.Body = nil
	it.PreparedBody = nil
}

// Expired reports whether the item has an expiry at or before now.
func (it *Item) Expired(now time.Time) bool {
	return it.Expires != nil && !it.Expires.After(now)
}

// String returns the canonical URI.
func (it *Item) String() string {
	if it == nil || it.URI == nil {
		return ""
	}
	return it.URI.String()
}
