// Package record holds the stored representation of cached responses and its binary codec.
package record

import (
	"net/http"
	"time"
)

// Variant is one stored representation of a resource.
// Variants are never mutated after they are written, readers work on copies.
type Variant struct {
	// RequestHeaders are the headers of the request which produced the response
	RequestHeaders http.Header
	// ResponseHeaders are the stored response headers, hop-by-hop headers excluded
	ResponseHeaders http.Header
	StatusCode      int
	Body            []byte
	// StoredAt is the moment the Age header snapshot was taken
	StoredAt time.Time
}

// Record is the unit stored under a single cache key.
type Record struct {
	Variants []*Variant
}

// Empty reports whether the record has no variants left. Empty records are removed, never stored.
func (r *Record) Empty() bool {
	return r == nil || len(r.Variants) == 0
}

// Remove deletes the variant at idx, keeping the order of the others.
func (r *Record) Remove(idx int) {
	if idx < 0 || idx >= len(r.Variants) {
		return
	}
	r.Variants = append(r.Variants[:idx], r.Variants[idx+1:]...)
}

// Header returns a copy of the stored response headers, safe to rewrite.
func (v *Variant) Header() http.Header {
	return v.ResponseHeaders.Clone()
}
