// Package metadata implements the metadata index: per-field columnar
// postings chunks (bloom filter + zone map + roaring bitmap) that let
// queries narrow by exact or range predicates without scanning every
// entity's JSON blob (spec.md §4, SPEC_FULL.md §4.4).
package metadata

import "sync"

// excludedFields are never indexed: they are either the entity's own
// identity, large payloads, or free text unsuited to exact/range lookup
// (spec.md §3).
var excludedFields = map[string]bool{
	"id":          true,
	"uuid":        true,
	"vector":      true,
	"embedding":   true,
	"content":     true,
	"description": true,
	"metadata":    true,
	"data":        true,
}

// IsIndexable reports whether field is eligible for metadata indexing.
func IsIndexable(field string) bool {
	return !excludedFields[field]
}

// Registry tracks which fields have been observed across indexed
// entities, so callers can enumerate indexable fields without scanning
// every chunk (mirrors internal/entity's type taxonomy pattern).
type Registry struct {
	mu   sync.RWMutex
	seen map[string]bool
}

// NewRegistry returns an empty field registry.
func NewRegistry() *Registry {
	return &Registry{seen: make(map[string]bool)}
}

// Observe records field as seen, if indexable. Returns false if field is
// excluded.
func (r *Registry) Observe(field string) bool {
	if !IsIndexable(field) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[field] = true
	return true
}

// Fields returns every observed field name, in no particular order.
func (r *Registry) Fields() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.seen))
	for f := range r.seen {
		out = append(out, f)
	}
	return out
}
