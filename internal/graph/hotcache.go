package graph

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// hotKey identifies one (source, verbType) adjacency list in the hot cache.
type hotKey struct {
	source uint32
	vtype  string
}

// HotCache sits in front of the forward keyspace, caching the full
// neighbor list for recently-touched (source, verbType) pairs so a
// repeated traversal through a hub node skips the badger read
// (SPEC_FULL.md §4.6).
type HotCache struct {
	store *Store
	lru   *lru.Cache[hotKey, []Edge]
}

// NewHotCache wraps store with an LRU of up to size entries. size <= 0
// disables caching: every call passes straight through to store.
func NewHotCache(store *Store, size int) *HotCache {
	if size <= 0 {
		return &HotCache{store: store}
	}
	l, _ := lru.New[hotKey, []Edge](size)
	return &HotCache{store: store, lru: l}
}

// Neighbors returns source's verbType-typed neighbors, serving from the
// hot cache when resident.
func (h *HotCache) Neighbors(source uint32, verbType string) ([]Edge, error) {
	if h.lru == nil {
		return h.store.Neighbors(source, verbType)
	}
	key := hotKey{source, verbType}
	if cached, ok := h.lru.Get(key); ok {
		return cached, nil
	}
	edges, err := h.store.Neighbors(source, verbType)
	if err != nil {
		return nil, err
	}
	h.lru.Add(key, edges)
	return edges, nil
}

// Invalidate drops every cached entry for source, regardless of verb
// type. Store.AddVerb and Store.DeleteVerb do not call it; until it is
// called, cached lists for source do not reflect later edge changes.
func (h *HotCache) Invalidate(source uint32) {
	if h.lru == nil {
		return
	}
	for _, key := range h.lru.Keys() {
		if key.source == source {
			h.lru.Remove(key)
		}
	}
}

// Len reports the number of cached adjacency lists.
func (h *HotCache) Len() int {
	if h.lru == nil {
		return 0
	}
	return h.lru.Len()
}
