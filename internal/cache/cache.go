// Package cache implements the Unified Cache: a single byte-budgeted LRU
// shared across every subsystem that holds decoded blobs in memory
// (vector nodes, graph adjacency, metadata chunks, COW tree objects).
// Admission and eviction are driven by byte cost, not item count, with
// hashicorp/golang-lru/v2 providing the recency ordering (SPEC_FULL.md §4.2).
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"

	dberrors "github.com/embedgraph/core/internal/errors"
)

// Kind tags a cached item by the subsystem that owns it, so metrics and
// pressure-relief policy can be broken down per kind.
type Kind string

const (
	KindVector     Kind = "vector"
	KindBitmap     Kind = "bitmap"
	KindChunk      Kind = "chunk"
	KindGraphNode  Kind = "graph_node"
	KindTreeObject Kind = "tree_object"
	KindBlob       Kind = "blob"
)

type entry struct {
	kind  Kind
	bytes int64
	value any
}

// Cache is a single shared, byte-budgeted LRU keyed by opaque strings.
// Callers namespace their own keys (e.g. "vector:<shard>/<id>").
type Cache struct {
	mu        sync.Mutex
	lru       *lru.Cache[string, entry]
	maxBytes  int64
	usedBytes int64

	bytesUsed *prometheus.GaugeVec
	items     *prometheus.GaugeVec
	evictions *prometheus.CounterVec
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
}

// Config bounds the cache's total footprint.
type Config struct {
	MaxBytes int64
	MaxItems int
}

// New builds a Unified Cache registered against reg (pass nil to skip
// metrics registration, e.g. in tests that construct multiple caches).
func New(cfg Config, reg prometheus.Registerer) *Cache {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 100000
	}

	c := &Cache{
		maxBytes: cfg.MaxBytes,
		bytesUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cache_bytes_used",
			Help: "Bytes currently resident in the unified cache, by kind.",
		}, []string{"kind"}),
		items: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cache_items",
			Help: "Items currently resident in the unified cache, by kind.",
		}, []string{"kind"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Evictions from the unified cache, by kind.",
		}, []string{"kind"}),
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Cache lookups that found a resident entry, by kind.",
		}, []string{"kind"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Cache lookups that found no resident entry, by kind.",
		}, []string{"kind"}),
	}

	backing, _ := lru.NewWithEvict[string, entry](cfg.MaxItems, c.onEvict)
	c.lru = backing

	if reg != nil {
		reg.MustRegister(c.bytesUsed, c.items, c.evictions, c.hits, c.misses)
	}
	return c
}

// onEvict is invoked by the backing LRU under its own lock whenever it
// drops an entry for recency reasons (MaxItems) or via our own
// RemoveOldest calls (byte-pressure eviction). Callers must hold c.mu.
func (c *Cache) onEvict(_ string, e entry) {
	c.usedBytes -= e.bytes
	c.bytesUsed.WithLabelValues(string(e.kind)).Sub(float64(e.bytes))
	c.items.WithLabelValues(string(e.kind)).Dec()
	c.evictions.WithLabelValues(string(e.kind)).Inc()
}

// Get returns the value stored at key, if resident.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.misses.WithLabelValues("").Inc()
		return nil, false
	}
	c.hits.WithLabelValues(string(e.kind)).Inc()
	return e.value, true
}

// Put admits value under key, tagged kind, costing itemBytes. If the item
// alone exceeds the cache's total budget it is rejected with
// KindCapacityExceeded rather than silently thrashing every other entry.
func (c *Cache) Put(key string, kind Kind, itemBytes int64, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxBytes > 0 && itemBytes > c.maxBytes {
		return dberrors.CapacityExceeded("cache", itemBytes, c.maxBytes)
	}

	if old, ok := c.lru.Peek(key); ok {
		c.usedBytes -= old.bytes
		c.bytesUsed.WithLabelValues(string(old.kind)).Sub(float64(old.bytes))
		c.items.WithLabelValues(string(old.kind)).Dec()
	}

	c.evictUntilFits(itemBytes)

	c.lru.Add(key, entry{kind: kind, bytes: itemBytes, value: value})
	c.usedBytes += itemBytes
	c.bytesUsed.WithLabelValues(string(kind)).Add(float64(itemBytes))
	c.items.WithLabelValues(string(kind)).Inc()
	return nil
}

// evictUntilFits removes least-recently-used entries until admitting
// incoming bytes would stay within budget. Callers must hold c.mu.
func (c *Cache) evictUntilFits(incoming int64) {
	if c.maxBytes <= 0 {
		return
	}
	for c.usedBytes+incoming > c.maxBytes {
		_, _, ok := c.lru.RemoveOldest()
		if !ok {
			return
		}
	}
}

// Remove evicts key, if present.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// UsedBytes returns the cache's current byte footprint.
func (c *Cache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}

// Pressure reports the fraction of the byte budget currently in use,
// in [0, 1]. A MaxBytes of 0 means unbounded, reported as 0 pressure.
func (c *Cache) Pressure() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxBytes <= 0 {
		return 0
	}
	return float64(c.usedBytes) / float64(c.maxBytes)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.usedBytes = 0
}
