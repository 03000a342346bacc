package vector

import (
	"context"
	"strconv"
	"sync"

	"github.com/embedgraph/core/internal/cache"
)

// Index owns one HNSW sub-graph per noun type, so a search scoped to a
// single type never walks another type's neighbors (spec.md §4:
// "type-partitioned sub-graphs").
type Index struct {
	mu                    sync.RWMutex
	cfg                   Config
	preloadThresholdBytes int64
	cache                 *cache.Cache
	graphs                map[string]*Graph
}

// NewIndex builds an empty vector index.
func NewIndex(cfg Config, preloadThresholdBytes int64, c *cache.Cache) *Index {
	return &Index{
		cfg:                   cfg,
		preloadThresholdBytes: preloadThresholdBytes,
		cache:                 c,
		graphs:                make(map[string]*Graph),
	}
}

// graphFor returns (creating if needed) the sub-graph for nounType. New
// sub-graphs start preloaded; Insert promotes one to lazy once its
// estimated footprint crosses preloadThresholdBytes.
func (ix *Index) graphFor(nounType string) *Graph {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	g, ok := ix.graphs[nounType]
	if ok {
		return g
	}
	g = NewPreloaded(ix.cfg)
	ix.graphs[nounType] = g
	return g
}

// estimatedBytes approximates a preloaded sub-graph's vector footprint:
// resident node count times one vector's byte size.
func (g *Graph) estimatedBytes(dim int) int64 {
	return int64(g.Len() * dim * 4)
}

// Insert adds id's vector under nounType, transparently promoting the
// sub-graph from preloaded to lazy once it outgrows the configured
// threshold (SPEC_FULL.md §4.5). It returns the level and per-layer
// neighbor lists HNSW assigned id, for the caller to persist alongside
// the vector.
func (ix *Index) Insert(ctx context.Context, nounType string, id uint32, vec []float32, loader Loader) (uint8, map[uint8][]uint32, error) {
	g := ix.graphFor(nounType)

	if ix.preloadThresholdBytes > 0 && g.preloaded && g.estimatedBytes(len(vec)) > ix.preloadThresholdBytes {
		ix.promoteToLazy(nounType, g, loader)
		g = ix.graphs[nounType]
	}
	return g.Insert(ctx, id, vec)
}

// NodeState returns id's current level and per-layer neighbor lists
// within nounType's sub-graph, reflecting any back-links later inserts
// have added since id itself was inserted.
func (ix *Index) NodeState(nounType string, id uint32) (uint8, map[uint8][]uint32, bool) {
	ix.mu.RLock()
	g, ok := ix.graphs[nounType]
	ix.mu.RUnlock()
	if !ok {
		return 0, nil, false
	}
	return g.NodeState(id)
}

// Load restores a node whose level/connections were already computed by
// a prior Insert, without rerunning HNSW's greedy-search insert — the
// rebuild path hydrateNouns uses to load persisted topology in O(1) per
// node rather than recomputing it (spec.md §4.5).
func (ix *Index) Load(nounType string, id uint32, level uint8, connections map[uint8][]uint32, vec []float32, loader Loader) {
	g := ix.graphFor(nounType)

	if ix.preloadThresholdBytes > 0 && g.preloaded && g.estimatedBytes(len(vec)) > ix.preloadThresholdBytes {
		ix.promoteToLazy(nounType, g, loader)
		g = ix.graphs[nounType]
	}
	g.LoadNode(id, level, connections, vec)
}

// promoteToLazy rebuilds nounType's sub-graph topology with vectors
// evicted to the Unified Cache instead of held directly, once its
// resident footprint crosses the preload threshold.
func (ix *Index) promoteToLazy(nounType string, old *Graph, loader Loader) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	lazy := NewLazy(ix.cfg, ix.cache, "vector:"+nounType+":", loader)
	old.mu.Lock()
	lazy.nodes = old.nodes
	lazy.entryPoint = old.entryPoint
	lazy.hasEntry = old.hasEntry
	lazy.topLevel = old.topLevel
	for id, n := range old.nodes {
		if n.vector != nil {
			_ = ix.cache.Put(lazy.cacheKey+strconv.FormatUint(uint64(id), 10), cache.KindVector, int64(len(n.vector)*4), n.vector)
			n.vector = nil
		}
	}
	old.mu.Unlock()

	ix.graphs[nounType] = lazy
}

// Search runs a k-NN search scoped to one noun type.
func (ix *Index) Search(ctx context.Context, nounType string, query []float32, k int) ([]Result, error) {
	ix.mu.RLock()
	g, ok := ix.graphs[nounType]
	ix.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return g.Search(ctx, query, k)
}

// Delete removes id from nounType's sub-graph.
func (ix *Index) Delete(nounType string, id uint32) {
	ix.mu.RLock()
	g, ok := ix.graphs[nounType]
	ix.mu.RUnlock()
	if ok {
		g.Delete(id)
	}
}

// Types returns every noun type with a sub-graph.
func (ix *Index) Types() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, 0, len(ix.graphs))
	for t := range ix.graphs {
		out = append(out, t)
	}
	return out
}

