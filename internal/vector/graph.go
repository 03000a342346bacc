// Package vector implements the HNSW vector index: one type-partitioned
// sub-graph per noun type, searched independently and merged by the
// query planner (spec.md §4, SPEC_FULL.md §4.5). Sub-graphs above
// VectorConfig.PreloadThresholdBytes keep only topology resident and
// hydrate vectors on demand through the Unified Cache; smaller ones are
// preloaded in full.
package vector

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"sync"

	"github.com/embedgraph/core/internal/cache"
	dberrors "github.com/embedgraph/core/internal/errors"
)

// Loader fetches a node's raw vector from durable storage,
// used on a cache miss in lazy (non-preloaded) sub-graphs.
type Loader func(ctx context.Context, id uint32) ([]float32, error)

type node struct {
	level       uint8
	connections map[uint8][]uint32
	vector      []float32 // resident only when the sub-graph is preloaded
}

// Config tunes one sub-graph's HNSW parameters.
type Config struct {
	M              int
	EfConstruction int
	EfSearch       int
	Metric         Metric
}

// Graph is one type-partitioned HNSW sub-graph.
type Graph struct {
	mu  sync.RWMutex
	cfg Config
	ml  float64
	rng *rand.Rand

	nodes      map[uint32]*node
	entryPoint uint32
	hasEntry   bool
	topLevel   uint8

	preloaded  bool
	cache      *cache.Cache
	cacheKey   string // namespace prefix for cache keys, e.g. "vector:person:"
	loader     Loader
}

// NewPreloaded builds a sub-graph that keeps every vector resident.
func NewPreloaded(cfg Config) *Graph {
	g := newGraph(cfg)
	g.preloaded = true
	return g
}

// NewLazy builds a sub-graph that hydrates vectors through c on demand,
// namespaced by cacheKey and backed by loader for misses.
func NewLazy(cfg Config, c *cache.Cache, cacheKey string, loader Loader) *Graph {
	g := newGraph(cfg)
	g.cache = c
	g.cacheKey = cacheKey
	g.loader = loader
	return g
}

func newGraph(cfg Config) *Graph {
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 200
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 64
	}
	return &Graph{
		cfg:   cfg,
		ml:    1 / math.Log(float64(cfg.M)),
		rng:   rand.New(rand.NewSource(42)),
		nodes: make(map[uint32]*node),
	}
}

func (g *Graph) sampleLevel() uint8 {
	u := g.rng.Float64()
	for u == 0 {
		u = g.rng.Float64()
	}
	level := int(math.Floor(-math.Log(u) * g.ml))
	if level > 63 {
		level = 63
	}
	return uint8(level)
}

func (g *Graph) getVector(ctx context.Context, id uint32) ([]float32, error) {
	if g.preloaded {
		n, ok := g.nodes[id]
		if !ok || n.vector == nil {
			return nil, dberrors.NotFound("vector", "node not resident in preloaded sub-graph")
		}
		return n.vector, nil
	}

	key := g.cacheKey + strconv.FormatUint(uint64(id), 10)
	if v, ok := g.cache.Get(key); ok {
		return v.([]float32), nil
	}
	v, err := g.loader(ctx, id)
	if err != nil {
		return nil, err
	}
	_ = g.cache.Put(key, cache.KindVector, int64(len(v)*4), v)
	return v, nil
}

type candidate struct {
	id       uint32
	distance float64
}

// searchLayer runs a greedy best-first search within one HNSW layer,
// returning up to ef nearest candidates to query.
func (g *Graph) searchLayer(ctx context.Context, query []float32, entryPoints []uint32, ef int, layer uint8) ([]candidate, error) {
	visited := make(map[uint32]bool)
	var candidates []candidate
	var results []candidate

	for _, ep := range entryPoints {
		v, err := g.getVector(ctx, ep)
		if err != nil {
			continue
		}
		d := Distance(g.cfg.Metric, query, v)
		visited[ep] = true
		candidates = append(candidates, candidate{ep, d})
		results = append(results, candidate{ep, d})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })

	for len(candidates) > 0 {
		c := candidates[0]
		candidates = candidates[1:]

		sort.Slice(results, func(i, j int) bool { return results[i].distance < results[j].distance })
		if len(results) >= ef && c.distance > results[len(results)-1].distance {
			break
		}

		n, ok := g.nodes[c.id]
		if !ok {
			continue
		}
		for _, neighborID := range n.connections[layer] {
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true

			v, err := g.getVector(ctx, neighborID)
			if err != nil {
				continue
			}
			d := Distance(g.cfg.Metric, query, v)

			if len(results) < ef || d < results[len(results)-1].distance {
				candidates = append(candidates, candidate{neighborID, d})
				results = append(results, candidate{neighborID, d})
				sort.Slice(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })
			}
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].distance < results[j].distance })
	if len(results) > ef {
		results = results[:ef]
	}
	return results, nil
}

// selectNeighbors keeps the M closest candidates, simplest strategy
// (spec.md does not mandate the heuristic variant).
func selectNeighbors(candidates []candidate, m int) []uint32 {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	out := make([]uint32, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out
}

// Insert adds id with vector to the sub-graph, returning the level and
// per-layer neighbor lists HNSW assigned it so the caller can persist
// them alongside the vector instead of recomputing them on every load
// (spec.md §4.5, §6).
func (g *Graph) Insert(ctx context.Context, id uint32, vec []float32) (uint8, map[uint8][]uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	level := g.sampleLevel()
	n := &node{level: level, connections: make(map[uint8][]uint32)}
	if g.preloaded {
		n.vector = vec
	} else {
		_ = g.cache.Put(g.cacheKey+strconv.FormatUint(uint64(id), 10), cache.KindVector, int64(len(vec)*4), vec)
	}
	g.nodes[id] = n

	if !g.hasEntry {
		g.entryPoint = id
		g.hasEntry = true
		g.topLevel = level
		return level, cloneConnections(n.connections), nil
	}

	entry := []uint32{g.entryPoint}
	for layer := g.topLevel; layer > level; layer-- {
		results, err := g.searchLayer(ctx, vec, entry, 1, layer)
		if err != nil {
			return 0, nil, err
		}
		if len(results) > 0 {
			entry = []uint32{results[0].id}
		}
		if layer == 0 {
			break
		}
	}

	top := level
	if g.topLevel < top {
		top = g.topLevel
	}
	for layer := top; ; layer-- {
		results, err := g.searchLayer(ctx, vec, entry, g.cfg.EfConstruction, layer)
		if err != nil {
			return 0, nil, err
		}
		neighbors := selectNeighbors(results, g.cfg.M)
		n.connections[layer] = neighbors

		for _, neighborID := range neighbors {
			g.link(ctx, neighborID, id, layer)
		}

		entry = neighbors
		if layer == 0 {
			break
		}
	}

	if level > g.topLevel {
		g.topLevel = level
		g.entryPoint = id
	}
	return level, cloneConnections(n.connections), nil
}

// NodeState returns id's current level and per-layer neighbor lists, for
// persisting alongside its vector after Insert (or after later inserts
// have added back-links to it).
func (g *Graph) NodeState(id uint32) (uint8, map[uint8][]uint32, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return 0, nil, false
	}
	return n.level, cloneConnections(n.connections), true
}

// LoadNode installs a node whose level and connections were already
// computed by a prior Insert and persisted, instead of rerunning greedy
// search to recompute them: an O(1)-per-node restore, so rebuilding a
// sub-graph from durable storage is a load, not a recomputation (spec.md
// §4.5). The entry point is picked deterministically from the full node
// set (highest level, ties broken by lowest id), independent of load
// order, so a restored sub-graph's entry point matches across restarts.
func (g *Graph) LoadNode(id uint32, level uint8, connections map[uint8][]uint32, vec []float32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := &node{level: level, connections: cloneConnections(connections)}
	if g.preloaded {
		n.vector = vec
	} else if g.cache != nil {
		_ = g.cache.Put(g.cacheKey+strconv.FormatUint(uint64(id), 10), cache.KindVector, int64(len(vec)*4), vec)
	}
	g.nodes[id] = n

	if !g.hasEntry || level > g.topLevel || (level == g.topLevel && id < g.entryPoint) {
		g.entryPoint = id
		g.topLevel = level
		g.hasEntry = true
	}
}

func cloneConnections(m map[uint8][]uint32) map[uint8][]uint32 {
	if m == nil {
		return nil
	}
	out := make(map[uint8][]uint32, len(m))
	for l, ids := range m {
		out[l] = append([]uint32(nil), ids...)
	}
	return out
}

// link adds the back-edge from neighborID to id at layer (Insert records
// the id -> neighborID direction itself), pruning the neighbor's
// connections back down to M if it now has too many.
func (g *Graph) link(ctx context.Context, neighborID, id uint32, layer uint8) {
	neighbor, ok := g.nodes[neighborID]
	if !ok {
		return
	}
	conns := append(neighbor.connections[layer], id)
	if len(conns) <= g.cfg.M {
		neighbor.connections[layer] = conns
		return
	}

	neighborVec, err := g.getVector(ctx, neighborID)
	if err != nil {
		neighbor.connections[layer] = conns[:g.cfg.M]
		return
	}
	cands := make([]candidate, 0, len(conns))
	for _, c := range conns {
		v, err := g.getVector(ctx, c)
		if err != nil {
			continue
		}
		cands = append(cands, candidate{c, Distance(g.cfg.Metric, neighborVec, v)})
	}
	neighbor.connections[layer] = selectNeighbors(cands, g.cfg.M)
}

// Search returns the k nearest neighbors to query.
func (g *Graph) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.hasEntry {
		return nil, nil
	}

	ef := g.cfg.EfSearch
	if k > ef {
		ef = k
	}

	entry := []uint32{g.entryPoint}
	for layer := g.topLevel; layer > 0; layer-- {
		results, err := g.searchLayer(ctx, query, entry, 1, layer)
		if err != nil {
			return nil, err
		}
		if len(results) > 0 {
			entry = []uint32{results[0].id}
		}
	}

	results, err := g.searchLayer(ctx, query, entry, ef, 0)
	if err != nil {
		return nil, err
	}
	if len(results) > k {
		results = results[:k]
	}

	out := make([]Result, len(results))
	for i, c := range results {
		out[i] = Result{ID: c.id, Distance: c.distance, Score: ScoreFromDistance(g.cfg.Metric, c.distance)}
	}
	return out, nil
}

// Result is one k-NN search hit.
type Result struct {
	ID       uint32
	Distance float64
	Score    float64
}

// Delete removes id from the sub-graph, pruning dangling references from
// its neighbors. The entry point is reassigned if it was deleted.
func (g *Graph) Delete(id uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return
	}
	delete(g.nodes, id)

	for _, n := range g.nodes {
		for layer, conns := range n.connections {
			filtered := conns[:0]
			for _, c := range conns {
				if c != id {
					filtered = append(filtered, c)
				}
			}
			n.connections[layer] = filtered
		}
	}

	if g.hasEntry && g.entryPoint == id {
		g.hasEntry = false
		for otherID := range g.nodes {
			g.entryPoint = otherID
			g.hasEntry = true
			break
		}
	}
}

// Contains reports whether id is present in the sub-graph.
func (g *Graph) Contains(id uint32) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of resident nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}
