package graph

// TraverseOptions bounds a breadth-first walk: which verb types to
// follow and how many hops to take.
type TraverseOptions struct {
	VerbTypes []string // empty means "follow every type"
	MaxDepth  int
}

// Visited is one node reached during a traversal, along with the hop
// count and the edge that reached it.
type Visited struct {
	NodeID  uint32
	Depth   int
	ViaEdge Edge
}

// BFS walks the forward adjacency keyspace breadth-first from start,
// honoring opts.VerbTypes and opts.MaxDepth (spec.md §3 traversal
// operation). start itself is not included in the result.
func (s *Store) BFS(start uint32, opts TraverseOptions) ([]Visited, error) {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 1
	}

	visited := map[uint32]bool{start: true}
	frontier := []uint32{start}
	var out []Visited

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []uint32
		for _, node := range frontier {
			edges, err := s.outgoingByTypes(node, opts.VerbTypes)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if visited[e.TargetID] {
					continue
				}
				visited[e.TargetID] = true
				out = append(out, Visited{NodeID: e.TargetID, Depth: depth, ViaEdge: e})
				next = append(next, e.TargetID)
			}
		}
		frontier = next
	}
	return out, nil
}

func (s *Store) outgoingByTypes(node uint32, types []string) ([]Edge, error) {
	if len(types) == 0 {
		return s.AllForward(node)
	}
	var out []Edge
	for _, t := range types {
		edges, err := s.Neighbors(node, t)
		if err != nil {
			return nil, err
		}
		out = append(out, edges...)
	}
	return out, nil
}
