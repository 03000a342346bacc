package query

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	dberrors "github.com/embedgraph/core/internal/errors"
	"github.com/embedgraph/core/internal/graph"
	"github.com/embedgraph/core/internal/metadata"
	"github.com/embedgraph/core/internal/vector"
)

// vectorSearcher, metadataIndex, and graphWalker narrow the three
// indexes down to what the executor needs, so tests can supply fakes
// without standing up a full Store/Index.
type vectorSearcher interface {
	Search(ctx context.Context, nounType string, query []float32, k int) ([]vector.Result, error)
}

type metadataIndex interface {
	Exact(field string, value any) *roaring.Bitmap
	Range(field string, min, max float64) *roaring.Bitmap
}

type graphWalker interface {
	BFS(start uint32, opts graph.TraverseOptions) ([]graph.Visited, error)
}

// Executor runs a Plan against the three indexes and fuses the result.
type Executor struct {
	Vector   vectorSearcher
	Metadata metadataIndex
	Graph    graphWalker
	Fusion   *Fusion
}

// NewExecutor wires a query executor against the live indexes.
func NewExecutor(v *vector.Index, m *metadata.Index, g *graph.Store) *Executor {
	return &Executor{Vector: v, Metadata: m, Graph: g, Fusion: NewFusion()}
}

// Result is the final, score-sorted output of Execute.
type Result struct {
	Hits     []*FusedResult
	Strategy Strategy
}

// fieldCandidates intersects every field filter in plan into one
// bitmap. A plan with no field filters returns nil (no restriction).
func (e *Executor) fieldCandidates(plan Plan) *roaring.Bitmap {
	if len(plan.Fields) == 0 || e.Metadata == nil {
		return nil
	}
	bitmaps := make([]*roaring.Bitmap, 0, len(plan.Fields))
	for _, f := range plan.Fields {
		switch f.Op {
		case FieldOpExact:
			bitmaps = append(bitmaps, e.Metadata.Exact(f.Field, f.Value))
		case FieldOpRange:
			bitmaps = append(bitmaps, e.Metadata.Range(f.Field, f.Min, f.Max))
		}
	}
	return metadata.Intersect(bitmaps...)
}

// Execute runs plan to completion, running the signals concurrently
// (spec.md §4.8). Only the vector search receives ctx (through the
// errgroup's derived context); the field and graph stages do not check
// it, and Execute waits for every stage to finish before returning.
func (e *Executor) Execute(ctx context.Context, plan Plan) (*Result, error) {
	if plan.Vector == nil && len(plan.Fields) == 0 && plan.Graph == nil {
		return nil, dberrors.InvalidInput("query", "plan has no signals")
	}

	estimate := func(f FieldFilter) int {
		if e.Metadata == nil {
			return selectivityThreshold
		}
		var bm *roaring.Bitmap
		switch f.Op {
		case FieldOpExact:
			bm = e.Metadata.Exact(f.Field, f.Value)
		case FieldOpRange:
			bm = e.Metadata.Range(f.Field, f.Min, f.Max)
		}
		if bm == nil {
			return 0
		}
		return int(bm.GetCardinality())
	}
	strategy := Choose(plan, estimate)

	var candidates *roaring.Bitmap
	if strategy == StrategyNarrowThenSearch {
		candidates = e.fieldCandidates(plan)
	}

	var vectorRanked, fieldRanked, graphRanked []RankedID

	g, gctx := errgroup.WithContext(ctx)

	if plan.Vector != nil && e.Vector != nil {
		g.Go(func() error {
			k := plan.Vector.K
			if strategy == StrategyNarrowThenSearch && candidates != nil {
				// Over-fetch since post-filtering against candidates
				// will drop some hits.
				k = k * 4
			}
			hits, err := e.Vector.Search(gctx, plan.NounType, plan.Vector.Query, k)
			if err != nil {
				return err
			}
			var ids []uint32
			scores := map[uint32]float64{}
			for _, h := range hits {
				if candidates != nil && !candidates.Contains(h.ID) {
					continue
				}
				ids = append(ids, h.ID)
				scores[h.ID] = h.Score
			}
			vectorRanked = RankedFrom(ids, func(id uint32) float64 { return scores[id] })
			return nil
		})
	}

	if len(plan.Fields) > 0 && e.Metadata != nil {
		g.Go(func() error {
			bm := candidates
			if bm == nil {
				bm = e.fieldCandidates(plan)
			}
			if bm == nil {
				return nil
			}
			ids := make([]uint32, 0, bm.GetCardinality())
			it := bm.Iterator()
			for it.HasNext() {
				ids = append(ids, it.Next())
			}
			fieldRanked = RankedFrom(ids, nil)
			return nil
		})
	}

	if plan.Graph != nil && e.Graph != nil {
		g.Go(func() error {
			visited, err := e.Graph.BFS(plan.Graph.Start, graph.TraverseOptions{
				VerbTypes: plan.Graph.VerbTypes,
				MaxDepth:  plan.Graph.MaxDepth,
			})
			if err != nil {
				return err
			}
			var ids []uint32
			scores := map[uint32]float64{}
			for _, v := range visited {
				if candidates != nil && !candidates.Contains(v.NodeID) {
					continue
				}
				ids = append(ids, v.NodeID)
				scores[v.NodeID] = 1.0 / float64(v.Depth)
			}
			graphRanked = RankedFrom(ids, func(id uint32) float64 { return scores[id] })
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	weights := plan.Weights.Renormalize(plan.Vector != nil, len(plan.Fields) > 0, plan.Graph != nil)
	fused := e.Fusion.Fuse(vectorRanked, fieldRanked, graphRanked, weights)

	limit := plan.Limit
	if limit > 0 && len(fused) > limit {
		fused = fused[:limit]
	}

	return &Result{Hits: fused, Strategy: strategy}, nil
}
