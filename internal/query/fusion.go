// Package query implements the planner and executor that turn a Plan
// into a ranked result set by fanning out across the vector, metadata,
// and graph indexes and fusing their rankings (spec.md §4, SPEC_FULL.md
// §4.7).
package query

import "sort"

// DefaultRRFConstant is the standard Reciprocal Rank Fusion smoothing
// parameter (k=60, the same value used by most production hybrid-search
// stacks).
const DefaultRRFConstant = 60

// Weights controls each signal's contribution to the fused score.
// Weights for signals that did not participate in a given query are
// dropped and the rest renormalized (SPEC_FULL.md §4.7's default
// 0.4/0.3/0.3 split).
type Weights struct {
	Vector float64
	Field  float64
	Graph  float64
}

// Renormalize rescales w so that only the signals marked present
// contribute, and their weights sum to 1. A query with no vector
// component, for instance, redistributes Vector's share across Field
// and Graph in proportion to their original weights.
func (w Weights) Renormalize(hasVector, hasField, hasGraph bool) Weights {
	total := 0.0
	if hasVector {
		total += w.Vector
	}
	if hasField {
		total += w.Field
	}
	if hasGraph {
		total += w.Graph
	}
	if total == 0 {
		return Weights{}
	}
	out := Weights{}
	if hasVector {
		out.Vector = w.Vector / total
	}
	if hasField {
		out.Field = w.Field / total
	}
	if hasGraph {
		out.Graph = w.Graph / total
	}
	return out
}

// RankedID is one signal's contribution: an entity id at a given
// 1-indexed rank, with the signal's own native score preserved for
// tie-breaking and explain output.
type RankedID struct {
	ID    uint32
	Rank  int
	Score float64
}

// FusedResult is one entity's combined ranking across every signal that
// surfaced it.
type FusedResult struct {
	ID          uint32
	Score       float64
	VectorRank  int
	VectorScore float64
	FieldRank   int
	GraphRank   int
	GraphScore  float64
	SignalCount int
}

// Fusion computes Reciprocal Rank Fusion over up to three ranked lists.
type Fusion struct {
	K int
}

// NewFusion returns a Fusion using DefaultRRFConstant.
func NewFusion() *Fusion {
	return &Fusion{K: DefaultRRFConstant}
}

// Fuse combines vector, field, and graph rankings under weights, which
// must already be renormalized for the lists actually supplied. Any of
// the three lists may be nil.
func (f *Fusion) Fuse(vector, field, graph []RankedID, weights Weights) []*FusedResult {
	k := f.K
	if k <= 0 {
		k = DefaultRRFConstant
	}

	results := make(map[uint32]*FusedResult)
	get := func(id uint32) *FusedResult {
		if r, ok := results[id]; ok {
			return r
		}
		r := &FusedResult{ID: id}
		results[id] = r
		return r
	}

	for _, r := range vector {
		fr := get(r.ID)
		fr.VectorRank = r.Rank
		fr.VectorScore = r.Score
		fr.SignalCount++
		fr.Score += weights.Vector / float64(k+r.Rank)
	}
	for _, r := range field {
		fr := get(r.ID)
		fr.FieldRank = r.Rank
		fr.SignalCount++
		fr.Score += weights.Field / float64(k+r.Rank)
	}
	for _, r := range graph {
		fr := get(r.ID)
		fr.GraphRank = r.Rank
		fr.GraphScore = r.Score
		fr.SignalCount++
		fr.Score += weights.Graph / float64(k+r.Rank)
	}

	out := make([]*FusedResult, 0, len(results))
	for _, r := range results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return less(out[i], out[j])
	})
	return out
}

// less orders by fused score, then by signal count (consensus across
// more signals wins), then by id for determinism.
func less(a, b *FusedResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.SignalCount != b.SignalCount {
		return a.SignalCount > b.SignalCount
	}
	return a.ID < b.ID
}

// RankedFrom converts an ordered id list (already ranked best-first)
// into RankedID entries with 1-indexed ranks.
func RankedFrom(ids []uint32, scoreOf func(uint32) float64) []RankedID {
	out := make([]RankedID, len(ids))
	for i, id := range ids {
		score := 0.0
		if scoreOf != nil {
			score = scoreOf(id)
		}
		out[i] = RankedID{ID: id, Rank: i + 1, Score: score}
	}
	return out
}
