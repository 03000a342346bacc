package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWeights_Renormalize_DropsAbsentSignals(t *testing.T) {
	w := Weights{Vector: 0.4, Field: 0.3, Graph: 0.3}

	out := w.Renormalize(true, true, false)
	assert.InDelta(t, 4.0/7.0, out.Vector, 1e-9)
	assert.InDelta(t, 3.0/7.0, out.Field, 1e-9)
	assert.Zero(t, out.Graph)
}

func TestWeights_Renormalize_AllPresentUnchangedRatio(t *testing.T) {
	w := Weights{Vector: 0.4, Field: 0.3, Graph: 0.3}
	out := w.Renormalize(true, true, true)
	assert.InDelta(t, 0.4, out.Vector, 1e-9)
	assert.InDelta(t, 0.3, out.Field, 1e-9)
	assert.InDelta(t, 0.3, out.Graph, 1e-9)
}

func TestWeights_Renormalize_NoSignalsZero(t *testing.T) {
	w := Weights{Vector: 0.4, Field: 0.3, Graph: 0.3}
	out := w.Renormalize(false, false, false)
	assert.Equal(t, Weights{}, out)
}

func TestFusion_Fuse_RanksConsensusHigher(t *testing.T) {
	f := NewFusion()
	weights := Weights{Vector: 0.5, Field: 0.5}

	vector := []RankedID{{ID: 1, Rank: 1, Score: 0.9}, {ID: 2, Rank: 2, Score: 0.8}}
	field := []RankedID{{ID: 1, Rank: 1}, {ID: 3, Rank: 2}}

	out := f.Fuse(vector, field, nil, weights)
	requireLen(t, out, 3)
	assert.Equal(t, uint32(1), out[0].ID, "id 1 appears in both lists and should rank first")
	assert.Equal(t, 2, out[0].SignalCount)
}

func TestFusion_Fuse_EmptyInputsReturnsEmpty(t *testing.T) {
	f := NewFusion()
	out := f.Fuse(nil, nil, nil, Weights{})
	assert.Empty(t, out)
}

func TestFusion_Fuse_TieBreaksByIDWhenScoresEqual(t *testing.T) {
	f := NewFusion()
	vector := []RankedID{{ID: 5, Rank: 1}, {ID: 2, Rank: 1}}
	out := f.Fuse(vector, nil, nil, Weights{Vector: 1})
	requireLen(t, out, 2)
	assert.Equal(t, uint32(2), out[0].ID)
}

func TestRankedFrom_AssignsOneIndexedRanks(t *testing.T) {
	ids := []uint32{7, 8, 9}
	out := RankedFrom(ids, nil)
	assert.Len(t, out, 3)
	assert.Equal(t, 1, out[0].Rank)
	assert.Equal(t, 3, out[2].Rank)
}

func requireLen(t *testing.T, s []*FusedResult, n int) {
	t.Helper()
	if len(s) != n {
		t.Fatalf("expected %d results, got %d", n, len(s))
	}
}
