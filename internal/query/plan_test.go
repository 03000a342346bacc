package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChoose_NoEstimatorAlwaysFansOut(t *testing.T) {
	plan := Plan{Fields: []FieldFilter{{Field: "status", Op: FieldOpExact, Value: "active"}}}
	assert.Equal(t, StrategyParallelFanOut, Choose(plan, nil))
}

func TestChoose_NoFieldFiltersFansOut(t *testing.T) {
	plan := Plan{Vector: &VectorQuery{K: 10}}
	assert.Equal(t, StrategyParallelFanOut, Choose(plan, func(FieldFilter) int { return 1 }))
}

func TestChoose_SelectiveFilterNarrows(t *testing.T) {
	plan := Plan{Fields: []FieldFilter{{Field: "status", Op: FieldOpExact, Value: "active"}}}
	estimate := func(FieldFilter) int { return 10 }
	assert.Equal(t, StrategyNarrowThenSearch, Choose(plan, estimate))
}

func TestChoose_UnselectiveFilterFansOut(t *testing.T) {
	plan := Plan{Fields: []FieldFilter{{Field: "status", Op: FieldOpExact, Value: "active"}}}
	estimate := func(FieldFilter) int { return 1_000_000 }
	assert.Equal(t, StrategyParallelFanOut, Choose(plan, estimate))
}
