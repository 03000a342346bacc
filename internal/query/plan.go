package query

// FieldOp is the comparison a FieldFilter applies.
type FieldOp int

const (
	FieldOpExact FieldOp = iota
	FieldOpRange
)

// FieldFilter narrows results to entities whose metadata field matches
// a value (FieldOpExact) or falls within [Min, Max] (FieldOpRange).
type FieldFilter struct {
	Field string
	Op    FieldOp
	Value any
	Min   float64
	Max   float64
}

// GraphFilter narrows results to entities reachable from Start via
// edges of VerbTypes within MaxDepth hops (empty VerbTypes follows
// every type).
type GraphFilter struct {
	Start     uint32
	VerbTypes []string
	MaxDepth  int
}

// VectorQuery asks for the K nearest neighbors of Query in NounType's
// sub-graph.
type VectorQuery struct {
	Query []float32
	K     int
}

// Plan describes one query across the three indexes. Any of Vector,
// Fields, or Graph may be zero-valued to omit that signal; at least one
// must be set.
type Plan struct {
	NounType string
	Vector   *VectorQuery
	Fields   []FieldFilter
	Graph    *GraphFilter
	Weights  Weights
	Limit    int

	// AsOfCommit names a commit hash for point-in-time reads (spec.md §5
	// branch/time-travel). Executor does not read it: queries always run
	// against the live indexes.
	AsOfCommit string
}

// Strategy is the planner's chosen execution shape.
type Strategy int

const (
	// StrategyParallelFanOut runs every present signal concurrently and
	// fuses the results. Used when no single signal is selective enough
	// to narrow the candidate set cheaply up front.
	StrategyParallelFanOut Strategy = iota
	// StrategyNarrowThenSearch evaluates the most selective field filter
	// first and restricts the remaining signals to that candidate set.
	StrategyNarrowThenSearch
)

// selectivityThreshold: a field filter estimated to match fewer than
// this many entities is considered narrow enough to drive the plan.
const selectivityThreshold = 256

// Choose picks a Strategy for plan given estimate, the planner's guess
// at how many entities each field filter matches (e.g. from roaring
// bitmap cardinalities). estimate may be nil, in which case the planner
// always fans out in parallel.
func Choose(plan Plan, estimate func(FieldFilter) int) Strategy {
	if estimate == nil || len(plan.Fields) == 0 {
		return StrategyParallelFanOut
	}
	for _, f := range plan.Fields {
		if estimate(f) < selectivityThreshold {
			return StrategyNarrowThenSearch
		}
	}
	return StrategyParallelFanOut
}
