package query

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/embedgraph/core/internal/graph"
)

// StageTiming records how long one signal (or the fusion step) took
// during an explained execution.
type StageTiming struct {
	Stage    string
	Duration time.Duration
	Hits     int
}

// Explanation is the full breakdown of one Execute call: per-stage
// timing, the chosen strategy, and the final hit count.
type Explanation struct {
	Strategy Strategy
	Stages   []StageTiming
	Result   *Result
}

// Metrics holds the prometheus collectors an Executor reports stage
// latency to. Metrics is optional: a nil *Metrics disables collection.
type Metrics struct {
	stageLatency *prometheus.HistogramVec
}

// NewMetrics registers the query executor's collectors against reg. Pass
// a fresh prometheus.Registerer (or prometheus.DefaultRegisterer).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "embedgraph",
			Subsystem: "query",
			Name:      "stage_duration_seconds",
			Help:      "Latency of each query execution stage (vector, field, graph, fusion).",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}
	if reg != nil {
		reg.MustRegister(m.stageLatency)
	}
	return m
}

func (m *Metrics) observe(stage string, d time.Duration) {
	if m == nil || m.stageLatency == nil {
		return
	}
	m.stageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// ExplainExecutor wraps an Executor, timing each stage independently
// for diagnostics (spec.md §4.9 explain mode). Unlike Executor.Execute,
// stages run sequentially here so their durations are attributable;
// use Execute for the fast, fully concurrent path.
type ExplainExecutor struct {
	*Executor
	Metrics *Metrics
}

// NewExplainExecutor wraps e with stage-level timing reported to m (m
// may be nil to skip prometheus reporting).
func NewExplainExecutor(e *Executor, m *Metrics) *ExplainExecutor {
	return &ExplainExecutor{Executor: e, Metrics: m}
}

// Explain runs plan stage-by-stage and returns a full timing breakdown
// alongside the fused Result. It reports the strategy Choose picks but
// does not apply it: vector and graph hits are not narrowed to the field
// candidates and the vector search is not over-fetched, so under
// StrategyNarrowThenSearch its Result can differ from Execute's.
func (ee *ExplainExecutor) Explain(ctx context.Context, plan Plan) (*Explanation, error) {
	var stages []StageTiming
	var vectorRanked, fieldRanked, graphRanked []RankedID

	estimate := func(f FieldFilter) int {
		if ee.Metadata == nil {
			return selectivityThreshold
		}
		bm := ee.fieldCandidates(Plan{Fields: []FieldFilter{f}})
		if bm == nil {
			return 0
		}
		return int(bm.GetCardinality())
	}
	strategy := Choose(plan, estimate)

	if plan.Vector != nil && ee.Vector != nil {
		start := time.Now()
		hits, err := ee.Vector.Search(ctx, plan.NounType, plan.Vector.Query, plan.Vector.K)
		if err != nil {
			return nil, err
		}
		ids := make([]uint32, len(hits))
		scores := map[uint32]float64{}
		for i, h := range hits {
			ids[i] = h.ID
			scores[h.ID] = h.Score
		}
		vectorRanked = RankedFrom(ids, func(id uint32) float64 { return scores[id] })
		d := time.Since(start)
		stages = append(stages, StageTiming{Stage: "vector", Duration: d, Hits: len(ids)})
		ee.Metrics.observe("vector", d)
	}

	if len(plan.Fields) > 0 && ee.Metadata != nil {
		start := time.Now()
		bm := ee.fieldCandidates(plan)
		var ids []uint32
		if bm != nil {
			it := bm.Iterator()
			for it.HasNext() {
				ids = append(ids, it.Next())
			}
		}
		fieldRanked = RankedFrom(ids, nil)
		d := time.Since(start)
		stages = append(stages, StageTiming{Stage: "field", Duration: d, Hits: len(ids)})
		ee.Metrics.observe("field", d)
	}

	if plan.Graph != nil && ee.Graph != nil {
		start := time.Now()
		visited, err := ee.Graph.BFS(plan.Graph.Start, graph.TraverseOptions{
			VerbTypes: plan.Graph.VerbTypes,
			MaxDepth:  plan.Graph.MaxDepth,
		})
		if err != nil {
			return nil, err
		}
		ids := make([]uint32, len(visited))
		scores := map[uint32]float64{}
		for i, v := range visited {
			ids[i] = v.NodeID
			scores[v.NodeID] = 1.0 / float64(v.Depth)
		}
		graphRanked = RankedFrom(ids, func(id uint32) float64 { return scores[id] })
		d := time.Since(start)
		stages = append(stages, StageTiming{Stage: "graph", Duration: d, Hits: len(ids)})
		ee.Metrics.observe("graph", d)
	}

	start := time.Now()
	weights := plan.Weights.Renormalize(plan.Vector != nil, len(plan.Fields) > 0, plan.Graph != nil)
	fused := ee.Fusion.Fuse(vectorRanked, fieldRanked, graphRanked, weights)
	if plan.Limit > 0 && len(fused) > plan.Limit {
		fused = fused[:plan.Limit]
	}
	d := time.Since(start)
	stages = append(stages, StageTiming{Stage: "fusion", Duration: d, Hits: len(fused)})
	ee.Metrics.observe("fusion", d)

	return &Explanation{
		Strategy: strategy,
		Stages:   stages,
		Result:   &Result{Hits: fused, Strategy: strategy},
	}, nil
}
