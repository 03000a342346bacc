package query

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedgraph/core/internal/vector"
)

func TestExplainExecutor_Explain_ReportsStageTimings(t *testing.T) {
	e := &Executor{
		Vector: &fakeVector{hits: []vector.Result{{ID: 1, Score: 0.9}}},
		Fusion: NewFusion(),
	}
	ee := NewExplainExecutor(e, nil)

	explanation, err := ee.Explain(context.Background(), Plan{
		Vector:  &VectorQuery{Query: []float32{1}, K: 5},
		Weights: Weights{Vector: 1},
	})
	require.NoError(t, err)
	require.Len(t, explanation.Result.Hits, 1)

	var stageNames []string
	for _, s := range explanation.Stages {
		stageNames = append(stageNames, s.Stage)
	}
	assert.Contains(t, stageNames, "vector")
	assert.Contains(t, stageNames, "fusion")
}

func TestExplainExecutor_Explain_NilMetricsDoesNotPanic(t *testing.T) {
	e := &Executor{Vector: &fakeVector{hits: nil}, Fusion: NewFusion()}
	ee := NewExplainExecutor(e, nil)

	_, err := ee.Explain(context.Background(), Plan{
		Vector:  &VectorQuery{Query: []float32{1}, K: 5},
		Weights: Weights{Vector: 1},
	})
	require.NoError(t, err)
}

func TestExplainExecutor_Explain_RecordsPrometheusHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	e := &Executor{Vector: &fakeVector{hits: []vector.Result{{ID: 1}}}, Fusion: NewFusion()}
	ee := NewExplainExecutor(e, metrics)

	_, err := ee.Explain(context.Background(), Plan{
		Vector:  &VectorQuery{Query: []float32{1}, K: 5},
		Weights: Weights{Vector: 1},
	})
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestExplainExecutor_Explain_PropagatesGraphError(t *testing.T) {
	e := &Executor{Graph: &fakeGraph{err: assertErr{}}, Fusion: NewFusion()}
	ee := NewExplainExecutor(e, nil)

	_, err := ee.Explain(context.Background(), Plan{Graph: &GraphFilter{Start: 1, MaxDepth: 1}})
	require.Error(t, err)
}
