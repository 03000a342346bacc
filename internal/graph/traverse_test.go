package graph

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Chain: 1 -knows-> 2 -knows-> 3 -blocks-> 4
func chainStore(t *testing.T) *Store {
	t.Helper()
	s := newTestStore(t)
	require.NoError(t, s.AddVerb(Edge{VerbID: uuid.New(), SourceID: 1, TargetID: 2, Type: "knows", Weight: 1}))
	require.NoError(t, s.AddVerb(Edge{VerbID: uuid.New(), SourceID: 2, TargetID: 3, Type: "knows", Weight: 1}))
	require.NoError(t, s.AddVerb(Edge{VerbID: uuid.New(), SourceID: 3, TargetID: 4, Type: "blocks", Weight: 1}))
	return s
}

func TestBFS_RespectsMaxDepth(t *testing.T) {
	s := chainStore(t)

	one, err := s.BFS(1, TraverseOptions{MaxDepth: 1})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, uint32(2), one[0].NodeID)

	two, err := s.BFS(1, TraverseOptions{MaxDepth: 2})
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestBFS_FiltersByVerbType(t *testing.T) {
	s := chainStore(t)

	result, err := s.BFS(1, TraverseOptions{VerbTypes: []string{"knows"}, MaxDepth: 5})
	require.NoError(t, err)

	var ids []uint32
	for _, v := range result {
		ids = append(ids, v.NodeID)
	}
	assert.ElementsMatch(t, []uint32{2, 3}, ids, "blocks edge to 4 must not be followed")
}

func TestBFS_NoOutgoingEdgesReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	result, err := s.BFS(99, TraverseOptions{MaxDepth: 3})
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestBFS_DoesNotRevisitNodes(t *testing.T) {
	s := newTestStore(t)
	// Diamond: 1 -> 2, 1 -> 3, 2 -> 4, 3 -> 4
	require.NoError(t, s.AddVerb(Edge{VerbID: uuid.New(), SourceID: 1, TargetID: 2, Type: "knows", Weight: 1}))
	require.NoError(t, s.AddVerb(Edge{VerbID: uuid.New(), SourceID: 1, TargetID: 3, Type: "knows", Weight: 1}))
	require.NoError(t, s.AddVerb(Edge{VerbID: uuid.New(), SourceID: 2, TargetID: 4, Type: "knows", Weight: 1}))
	require.NoError(t, s.AddVerb(Edge{VerbID: uuid.New(), SourceID: 3, TargetID: 4, Type: "knows", Weight: 1}))

	result, err := s.BFS(1, TraverseOptions{MaxDepth: 5})
	require.NoError(t, err)

	count := 0
	for _, v := range result {
		if v.NodeID == 4 {
			count++
		}
	}
	assert.Equal(t, 1, count, "node 4 reached via two paths must appear once")
}
