package graph

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_CleanStoreReportsNoAsymmetry(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddVerb(Edge{VerbID: uuid.New(), SourceID: 1, TargetID: 2, Type: "knows", Weight: 1}))
	require.NoError(t, s.AddVerb(Edge{VerbID: uuid.New(), SourceID: 1, TargetID: 3, Type: "blocks", Weight: 2}))

	problems, err := s.Verify()
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestVerify_DetectsMissingReverseEntry(t *testing.T) {
	s := newTestStore(t)
	e := Edge{VerbID: uuid.New(), SourceID: 1, TargetID: 2, Type: "knows", Weight: 1}
	require.NoError(t, s.AddVerb(e))

	require.NoError(t, s.reverse.Update(func(txn *badger.Txn) error {
		return txn.Delete(adjacencyKey(e.TargetID, e.Type, e.VerbID))
	}))

	problems, err := s.Verify()
	require.NoError(t, err)
	require.Len(t, problems, 1)
	assert.Equal(t, "reverse", problems[0].Missing)
}

func TestVerify_DetectsStaleForwardlessReverseEntry(t *testing.T) {
	s := newTestStore(t)
	stray := Edge{VerbID: uuid.New(), SourceID: 1, TargetID: 2, Type: "knows", Weight: 1}

	require.NoError(t, s.reverse.Update(func(txn *badger.Txn) error {
		return txn.Set(adjacencyKey(stray.TargetID, stray.Type, stray.VerbID), adjacencyValue(stray.SourceID, stray.Weight))
	}))

	problems, err := s.Verify()
	require.NoError(t, err)
	require.Len(t, problems, 1)
	assert.Equal(t, "forward", problems[0].Missing)
}

func TestRebuild_RepairsMissingReverseEntry(t *testing.T) {
	s := newTestStore(t)
	e := Edge{VerbID: uuid.New(), SourceID: 1, TargetID: 2, Type: "knows", Weight: 1}
	require.NoError(t, s.AddVerb(e))
	require.NoError(t, s.reverse.Update(func(txn *badger.Txn) error {
		return txn.Delete(adjacencyKey(e.TargetID, e.Type, e.VerbID))
	}))

	require.NoError(t, s.Rebuild())

	problems, err := s.Verify()
	require.NoError(t, err)
	assert.Empty(t, problems)

	in, err := s.AllReverse(2)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, uint32(1), in[0].SourceID)
}

func TestRebuild_DropsStaleReverseOnlyEntries(t *testing.T) {
	s := newTestStore(t)
	stray := Edge{VerbID: uuid.New(), SourceID: 1, TargetID: 2, Type: "knows", Weight: 1}
	require.NoError(t, s.reverse.Update(func(txn *badger.Txn) error {
		return txn.Set(adjacencyKey(stray.TargetID, stray.Type, stray.VerbID), adjacencyValue(stray.SourceID, stray.Weight))
	}))

	require.NoError(t, s.Rebuild())

	in, err := s.AllReverse(2)
	require.NoError(t, err)
	assert.Empty(t, in)
}
