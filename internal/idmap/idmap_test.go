package idmap

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dberrors "github.com/embedgraph/core/internal/errors"
)

func TestAssign_IsIdempotentForSameUUID(t *testing.T) {
	m := New()
	id := uuid.New()

	first := m.Assign(id)
	second := m.Assign(id)

	assert.Equal(t, first, second)
}

func TestAssign_IsMonotonic(t *testing.T) {
	m := New()
	a := m.Assign(uuid.New())
	b := m.Assign(uuid.New())
	c := m.Assign(uuid.New())

	assert.Less(t, a, b)
	assert.Less(t, b, c)
}

func TestLookup_ReturnsAssignedID(t *testing.T) {
	m := New()
	id := uuid.New()
	n := m.Assign(id)

	got, ok := m.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, n, got)
}

func TestLookup_UnknownUUID_ReturnsFalse(t *testing.T) {
	m := New()
	_, ok := m.Lookup(uuid.New())
	assert.False(t, ok)
}

func TestResolve_ReturnsOriginalUUID(t *testing.T) {
	m := New()
	id := uuid.New()
	n := m.Assign(id)

	got, err := m.Resolve(n)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestResolve_UnknownID_ReturnsNotFound(t *testing.T) {
	m := New()
	_, err := m.Resolve(42)
	require.Error(t, err)
	assert.True(t, dberrors.IsKind(err, dberrors.KindNotFound))
}

func TestRetire_IdIsNeverReused(t *testing.T) {
	m := New()
	id := uuid.New()
	n := m.Assign(id)

	m.Retire(id)

	assert.True(t, m.IsRetired(n))
	_, ok := m.Lookup(id)
	assert.False(t, ok, "retired id must not resolve via Lookup")

	next := m.Assign(uuid.New())
	assert.NotEqual(t, n, next, "retired id must never be reissued")
}

func TestRetire_ResolveStillReportsError(t *testing.T) {
	m := New()
	id := uuid.New()
	n := m.Assign(id)
	m.Retire(id)

	_, err := m.Resolve(n)
	require.Error(t, err)
}

func TestLen_ExcludesRetiredIDs(t *testing.T) {
	m := New()
	a := uuid.New()
	m.Assign(a)
	m.Assign(uuid.New())
	assert.Equal(t, 2, m.Len())

	m.Retire(a)
	assert.Equal(t, 1, m.Len())
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	m := New()
	a := uuid.New()
	b := uuid.New()
	m.Assign(a)
	m.Assign(b)
	m.Retire(a)

	snap := m.Snapshot()
	restored := Restore(snap)

	_, ok := restored.Lookup(a)
	assert.False(t, ok)
	got, ok := restored.Lookup(b)
	assert.True(t, ok)
	assert.Equal(t, uint32(1), got)

	next := restored.Assign(uuid.New())
	assert.Equal(t, uint32(2), next, "restored mapper must continue the monotonic sequence")
}
