package entity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorBlob_RoundTrip(t *testing.T) {
	id := uuid.New()
	vector := []float32{0.1, 0.2, 0.3, 0.4}
	connections := map[uint8][]uint32{
		0: {1, 2, 3},
		1: {7},
	}

	data, err := EncodeVectorBlob(id, vector, 2, connections)
	require.NoError(t, err)

	decoded, err := DecodeVectorBlob(data)
	require.NoError(t, err)

	assert.Equal(t, id, decoded.ID)
	assert.Equal(t, vector, decoded.Vector)
	assert.Equal(t, uint8(2), decoded.Level)
	assert.Equal(t, []uint32{1, 2, 3}, decoded.Connections[0])
	assert.Equal(t, []uint32{7}, decoded.Connections[1])
}

func TestVectorBlob_RoundTrip_NoConnections(t *testing.T) {
	id := uuid.New()
	vector := []float32{1, 2, 3}

	data, err := EncodeVectorBlob(id, vector, 0, nil)
	require.NoError(t, err)

	decoded, err := DecodeVectorBlob(data)
	require.NoError(t, err)

	assert.Equal(t, vector, decoded.Vector)
	assert.Empty(t, decoded.Connections)
}

func TestVectorBlob_BitExactVector(t *testing.T) {
	id := uuid.New()
	vector := []float32{-3.14159, 0, 1e10, -1e-10}

	data, err := EncodeVectorBlob(id, vector, 0, nil)
	require.NoError(t, err)

	decoded, err := DecodeVectorBlob(data)
	require.NoError(t, err)

	for i := range vector {
		assert.Equal(t, vector[i], decoded.Vector[i], "vector element %d must be bit-exact", i)
	}
}

func TestMetadataBlob_RoundTrip(t *testing.T) {
	metadata := map[string]any{
		"status": "active",
		"count":  float64(42),
		"tags":   []any{"a", "b"},
	}

	data, err := EncodeMetadataBlob(metadata)
	require.NoError(t, err)

	decoded, err := DecodeMetadataBlob(data)
	require.NoError(t, err)

	assert.Equal(t, metadata, decoded)
}

func TestMetadataBlob_FieldOrderDeterministic(t *testing.T) {
	m1 := map[string]any{"b": 1.0, "a": 2.0}
	m2 := map[string]any{"a": 2.0, "b": 1.0}

	data1, err := EncodeMetadataBlob(m1)
	require.NoError(t, err)
	data2, err := EncodeMetadataBlob(m2)
	require.NoError(t, err)

	assert.Equal(t, data1, data2, "field order must not affect the encoded blob")
}

func TestMetadataBlob_NilMapEncodesEmptyObject(t *testing.T) {
	data, err := EncodeMetadataBlob(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestNoun_Clone_IsIndependentOfOriginal(t *testing.T) {
	n := &Noun{
		ID:          uuid.New(),
		Type:        "Concept",
		Vector:      []float32{1, 2, 3},
		Metadata:    map[string]any{"k": "v"},
		Connections: map[uint8][]uint32{0: {1, 2}},
	}

	clone := n.Clone()
	clone.Vector[0] = 99
	clone.Metadata["k"] = "changed"
	clone.Connections[0][0] = 999

	assert.Equal(t, float32(1), n.Vector[0])
	assert.Equal(t, "v", n.Metadata["k"])
	assert.Equal(t, uint32(1), n.Connections[0][0])
}
