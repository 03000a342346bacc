package entity

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"
)

// EncodeVectorBlob serializes id/vector/level/connections into the
// self-describing binary record spec.md §6 defines: UUID, dim (u16),
// level (u8), dim×f32 vector, then u8 level-count followed by one
// connection list per level in ascending level order (u8 level, u32
// count, then count u32 neighbor ids). All integers are little-endian.
func EncodeVectorBlob(id uuid.UUID, vector []float32, level uint8, connections map[uint8][]uint32) ([]byte, error) {
	if len(vector) > 0xFFFF {
		return nil, fmt.Errorf("entity: vector dimension %d exceeds u16 range", len(vector))
	}

	var buf bytes.Buffer
	buf.Write(id[:])

	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(vector))); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, level); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, vector); err != nil {
		return nil, err
	}

	levels := make([]uint8, 0, len(connections))
	for l := range connections {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	if len(levels) > 0xFF {
		return nil, fmt.Errorf("entity: %d connection levels exceeds u8 range", len(levels))
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint8(len(levels))); err != nil {
		return nil, err
	}
	for _, l := range levels {
		neighbors := connections[l]
		if err := binary.Write(&buf, binary.LittleEndian, l); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(neighbors))); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, neighbors); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// DecodedVector is the result of decoding a vector blob.
type DecodedVector struct {
	ID          uuid.UUID
	Vector      []float32
	Level       uint8
	Connections map[uint8][]uint32
}

// DecodeVectorBlob parses the binary record produced by EncodeVectorBlob.
func DecodeVectorBlob(data []byte) (*DecodedVector, error) {
	r := bytes.NewReader(data)

	var id uuid.UUID
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return nil, fmt.Errorf("entity: read id: %w", err)
	}

	var dim uint16
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("entity: read dim: %w", err)
	}

	var level uint8
	if err := binary.Read(r, binary.LittleEndian, &level); err != nil {
		return nil, fmt.Errorf("entity: read level: %w", err)
	}

	vector := make([]float32, dim)
	if err := binary.Read(r, binary.LittleEndian, vector); err != nil {
		return nil, fmt.Errorf("entity: read vector: %w", err)
	}

	var numLevels uint8
	if err := binary.Read(r, binary.LittleEndian, &numLevels); err != nil {
		return nil, fmt.Errorf("entity: read level count: %w", err)
	}

	connections := make(map[uint8][]uint32, numLevels)
	for i := 0; i < int(numLevels); i++ {
		var l uint8
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, fmt.Errorf("entity: read connection level: %w", err)
		}
		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return nil, fmt.Errorf("entity: read connection count: %w", err)
		}
		neighbors := make([]uint32, count)
		if err := binary.Read(r, binary.LittleEndian, neighbors); err != nil {
			return nil, fmt.Errorf("entity: read neighbors: %w", err)
		}
		connections[l] = neighbors
	}

	return &DecodedVector{ID: id, Vector: vector, Level: level, Connections: connections}, nil
}

// EncodeMetadataBlob produces the canonical JSON serialization of a
// metadata map (spec.md §6: "canonical serialization of the attribute
// map. Field ordering is not significant"). Keys are sorted so identical
// maps always hash to the same COW blob.
func EncodeMetadataBlob(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]byte, 0, 256)
	ordered = append(ordered, '{')
	for i, k := range keys {
		if i > 0 {
			ordered = append(ordered, ',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(metadata[k])
		if err != nil {
			return nil, fmt.Errorf("entity: encode field %q: %w", k, err)
		}
		ordered = append(ordered, keyJSON...)
		ordered = append(ordered, ':')
		ordered = append(ordered, valJSON...)
	}
	ordered = append(ordered, '}')
	return ordered, nil
}

// DecodeMetadataBlob parses a metadata blob back into a map.
func DecodeMetadataBlob(data []byte) (map[string]any, error) {
	var metadata map[string]any
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("entity: decode metadata: %w", err)
	}
	return metadata, nil
}
