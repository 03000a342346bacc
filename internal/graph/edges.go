package graph

import (
	"bytes"
	"encoding/binary"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	dberrors "github.com/embedgraph/core/internal/errors"
)

const sep = 0x00

// Edge is one compact adjacency record: enough to traverse and score
// without touching the verb's full metadata/vector blob.
type Edge struct {
	VerbID   uuid.UUID
	SourceID uint32
	TargetID uint32
	Type     string
	Weight   float64
}

func u32(id uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, id)
	return b
}

func decodeU32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// adjacencyKey builds the forward or reverse key: anchor(4) + 0x00 +
// type + 0x00 + verbID(16). Iterating by anchor+0x00+type as a prefix
// yields every edge of that type from the anchor.
func adjacencyKey(anchor uint32, verbType string, verbID uuid.UUID) []byte {
	var buf bytes.Buffer
	buf.Write(u32(anchor))
	buf.WriteByte(sep)
	buf.WriteString(verbType)
	buf.WriteByte(sep)
	buf.Write(verbID[:])
	return buf.Bytes()
}

func adjacencyPrefix(anchor uint32, verbType string) []byte {
	var buf bytes.Buffer
	buf.Write(u32(anchor))
	buf.WriteByte(sep)
	buf.WriteString(verbType)
	buf.WriteByte(sep)
	return buf.Bytes()
}

func anchorPrefix(anchor uint32) []byte {
	var buf bytes.Buffer
	buf.Write(u32(anchor))
	buf.WriteByte(sep)
	return buf.Bytes()
}

// adjacencyValue encodes the other endpoint and the edge weight.
func adjacencyValue(other uint32, weight float64) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[:4], other)
	binary.BigEndian.PutUint64(b[4:], doubleBits(weight))
	return b
}

func decodeAdjacencyValue(b []byte) (uint32, float64) {
	other := decodeU32(b[:4])
	weight := doubleFromBits(binary.BigEndian.Uint64(b[4:]))
	return other, weight
}

func verbKey(verbID uuid.UUID) []byte {
	return verbID[:]
}

func encodeVerbRecord(e Edge) []byte {
	var buf bytes.Buffer
	buf.Write(u32(e.SourceID))
	buf.Write(u32(e.TargetID))
	weightBits := make([]byte, 8)
	binary.BigEndian.PutUint64(weightBits, doubleBits(e.Weight))
	buf.Write(weightBits)
	buf.WriteByte(sep)
	buf.WriteString(e.Type)
	return buf.Bytes()
}

func decodeVerbRecord(verbID uuid.UUID, data []byte) (Edge, error) {
	if len(data) < 17 {
		return Edge{}, dberrors.IndexCorruption("graph", "truncated verb record")
	}
	source := decodeU32(data[0:4])
	target := decodeU32(data[4:8])
	weight := doubleFromBits(binary.BigEndian.Uint64(data[8:16]))
	if data[16] != sep {
		return Edge{}, dberrors.IndexCorruption("graph", "malformed verb record separator")
	}
	verbType := string(data[17:])
	return Edge{VerbID: verbID, SourceID: source, TargetID: target, Type: verbType, Weight: weight}, nil
}

// AddVerb records a directed, typed, weighted edge across all four
// keyspaces (forward, reverse, verb records, type index).
func (s *Store) AddVerb(e Edge) error {
	if err := s.forward.Update(func(txn *badger.Txn) error {
		return txn.Set(adjacencyKey(e.SourceID, e.Type, e.VerbID), adjacencyValue(e.TargetID, e.Weight))
	}); err != nil {
		return dberrors.StorageTransient("graph", err)
	}

	if err := s.reverse.Update(func(txn *badger.Txn) error {
		return txn.Set(adjacencyKey(e.TargetID, e.Type, e.VerbID), adjacencyValue(e.SourceID, e.Weight))
	}); err != nil {
		return dberrors.StorageTransient("graph", err)
	}

	if err := s.verbs.Update(func(txn *badger.Txn) error {
		return txn.Set(verbKey(e.VerbID), encodeVerbRecord(e))
	}); err != nil {
		return dberrors.StorageTransient("graph", err)
	}

	if err := s.typeIndex.Update(func(txn *badger.Txn) error {
		return txn.Set(append([]byte(e.Type+string(sep)), e.VerbID[:]...), nil)
	}); err != nil {
		return dberrors.StorageTransient("graph", err)
	}
	return nil
}

// GetVerb returns the compact edge record for verbID.
func (s *Store) GetVerb(verbID uuid.UUID) (Edge, bool, error) {
	var data []byte
	err := s.verbs.View(func(txn *badger.Txn) error {
		item, err := txn.Get(verbKey(verbID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return Edge{}, false, dberrors.StorageTransient("graph", err)
	}
	if data == nil {
		return Edge{}, false, nil
	}
	e, err := decodeVerbRecord(verbID, data)
	return e, err == nil, err
}

// DeleteVerb removes verbID from all four keyspaces.
func (s *Store) DeleteVerb(verbID uuid.UUID) error {
	e, found, err := s.GetVerb(verbID)
	if err != nil {
		return err
	}
	if !found {
		return dberrors.NotFound("graph", "verb not found")
	}

	if err := s.forward.Update(func(txn *badger.Txn) error {
		return txn.Delete(adjacencyKey(e.SourceID, e.Type, e.VerbID))
	}); err != nil {
		return dberrors.StorageTransient("graph", err)
	}
	if err := s.reverse.Update(func(txn *badger.Txn) error {
		return txn.Delete(adjacencyKey(e.TargetID, e.Type, e.VerbID))
	}); err != nil {
		return dberrors.StorageTransient("graph", err)
	}
	if err := s.verbs.Update(func(txn *badger.Txn) error {
		return txn.Delete(verbKey(verbID))
	}); err != nil {
		return dberrors.StorageTransient("graph", err)
	}
	if err := s.typeIndex.Update(func(txn *badger.Txn) error {
		return txn.Delete(append([]byte(e.Type+string(sep)), e.VerbID[:]...))
	}); err != nil {
		return dberrors.StorageTransient("graph", err)
	}
	return nil
}

// scan walks a keyspace by prefix, invoking fn(key, value) for each
// match.
func scan(db *badger.DB, prefix []byte, fn func(key, value []byte) error) error {
	return db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := append([]byte(nil), item.Key()...)
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Neighbors returns every node reachable from source via an edge of
// verbType, along with each edge's weight.
func (s *Store) Neighbors(source uint32, verbType string) ([]Edge, error) {
	var out []Edge
	err := scan(s.forward, adjacencyPrefix(source, verbType), func(key, value []byte) error {
		verbID, err := verbIDFromKey(key)
		if err != nil {
			return err
		}
		target, weight := decodeAdjacencyValue(value)
		out = append(out, Edge{VerbID: verbID, SourceID: source, TargetID: target, Type: verbType, Weight: weight})
		return nil
	})
	if err != nil {
		return nil, dberrors.StorageTransient("graph", err)
	}
	return out, nil
}

// AllForward returns every outgoing edge from source, across all types.
func (s *Store) AllForward(source uint32) ([]Edge, error) {
	return allAnchored(s.forward, source, source, true)
}

// AllReverse returns every incoming edge to target, across all types.
func (s *Store) AllReverse(target uint32) ([]Edge, error) {
	return allAnchored(s.reverse, target, target, false)
}

func allAnchored(db *badger.DB, anchor, _ uint32, forward bool) ([]Edge, error) {
	var out []Edge
	err := scan(db, anchorPrefix(anchor), func(key, value []byte) error {
		verbID, err := verbIDFromKey(key)
		if err != nil {
			return err
		}
		verbType, err := typeFromKey(key)
		if err != nil {
			return err
		}
		other, weight := decodeAdjacencyValue(value)
		e := Edge{VerbID: verbID, Type: verbType, Weight: weight}
		if forward {
			e.SourceID, e.TargetID = anchor, other
		} else {
			e.SourceID, e.TargetID = other, anchor
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, dberrors.StorageTransient("graph", err)
	}
	return out, nil
}

func verbIDFromKey(key []byte) (uuid.UUID, error) {
	if len(key) < 16 {
		return uuid.UUID{}, dberrors.IndexCorruption("graph", "truncated adjacency key")
	}
	var id uuid.UUID
	copy(id[:], key[len(key)-16:])
	return id, nil
}

func typeFromKey(key []byte) (string, error) {
	// key = anchor(4) 0x00 type 0x00 verbID(16)
	if len(key) < 4+1+1+16 {
		return "", dberrors.IndexCorruption("graph", "truncated adjacency key")
	}
	body := key[5 : len(key)-17]
	return string(body), nil
}

// AllEdges drains the entire forward keyspace, regardless of anchor.
// Used to rebuild a process-level view of the graph (e.g. a facade's
// verb listing) without walking node-by-node.
func (s *Store) AllEdges() ([]Edge, error) {
	return allEdges(s.forward)
}

// DeleteNounCascade removes every edge touching nodeID (as source or
// target), returning the deleted verb ids (spec.md §3: cascading delete).
func (s *Store) DeleteNounCascade(nodeID uint32) ([]uuid.UUID, error) {
	out, err := s.AllForward(nodeID)
	if err != nil {
		return nil, err
	}
	in, err := s.AllReverse(nodeID)
	if err != nil {
		return nil, err
	}

	seen := map[uuid.UUID]bool{}
	var deleted []uuid.UUID
	for _, e := range append(out, in...) {
		if seen[e.VerbID] {
			continue
		}
		seen[e.VerbID] = true
		if err := s.DeleteVerb(e.VerbID); err != nil && !dberrors.IsKind(err, dberrors.KindNotFound) {
			return deleted, err
		}
		deleted = append(deleted, e.VerbID)
	}
	return deleted, nil
}
