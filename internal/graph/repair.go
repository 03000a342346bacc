package graph

import (
	"github.com/dgraph-io/badger/v4"

	dberrors "github.com/embedgraph/core/internal/errors"
)

// Asymmetry describes one forward edge with no matching reverse entry,
// or vice versa.
type Asymmetry struct {
	VerbID   string
	Missing  string // "reverse" or "forward"
	SourceID uint32
	TargetID uint32
}

// allEdges drains every record out of db, regardless of anchor.
func allEdges(db *badger.DB) ([]Edge, error) {
	var out []Edge
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := append([]byte(nil), item.Key()...)
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			verbID, err := verbIDFromKey(key)
			if err != nil {
				return err
			}
			verbType, err := typeFromKey(key)
			if err != nil {
				return err
			}
			anchor := decodeU32(key[:4])
			other, weight := decodeAdjacencyValue(value)
			out = append(out, Edge{VerbID: verbID, Type: verbType, Weight: weight, SourceID: anchor, TargetID: other})
		}
		return nil
	})
	return out, err
}

// Verify walks the forward keyspace and confirms every edge has a
// matching reverse entry, and vice versa. The forward keyspace is
// treated as authoritative, per AddVerb's write order.
func (s *Store) Verify() ([]Asymmetry, error) {
	forward, err := allEdges(s.forward)
	if err != nil {
		return nil, dberrors.StorageTransient("graph", err)
	}
	reverse, err := allEdges(s.reverse)
	if err != nil {
		return nil, dberrors.StorageTransient("graph", err)
	}

	reverseByVerb := make(map[string]Edge, len(reverse))
	for _, e := range reverse {
		// reverse edges are stored anchor=target, other=source; normalize
		// back to (source, target) for comparison.
		reverseByVerb[e.VerbID.String()] = Edge{VerbID: e.VerbID, Type: e.Type, Weight: e.Weight, SourceID: e.TargetID, TargetID: e.SourceID}
	}

	var problems []Asymmetry
	seen := make(map[string]bool, len(forward))
	for _, f := range forward {
		seen[f.VerbID.String()] = true
		if r, ok := reverseByVerb[f.VerbID.String()]; !ok || r != f {
			problems = append(problems, Asymmetry{VerbID: f.VerbID.String(), Missing: "reverse", SourceID: f.SourceID, TargetID: f.TargetID})
		}
	}
	for _, r := range reverseByVerb {
		if !seen[r.VerbID.String()] {
			problems = append(problems, Asymmetry{VerbID: r.VerbID.String(), Missing: "forward", SourceID: r.SourceID, TargetID: r.TargetID})
		}
	}
	return problems, nil
}

// Rebuild reconstructs the reverse keyspace from the forward keyspace,
// which is authoritative. Any reverse-only entries (no matching forward
// edge) are dropped as stale.
func (s *Store) Rebuild() error {
	forward, err := allEdges(s.forward)
	if err != nil {
		return dberrors.StorageTransient("graph", err)
	}

	if err := s.reverse.DropAll(); err != nil {
		return dberrors.StoragePermanent("graph", err)
	}

	for _, e := range forward {
		if err := s.reverse.Update(func(txn *badger.Txn) error {
			return txn.Set(adjacencyKey(e.TargetID, e.Type, e.VerbID), adjacencyValue(e.SourceID, e.Weight))
		}); err != nil {
			return dberrors.StorageTransient("graph", err)
		}
	}
	return nil
}
