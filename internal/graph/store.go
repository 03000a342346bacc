// Package graph implements the adjacency index: verb (edge) storage and
// traversal over badger/v4-backed keyspaces, with a hot-neighbor LRU in
// front of the forward keyspace (spec.md §4, SPEC_FULL.md §4.6).
//
// Four independent badger.DB instances back the index: forward adjacency
// (source -> targets), reverse adjacency (target -> sources, needed for
// cascading delete and incoming-edge queries), verb records (verb id ->
// encoded Verb), and a type index (verb type -> verb ids) used by
// getVerbs-by-type.
package graph

import (
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"

	dberrors "github.com/embedgraph/core/internal/errors"
)

// Store owns the four badger keyspaces backing the adjacency index.
type Store struct {
	forward   *badger.DB
	reverse   *badger.DB
	verbs     *badger.DB
	typeIndex *badger.DB
}

// Open creates or reopens the four badger databases under baseDir.
func Open(baseDir string) (*Store, error) {
	open := func(name string) (*badger.DB, error) {
		dir := filepath.Join(baseDir, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, dberrors.StoragePermanent("graph", err)
		}
		opts := badger.DefaultOptions(dir).WithLogger(nil)
		db, err := badger.Open(opts)
		if err != nil {
			return nil, dberrors.StoragePermanent("graph", err)
		}
		return db, nil
	}

	forward, err := open("forward")
	if err != nil {
		return nil, err
	}
	reverse, err := open("reverse")
	if err != nil {
		forward.Close()
		return nil, err
	}
	verbs, err := open("verbs")
	if err != nil {
		forward.Close()
		reverse.Close()
		return nil, err
	}
	typeIndex, err := open("typeindex")
	if err != nil {
		forward.Close()
		reverse.Close()
		verbs.Close()
		return nil, err
	}

	return &Store{forward: forward, reverse: reverse, verbs: verbs, typeIndex: typeIndex}, nil
}

// Close releases all four badger databases.
func (s *Store) Close() error {
	var firstErr error
	for _, db := range []*badger.DB{s.forward, s.reverse, s.verbs, s.typeIndex} {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return dberrors.StoragePermanent("graph", firstErr)
	}
	return nil
}
