// Package idmap implements the Entity-ID Mapper: a bijective UUID<->u32
// table that lets the Metadata Index and HNSW graph operate over compact
// integer ids instead of 128-bit UUIDs (spec.md §4.4, §3 invariant
// "ids are never reused").
package idmap

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/google/uuid"

	dberrors "github.com/embedgraph/core/internal/errors"
)

// Mapper is a concurrency-safe bijective UUID<->u32 table. Ids are
// assigned monotonically starting at 0; once an id is retired it is
// tombstoned and never reissued, preserving bitmap semantics for
// branches that still reference it (spec.md §3, §4.4).
type Mapper struct {
	mu        sync.RWMutex
	toInt     map[uuid.UUID]uint32
	toUUID    map[uint32]uuid.UUID
	tombstone map[uint32]bool
	next      uint32
}

// New returns an empty Mapper.
func New() *Mapper {
	return &Mapper{
		toInt:     make(map[uuid.UUID]uint32),
		toUUID:    make(map[uint32]uuid.UUID),
		tombstone: make(map[uint32]bool),
	}
}

// Assign returns the existing internal id for id if present, otherwise
// allocates the next monotonic id and records the mapping.
func (m *Mapper) Assign(id uuid.UUID) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.toInt[id]; ok {
		return n
	}
	n := m.next
	m.next++
	m.toInt[id] = n
	m.toUUID[n] = id
	return n
}

// Lookup returns the internal id for id, or (0, false) if never assigned
// or retired.
func (m *Mapper) Lookup(id uuid.UUID) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.toInt[id]
	if !ok || m.tombstone[n] {
		return 0, false
	}
	return n, true
}

// Resolve returns the UUID for an internal id, or an error if the id was
// never assigned or has been retired.
func (m *Mapper) Resolve(n uint32) (uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.toUUID[n]
	if !ok || m.tombstone[n] {
		return uuid.Nil, dberrors.NotFound("idmap", "internal id not mapped").
			WithDetail("internal_id", strconv.FormatUint(uint64(n), 10))
	}
	return id, nil
}

// Retire tombstones the internal id for id so it is never reissued. The
// UUID<->id mapping is kept (not deleted) so IsRetired can tell a retired
// id from one never assigned (Resolve and Lookup report both the same
// way), and so postings
// bitmaps referencing the old id across branches remain interpretable
// until an explicit compaction drops them.
func (m *Mapper) Retire(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.toInt[id]
	if !ok {
		return
	}
	m.tombstone[n] = true
}

// IsRetired reports whether the internal id n has been tombstoned.
func (m *Mapper) IsRetired(n uint32) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tombstone[n]
}

// Len returns the number of live (non-retired) mappings.
func (m *Mapper) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.toInt) - len(m.tombstone)
}

// Snapshot is the persisted form of a Mapper (spec.md §6's metadata
// index tree hosts the id mapper state alongside field registries).
type Snapshot struct {
	Next      uint32
	Live      map[uint32]uuid.UUID
	Tombstone map[uint32]bool
}

// Snapshot captures the current state for persistence.
func (m *Mapper) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	live := make(map[uint32]uuid.UUID, len(m.toUUID))
	for n, id := range m.toUUID {
		live[n] = id
	}
	tomb := make(map[uint32]bool, len(m.tombstone))
	for n, v := range m.tombstone {
		tomb[n] = v
	}
	return Snapshot{Next: m.next, Live: live, Tombstone: tomb}
}

// Restore rebuilds a Mapper from a persisted Snapshot.
func Restore(s Snapshot) *Mapper {
	m := New()
	m.next = s.Next
	for n, id := range s.Live {
		m.toInt[id] = n
		m.toUUID[n] = id
	}
	for n, v := range s.Tombstone {
		if v {
			m.tombstone[n] = true
		}
	}
	return m
}

// EncodeSnapshot serializes s for storage in a branch's COW tree, so the
// UUID<->u32 mapping survives a restart instead of being reassigned from
// hydration order (which would silently remap every persisted HNSW
// connection and graph-store edge to the wrong node).
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSnapshot parses a blob produced by EncodeSnapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}
