package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	dberrors "github.com/embedgraph/core/internal/errors"
)

type memoryEntry struct {
	data    []byte
	version string
}

// MemoryAdapter is an RWMutex-guarded in-memory backend, used by tests
// and single-process embedding (spec.md §4.1).
type MemoryAdapter struct {
	mu    sync.RWMutex
	store map[string]memoryEntry
}

// NewMemoryAdapter returns an empty in-memory backend.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{store: make(map[string]memoryEntry)}
}

func versionOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (m *MemoryAdapter) Get(_ context.Context, key string) ([]byte, string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.store[key]
	if !ok {
		return nil, "", false, nil
	}
	out := append([]byte(nil), e.data...)
	return out, e.version, true, nil
}

func (m *MemoryAdapter) Put(_ context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := versionOf(data)
	m.store[key] = memoryEntry{data: append([]byte(nil), data...), version: v}
	return v, nil
}

func (m *MemoryAdapter) CompareAndSwap(_ context.Context, key, expectedVersion string, newData []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.store[key]
	current := ""
	if ok {
		current = existing.version
	}
	if current != expectedVersion {
		return "", dberrors.ConcurrentWrite("blobstore", key)
	}

	v := versionOf(newData)
	m.store[key] = memoryEntry{data: append([]byte(nil), newData...), version: v}
	return v, nil
}

func (m *MemoryAdapter) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
	return nil
}

func (m *MemoryAdapter) DeleteBatch(ctx context.Context, keys []string) (*DeleteResult, error) {
	result := &DeleteResult{Failed: make(map[string]error)}
	for _, k := range keys {
		if err := m.Delete(ctx, k); err != nil {
			result.Failed[k] = err
			continue
		}
		result.Deleted = append(result.Deleted, k)
	}
	return result, nil
}

func (m *MemoryAdapter) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.store[key]
	return ok, nil
}

func (m *MemoryAdapter) ListPrefix(_ context.Context, prefix, cursor string, limit int) (*ListPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.store {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if cursor != "" {
		idx := sort.SearchStrings(keys, cursor)
		if idx < len(keys) && keys[idx] == cursor {
			idx++
		}
		start = idx
	}
	if start > len(keys) {
		start = len(keys)
	}

	end := len(keys)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	page := &ListPage{}
	for _, k := range keys[start:end] {
		page.Entries = append(page.Entries, ListEntry{Key: k, Version: m.store[k].version})
	}
	if end < len(keys) {
		page.NextCursor = keys[end-1]
	}
	return page, nil
}

func (m *MemoryAdapter) Capabilities() Capabilities {
	return Capabilities{
		SupportsConditionalWrites: true,
		SupportsBatchDelete:       true,
		SupportsCursorList:        true,
		SupportsLifecyclePolicies: false,
	}
}

var _ Adapter = (*MemoryAdapter)(nil)
