package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"

	dberrors "github.com/embedgraph/core/internal/errors"
)

// LocalAdapter is the local-filesystem backend. Compare-and-swap is
// simulated with a sidecar `<key>.etag` file and an exclusive flock on
// `<key>.lock` (SPEC_FULL.md §4.1): take the lock, verify the expected
// ETag, then write to `<key>.tmp` and rename into place.
type LocalAdapter struct {
	root string
}

// NewLocalAdapter returns a backend rooted at root, creating it if needed.
func NewLocalAdapter(root string) (*LocalAdapter, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, dberrors.StoragePermanent("blobstore", err)
	}
	return &LocalAdapter{root: root}, nil
}

func (l *LocalAdapter) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

func (l *LocalAdapter) Get(_ context.Context, key string) ([]byte, string, bool, error) {
	data, err := os.ReadFile(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", false, nil
		}
		return nil, "", false, dberrors.StorageTransient("blobstore", err)
	}
	etag, _ := os.ReadFile(l.path(key) + ".etag")
	return data, strings.TrimSpace(string(etag)), true, nil
}

func (l *LocalAdapter) Put(_ context.Context, key string, data []byte) (string, error) {
	version := versionOf(data)
	if err := l.writeAtomic(key, data, version); err != nil {
		return "", err
	}
	return version, nil
}

func (l *LocalAdapter) writeAtomic(key string, data []byte, version string) error {
	p := l.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return dberrors.StoragePermanent("blobstore", err)
	}

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return dberrors.StorageTransient("blobstore", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return dberrors.StorageTransient("blobstore", err)
	}
	if err := os.WriteFile(p+".etag", []byte(version), 0o644); err != nil {
		return dberrors.StorageTransient("blobstore", err)
	}
	return nil
}

func (l *LocalAdapter) CompareAndSwap(_ context.Context, key, expectedVersion string, newData []byte) (string, error) {
	p := l.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", dberrors.StoragePermanent("blobstore", err)
	}

	lock := flock.New(p + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return "", dberrors.StorageTransient("blobstore", err)
	}
	if !locked {
		return "", dberrors.New(dberrors.ErrCodeStorageTransient, "lock contention on "+key, nil).WithComponent("blobstore")
	}
	defer lock.Unlock()

	current := ""
	if etag, readErr := os.ReadFile(p + ".etag"); readErr == nil {
		current = strings.TrimSpace(string(etag))
	} else if !os.IsNotExist(readErr) {
		return "", dberrors.StorageTransient("blobstore", readErr)
	}

	if current != expectedVersion {
		return "", dberrors.ConcurrentWrite("blobstore", key)
	}

	version := versionOf(newData)
	if err := l.writeAtomic(key, newData, version); err != nil {
		return "", err
	}
	return version, nil
}

func (l *LocalAdapter) Delete(_ context.Context, key string) error {
	p := l.path(key)
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return dberrors.StorageTransient("blobstore", err)
	}
	_ = os.Remove(p + ".etag")
	_ = os.Remove(p + ".lock")
	return nil
}

func (l *LocalAdapter) DeleteBatch(ctx context.Context, keys []string) (*DeleteResult, error) {
	result := &DeleteResult{Failed: make(map[string]error)}
	for _, k := range keys {
		if err := l.Delete(ctx, k); err != nil {
			result.Failed[k] = err
			continue
		}
		result.Deleted = append(result.Deleted, k)
	}
	return result, nil
}

func (l *LocalAdapter) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(l.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, dberrors.StorageTransient("blobstore", err)
}

func (l *LocalAdapter) ListPrefix(_ context.Context, prefix, cursor string, limit int) (*ListPage, error) {
	prefixDir := filepath.Join(l.root, filepath.FromSlash(prefix))
	baseDir := filepath.Dir(prefixDir)

	var keys []string
	_ = filepath.Walk(baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".etag") || strings.HasSuffix(path, ".tmp") || strings.HasSuffix(path, ".lock") {
			return nil
		}
		rel, relErr := filepath.Rel(l.root, path)
		if relErr != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
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
		page.Entries = append(page.Entries, ListEntry{Key: k})
	}
	if end < len(keys) {
		page.NextCursor = keys[end-1]
	}
	return page, nil
}

func (l *LocalAdapter) Capabilities() Capabilities {
	return Capabilities{
		SupportsConditionalWrites: true,
		SupportsBatchDelete:       true,
		SupportsCursorList:        true,
		SupportsLifecyclePolicies: false,
	}
}

var _ Adapter = (*LocalAdapter)(nil)
