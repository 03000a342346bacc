// Package blobstore implements the Blob Store Adapter: a thin uniform
// key->bytes interface over local filesystem, in-memory, and S3-style
// object-store backends (spec.md §4.1).
package blobstore

import "context"

// Capabilities describes what a backend supports, so callers (notably
// internal/cow's branch-ref CAS) can pick a strategy per backend.
type Capabilities struct {
	SupportsConditionalWrites bool
	SupportsBatchDelete       bool
	SupportsCursorList        bool
	SupportsLifecyclePolicies bool
}

// ListEntry is one key returned by ListPrefix.
type ListEntry struct {
	Key     string
	Version string
}

// ListPage is one page of a prefix listing.
type ListPage struct {
	Entries    []ListEntry
	NextCursor string // empty when there are no more pages
}

// DeleteResult reports the per-key outcome of a batch delete (spec.md
// §4.1: "partial success is not a fatal error, but the adapter surfaces
// the remaining keys for retry").
type DeleteResult struct {
	Deleted []string
	Failed  map[string]error
}

// Adapter is the uniform interface every backend implements.
//
// get of a missing key returns (nil, "", false, nil) — a distinct "not
// found" signal rather than an error (spec.md §4.1). put is idempotent
// on identical bytes.
type Adapter interface {
	// Get returns the bytes at key. found is false (err is nil) if key
	// does not exist.
	Get(ctx context.Context, key string) (data []byte, version string, found bool, err error)

	// Put writes bytes at key unconditionally, returning the new version.
	Put(ctx context.Context, key string, data []byte) (version string, err error)

	// CompareAndSwap writes newData at key only if the current version
	// matches expectedVersion (empty expectedVersion means "key must not
	// exist"). Returns a *dberrors.DBError of KindConcurrentWrite on
	// mismatch.
	CompareAndSwap(ctx context.Context, key string, expectedVersion string, newData []byte) (version string, err error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteBatch removes multiple keys, reporting per-item outcomes.
	DeleteBatch(ctx context.Context, keys []string) (*DeleteResult, error)

	// Exists reports whether key is present without fetching its bytes.
	Exists(ctx context.Context, key string) (bool, error)

	// ListPrefix lists keys under prefix, paginated by an opaque cursor.
	// limit <= 0 means backend-default page size.
	ListPrefix(ctx context.Context, prefix, cursor string, limit int) (*ListPage, error)

	// Capabilities reports this backend's supported operations.
	Capabilities() Capabilities
}
