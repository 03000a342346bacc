// Package db is the public facade: Database owns the durable object
// store and process-wide caches, Branch owns one line of history's live
// indexes, and Handle gives a read-only, point-in-time view of a past
// commit (spec.md §2 write-path ordering, §5 branches/time-travel).
package db

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/embedgraph/core/internal/blobstore"
	"github.com/embedgraph/core/internal/cache"
	"github.com/embedgraph/core/internal/config"
	"github.com/embedgraph/core/internal/cow"
	dberrors "github.com/embedgraph/core/internal/errors"
	"github.com/embedgraph/core/internal/graph"
	"github.com/embedgraph/core/internal/metrics"
	"github.com/embedgraph/core/internal/vector"
)

// DefaultBranch is the branch name every database starts with.
const DefaultBranch = "main"

// Database owns the storage layer shared by every branch: the blob
// store adapter, the content-addressed object store built over it, the
// Unified Cache, and the blobstore circuit breaker. Branches are
// hydrated lazily and kept resident once opened.
type Database struct {
	cfg     *config.Config
	adapter blobstore.Adapter
	objects *cow.Store
	cache   *cache.Cache
	metrics *metrics.Registry
	breaker *dberrors.CircuitBreaker

	mu       sync.Mutex
	branches map[string]*Branch
}

// Open wires a Database over adapter using cfg, registering cache
// metrics against reg (reg may be nil to skip metrics entirely). Query
// stage metrics are not registered against reg.
// The default branch is created if it does not already exist.
func Open(ctx context.Context, cfg *config.Config, adapter blobstore.Adapter, reg *metrics.Registry) (*Database, error) {
	objects, err := cow.New(adapter, cow.Config{
		CompressionThreshold: cfg.Cow.CompressionThreshold,
		CompressionLevel:     cfg.Cow.CompressionLevel,
	})
	if err != nil {
		return nil, err
	}

	db := &Database{
		cfg:     cfg,
		adapter: adapter,
		objects: objects,
		branches: map[string]*Branch{},
		breaker: dberrors.NewCircuitBreaker("blobstore",
			dberrors.WithMaxFailures(5),
			dberrors.WithResetTimeout(30*time.Second)),
		metrics: reg,
	}
	db.cache = newCache(cfg, reg)

	if _, err := db.Branch(ctx, DefaultBranch); err != nil {
		return nil, err
	}
	return db, nil
}

// Branch returns the named branch, hydrating its live indexes from
// durable storage on first access and caching the result for the life
// of the Database.
func (db *Database) Branch(ctx context.Context, name string) (*Branch, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.branchLocked(ctx, name)
}

func (db *Database) branchLocked(ctx context.Context, name string) (*Branch, error) {
	if b, ok := db.branches[name]; ok {
		return b, nil
	}
	b, err := db.hydrateBranch(ctx, name)
	if err != nil {
		return nil, err
	}
	db.branches[name] = b
	return b, nil
}

// CreateBranch forks a new branch from an existing one's current head
// (spec.md §5: branch creation is a cheap ref copy, not a data copy) and
// hydrates it into a usable Branch.
func (db *Database) CreateBranch(ctx context.Context, name, from string) (*Branch, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.branches[name]; ok {
		return nil, dberrors.AlreadyExists("db", fmt.Sprintf("branch %q already exists", name))
	}
	if err := db.objects.BranchFrom(ctx, cow.RefHead, from, name); err != nil {
		return nil, err
	}
	return db.branchLocked(ctx, name)
}

// graphDir returns the per-branch root for the four adjacency
// badger.DB instances, isolating one branch's graph state from
// another's (SPEC_FULL.md §4.6).
func (db *Database) graphDir(branch string) string {
	return filepath.Join(db.cfg.Graph.BadgerDir, branch)
}

// Close releases every hydrated branch's resources (notably the
// per-branch badger.DB handles backing its graph store).
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var first error
	for _, b := range db.branches {
		if err := b.graphStore.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func newCache(cfg *config.Config, reg *metrics.Registry) *cache.Cache {
	if reg == nil {
		return cache.New(cache.Config{MaxBytes: cfg.Cache.MaxBytes, MaxItems: cfg.Cache.MaxItems}, nil)
	}
	return cache.New(cache.Config{MaxBytes: cfg.Cache.MaxBytes, MaxItems: cfg.Cache.MaxItems}, reg.Registry)
}

func vectorConfig(cfg *config.Config) vector.Config {
	metric := vector.Metric(cfg.Vector.Distance)
	if metric == "" {
		metric = vector.MetricCosine
	}
	return vector.Config{
		M:              cfg.Vector.M,
		EfConstruction: cfg.Vector.EfConstruction,
		EfSearch:       cfg.Vector.EfSearch,
		Metric:         metric,
	}
}

// openGraphStore opens (creating if absent) the branch's adjacency
// store, wrapped through the blobstore circuit breaker's failure
// accounting so repeated badger-open failures on a degraded volume trip
// the same breaker guarding blob IO (SPEC_FULL.md §7).
func (db *Database) openGraphStore(branch string) (*graph.Store, error) {
	var store *graph.Store
	err := db.breaker.Execute(func() error {
		s, err := graph.Open(db.graphDir(branch))
		if err != nil {
			return err
		}
		store = s
		return nil
	})
	if err != nil {
		if err == dberrors.ErrCircuitOpen {
			return nil, dberrors.StorageTransient("db", err).WithDetail("branch", branch)
		}
		return nil, err
	}
	return store, nil
}

func metadataConfig(cfg *config.Config) (chunkValues int, fpr float64, temporalBucketMillis int64) {
	return cfg.Metadata.ChunkValueCount, cfg.Metadata.BloomFalsePositiveRate, cfg.Metadata.TemporalBucketMillis
}
