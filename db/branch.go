package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/embedgraph/core/internal/cow"
	"github.com/embedgraph/core/internal/entity"
	dberrors "github.com/embedgraph/core/internal/errors"
	"github.com/embedgraph/core/internal/graph"
	"github.com/embedgraph/core/internal/idmap"
	"github.com/embedgraph/core/internal/metadata"
	"github.com/embedgraph/core/internal/query"
	"github.com/embedgraph/core/internal/vector"
)

// Branch is one line of history: an isolated set of live indexes
// (metadata, vector, graph, Entity-ID Mapper) hydrated from a commit and
// kept in sync with it on every write (spec.md §5: single-writer-per-
// branch discipline enforced by serializing writes through mu).
type Branch struct {
	db   *Database
	name string

	mu      sync.Mutex
	healing atomic.Bool

	ids        *idmap.Mapper
	metaIx     *metadata.Index
	vectorIx   *vector.Index
	graphStore *graph.Store
	executor   *query.Executor
	explain    *query.ExplainExecutor

	nouns map[uuid.UUID]*entity.Noun
	verbs map[uuid.UUID]*entity.Verb

	entries    map[string]cow.TreeEntry // working tree, mutated ahead of each commit
	headCommit string                   // empty until the branch's first commit
}

const (
	entryNounVector   = "vector"
	entryNounMetadata = "metadata"
	entryNounType     = "type"

	entryIDMap = "system/idmap"
)

func nounPrefix(id uuid.UUID) string { return "nouns/" + id.String() + "/" }
func verbPrefix(id uuid.UUID) string { return "verbs/" + id.String() + "/" }

// hydrateBranch loads (or initializes) a branch's live indexes from its
// current head commit. Nouns are restored from the COW tree; verbs'
// structural fields (source, target, type, weight) are restored
// straight from the branch's own durable graph store, since AddVerb
// already persists them there independently of the COW tree.
func (db *Database) hydrateBranch(ctx context.Context, name string) (*Branch, error) {
	graphStore, err := db.openGraphStore(name)
	if err != nil {
		return nil, err
	}

	chunkValues, fpr, temporalBucketMillis := metadataConfig(db.cfg)
	b := &Branch{
		db:         db,
		name:       name,
		ids:        idmap.New(),
		metaIx:     metadata.NewIndex(chunkValues, fpr, temporalBucketMillis),
		vectorIx:   vector.NewIndex(vectorConfig(db.cfg), db.cfg.Vector.PreloadThresholdBytes, db.cache),
		graphStore: graphStore,
		nouns:      map[uuid.UUID]*entity.Noun{},
		verbs:      map[uuid.UUID]*entity.Verb{},
		entries:    map[string]cow.TreeEntry{},
	}
	b.executor = query.NewExecutor(b.vectorIx, b.metaIx, b.graphStore)
	b.explain = query.NewExplainExecutor(b.executor, query.NewMetrics(nil))

	headHash, _, found, err := db.objects.ReadRef(ctx, cow.RefHead, name)
	if err != nil {
		graphStore.Close()
		return nil, err
	}
	if !found {
		return b, nil
	}
	b.headCommit = headHash

	commit, found, err := db.objects.ReadCommit(ctx, headHash)
	if err != nil {
		graphStore.Close()
		return nil, err
	}
	if !found {
		graphStore.Close()
		return nil, dberrors.IndexCorruption("db", "branch head commit missing").WithDetail("branch", name)
	}

	tree, found, err := db.objects.ReadTree(ctx, commit.TreeHash)
	if err != nil {
		graphStore.Close()
		return nil, err
	}
	if !found {
		graphStore.Close()
		return nil, dberrors.IndexCorruption("db", "branch head tree missing").WithDetail("branch", name)
	}
	for _, e := range tree.Entries {
		b.entries[e.Name] = e
	}

	if err := b.restoreIDMap(ctx); err != nil {
		graphStore.Close()
		return nil, err
	}
	if err := b.hydrateNouns(ctx); err != nil {
		graphStore.Close()
		return nil, err
	}
	if err := b.hydrateVerbs(ctx); err != nil {
		graphStore.Close()
		return nil, err
	}
	return b, nil
}

// restoreIDMap loads the branch's persisted Entity-ID Mapper state, if
// any, so internal ids hydrateNouns assigns below land back on the same
// u32s they held before the restart. Without this, HNSW connections and
// graph-store edges (both keyed by internal id) would silently point at
// whichever node happens to get reassigned that id this time around.
func (b *Branch) restoreIDMap(ctx context.Context) error {
	entry, ok := b.entries[entryIDMap]
	if !ok {
		return nil
	}
	blob, found, err := b.db.objects.ReadBlob(ctx, entry.Hash)
	if err != nil {
		return err
	}
	if !found {
		return dberrors.IndexCorruption("db", "missing idmap blob")
	}
	snapshot, err := idmap.DecodeSnapshot(blob)
	if err != nil {
		return dberrors.IndexCorruption("db", "corrupt idmap blob")
	}
	b.ids = idmap.Restore(snapshot)
	return nil
}

// persistIDMap snapshots the Entity-ID Mapper into the working tree
// ahead of a commit that assigned or retired an internal id.
func (b *Branch) persistIDMap(ctx context.Context) error {
	blob, err := idmap.EncodeSnapshot(b.ids.Snapshot())
	if err != nil {
		return dberrors.InvalidInput("db", "encode idmap blob: "+err.Error())
	}
	hash, err := b.writeBlob(ctx, blob)
	if err != nil {
		return err
	}
	b.entries[entryIDMap] = blobEntry(entryIDMap, hash)
	return nil
}

func (b *Branch) hydrateNouns(ctx context.Context) error {
	var ids []string
	for name := range b.entries {
		if rest, ok := strings.CutPrefix(name, "nouns/"); ok {
			if idStr, ok := strings.CutSuffix(rest, "/"+entryNounMetadata); ok {
				ids = append(ids, idStr)
			}
		}
	}
	sort.Strings(ids)

	for _, idStr := range ids {
		nid, err := uuid.Parse(idStr)
		if err != nil {
			return dberrors.IndexCorruption("db", "malformed noun id in tree").WithDetail("id", idStr)
		}

		metaEntry := b.entries["nouns/"+idStr+"/"+entryNounMetadata]
		metaBlob, found, err := b.db.objects.ReadBlob(ctx, metaEntry.Hash)
		if err != nil {
			return err
		}
		if !found {
			return dberrors.IndexCorruption("db", "missing metadata blob").WithDetail("id", idStr)
		}
		metadataMap, err := entity.DecodeMetadataBlob(metaBlob)
		if err != nil {
			return dberrors.IndexCorruption("db", "corrupt metadata blob").WithDetail("id", idStr)
		}

		vecEntry, ok := b.entries["nouns/"+idStr+"/"+entryNounVector]
		if !ok {
			return dberrors.IndexCorruption("db", "missing vector entry").WithDetail("id", idStr)
		}
		vecBlob, found, err := b.db.objects.ReadBlob(ctx, vecEntry.Hash)
		if err != nil {
			return err
		}
		if !found {
			return dberrors.IndexCorruption("db", "missing vector blob").WithDetail("id", idStr)
		}
		decoded, err := entity.DecodeVectorBlob(vecBlob)
		if err != nil {
			return dberrors.IndexCorruption("db", "corrupt vector blob").WithDetail("id", idStr)
		}

		typeEntry, ok := b.entries["nouns/"+idStr+"/"+entryNounType]
		nounType := ""
		if ok {
			typeBlob, found, err := b.db.objects.ReadBlob(ctx, typeEntry.Hash)
			if err != nil {
				return err
			}
			if found {
				nounType = string(typeBlob)
			}
		}

		n := &entity.Noun{
			ID:          nid,
			Type:        nounType,
			Vector:      decoded.Vector,
			Metadata:    metadataMap,
			Level:       decoded.Level,
			Connections: decoded.Connections,
		}
		b.nouns[nid] = n

		internalID := b.ids.Assign(nid)
		b.metaIx.IndexEntity(internalID, n.Metadata)
		b.vectorIx.Load(n.Type, internalID, n.Level, n.Connections, n.Vector, b.loadVector)
	}
	return nil
}

func (b *Branch) hydrateVerbs(ctx context.Context) error {
	edges, err := b.graphStore.AllEdges()
	if err != nil {
		return err
	}
	for _, e := range edges {
		sourceID, err := b.ids.Resolve(e.SourceID)
		if err != nil {
			return err
		}
		targetID, err := b.ids.Resolve(e.TargetID)
		if err != nil {
			return err
		}

		v := &entity.Verb{
			ID:       e.VerbID,
			SourceID: sourceID,
			TargetID: targetID,
			Type:     e.Type,
			Weight:   e.Weight,
		}

		prefix := verbPrefix(e.VerbID)
		if vecEntry, ok := b.entries[prefix+entryNounVector]; ok {
			if blob, found, err := b.db.objects.ReadBlob(ctx, vecEntry.Hash); err == nil && found {
				if decoded, err := entity.DecodeVectorBlob(blob); err == nil {
					v.Vector = decoded.Vector
				}
			}
		}
		if metaEntry, ok := b.entries[prefix+entryNounMetadata]; ok {
			if blob, found, err := b.db.objects.ReadBlob(ctx, metaEntry.Hash); err == nil && found {
				if decoded, err := entity.DecodeMetadataBlob(blob); err == nil {
					v.Metadata = decoded
				}
			}
		}
		b.verbs[e.VerbID] = v
	}
	return nil
}

// loadVector is the vector.Loader used to lazily page a noun's vector
// back in once its sub-graph has been promoted past the preload
// threshold (SPEC_FULL.md §4.5).
func (b *Branch) loadVector(ctx context.Context, internalID uint32) ([]float32, error) {
	id, err := b.ids.Resolve(internalID)
	if err != nil {
		return nil, err
	}
	n, ok := b.nouns[id]
	if !ok {
		return nil, dberrors.NotFound("db", "noun vector not resident").WithDetail("id", id.String())
	}
	return n.Vector, nil
}

// writeBlob writes data through the object store guarded by the
// Database's circuit breaker, so a storage backend that's down fails
// fast across every branch rather than retrying indefinitely
// (SPEC_FULL.md §7).
func (b *Branch) writeBlob(ctx context.Context, data []byte) (hash string, err error) {
	cbErr := b.db.breaker.Execute(func() error {
		h, e := b.db.objects.WriteBlob(ctx, data)
		if e != nil {
			return e
		}
		hash = h
		return nil
	})
	if cbErr == dberrors.ErrCircuitOpen {
		return "", dberrors.StorageTransient("db", cbErr)
	}
	return hash, cbErr
}

// commit snapshots the branch's working tree, appends a commit on top of
// the current head, and advances the branch ref, completing the write
// path's final step (spec.md §2: "... update statistics, append
// commit").
func (b *Branch) commit(ctx context.Context, message string) error {
	entries := make([]cow.TreeEntry, 0, len(b.entries))
	for _, e := range b.entries {
		entries = append(entries, e)
	}
	treeHash, err := b.db.objects.WriteTree(ctx, cow.Tree{Entries: entries})
	if err != nil {
		return err
	}

	commitHash, err := b.db.objects.AppendCommit(ctx, b.name, treeHash, message, b.db.cfg.Hostname, time.Now().UnixMilli(), 0)
	if err != nil {
		return err
	}
	b.headCommit = commitHash
	return nil
}

func blobEntry(name, hash string) cow.TreeEntry {
	return cow.TreeEntry{Name: name, Hash: hash, Kind: cow.KindBlob}
}

// Add inserts a new noun: the HNSW insert runs first (its level and
// connections go into the vector blob), then the vector, metadata and
// type blobs and the Entity-ID Mapper snapshot are written, then the
// metadata postings are added, then the commit is appended. A failed
// blob write leaves the HNSW node in place; it is not rolled back.
func (b *Branch) Add(ctx context.Context, in NounInput) (Noun, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New()
	internalID := b.ids.Assign(id)

	// The HNSW insert must run before the vector blob is encoded: its
	// level and per-layer neighbor lists are real index state, not a
	// placeholder, so hydrateNouns can later load the topology back
	// in directly instead of recomputing it (spec.md §4.5, §6).
	level, connections, err := b.vectorIx.Insert(ctx, in.Type, internalID, in.Vector, b.loadVector)
	if err != nil {
		return Noun{}, err
	}

	vectorBlob, err := entity.EncodeVectorBlob(id, in.Vector, level, connections)
	if err != nil {
		return Noun{}, dberrors.InvalidInput("db", "encode vector blob: "+err.Error())
	}
	metadataBlob, err := entity.EncodeMetadataBlob(in.Metadata)
	if err != nil {
		return Noun{}, dberrors.InvalidInput("db", "encode metadata blob: "+err.Error())
	}

	vectorHash, err := b.writeBlob(ctx, vectorBlob)
	if err != nil {
		return Noun{}, err
	}
	metadataHash, err := b.writeBlob(ctx, metadataBlob)
	if err != nil {
		return Noun{}, err
	}
	typeHash, err := b.writeBlob(ctx, []byte(in.Type))
	if err != nil {
		return Noun{}, err
	}
	if err := b.persistIDMap(ctx); err != nil {
		return Noun{}, err
	}

	prefix := nounPrefix(id)
	b.entries[prefix+entryNounVector] = blobEntry(prefix+entryNounVector, vectorHash)
	b.entries[prefix+entryNounMetadata] = blobEntry(prefix+entryNounMetadata, metadataHash)
	b.entries[prefix+entryNounType] = blobEntry(prefix+entryNounType, typeHash)

	n := &entity.Noun{ID: id, Type: in.Type, Vector: in.Vector, Metadata: in.Metadata, Level: level, Connections: connections}
	b.nouns[id] = n
	b.metaIx.IndexEntity(internalID, n.Metadata)

	if err := b.commit(ctx, fmt.Sprintf("add noun %s", id)); err != nil {
		return Noun{}, err
	}
	return toNoun(n), nil
}

func toNoun(n *entity.Noun) Noun {
	return Noun{ID: n.ID, Type: n.Type, Vector: n.Vector, Metadata: n.Metadata}
}

func toVerb(v *entity.Verb) Verb {
	return Verb{ID: v.ID, SourceID: v.SourceID, TargetID: v.TargetID, Type: v.Type, Weight: v.Weight, Vector: v.Vector, Metadata: v.Metadata}
}

// Has reports whether id is a live (non-deleted) noun on this branch.
func (b *Branch) Has(id uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.nouns[id]
	return ok
}

// Get returns the noun identified by id.
func (b *Branch) Get(id uuid.UUID) (Noun, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nouns[id]
	if !ok {
		return Noun{}, dberrors.NotFound("db", "noun not found").WithDetail("id", id.String())
	}
	return toNoun(n.Clone()), nil
}

// Update overwrites an existing noun's vector and/or metadata. A nil
// Vector or Metadata in in leaves that half unchanged.
func (b *Branch) Update(ctx context.Context, id uuid.UUID, in NounInput) (Noun, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := b.nouns[id]
	if !ok {
		return Noun{}, dberrors.NotFound("db", "noun not found").WithDetail("id", id.String())
	}
	internalID, ok := b.ids.Lookup(id)
	if !ok {
		return Noun{}, dberrors.NotFound("db", "noun internal id retired").WithDetail("id", id.String())
	}

	updated := existing.Clone()
	if in.Vector != nil {
		updated.Vector = in.Vector
	}
	if in.Metadata != nil {
		updated.Metadata = in.Metadata
	}
	if in.Type != "" {
		updated.Type = in.Type
	}

	b.metaIx.RemoveEntity(internalID, existing.Metadata)
	b.metaIx.IndexEntity(internalID, updated.Metadata)
	b.vectorIx.Delete(existing.Type, internalID)
	level, connections, err := b.vectorIx.Insert(ctx, updated.Type, internalID, updated.Vector, b.loadVector)
	if err != nil {
		return Noun{}, err
	}
	updated.Level = level
	updated.Connections = connections

	vectorBlob, err := entity.EncodeVectorBlob(id, updated.Vector, updated.Level, updated.Connections)
	if err != nil {
		return Noun{}, dberrors.InvalidInput("db", "encode vector blob: "+err.Error())
	}
	metadataBlob, err := entity.EncodeMetadataBlob(updated.Metadata)
	if err != nil {
		return Noun{}, dberrors.InvalidInput("db", "encode metadata blob: "+err.Error())
	}
	vectorHash, err := b.writeBlob(ctx, vectorBlob)
	if err != nil {
		return Noun{}, err
	}
	metadataHash, err := b.writeBlob(ctx, metadataBlob)
	if err != nil {
		return Noun{}, err
	}

	prefix := nounPrefix(id)
	b.entries[prefix+entryNounVector] = blobEntry(prefix+entryNounVector, vectorHash)
	b.entries[prefix+entryNounMetadata] = blobEntry(prefix+entryNounMetadata, metadataHash)
	if in.Type != "" {
		typeHash, err := b.writeBlob(ctx, []byte(updated.Type))
		if err != nil {
			return Noun{}, err
		}
		b.entries[prefix+entryNounType] = blobEntry(prefix+entryNounType, typeHash)
	}

	b.nouns[id] = updated

	if err := b.commit(ctx, fmt.Sprintf("update noun %s", id)); err != nil {
		return Noun{}, err
	}
	return toNoun(updated), nil
}

// Delete removes a noun and cascades to every verb incident on it
// (spec.md §3: cascading delete).
func (b *Branch) Delete(ctx context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	noun, ok := b.nouns[id]
	if !ok {
		return dberrors.NotFound("db", "noun not found").WithDetail("id", id.String())
	}
	internalID, ok := b.ids.Lookup(id)
	if !ok {
		return dberrors.NotFound("db", "noun internal id retired").WithDetail("id", id.String())
	}

	removedVerbs, err := b.graphStore.DeleteNounCascade(internalID)
	if err != nil {
		return err
	}
	for _, vid := range removedVerbs {
		delete(b.verbs, vid)
		prefix := verbPrefix(vid)
		delete(b.entries, prefix+entryNounVector)
		delete(b.entries, prefix+entryNounMetadata)
	}

	b.metaIx.RemoveEntity(internalID, noun.Metadata)
	b.vectorIx.Delete(noun.Type, internalID)
	b.ids.Retire(id)
	delete(b.nouns, id)
	if err := b.persistIDMap(ctx); err != nil {
		return err
	}

	prefix := nounPrefix(id)
	delete(b.entries, prefix+entryNounVector)
	delete(b.entries, prefix+entryNounMetadata)
	delete(b.entries, prefix+entryNounType)

	return b.commit(ctx, fmt.Sprintf("delete noun %s", id))
}

// Relate adds a typed, weighted edge between two existing nouns,
// persisting its own vector/metadata blobs alongside the graph store's
// adjacency records (spec.md §2, §3).
func (b *Branch) Relate(ctx context.Context, in VerbInput) (Verb, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sourceInternal, ok := b.ids.Lookup(in.SourceID)
	if !ok {
		return Verb{}, dberrors.NotFound("db", "relate: source noun not found").WithDetail("id", in.SourceID.String())
	}
	targetInternal, ok := b.ids.Lookup(in.TargetID)
	if !ok {
		return Verb{}, dberrors.NotFound("db", "relate: target noun not found").WithDetail("id", in.TargetID.String())
	}

	verbID := uuid.New()
	vectorBlob, err := entity.EncodeVectorBlob(verbID, in.Vector, 0, nil)
	if err != nil {
		return Verb{}, dberrors.InvalidInput("db", "encode verb vector blob: "+err.Error())
	}
	metadataBlob, err := entity.EncodeMetadataBlob(in.Metadata)
	if err != nil {
		return Verb{}, dberrors.InvalidInput("db", "encode verb metadata blob: "+err.Error())
	}
	vectorHash, err := b.writeBlob(ctx, vectorBlob)
	if err != nil {
		return Verb{}, err
	}
	metadataHash, err := b.writeBlob(ctx, metadataBlob)
	if err != nil {
		return Verb{}, err
	}

	prefix := verbPrefix(verbID)
	b.entries[prefix+entryNounVector] = blobEntry(prefix+entryNounVector, vectorHash)
	b.entries[prefix+entryNounMetadata] = blobEntry(prefix+entryNounMetadata, metadataHash)

	if err := b.graphStore.AddVerb(graph.Edge{
		VerbID:   verbID,
		SourceID: sourceInternal,
		TargetID: targetInternal,
		Type:     in.Type,
		Weight:   in.Weight,
	}); err != nil {
		return Verb{}, err
	}

	v := &entity.Verb{
		ID: verbID, SourceID: in.SourceID, TargetID: in.TargetID,
		Type: in.Type, Weight: in.Weight, Vector: in.Vector, Metadata: in.Metadata,
	}
	b.verbs[verbID] = v

	if err := b.commit(ctx, fmt.Sprintf("relate %s -[%s]-> %s", in.SourceID, in.Type, in.TargetID)); err != nil {
		return Verb{}, err
	}
	return toVerb(v), nil
}

// DeleteVerb removes a single edge without touching its endpoints.
func (b *Branch) DeleteVerb(ctx context.Context, verbID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.graphStore.DeleteVerb(verbID); err != nil {
		return err
	}
	delete(b.verbs, verbID)
	prefix := verbPrefix(verbID)
	delete(b.entries, prefix+entryNounVector)
	delete(b.entries, prefix+entryNounMetadata)

	return b.commit(ctx, fmt.Sprintf("delete verb %s", verbID))
}
