package db

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/embedgraph/core/internal/cow"
	"github.com/embedgraph/core/internal/entity"
	dberrors "github.com/embedgraph/core/internal/errors"
)

// Handle is a read-only, point-in-time view of a branch pinned to one
// commit (spec.md §5 asOf). It reads noun blobs directly out of that
// commit's tree rather than consulting the branch's live indexes, so it
// is unaffected by writes made after it was obtained.
//
// Verb structural fields (source, target, type, weight) live in the
// graph store's own durable LSM-trees, not in the COW tree, so Handle
// cannot reconstruct historical verbs — only nouns support time travel.
type Handle struct {
	db         *Database
	branch     string
	commitHash string
	entries    map[string]cow.TreeEntry
}

// AsOf returns a Handle pinned to the newest commit on the branch whose
// timestamp is at or before timestampMillis.
func (b *Branch) AsOf(ctx context.Context, timestampMillis int64) (*Handle, error) {
	b.mu.Lock()
	hash := b.headCommit
	b.mu.Unlock()
	if hash == "" {
		return nil, dberrors.NotFound("db", "branch has no commits yet").WithDetail("branch", b.name)
	}

	for {
		commit, found, err := b.db.objects.ReadCommit(ctx, hash)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, dberrors.IndexCorruption("db", "commit missing").WithDetail("hash", hash)
		}

		if commit.TimestampMillis <= timestampMillis {
			tree, found, err := b.db.objects.ReadTree(ctx, commit.TreeHash)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, dberrors.IndexCorruption("db", "tree missing").WithDetail("hash", commit.TreeHash)
			}
			entries := make(map[string]cow.TreeEntry, len(tree.Entries))
			for _, e := range tree.Entries {
				entries[e.Name] = e
			}
			return &Handle{db: b.db, branch: b.name, commitHash: hash, entries: entries}, nil
		}

		if commit.ParentHash == "" {
			return nil, dberrors.NotFound("db", "no commit at or before the requested time").WithDetail("branch", b.name)
		}
		hash = commit.ParentHash
	}
}

func (h *Handle) readNoun(ctx context.Context, id uuid.UUID) (*entity.Noun, bool, error) {
	prefix := nounPrefix(id)
	metaEntry, ok := h.entries[prefix+entryNounMetadata]
	if !ok {
		return nil, false, nil
	}
	metaBlob, found, err := h.db.objects.ReadBlob(ctx, metaEntry.Hash)
	if err != nil || !found {
		return nil, false, err
	}
	metadataMap, err := entity.DecodeMetadataBlob(metaBlob)
	if err != nil {
		return nil, false, dberrors.IndexCorruption("db", "corrupt metadata blob").WithDetail("id", id.String())
	}

	vecEntry, ok := h.entries[prefix+entryNounVector]
	if !ok {
		return nil, false, dberrors.IndexCorruption("db", "missing vector entry").WithDetail("id", id.String())
	}
	vecBlob, found, err := h.db.objects.ReadBlob(ctx, vecEntry.Hash)
	if err != nil || !found {
		return nil, false, err
	}
	decoded, err := entity.DecodeVectorBlob(vecBlob)
	if err != nil {
		return nil, false, dberrors.IndexCorruption("db", "corrupt vector blob").WithDetail("id", id.String())
	}

	nounType := ""
	if typeEntry, ok := h.entries[prefix+entryNounType]; ok {
		if blob, found, err := h.db.objects.ReadBlob(ctx, typeEntry.Hash); err == nil && found {
			nounType = string(blob)
		}
	}

	return &entity.Noun{ID: id, Type: nounType, Vector: decoded.Vector, Metadata: metadataMap}, true, nil
}

// Has reports whether id existed, as of this handle's pinned commit.
func (h *Handle) Has(ctx context.Context, id uuid.UUID) (bool, error) {
	_, ok := h.entries[nounPrefix(id)+entryNounMetadata]
	return ok, nil
}

// Get returns id's noun as it existed at this handle's pinned commit.
func (h *Handle) Get(ctx context.Context, id uuid.UUID) (Noun, error) {
	n, ok, err := h.readNoun(ctx, id)
	if err != nil {
		return Noun{}, err
	}
	if !ok {
		return Noun{}, dberrors.NotFound("db", "noun not found at this commit").WithDetail("id", id.String())
	}
	return toNoun(n), nil
}

// GetNouns lists every noun of nounType (or every noun, if empty) as of
// this handle's pinned commit, sorted by id for deterministic paging.
func (h *Handle) GetNouns(ctx context.Context, nounType string, offset, limit int) ([]Noun, error) {
	var ids []string
	for name := range h.entries {
		if rest, ok := strings.CutPrefix(name, "nouns/"); ok {
			if idStr, ok := strings.CutSuffix(rest, "/"+entryNounMetadata); ok {
				ids = append(ids, idStr)
			}
		}
	}
	sort.Strings(ids)

	var out []Noun
	for i, idStr := range ids {
		if i < offset {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		n, ok, err := h.readNoun(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok || (nounType != "" && n.Type != nounType) {
			continue
		}
		out = append(out, toNoun(n))
	}
	return out, nil
}
