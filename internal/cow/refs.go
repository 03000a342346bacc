package cow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	dberrors "github.com/embedgraph/core/internal/errors"
)

// RefKind distinguishes branch refs from tag refs.
type RefKind string

const (
	RefHead RefKind = "heads"
	RefTag  RefKind = "tags"
)

func refKey(kind RefKind, name string) string {
	return fmt.Sprintf("_cow/refs/%s/%s", kind, name)
}

// ReadRef returns the commit hash a ref currently points at, along with
// the blobstore version needed for a subsequent compare-and-swap update.
func (s *Store) ReadRef(ctx context.Context, kind RefKind, name string) (hash, version string, found bool, err error) {
	data, version, found, err := s.adapter.Get(ctx, refKey(kind, name))
	if err != nil || !found {
		return "", version, found, err
	}
	return strings.TrimSpace(string(data)), version, true, nil
}

// CreateRef creates a new ref pointing at hash. Fails with
// KindAlreadyExists if the ref already exists.
func (s *Store) CreateRef(ctx context.Context, kind RefKind, name, hash string) error {
	_, err := s.adapter.CompareAndSwap(ctx, refKey(kind, name), "", []byte(hash))
	if err != nil {
		if dberrors.IsKind(err, dberrors.KindConcurrentWrite) {
			return dberrors.AlreadyExists("cow", fmt.Sprintf("ref %s/%s already exists", kind, name))
		}
		return err
	}
	return nil
}

// UpdateRef advances an existing ref from expectedVersion to hash. Callers
// that lose the race get back KindConcurrentWrite and are expected to
// re-read the ref, rebase their commit onto its new head, and retry
// (spec.md §5: single-writer-per-branch discipline, CAS makes the
// invariant enforceable rather than assumed).
func (s *Store) UpdateRef(ctx context.Context, kind RefKind, name, expectedVersion, hash string) (string, error) {
	return s.adapter.CompareAndSwap(ctx, refKey(kind, name), expectedVersion, []byte(hash))
}

// DeleteRef removes a ref.
func (s *Store) DeleteRef(ctx context.Context, kind RefKind, name string) error {
	return s.adapter.Delete(ctx, refKey(kind, name))
}

// ListRefs returns the names of every ref of the given kind, sorted.
func (s *Store) ListRefs(ctx context.Context, kind RefKind) ([]string, error) {
	prefix := fmt.Sprintf("_cow/refs/%s/", kind)
	var names []string
	cursor := ""
	for {
		page, err := s.adapter.ListPrefix(ctx, prefix, cursor, 0)
		if err != nil {
			return nil, err
		}
		for _, e := range page.Entries {
			names = append(names, strings.TrimPrefix(e.Key, prefix))
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	sort.Strings(names)
	return names, nil
}

// AppendCommit builds a new commit on top of parentHash (empty for the
// first commit on a branch) and advances branch to it, retrying against
// concurrent writers by rebasing the parent onto whatever head won the
// race (spec.md §5).
func (s *Store) AppendCommit(ctx context.Context, branch string, treeHash string, message, author string, timestampMillis int64, maxAttempts int) (commitHash string, err error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		parentHash, version, found, rErr := s.ReadRef(ctx, RefHead, branch)
		if rErr != nil {
			return "", rErr
		}

		commit := Commit{
			TreeHash:        treeHash,
			ParentHash:      parentHash,
			Message:         message,
			Author:          author,
			TimestampMillis: timestampMillis,
		}
		hash, wErr := s.WriteCommit(ctx, commit)
		if wErr != nil {
			return "", wErr
		}

		if !found {
			if cErr := s.CreateRef(ctx, RefHead, branch, hash); cErr != nil {
				if dberrors.IsKind(cErr, dberrors.KindAlreadyExists) {
					continue // someone else created the branch underneath us; rebase and retry
				}
				return "", cErr
			}
			return hash, nil
		}

		if _, uErr := s.UpdateRef(ctx, RefHead, branch, version, hash); uErr != nil {
			if dberrors.IsKind(uErr, dberrors.KindConcurrentWrite) {
				continue
			}
			return "", uErr
		}
		return hash, nil
	}

	return "", dberrors.ConcurrentWrite("cow", branch).WithDetail("attempts", itoa(int64(maxAttempts)))
}

// BranchFrom creates a new branch ref pointing at the same commit as an
// existing source branch (or tag).
func (s *Store) BranchFrom(ctx context.Context, sourceKind RefKind, source, newBranch string) error {
	hash, _, found, err := s.ReadRef(ctx, sourceKind, source)
	if err != nil {
		return err
	}
	if !found {
		return dberrors.NotFound("cow", "source ref "+source+" does not exist")
	}
	return s.CreateRef(ctx, RefHead, newBranch, hash)
}
