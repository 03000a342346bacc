package db

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	dberrors "github.com/embedgraph/core/internal/errors"
	"github.com/embedgraph/core/internal/graph"
	"github.com/embedgraph/core/internal/query"
)

// Search runs plan against this branch's live indexes and fuses the
// results, returning the first page; pass its NextCursor to
// SearchWithCursor for later pages.
func (b *Branch) Search(ctx context.Context, plan query.Plan) (SearchResult, error) {
	return b.SearchWithCursor(ctx, plan, "")
}

func (b *Branch) defaultLimit() int {
	if l := b.db.cfg.Query.DefaultLimit; l > 0 {
		return l
	}
	return 10
}

// defaultWeights returns the configured fusion weights, used whenever a
// caller leaves Plan.Weights zero-valued instead of choosing its own
// per-signal mix (spec.md §4.7 default 0.4/0.3/0.3).
func (b *Branch) defaultWeights() query.Weights {
	q := b.db.cfg.Query
	return query.Weights{Vector: q.WeightVector, Field: q.WeightField, Graph: q.WeightGraph}
}

// SearchWithCursor runs plan, honoring an opaque cursor from a prior
// call. The cursor pins the query to the commit it was issued against;
// a branch that has advanced since invalidates the cursor rather than
// silently skipping or duplicating rows (spec.md §5 RYW semantics).
func (b *Branch) SearchWithCursor(ctx context.Context, plan query.Plan, cursorToken string) (SearchResult, error) {
	offset := 0
	b.mu.Lock()
	head := b.headCommit
	b.mu.Unlock()

	if cursorToken != "" {
		cur, err := query.DecodeCursor(cursorToken)
		if err != nil {
			return SearchResult{}, err
		}
		if cur.CommitHash != head {
			return SearchResult{}, dberrors.CursorInvalidated("db").WithDetail("reason", "branch advanced since cursor was issued")
		}
		offset = cur.Offset
	}

	limit := plan.Limit
	if limit <= 0 {
		limit = b.defaultLimit()
	}
	if max := b.db.cfg.Query.MaxLimit; max > 0 && limit > max {
		limit = max
	}

	if plan.Weights == (query.Weights{}) {
		plan.Weights = b.defaultWeights()
	}

	// Fetch one hit past the page so a following page can be detected.
	inner := plan
	inner.Limit = offset + limit + 1
	if inner.Vector != nil {
		vq := *inner.Vector
		vq.K = offset + limit + 1
		inner.Vector = &vq
	}

	result, err := b.executor.Execute(ctx, inner)
	if err != nil {
		return SearchResult{}, err
	}

	hits := result.Hits
	if offset >= len(hits) {
		return SearchResult{}, nil
	}
	page := hits[offset:]
	if len(page) > limit {
		page = page[:limit]
	}

	out := make([]SearchHit, 0, len(page))
	for _, h := range page {
		id, err := b.ids.Resolve(h.ID)
		if err != nil {
			continue // resolved id was retired between Execute and here; drop it
		}
		out = append(out, SearchHit{ID: id, Score: h.Score, SignalCount: h.SignalCount})
	}

	nextCursor := ""
	if len(page) == limit && offset+len(page) < len(hits) {
		nextCursor = query.Cursor{CommitHash: head, Offset: offset + len(page)}.Encode()
	}
	return SearchResult{Hits: out, NextCursor: nextCursor}, nil
}

// Explain runs plan stage-by-stage, returning per-signal timing
// alongside the fused result (spec.md §4.9 explain mode).
func (b *Branch) Explain(ctx context.Context, plan query.Plan) (*query.Explanation, error) {
	return b.explain.Explain(ctx, plan)
}

// GetNouns lists every noun of nounType (or every noun if nounType is
// empty), paginated in deterministic (ID string) order.
func (b *Branch) GetNouns(nounType string, cursorToken string, limit int) (NounPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limit <= 0 {
		limit = b.defaultLimit()
	}
	offset, err := b.decodeListCursor(cursorToken)
	if err != nil {
		return NounPage{}, err
	}

	var ids []uuid.UUID
	for id, n := range b.nouns {
		if nounType == "" || n.Type == nounType {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	if offset >= len(ids) {
		return NounPage{}, nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	page := ids[offset:end]

	out := make([]Noun, 0, len(page))
	for _, id := range page {
		out = append(out, toNoun(b.nouns[id].Clone()))
	}

	next := ""
	if end < len(ids) {
		next = query.Cursor{CommitHash: b.headCommit, Offset: end}.Encode()
	}
	return NounPage{Nouns: out, NextCursor: next}, nil
}

// GetVerbs lists edges whose source is nounID (outgoing edges only;
// edges pointing at nounID are not listed), optionally filtered to one
// verb type, paginated in deterministic (ID string) order.
func (b *Branch) GetVerbs(nounID uuid.UUID, verbType string, cursorToken string, limit int) (VerbPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limit <= 0 {
		limit = b.defaultLimit()
	}
	offset, err := b.decodeListCursor(cursorToken)
	if err != nil {
		return VerbPage{}, err
	}

	internalID, ok := b.ids.Lookup(nounID)
	if !ok {
		return VerbPage{}, dberrors.NotFound("db", "noun not found").WithDetail("id", nounID.String())
	}

	var edges []graph.Edge
	if verbType != "" {
		edges, err = b.graphStore.Neighbors(internalID, verbType)
	} else {
		edges, err = b.graphStore.AllForward(internalID)
	}
	if err != nil {
		return VerbPage{}, err
	}

	ids := make([]uuid.UUID, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.VerbID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	if offset >= len(ids) {
		return VerbPage{}, nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	page := ids[offset:end]

	out := make([]Verb, 0, len(page))
	for _, id := range page {
		if v, ok := b.verbs[id]; ok {
			out = append(out, toVerb(v))
		}
	}

	next := ""
	if end < len(ids) {
		next = query.Cursor{CommitHash: b.headCommit, Offset: end}.Encode()
	}
	return VerbPage{Verbs: out, NextCursor: next}, nil
}

func (b *Branch) decodeListCursor(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	cur, err := query.DecodeCursor(token)
	if err != nil {
		return 0, err
	}
	if cur.CommitHash != b.headCommit {
		return 0, dberrors.CursorInvalidated("db").WithDetail("reason", "branch advanced since cursor was issued")
	}
	return cur.Offset, nil
}

// Statistics reports the branch's live index sizes, recomputing the
// graph's forward/reverse asymmetry count as a best-effort corruption
// signal (SPEC_FULL.md §7).
func (b *Branch) Statistics() (Statistics, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := Statistics{
		NounCount:     len(b.nouns),
		VerbCount:     len(b.verbs),
		NounsByType:   map[string]int{},
		VerbsByType:   map[string]int{},
		IndexedFields: b.metaIx.Fields(),
		HeadCommit:    b.headCommit,
	}
	for _, n := range b.nouns {
		stats.NounsByType[n.Type]++
	}
	for _, v := range b.verbs {
		stats.VerbsByType[v.Type]++
	}

	asymmetries, err := b.graphStore.Verify()
	if err != nil {
		return stats, err
	}
	stats.GraphAsymmetry = len(asymmetries)
	if stats.GraphAsymmetry > 0 {
		b.triggerSelfHeal()
	}
	return stats, nil
}

// triggerSelfHeal schedules a best-effort background rebuild of any index
// found corrupt, rather than failing the caller that happened to notice
// (SPEC_FULL.md §7: IndexCorruption triggers a background rebuild()).
// It is safe to call repeatedly; graph.Store.Rebuild rederives the
// reverse keyspace from the forward one, which is authoritative, so a
// redundant rebuild is wasted work, not a correctness risk.
func (b *Branch) triggerSelfHeal() {
	if !b.healing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer b.healing.Store(false)
		if err := b.graphStore.Rebuild(); err != nil {
			slog.Error("background graph self-heal failed", "branch", b.name, "error", err)
			return
		}
		slog.Info("background graph self-heal completed", "branch", b.name)
	}()
}
