package db

import (
	"github.com/google/uuid"
)

// NounInput is the caller-supplied shape of a new entity.
type NounInput struct {
	Type     string
	Vector   []float32
	Metadata map[string]any
}

// Noun is a read view of a persisted entity. It deliberately hides the
// internal uint32 id assigned by the Entity-ID Mapper: callers only ever
// see UUIDs.
type Noun struct {
	ID       uuid.UUID
	Type     string
	Vector   []float32
	Metadata map[string]any
}

// VerbInput is the caller-supplied shape of a new relationship.
type VerbInput struct {
	SourceID uuid.UUID
	TargetID uuid.UUID
	Type     string
	Weight   float64
	Vector   []float32
	Metadata map[string]any
}

// Verb is a read view of a persisted relationship.
type Verb struct {
	ID       uuid.UUID
	SourceID uuid.UUID
	TargetID uuid.UUID
	Type     string
	Weight   float64
	Vector   []float32
	Metadata map[string]any
}

// NounPage is one page of a getNouns listing.
type NounPage struct {
	Nouns      []Noun
	NextCursor string
}

// VerbPage is one page of a getVerbs listing.
type VerbPage struct {
	Verbs      []Verb
	NextCursor string
}

// SearchHit is one fused query result, resolved back to a public UUID.
type SearchHit struct {
	ID          uuid.UUID
	Score       float64
	SignalCount int
}

// SearchResult is the full response to a search/searchWithCursor call.
type SearchResult struct {
	Hits       []SearchHit
	NextCursor string
}

// Statistics summarizes one branch's live index state (spec.md §4's
// statistics() operation).
type Statistics struct {
	NounCount      int
	VerbCount      int
	NounsByType    map[string]int
	VerbsByType    map[string]int
	IndexedFields  []string
	GraphAsymmetry int
	HeadCommit     string
}
