// Package cow implements the copy-on-write object store: content-addressed
// blob/tree/commit objects plus branch/tag refs, mirroring spec.md's
// "_cow/{refs,commits,trees,blobs}" layout on top of a blobstore.Adapter.
package cow

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Kind is the object taxonomy: blob, tree, or commit.
type Kind string

const (
	KindBlob   Kind = "blobs"
	KindTree   Kind = "trees"
	KindCommit Kind = "commits"
)

// TreeEntry is one named child of a Tree, pointing at a blob or subtree.
type TreeEntry struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
	Kind Kind   `json:"kind"`
}

// Tree is a content-addressed directory: a sorted set of named entries.
type Tree struct {
	Entries []TreeEntry `json:"entries"`
}

// Commit is a content-addressed snapshot: a tree plus lineage metadata.
type Commit struct {
	TreeHash   string `json:"tree_hash"`
	ParentHash string `json:"parent_hash,omitempty"`
	Message    string `json:"message"`
	Author     string `json:"author"`
	TimestampMillis int64 `json:"timestamp_millis"`
}

// sortedEntries returns t's entries sorted by name, so the tree's
// canonical encoding - and therefore its hash - is independent of
// insertion order.
func (t Tree) sortedEntries() []TreeEntry {
	out := append([]TreeEntry(nil), t.Entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// canonicalTree renders t as deterministic JSON with entries sorted by
// name and object fields in a fixed order, so identical trees hash
// identically regardless of how they were built.
func canonicalTree(t Tree) []byte {
	entries := t.sortedEntries()
	var buf bytes.Buffer
	buf.WriteString(`{"entries":[`)
	for i, e := range entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`{"name":`)
		writeJSONString(&buf, e.Name)
		buf.WriteString(`,"hash":`)
		writeJSONString(&buf, e.Hash)
		buf.WriteString(`,"kind":`)
		writeJSONString(&buf, string(e.Kind))
		buf.WriteByte('}')
	}
	buf.WriteString(`]}`)
	return buf.Bytes()
}

// canonicalCommit renders c as deterministic JSON with a fixed field order.
func canonicalCommit(c Commit) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"tree_hash":`)
	writeJSONString(&buf, c.TreeHash)
	buf.WriteString(`,"parent_hash":`)
	writeJSONString(&buf, c.ParentHash)
	buf.WriteString(`,"message":`)
	writeJSONString(&buf, c.Message)
	buf.WriteString(`,"author":`)
	writeJSONString(&buf, c.Author)
	buf.WriteString(`,"timestamp_millis":`)
	buf.WriteString(itoa(c.TimestampMillis))
	buf.WriteByte('}')
	return buf.Bytes()
}

func writeJSONString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func decodeTree(data []byte) (Tree, error) {
	var t Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return Tree{}, err
	}
	return t, nil
}

func decodeCommit(data []byte) (Commit, error) {
	var c Commit
	if err := json.Unmarshal(data, &c); err != nil {
		return Commit{}, err
	}
	return c, nil
}
