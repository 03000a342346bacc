package metadata

import (
	"reflect"
	"sync"

	roaring "github.com/RoaringBitmap/roaring/v2"
)

// FieldIndex is the ordered set of chunks covering one field across every
// indexed entity. New values are appended to the last chunk until it is
// full, then a sibling chunk is opened (spec.md §4: "chunk split").
type FieldIndex struct {
	mu                sync.RWMutex
	chunkValueCount   int
	falsePositiveRate float64
	chunks            []*Chunk
	location          map[uint32]int // id -> chunk index, for Remove/Update
}

// NewFieldIndex builds an empty per-field index.
func NewFieldIndex(chunkValueCount int, falsePositiveRate float64) *FieldIndex {
	return &FieldIndex{
		chunkValueCount:   chunkValueCount,
		falsePositiveRate: falsePositiveRate,
		location:          make(map[uint32]int),
	}
}

// Add indexes value for id, opening a new chunk if the current one is full.
func (fi *FieldIndex) Add(id uint32, value any) {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	if idx, ok := fi.location[id]; ok {
		fi.chunks[idx].Remove(id)
	}

	if len(fi.chunks) == 0 || fi.chunks[len(fi.chunks)-1].Full() {
		fi.chunks = append(fi.chunks, NewChunk(fi.chunkValueCount, fi.falsePositiveRate))
	}
	last := fi.chunks[len(fi.chunks)-1]
	last.Add(id, value)
	fi.location[id] = len(fi.chunks) - 1
}

// Remove drops id from whichever chunk holds it.
func (fi *FieldIndex) Remove(id uint32) {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	idx, ok := fi.location[id]
	if !ok {
		return
	}
	fi.chunks[idx].Remove(id)
	delete(fi.location, id)
}

// Exact returns every id whose value exactly equals value.
func (fi *FieldIndex) Exact(value any) *roaring.Bitmap {
	fi.mu.RLock()
	defer fi.mu.RUnlock()

	out := roaring.New()
	for _, c := range fi.chunks {
		if bm := c.Exact(value); bm != nil {
			out.Or(bm)
		}
	}
	return out
}

// Range returns every id whose numeric value falls within [min, max],
// pruning chunks whose zone map cannot overlap the range.
func (fi *FieldIndex) Range(min, max float64) *roaring.Bitmap {
	fi.mu.RLock()
	defer fi.mu.RUnlock()

	out := roaring.New()
	for _, c := range fi.chunks {
		if c.OverlapsRange(min, max) {
			out.Or(c.RangeMatch(min, max))
		}
	}
	return out
}

// ChunkCount returns the number of chunks backing this field.
func (fi *FieldIndex) ChunkCount() int {
	fi.mu.RLock()
	defer fi.mu.RUnlock()
	return len(fi.chunks)
}

// Verify checks every chunk for internal consistency, returning the
// first error found.
func (fi *FieldIndex) Verify() error {
	fi.mu.RLock()
	defer fi.mu.RUnlock()
	for _, c := range fi.chunks {
		if err := c.Verify(); err != nil {
			return err
		}
	}
	return nil
}

// Rebuild repairs every chunk's derived structures in place.
func (fi *FieldIndex) Rebuild() {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	for _, c := range fi.chunks {
		c.Rebuild()
	}
}

// Index is the metadata index across every field, keyed by field name.
type Index struct {
	mu       sync.RWMutex
	fields   map[string]*FieldIndex
	registry *Registry

	chunkValueCount      int
	falsePositiveRate    float64
	temporalBucketMillis int64
}

// NewIndex builds an empty metadata index. temporalBucketMillis is the
// bucket width applied to fields named per spec.md §4.4's temporal
// pattern (time|date|created|updated|modified|accessed); 0 defaults to
// Bucket's own 60000ms default.
func NewIndex(chunkValueCount int, falsePositiveRate float64, temporalBucketMillis int64) *Index {
	return &Index{
		fields:               make(map[string]*FieldIndex),
		registry:             NewRegistry(),
		chunkValueCount:      chunkValueCount,
		falsePositiveRate:    falsePositiveRate,
		temporalBucketMillis: temporalBucketMillis,
	}
}

func (ix *Index) fieldIndex(field string) *FieldIndex {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	fi, ok := ix.fields[field]
	if !ok {
		fi = NewFieldIndex(ix.chunkValueCount, ix.falsePositiveRate)
		ix.fields[field] = fi
	}
	return fi
}

// IndexEntity adds every indexable field of metadata for id. An
// array-valued field is expanded element-wise: each element is indexed
// as its own postings value, so Exact("tags", "a") finds an entity whose
// "tags" field is ["a","b"] (spec.md §4.4, §6 homogeneous-array values).
func (ix *Index) IndexEntity(id uint32, metadata map[string]any) {
	for field, value := range metadata {
		if !ix.registry.Observe(field) {
			continue
		}
		temporal := isTemporalField(field)
		for _, element := range expandElements(value) {
			ix.fieldIndex(field).Add(id, ix.bucketIfTemporal(temporal, element))
		}
	}
}

// expandElements returns value itself as a single-element slice, or, if
// value is an array/slice, its elements individually.
func expandElements(value any) []any {
	v := reflect.ValueOf(value)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return []any{value}
	}
	out := make([]any, v.Len())
	for i := range out {
		out[i] = v.Index(i).Interface()
	}
	return out
}

// bucketIfTemporal replaces a numeric value with its temporal bucket id
// when temporal is set and value can participate in a range predicate;
// non-numeric values (and non-temporal fields) pass through unchanged.
func (ix *Index) bucketIfTemporal(temporal bool, value any) any {
	if !temporal {
		return value
	}
	ts, ok := numeric(value)
	if !ok {
		return value
	}
	return float64(Bucket(int64(ts), ix.temporalBucketMillis))
}

// RemoveEntity drops id from every field index it may appear in.
func (ix *Index) RemoveEntity(id uint32, metadata map[string]any) {
	for field := range metadata {
		if fi, ok := ix.fields[field]; ok {
			fi.Remove(id)
		}
	}
}

// Exact returns every id whose field exactly equals value. A field never
// observed returns an empty bitmap rather than an error. Temporal fields
// bucket value the same way IndexEntity bucketed it at write time.
func (ix *Index) Exact(field string, value any) *roaring.Bitmap {
	ix.mu.RLock()
	fi, ok := ix.fields[field]
	ix.mu.RUnlock()
	if !ok {
		return roaring.New()
	}
	return fi.Exact(ix.bucketIfTemporal(isTemporalField(field), value))
}

// Range returns every id whose field falls within [min, max]. For a
// temporal field, min/max are first widened to the bucket range they
// fall in, so a sub-bucket window (e.g. a 1s range inside a 60s bucket)
// still matches every entity sharing that bucket (spec.md §4.4, §8
// "created within the same minute").
func (ix *Index) Range(field string, min, max float64) *roaring.Bitmap {
	ix.mu.RLock()
	fi, ok := ix.fields[field]
	ix.mu.RUnlock()
	if !ok {
		return roaring.New()
	}
	if isTemporalField(field) {
		minBucket, maxBucket := BucketRange(int64(min), int64(max), ix.temporalBucketMillis)
		min, max = float64(minBucket), float64(maxBucket)
	}
	return fi.Range(min, max)
}

// Fields returns every observed indexable field name.
func (ix *Index) Fields() []string {
	return ix.registry.Fields()
}

// Verify checks every field's chunks for corruption.
func (ix *Index) Verify() error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for _, fi := range ix.fields {
		if err := fi.Verify(); err != nil {
			return err
		}
	}
	return nil
}

// Rebuild repairs every field's chunks in place.
func (ix *Index) Rebuild() {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for _, fi := range ix.fields {
		fi.Rebuild()
	}
}

// Intersect returns the bitwise AND of several bitmaps, short-circuiting
// to an empty result as soon as any input is empty.
func Intersect(bitmaps ...*roaring.Bitmap) *roaring.Bitmap {
	if len(bitmaps) == 0 {
		return roaring.New()
	}
	out := bitmaps[0].Clone()
	for _, bm := range bitmaps[1:] {
		out.And(bm)
		if out.IsEmpty() {
			break
		}
	}
	return out
}
