package metadata

import (
	roaring "github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"
	"github.com/holiman/bloomfilter/v2"

	dberrors "github.com/embedgraph/core/internal/errors"
)

// zoneBucketCount is the resolution of the zone map's occupancy bitset:
// the chunk's [zoneMin, zoneMax] span is divided into this many equal
// buckets, each with one bit marking whether any resident value falls
// inside it.
const zoneBucketCount = 32

// Chunk is one bounded-size slice of a field's postings: up to
// ValueCount distinct (internal id, value) pairs, with a bloom filter for
// cheap negative membership tests and a zone map for range-query pruning
// (spec.md §4, SPEC_FULL.md §4.4).
type Chunk struct {
	maxValues   int
	falsePositive float64

	values   map[uint32]any       // internal id -> raw value, for verification/rebuild
	postings map[string]*roaring.Bitmap // canonical value -> matching ids
	bloom    *bloomfilter.Filter

	hasZoneMap  bool
	zoneMin     float64
	zoneMax     float64
	zoneBuckets *bitset.BitSet
}

// NewChunk builds an empty chunk sized for maxValues entries at the given
// bloom filter false-positive target.
func NewChunk(maxValues int, falsePositiveRate float64) *Chunk {
	if maxValues <= 0 {
		maxValues = 50
	}
	if falsePositiveRate <= 0 {
		falsePositiveRate = 0.01
	}
	bloom, _ := bloomfilter.NewOptimal(uint64(maxValues), falsePositiveRate)
	return &Chunk{
		maxValues:     maxValues,
		falsePositive: falsePositiveRate,
		values:        make(map[uint32]any),
		postings:      make(map[string]*roaring.Bitmap),
		bloom:         bloom,
		zoneBuckets:   bitset.New(zoneBucketCount),
	}
}

// Full reports whether the chunk has reached its value-count budget and
// a new distinct value would need a sibling chunk.
func (c *Chunk) Full() bool {
	return len(c.values) >= c.maxValues
}

// Add records id -> value in the chunk, updating postings, bloom filter,
// and zone map.
func (c *Chunk) Add(id uint32, value any) {
	c.values[id] = value

	key := canonicalString(value)
	bm, ok := c.postings[key]
	if !ok {
		bm = roaring.New()
		c.postings[key] = bm
	}
	bm.Add(id)

	c.bloom.Add(hashValue(value))

	if n, ok := numeric(value); ok {
		if !c.hasZoneMap {
			c.zoneMin, c.zoneMax = n, n
			c.hasZoneMap = true
		} else {
			if n < c.zoneMin {
				c.zoneMin = n
			}
			if n > c.zoneMax {
				c.zoneMax = n
			}
		}
		c.rebuildZoneBuckets()
	}
}

// bucketOf maps a numeric value within [c.zoneMin, c.zoneMax] onto one of
// zoneBucketCount equal-width buckets.
func (c *Chunk) bucketOf(n float64) uint {
	if c.zoneMax == c.zoneMin {
		return 0
	}
	frac := (n - c.zoneMin) / (c.zoneMax - c.zoneMin)
	bucket := uint(frac * float64(zoneBucketCount))
	if bucket >= zoneBucketCount {
		bucket = zoneBucketCount - 1
	}
	return bucket
}

// rebuildZoneBuckets recomputes the occupancy bitset from scratch; called
// whenever the chunk's [zoneMin, zoneMax] span changes, since every
// bucket's boundaries shift with it.
func (c *Chunk) rebuildZoneBuckets() {
	c.zoneBuckets.ClearAll()
	for _, v := range c.values {
		if n, ok := numeric(v); ok {
			c.zoneBuckets.Set(c.bucketOf(n))
		}
	}
}

// Remove drops id from the chunk entirely.
func (c *Chunk) Remove(id uint32) {
	value, ok := c.values[id]
	if !ok {
		return
	}
	delete(c.values, id)

	key := canonicalString(value)
	if bm, ok := c.postings[key]; ok {
		bm.Remove(id)
		if bm.IsEmpty() {
			delete(c.postings, key)
		}
	}
	// Bloom filters and zone maps are append-only within a chunk's
	// lifetime; Remove leaves a possible false positive in the bloom
	// filter and a stale zone-map bound until the chunk is rebuilt.
}

// MayContain is a cheap pre-check: false means value is definitely absent;
// true means it is possibly present (subject to the bloom filter's
// false-positive rate).
func (c *Chunk) MayContain(value any) bool {
	return c.bloom.Contains(hashValue(value))
}

// Exact returns the ids whose value exactly equals value, or nil if the
// bloom filter rules the chunk out.
func (c *Chunk) Exact(value any) *roaring.Bitmap {
	if !c.MayContain(value) {
		return nil
	}
	bm, ok := c.postings[canonicalString(value)]
	if !ok {
		return nil
	}
	return bm
}

// OverlapsRange reports whether the chunk's zone map could contain a
// value in [min, max]. A chunk with no numeric values never overlaps.
// The coarse min/max check is refined by the occupancy bitset: a query
// range that falls entirely inside an unoccupied bucket span is pruned
// even though it sits within [zoneMin, zoneMax].
func (c *Chunk) OverlapsRange(min, max float64) bool {
	if !c.hasZoneMap {
		return false
	}
	if max < c.zoneMin || min > c.zoneMax {
		return false
	}

	lo := c.bucketOf(clamp(min, c.zoneMin, c.zoneMax))
	hi := c.bucketOf(clamp(max, c.zoneMin, c.zoneMax))
	for b := lo; b <= hi; b++ {
		if c.zoneBuckets.Test(b) {
			return true
		}
		if b == zoneBucketCount-1 {
			break
		}
	}
	return false
}

func clamp(n, lo, hi float64) float64 {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// RangeMatch scans the chunk's stored values for those within [min, max].
// Used only on chunks OverlapsRange already approved, since zone maps
// cannot themselves answer membership.
func (c *Chunk) RangeMatch(min, max float64) *roaring.Bitmap {
	out := roaring.New()
	for id, v := range c.values {
		if n, ok := numeric(v); ok && n >= min && n <= max {
			out.Add(id)
		}
	}
	return out
}

// Len returns the number of distinct ids stored in the chunk.
func (c *Chunk) Len() int {
	return len(c.values)
}

// Verify checks that every id's postings entry and bloom membership are
// internally consistent, returning KindIndexCorruption on the first
// mismatch found (SPEC_FULL.md Design Notes: chunk corruption triggers a
// rebuild rather than aborting the query).
func (c *Chunk) Verify() error {
	for id, value := range c.values {
		key := canonicalString(value)
		bm, ok := c.postings[key]
		if !ok || !bm.Contains(id) {
			return dberrors.IndexCorruption("metadata", "chunk postings missing entry for indexed id").
				WithDetail("value", key)
		}
		if !c.bloom.Contains(hashValue(value)) {
			return dberrors.IndexCorruption("metadata", "chunk bloom filter missing entry for indexed value").
				WithDetail("value", key)
		}
	}
	return nil
}

// Rebuild reconstructs postings, bloom filter, and zone map from the
// chunk's surviving value map, repairing any drift accumulated by
// Remove calls.
func (c *Chunk) Rebuild() {
	values := c.values
	rebuilt := NewChunk(c.maxValues, c.falsePositive)
	for id, v := range values {
		rebuilt.Add(id, v)
	}
	*c = *rebuilt
}
