package metadata

import (
	"fmt"
	"hash/fnv"
)

// canonicalString renders any indexable metadata value as a comparable
// string: numbers in a fixed format, everything else via fmt. This is
// the representation hashed into the bloom filter and compared for
// exact-match postings.
func canonicalString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	case float32:
		return fmt.Sprintf("%g", t)
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// hashValue returns a 64-bit FNV-1a digest of a value's canonical string
// form, used as the bloom filter membership key.
func hashValue(v any) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(canonicalString(v)))
	return h.Sum64()
}

// numeric reports whether v can participate in a range predicate, and
// its float64 value if so.
func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
