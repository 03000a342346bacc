package metadata

import "regexp"

// temporalFieldPattern matches field names spec.md §4.4 treats as
// timestamps subject to bucketing, so a filter like {gte: T, lt: T+1000}
// returns every entity sharing T's bucket rather than only the ones
// whose raw value falls in that exact millisecond window.
var temporalFieldPattern = regexp.MustCompile(`(?i)time|date|created|updated|modified|accessed`)

// isTemporalField reports whether field's name matches the temporal
// naming convention.
func isTemporalField(field string) bool {
	return temporalFieldPattern.MatchString(field)
}

// Bucket maps a millisecond timestamp to its temporal bucket id, used to
// shard time-series-like metadata fields (e.g. "created_at") into
// coarser chunks so range queries over recent data touch few chunks
// (spec.md §4: "temporal bucketing").
func Bucket(timestampMillis, bucketMillis int64) int64 {
	if bucketMillis <= 0 {
		bucketMillis = 60000
	}
	if timestampMillis < 0 {
		return -((-timestampMillis + bucketMillis - 1) / bucketMillis)
	}
	return timestampMillis / bucketMillis
}

// BucketRange returns the inclusive [minBucket, maxBucket] range covering
// timestamps in [minMillis, maxMillis].
func BucketRange(minMillis, maxMillis, bucketMillis int64) (int64, int64) {
	return Bucket(minMillis, bucketMillis), Bucket(maxMillis, bucketMillis)
}
