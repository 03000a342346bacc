// Package shard implements a 256-way path layout keyed by the first octet
// of a UUID. No other package calls it: entity and verb paths in the COW
// tree carry no shard prefix.
package shard

import (
	"fmt"

	"github.com/google/uuid"
)

// Count is the number of shards (one per possible byte value).
const Count = 256

// Of returns the two lowercase hex digit shard prefix for id, derived from
// the first octet of the UUID (spec.md §3: "shard prefix is the lowercase
// hex of the first octet of the UUID").
func Of(id uuid.UUID) string {
	return fmt.Sprintf("%02x", id[0])
}

// Path joins root, kind, the shard prefix for id, and id's string form
// into `<root>/<kind>/<shard>/<id>`.
func Path(root, kind string, id uuid.UUID) string {
	return root + "/" + kind + "/" + Of(id) + "/" + id.String()
}
