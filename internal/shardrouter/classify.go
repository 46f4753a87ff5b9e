package shardrouter

import (
	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/queryexpr"
)

// Distribution classifies how a write or targeted read distributes across
// shards.
type Distribution uint8

const (
	// SingleShard means the predicate pins every shard-key component to an
	// exact value, so the write targets exactly one chunk.
	SingleShard Distribution = iota
	// Broadcast means the predicate does not fully constrain the shard key
	// (a range, a missing component, or a top-level $or), so it must be
	// sent to every shard that could hold a match.
	Broadcast
)

// Classify reports how a compiled predicate distributes against shardKey:
// SingleShard with the shard-key's equality values in pattern order, or
// Broadcast. Only an exact equality match on every shard-key component
// qualifies for single-shard routing; anything that matches only a
// shard-key prefix or relies on a non-simple collation broadcasts.
func Classify(shardKey []bsonkit.KeyPart, bounds queryexpr.FieldBoundSet) (Distribution, []bsonkit.Value) {
	values := make([]bsonkit.Value, len(shardKey))
	for i, part := range shardKey {
		b, ok := bounds[part.Path]
		if !ok || !isEquality(b) {
			return Broadcast, nil
		}
		values[i] = b.Lower
	}
	return SingleShard, values
}

func isEquality(b *queryexpr.FieldBound) bool {
	return b.LowerInclusive && b.UpperInclusive && bsonkit.Equal(b.Lower, b.Upper)
}
