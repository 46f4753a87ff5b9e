package shardrouter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/docbase/internal/bsonkit"
)

func TestRouterRoutesExactMatchToOneShard(t *testing.T) {
	r := NewRouter(shardKey, "shard-0")
	boundary := bsonkit.EncodeValues([]bsonkit.Value{bsonkit.String("us-west"), bsonkit.Int64(0)}, nil)
	require.NoError(t, r.Chunks.Split(boundary))
	require.NoError(t, r.Chunks.MoveChunk(boundary, "shard-1"))

	dist, shard, version, err := r.Route(bsonkit.NewDocument(
		bsonkit.F("region", bsonkit.String("us-west")),
		bsonkit.F("userId", bsonkit.Int64(5)),
	))
	require.NoError(t, err)
	assert.Equal(t, SingleShard, dist)
	assert.Equal(t, "shard-1", shard)
	assert.Equal(t, r.Chunks.Version(), version)
}

func TestRouterBroadcastsPartialPredicate(t *testing.T) {
	r := NewRouter(shardKey, "shard-0")
	dist, shard, _, err := r.Route(bsonkit.NewDocument(bsonkit.F("region", bsonkit.String("us-west"))))
	require.NoError(t, err)
	assert.Equal(t, Broadcast, dist)
	assert.Empty(t, shard)
}

func TestRouterBroadcastsTopLevelOr(t *testing.T) {
	r := NewRouter(shardKey, "shard-0")
	pred := bsonkit.NewDocument(bsonkit.F("$or", bsonkit.Array([]bsonkit.Value{
		bsonkit.Doc(bsonkit.NewDocument(bsonkit.F("region", bsonkit.String("us-west")))),
		bsonkit.Doc(bsonkit.NewDocument(bsonkit.F("region", bsonkit.String("us-east")))),
	})))

	dist, _, _, err := r.Route(pred)
	require.NoError(t, err)
	assert.Equal(t, Broadcast, dist)
}
