package shardrouter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/docbase/internal/bsonkit"
)

func key(n int64) []byte {
	return bsonkit.EncodeValues([]bsonkit.Value{bsonkit.Int64(n)}, nil)
}

func TestChunkMapStartsAsOneChunkCoveringEverything(t *testing.T) {
	cm := NewChunkMap("shard-0")
	shard, ok := cm.ShardForKey(key(42))
	require.True(t, ok)
	assert.Equal(t, "shard-0", shard)
	assert.Equal(t, uint64(1), cm.Version().Epoch)
}

func TestChunkMapSplitRoutesEachSideIndependently(t *testing.T) {
	cm := NewChunkMap("shard-0")
	require.NoError(t, cm.Split(key(100)))

	lowShard, ok := cm.ShardForKey(key(50))
	require.True(t, ok)
	assert.Equal(t, "shard-0", lowShard)

	highShard, ok := cm.ShardForKey(key(150))
	require.True(t, ok)
	assert.Equal(t, "shard-0", highShard)

	assert.Equal(t, uint64(1), cm.Version().Minor, "split bumps minor version")
}

func TestChunkMapMoveChunkBumpsMajorAndResetsMinor(t *testing.T) {
	cm := NewChunkMap("shard-0")
	require.NoError(t, cm.Split(key(100)))
	require.NoError(t, cm.MoveChunk(key(100), "shard-1"))

	shard, ok := cm.ShardForKey(key(150))
	require.True(t, ok)
	assert.Equal(t, "shard-1", shard)

	v := cm.Version()
	assert.Equal(t, uint64(1), v.Major)
	assert.Equal(t, uint64(0), v.Minor)
}

func TestChunkMapMergeRequiresSameShard(t *testing.T) {
	cm := NewChunkMap("shard-0")
	require.NoError(t, cm.Split(key(100)))
	require.NoError(t, cm.MoveChunk(key(100), "shard-1"))

	err := cm.Merge(key(100))
	assert.Error(t, err, "merging chunks owned by different shards must fail")
}

func TestChunkMapMergeCollapsesBackToOneChunk(t *testing.T) {
	cm := NewChunkMap("shard-0")
	require.NoError(t, cm.Split(key(100)))
	require.Equal(t, 2, cm.Len())

	require.NoError(t, cm.Merge(key(100)))
	assert.Equal(t, 1, cm.Len())

	shard, ok := cm.ShardForKey(key(150))
	require.True(t, ok)
	assert.Equal(t, "shard-0", shard)
}

func TestChunkMapCheckVersionRejectsStaleClient(t *testing.T) {
	cm := NewChunkMap("shard-0")
	stale := cm.Version()
	require.NoError(t, cm.Split(key(100)))

	err := cm.CheckVersion(stale)
	require.Error(t, err)

	err = cm.CheckVersion(cm.Version())
	assert.NoError(t, err)
}
