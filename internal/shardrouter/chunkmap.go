package shardrouter

import (
	"bytes"
	"sync"

	"github.com/tidwall/btree"

	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/dberr"
)

// ChunkEntry is one chunk in the shard-key range map: every key bytes-equal
// to or greater than Min, up to the next chunk's Min (or +infinity for the
// last chunk), belongs to Shard. Min uses the same comparable encoding as a
// btreeindex key, produced by bsonkit.EncodeValues over the shard-key
// pattern's leading component values.
type ChunkEntry struct {
	Min   []byte
	Shard string
}

func chunkLess(a, b ChunkEntry) bool { return bytes.Compare(a.Min, b.Min) < 0 }

// ChunkMap is the sorted half-open interval map from shard-key range to
// owning shard described in Shard-Key Range Map: a splittable,
// mergeable, versioned structure. Every mutation bumps the version so a
// client's stale copy is rejected with StaleConfig rather than silently
// routing to the wrong shard.
type ChunkMap struct {
	mu      sync.RWMutex
	tree    *btree.BTreeG[ChunkEntry]
	version dberr.ShardVersion
}

// NewChunkMap seeds a single chunk spanning the entire key space on
// initialShard, at epoch 1.
func NewChunkMap(initialShard string) *ChunkMap {
	tree := btree.NewBTreeG(chunkLess)
	minKey := bsonkit.EncodeValues([]bsonkit.Value{bsonkit.MinKey()}, nil)
	tree.Set(ChunkEntry{Min: minKey, Shard: initialShard})
	return &ChunkMap{tree: tree, version: dberr.ShardVersion{Epoch: 1}}
}

// Version returns the chunk map's current version.
func (c *ChunkMap) Version() dberr.ShardVersion {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// CheckVersion rejects a stale client-attached version with StaleConfig,
// implementing "every write or targeted read attaches the
// client's last-known version; the shard rejects... if newer."
func (c *ChunkMap) CheckVersion(client dberr.ShardVersion) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if client.Less(c.version) {
		return dberr.NewStaleConfig(c.version, client)
	}
	return nil
}

// ShardForKey returns the shard owning key, the greatest chunk whose Min is
// <= key.
func (c *ChunkMap) ShardForKey(key []byte) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var owner ChunkEntry
	found := false
	c.tree.Descend(ChunkEntry{Min: key}, func(item ChunkEntry) bool {
		owner, found = item, true
		return false
	})
	return owner.Shard, found
}

// AllShards returns the distinct set of shards any chunk currently maps to.
func (c *ChunkMap) AllShards() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]bool)
	var shards []string
	c.tree.Scan(func(item ChunkEntry) bool {
		if !seen[item.Shard] {
			seen[item.Shard] = true
			shards = append(shards, item.Shard)
		}
		return true
	})
	return shards
}

// Split breaks the chunk covering at into two chunks at the boundary at,
// both initially owned by the same shard. Splitting is a precondition for a
// subsequent MoveChunk that relocates only the new, smaller chunk.
func (c *ChunkMap) Split(at []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var owner ChunkEntry
	found := false
	c.tree.Descend(ChunkEntry{Min: at}, func(item ChunkEntry) bool {
		owner, found = item, true
		return false
	})
	if !found {
		return dberr.New(dberr.KindBadValue, "split point precedes every chunk")
	}
	if bytes.Equal(owner.Min, at) {
		return dberr.New(dberr.KindBadValue, "split point is already a chunk boundary")
	}
	c.tree.Set(ChunkEntry{Min: append([]byte(nil), at...), Shard: owner.Shard})
	c.version.Minor++
	return nil
}

// Merge folds the chunk starting at the boundary at into its predecessor,
// which must own the same shard — the inverse of Split.
func (c *ChunkMap) Merge(at []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.tree.Get(ChunkEntry{Min: at})
	if !ok {
		return dberr.New(dberr.KindBadValue, "merge point is not a chunk boundary")
	}
	var prev ChunkEntry
	found := false
	c.tree.Descend(ChunkEntry{Min: at}, func(item ChunkEntry) bool {
		if bytes.Equal(item.Min, at) {
			return true // skip cur itself, keep descending to its predecessor
		}
		prev, found = item, true
		return false
	})
	if !found {
		return dberr.New(dberr.KindBadValue, "no chunk precedes the merge boundary")
	}
	if prev.Shard != cur.Shard {
		return dberr.New(dberr.KindBadValue, "merge requires both chunks to own the same shard")
	}
	c.tree.Delete(cur)
	c.version.Minor++
	return nil
}

// MoveChunk reassigns the chunk starting at chunkMin to toShard, bumping the
// major version and resetting minor: a move changes routing, unlike a
// split or merge, which only subdivides a shard's own range.
func (c *ChunkMap) MoveChunk(chunkMin []byte, toShard string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.tree.Get(ChunkEntry{Min: chunkMin})
	if !ok {
		return dberr.New(dberr.KindBadValue, "no chunk starts at the given boundary")
	}
	entry.Shard = toShard
	c.tree.Set(entry)
	c.version.Major++
	c.version.Minor = 0
	return nil
}

// Len returns the number of chunks currently in the map.
func (c *ChunkMap) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree.Len()
}
