package shardrouter

import (
	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/dberr"
	"github.com/dreamware/docbase/internal/queryexpr"
)

// Router ties a collection's shard-key pattern to its ChunkMap, turning a
// compiled predicate into a routing decision.
type Router struct {
	shardKey []bsonkit.KeyPart
	desc     []bool
	Chunks   *ChunkMap
}

// NewRouter builds a Router for a freshly sharded collection, with every
// chunk initially owned by initialShard.
func NewRouter(shardKey []bsonkit.KeyPart, initialShard string) *Router {
	desc := make([]bool, len(shardKey))
	for i, part := range shardKey {
		desc[i] = part.Desc
	}
	return &Router{shardKey: shardKey, desc: desc, Chunks: NewChunkMap(initialShard)}
}

// Route classifies pred and, for a single-shard write, resolves the owning
// shard. It always returns the chunk map version the caller attached to the
// write so a retry after StaleConfig can compare against what it last saw.
func (r *Router) Route(pred *bsonkit.Document) (dist Distribution, shard string, version dberr.ShardVersion, err error) {
	version = r.Chunks.Version()

	compiled, err := queryexpr.Compile(pred)
	if err != nil {
		return Broadcast, "", version, err
	}
	if compiled.Bounds == nil {
		// A top-level $or: each branch could hit a different shard, and
		// treats $or as a planner-level union rather than
		// something this package reasons about branch-by-branch.
		return Broadcast, "", version, nil
	}

	dist, values := Classify(r.shardKey, compiled.Bounds)
	if dist == Broadcast {
		return Broadcast, "", version, nil
	}

	key := bsonkit.EncodeValues(values, r.desc)
	shard, ok := r.Chunks.ShardForKey(key)
	if !ok {
		return Broadcast, "", version, dberr.New(dberr.KindBadValue, "shard key value precedes every chunk")
	}
	return SingleShard, shard, version, nil
}
