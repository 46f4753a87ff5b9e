// Package shardrouter implements chunk-map shard routing and the two-phase
// commit coordinator for cross-shard writes: a versioned interval map
// from shard-key range to owning shard, write-distribution classification
// built on top of the compiled query bounds from package queryexpr, and a
// crash-recoverable prepare/commit/abort coordinator whose durable record is
// a participant list plus a decision, persisted through a storage.Store.
package shardrouter
