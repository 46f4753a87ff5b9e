// Package writepath implements the unit-of-work write sequence and index
// maintenance: insert/update/delete applied to the record store and
// every affected index atomically, with WriteConflict retried under
// bounded exponential backoff.
package writepath

import (
	"sync"

	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/btreeindex"
	"github.com/dreamware/docbase/internal/dberr"
)

// BuildPhase is an index's build-lifecycle state, supplementing the
// dropped multi-phase-index-build feature from
// original_source/src/mongo/db/catalog/index_builds_manager.cpp — tracked
// here only coarsely enough to gate whether the write path maintains an
// index yet.
type BuildPhase uint8

const (
	// BuildInProgress indexes are scanned for write-path maintenance (so a
	// concurrent writer's keys make it in) but not yet used by the planner.
	BuildInProgress BuildPhase = iota
	BuildCommitted
	BuildAborted
)

// IndexEntry is one collection's index as the catalog tracks it: the live
// btreeindex.Index plus its build state.
type IndexEntry struct {
	Index *btreeindex.Index
	Phase BuildPhase
}

type collectionEntry struct {
	indexes map[string]*IndexEntry
	// ShardKeyPattern is nil for an unsharded collection. When non-nil, an
	// update that changes any of these fields is refused by WritePath.Update
	// rather than applied in place.
	shardKeyPattern []bsonkit.KeyPart
}

// Catalog is the in-memory per-collection index registry: every
// collection's indexes plus a monotonic version bumped on any index or
// collection change, the same signal the plan cache
// invalidates on.
type Catalog struct {
	mu          sync.RWMutex
	collections map[string]*collectionEntry
	version     uint64

	// OnInvalidate is called (if set) with the name of any collection whose
	// catalog version just bumped — internal/planner's Planner.
	// InvalidateCollection wired in here by cmd/dbnode.
	OnInvalidate func(collection string)
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{collections: make(map[string]*collectionEntry)}
}

// CreateCollection registers an empty collection with the catalog.
func (c *Catalog) CreateCollection(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.collections[name]; ok {
		return
	}
	c.collections[name] = &collectionEntry{indexes: make(map[string]*IndexEntry)}
	c.bump(name)
}

// DropCollection removes a collection and every index entry registered
// under it.
func (c *Catalog) DropCollection(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.collections, name)
	c.bump(name)
}

// SetShardKeyPattern records collection's shard-key pattern, or clears it
// if pattern is nil.
func (c *Catalog) SetShardKeyPattern(collection string, pattern []bsonkit.KeyPart) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ce, ok := c.collections[collection]
	if !ok {
		return
	}
	ce.shardKeyPattern = pattern
}

// ShardKeyPattern returns collection's shard-key pattern, or nil if the
// collection is unsharded.
func (c *Catalog) ShardKeyPattern(collection string) []bsonkit.KeyPart {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ce, ok := c.collections[collection]
	if !ok {
		return nil
	}
	return ce.shardKeyPattern
}

// CreateIndex registers idx under collection with phase BuildInProgress,
// then BuildCommitted once the caller's initial backfill (scan existing
// documents, encode keys, insert) completes — callers call MarkIndexBuilt
// for that transition.
func (c *Catalog) CreateIndex(collection string, idx *btreeindex.Index) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ce, ok := c.collections[collection]
	if !ok {
		return dberr.New(dberr.KindNamespaceNotFound, "collection does not exist").WithDetail("collection", collection)
	}
	if _, exists := ce.indexes[idx.Name]; exists {
		return dberr.New(dberr.KindNamespaceExists, "index already exists").WithDetail("index", idx.Name)
	}
	ce.indexes[idx.Name] = &IndexEntry{Index: idx, Phase: BuildInProgress}
	c.bump(collection)
	return nil
}

// MarkIndexBuilt transitions an index from BuildInProgress to
// BuildCommitted, making it visible to the planner's catalog view.
func (c *Catalog) MarkIndexBuilt(collection, indexName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ce, ok := c.collections[collection]
	if !ok {
		return dberr.New(dberr.KindNamespaceNotFound, "collection does not exist").WithDetail("collection", collection)
	}
	entry, ok := ce.indexes[indexName]
	if !ok {
		return dberr.New(dberr.KindIndexNotFound, "index does not exist").WithDetail("index", indexName)
	}
	entry.Phase = BuildCommitted
	c.bump(collection)
	return nil
}

// DropIndex removes indexName from collection, dropping its underlying
// btreeindex.Index so any outstanding cursor's RestoreState fails with
// CursorInvalidated.
func (c *Catalog) DropIndex(collection, indexName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ce, ok := c.collections[collection]
	if !ok {
		return dberr.New(dberr.KindNamespaceNotFound, "collection does not exist").WithDetail("collection", collection)
	}
	entry, ok := ce.indexes[indexName]
	if !ok {
		return dberr.New(dberr.KindIndexNotFound, "index does not exist").WithDetail("index", indexName)
	}
	entry.Index.Drop()
	delete(ce.indexes, indexName)
	c.bump(collection)
	return nil
}

// IndexesForMaintenance returns every index registered for collection,
// including ones still BuildInProgress — the write path maintains all of
// them so a concurrent backfill never misses a write.
func (c *Catalog) IndexesForMaintenance(collection string) []*IndexEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ce, ok := c.collections[collection]
	if !ok {
		return nil
	}
	out := make([]*IndexEntry, 0, len(ce.indexes))
	for _, e := range ce.indexes {
		out = append(out, e)
	}
	return out
}

// Version returns the catalog's current monotonic version.
func (c *Catalog) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

func (c *Catalog) bump(collection string) {
	c.version++
	if c.OnInvalidate != nil {
		c.OnInvalidate(collection)
	}
}
