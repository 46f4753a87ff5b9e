// Package planner implements the query planner and plan cache: given a
// compiled query plus a requested sort/projection, it enumerates candidate
// execution plans over a collection's indexes, ranks them by running each
// one in lock-step under a small trial budget, and remembers the winning
// shape in a size-tracked LRU cache keyed by predicate/sort/projection
// fingerprint so the next structurally-identical query skips straight to
// building the winner.
package planner

import (
	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/btreeindex"
)

// IndexDescriptor is everything the planner needs to know about one index to
// decide whether it covers a query and, if so, build a scan over it.
type IndexDescriptor struct {
	Name    string
	Index   *btreeindex.Index
	Unique  bool
	Pattern []bsonkit.KeyPart
}

// Catalog answers which indexes exist on a collection. internal/writepath
// owns the real catalog (index creation/drop, collection metadata); this
// interface is the narrow slice the planner depends on, the same
// storage-interface discipline internal/storageengine and internal/btreeindex
// already follow.
type Catalog interface {
	IndexesFor(collection string) []IndexDescriptor
}

// StaticCatalog is a fixed-at-construction Catalog, useful for tests and for
// any caller that resolves its index list up front rather than through a
// live catalog.
type StaticCatalog map[string][]IndexDescriptor

func (c StaticCatalog) IndexesFor(collection string) []IndexDescriptor {
	return c[collection]
}
