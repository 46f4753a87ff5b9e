// Package storageengine defines the narrow storage interface every index
// and collection operation is built against, and ships the in-memory
// reference implementation used by tests and the single-node dbnode binary.
//
// The interface intentionally exposes only what the query engine actually
// needs from durable storage: ordered-by-RecordId record iteration, point
// lookups, record mutation, and unit-of-work lifecycle. internal/writepath
// drives it to store collection documents, and internal/pipeline's
// CollectionScan and Fetch stages read them back through it; index entries
// live in internal/btreeindex's own trees, not here.
package storageengine

import (
	"sync"

	"github.com/google/btree"

	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/dberr"
)

// RecordId is a stable, monotonically-assigned identifier for a stored
// document. A RecordId never changes for the lifetime of a document and
// is never reused after deletion — every index entry points at a RecordId
// rather than a physical offset, so index maintenance never has to chase
// a moved record.
type RecordId uint64

// Cursor iterates records of one collection in RecordId order. Cursors are
// not safe for concurrent use by multiple goroutines: a cursor is owned by
// the goroutine that opened it.
type Cursor interface {
	// Next advances the cursor and returns the record it lands on. ok is
	// false once the cursor is exhausted; no further calls to Next are
	// valid after that.
	Next() (id RecordId, doc *bsonkit.Document, ok bool)

	// Close releases any resources held by the cursor. Safe to call more
	// than once.
	Close()
}

// UnitOfWork brackets a set of record mutations that must become visible
// atomically: nothing written through it is visible to other
// cursors until Commit, and Rollback discards everything written through it.
type UnitOfWork interface {
	Insert(collection string, doc *bsonkit.Document) (RecordId, error)
	Update(collection string, id RecordId, doc *bsonkit.Document) error
	Delete(collection string, id RecordId) error

	// Commit makes every mutation performed through this unit of work
	// visible, or returns a WriteConflict error if a
	// concurrent unit of work committed an overlapping change first —
	// at which point the caller is expected to discard this unit of
	// work and retry from scratch (internal/writepath does this).
	Commit() error

	// Rollback discards every mutation performed through this unit of
	// work. Safe to call after Commit has already succeeded (no-op).
	Rollback() error
}

// Engine is the storage layer's full surface: collection lifecycle, record
// lookup, and unit-of-work creation. internal/writepath, internal/pipeline
// and internal/planner depend on this interface, not on MemoryEngine
// directly, so a WAL-backed or disk-backed implementation can drop in
// without touching them.
type Engine interface {
	CreateCollection(name string) error
	DropCollection(name string) error
	HasCollection(name string) bool

	// OpenCursor returns a Cursor over collection's records in ascending
	// RecordId order — the order internal/pipeline's CollectionScan stage
	// walks by default.
	OpenCursor(collection string) (Cursor, error)

	// FindRecord looks up one record by id without opening a cursor, the
	// primitive internal/pipeline's Fetch stage uses to materialize a
	// document found via an index scan.
	FindRecord(collection string, id RecordId) (*bsonkit.Document, bool, error)

	StartUnitOfWork() UnitOfWork
}

type record struct {
	id      RecordId
	doc     *bsonkit.Document
	version uint64
}

func recordLess(a, b record) bool { return a.id < b.id }

// MemoryEngine is an in-memory Engine backed by a google/btree BTreeG per
// collection, giving ascending-RecordId iteration without a separate sort
// step — the closest in-memory analogue to a real storage engine's
// clustered record store.
//
// MemoryEngine holds no WAL and loses all data on process exit; it exists
// for tests and the reference dbnode binary, the same role
// storage.MemoryStore plays for the shard router's transaction records.
type MemoryEngine struct {
	mu          sync.RWMutex
	collections map[string]*btree.BTreeG[record]
	nextID      uint64
}

// NewMemoryEngine returns an empty MemoryEngine ready for immediate use.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		collections: make(map[string]*btree.BTreeG[record]),
		nextID:      1,
	}
}

func (e *MemoryEngine) CreateCollection(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.collections[name]; exists {
		return dberr.New(dberr.KindNamespaceExists, "collection already exists").WithDetail("collection", name)
	}
	e.collections[name] = btree.NewG[record](32, recordLess)
	return nil
}

func (e *MemoryEngine) DropCollection(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.collections[name]; !exists {
		return dberr.New(dberr.KindNamespaceNotFound, "collection does not exist").WithDetail("collection", name)
	}
	delete(e.collections, name)
	return nil
}

func (e *MemoryEngine) HasCollection(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.collections[name]
	return ok
}

func (e *MemoryEngine) OpenCursor(collection string) (Cursor, error) {
	e.mu.RLock()
	tree, ok := e.collections[collection]
	if !ok {
		e.mu.RUnlock()
		return nil, dberr.New(dberr.KindNamespaceNotFound, "collection does not exist").WithDetail("collection", collection)
	}
	// Snapshot into a slice under the read lock so the cursor can iterate
	// without holding the engine lock across each Next call: List() copies
	// rather than returning a live view.
	records := make([]record, 0, tree.Len())
	tree.Ascend(func(r record) bool {
		records = append(records, r)
		return true
	})
	e.mu.RUnlock()

	return &sliceCursor{records: records}, nil
}

func (e *MemoryEngine) FindRecord(collection string, id RecordId) (*bsonkit.Document, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tree, ok := e.collections[collection]
	if !ok {
		return nil, false, dberr.New(dberr.KindNamespaceNotFound, "collection does not exist").WithDetail("collection", collection)
	}
	r, ok := tree.Get(record{id: id})
	if !ok {
		return nil, false, nil
	}
	return r.doc, true, nil
}

func (e *MemoryEngine) StartUnitOfWork() UnitOfWork {
	return &memoryUnitOfWork{engine: e}
}

type sliceCursor struct {
	records []record
	pos     int
	closed  bool
}

func (c *sliceCursor) Next() (RecordId, *bsonkit.Document, bool) {
	if c.closed || c.pos >= len(c.records) {
		return 0, nil, false
	}
	r := c.records[c.pos]
	c.pos++
	return r.id, r.doc, true
}

func (c *sliceCursor) Close() { c.closed = true }

// currentVersion returns the version a record currently carries, for a unit
// of work to pin as its expected version at Commit time.
func (e *MemoryEngine) currentVersion(collection string, id RecordId) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tree, ok := e.collections[collection]
	if !ok {
		return 0, dberr.New(dberr.KindNamespaceNotFound, "collection does not exist").WithDetail("collection", collection)
	}
	r, ok := tree.Get(record{id: id})
	if !ok {
		return 0, dberr.New(dberr.KindBadValue, "record does not exist").WithDetail("id", id)
	}
	return r.version, nil
}

// apply validates every pending op's expected version against the current
// store, then — only if all checks pass — applies every op in one pass
// under a single write lock. Any mismatch aborts the whole unit of work
// with WriteConflict and leaves the store untouched, giving the unit of
// work all-or-nothing commit semantics.
func (e *MemoryEngine) apply(ops []pendingOp) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, op := range ops {
		if op.kind == opInsert {
			continue
		}
		tree, ok := e.collections[op.collection]
		if !ok {
			return dberr.New(dberr.KindNamespaceNotFound, "collection does not exist").WithDetail("collection", op.collection)
		}
		r, ok := tree.Get(record{id: op.id})
		if !ok || r.version != op.expectedVersion {
			return dberr.New(dberr.KindWriteConflict, "record changed since read").
				WithDetail("collection", op.collection).WithDetail("id", op.id)
		}
	}

	for _, op := range ops {
		tree := e.collections[op.collection]
		switch op.kind {
		case opInsert:
			tree.ReplaceOrInsert(record{id: op.id, doc: op.doc, version: 1})
		case opUpdate:
			tree.ReplaceOrInsert(record{id: op.id, doc: op.doc, version: op.expectedVersion + 1})
		case opDelete:
			tree.Delete(record{id: op.id})
		}
	}
	return nil
}
