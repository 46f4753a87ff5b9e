package storageengine

import (
	"sync/atomic"

	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/dberr"
)

type opKind uint8

const (
	opInsert opKind = iota
	opUpdate
	opDelete
)

type pendingOp struct {
	kind            opKind
	collection      string
	id              RecordId
	doc             *bsonkit.Document
	expectedVersion uint64 // captured at queue time for update/delete conflict detection
}

// memoryUnitOfWork buffers mutations against a MemoryEngine and applies them
// atomically on Commit, using an optimistic per-record version check to
// detect the WriteConflict case: two units of work racing to touch the
// same record, the second to commit loses.
type memoryUnitOfWork struct {
	engine *MemoryEngine
	ops    []pendingOp
	done   bool
}

func (u *memoryUnitOfWork) Insert(collection string, doc *bsonkit.Document) (RecordId, error) {
	if !u.engine.HasCollection(collection) {
		return 0, dberr.New(dberr.KindNamespaceNotFound, "collection does not exist").WithDetail("collection", collection)
	}
	id := RecordId(atomic.AddUint64(&u.engine.nextID, 1) - 1)
	u.ops = append(u.ops, pendingOp{kind: opInsert, collection: collection, id: id, doc: doc})
	return id, nil
}

func (u *memoryUnitOfWork) Update(collection string, id RecordId, doc *bsonkit.Document) error {
	version, err := u.engine.currentVersion(collection, id)
	if err != nil {
		return err
	}
	u.ops = append(u.ops, pendingOp{kind: opUpdate, collection: collection, id: id, doc: doc, expectedVersion: version})
	return nil
}

func (u *memoryUnitOfWork) Delete(collection string, id RecordId) error {
	version, err := u.engine.currentVersion(collection, id)
	if err != nil {
		return err
	}
	u.ops = append(u.ops, pendingOp{kind: opDelete, collection: collection, id: id, expectedVersion: version})
	return nil
}

func (u *memoryUnitOfWork) Commit() error {
	if u.done {
		return nil
	}
	u.done = true
	return u.engine.apply(u.ops)
}

func (u *memoryUnitOfWork) Rollback() error {
	u.done = true
	u.ops = nil
	return nil
}
