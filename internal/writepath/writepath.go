package writepath

import (
	"context"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/config"
	"github.com/dreamware/docbase/internal/dberr"
	"github.com/dreamware/docbase/internal/storageengine"
)

// WritePath drives the five-step unit-of-work sequence (validate, acquire
// a unit of work, apply the write, maintain every affected index, commit)
// against one storageengine.Engine, maintaining every index the catalog
// knows about and emitting one OplogEntry per committed write.
type WritePath struct {
	engine  storageengine.Engine
	catalog *Catalog
	oplog   OplogSink
	cfg     config.Options
	log     *zap.Logger
}

// New builds a WritePath over engine/catalog, shipping committed writes to
// oplog.
func New(engine storageengine.Engine, catalog *Catalog, oplog OplogSink, cfg config.Options, log *zap.Logger) *WritePath {
	return &WritePath{engine: engine, catalog: catalog, oplog: oplog, cfg: cfg, log: log}
}

// Insert runs the unit-of-work sequence for a new document: apply the
// mutation, compute post-image keys for every index, insert them, emit the
// oplog entry, commit. Retried on WriteConflict per w.cfg.
func (w *WritePath) Insert(ctx context.Context, collection string, doc *bsonkit.Document) (storageengine.RecordId, error) {
	var id storageengine.RecordId
	err := w.retry(ctx, func() error {
		uow := w.engine.StartUnitOfWork()
		newID, err := uow.Insert(collection, doc)
		if err != nil {
			uow.Rollback()
			return backoff.Permanent(err)
		}

		if err := w.maintainIndexes(collection, nil, doc, newID); err != nil {
			uow.Rollback()
			return classifyIndexErr(err)
		}

		if err := uow.Commit(); err != nil {
			w.rollbackIndexes(collection, nil, doc, newID)
			return classifyCommitErr(err)
		}

		w.oplog.Append(OplogEntry{Kind: OpInsert, Collection: collection, RecordId: newID, PostImage: doc})
		id = newID
		return nil
	})
	return id, err
}

// Update runs the unit-of-work sequence for an in-place mutation: read the
// pre-image, apply the post-image, diff index keys, emit the oplog entry.
// If newDoc changes any field of the collection's shard-key pattern,
// Update refuses with dberr.KindBadValue instead of applying the change in
// place; no package in this repository performs the delete-and-reinsert
// such a change needs.
func (w *WritePath) Update(ctx context.Context, collection string, id storageengine.RecordId, newDoc *bsonkit.Document) error {
	return w.retry(ctx, func() error {
		preImage, ok, err := w.engine.FindRecord(collection, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return backoff.Permanent(dberr.New(dberr.KindBadValue, "record does not exist").WithDetail("id", id))
		}

		if pattern := w.catalog.ShardKeyPattern(collection); isShardKeyChange(pattern, preImage, newDoc) {
			return backoff.Permanent(dberr.New(dberr.KindBadValue,
				"update changes the shard key; route through the coordinator's delete+insert transform").
				WithDetail("collection", collection))
		}

		uow := w.engine.StartUnitOfWork()
		if err := uow.Update(collection, id, newDoc); err != nil {
			uow.Rollback()
			return classifyCommitErr(err)
		}

		if err := w.maintainIndexes(collection, preImage, newDoc, id); err != nil {
			uow.Rollback()
			return classifyIndexErr(err)
		}

		if err := uow.Commit(); err != nil {
			w.rollbackIndexes(collection, preImage, newDoc, id)
			return classifyCommitErr(err)
		}

		w.oplog.Append(OplogEntry{Kind: OpUpdate, Collection: collection, RecordId: id, PreImage: preImage, PostImage: newDoc})
		return nil
	})
}

// Delete runs the unit-of-work sequence for a removal: read the pre-image,
// delete every index entry it produced, delete the record, emit the oplog
// entry.
func (w *WritePath) Delete(ctx context.Context, collection string, id storageengine.RecordId) error {
	return w.retry(ctx, func() error {
		preImage, ok, err := w.engine.FindRecord(collection, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return nil // already gone: delete is idempotent
		}

		uow := w.engine.StartUnitOfWork()
		if err := uow.Delete(collection, id); err != nil {
			uow.Rollback()
			return classifyCommitErr(err)
		}

		w.maintainIndexes(collection, preImage, nil, id) //nolint:errcheck // deleting keys never raises DuplicateKey

		if err := uow.Commit(); err != nil {
			return classifyCommitErr(err)
		}

		w.oplog.Append(OplogEntry{Kind: OpDelete, Collection: collection, RecordId: id, PreImage: preImage})
		return nil
	})
}

// maintainIndexes implements step 3: for each index on
// collection, compute pre-image and post-image keys, delete pre−post,
// insert post−pre. pre and post may each be nil (insert has no pre-image,
// delete has no post-image).
func (w *WritePath) maintainIndexes(collection string, pre, post *bsonkit.Document, id storageengine.RecordId) error {
	for _, entry := range w.catalog.IndexesForMaintenance(collection) {
		pattern := entry.Index.Pattern

		var preKeys, postKeys [][]byte
		if pre != nil {
			keys, _, err := bsonkit.EncodeKeys(pattern, pre)
			if err != nil {
				return err
			}
			preKeys = keys
		}
		if post != nil {
			keys, _, err := bsonkit.EncodeKeys(pattern, post)
			if err != nil {
				return err
			}
			postKeys = keys
		}

		toDelete, toInsert := diffKeys(preKeys, postKeys)
		for _, k := range toInsert {
			if err := entry.Index.Insert(k, id); err != nil {
				// A later index's DuplicateKey must not leave earlier
				// indexes (already fully updated this call) or this
				// index's own partial insert set behind — unwind every
				// index's effect for this record before surfacing the
				// error, mirroring rollbackIndexes' post-commit-failure
				// unwind.
				w.rollbackIndexes(collection, pre, post, id)
				return err
			}
		}
		for _, k := range toDelete {
			entry.Index.Delete(k, id)
		}
	}
	return nil
}

// rollbackIndexes undoes maintainIndexes' effect after a unit-of-work
// commit failed partway — the inverse diff, applied unconditionally since
// at this point correctness only requires the index state to match "this
// write never happened."
func (w *WritePath) rollbackIndexes(collection string, pre, post *bsonkit.Document, id storageengine.RecordId) {
	for _, entry := range w.catalog.IndexesForMaintenance(collection) {
		pattern := entry.Index.Pattern
		var preKeys, postKeys [][]byte
		if pre != nil {
			preKeys, _, _ = bsonkit.EncodeKeys(pattern, pre)
		}
		if post != nil {
			postKeys, _, _ = bsonkit.EncodeKeys(pattern, post)
		}
		toDelete, toInsert := diffKeys(preKeys, postKeys)
		for _, k := range toInsert {
			entry.Index.Delete(k, id)
		}
		for _, k := range toDelete {
			entry.Index.Insert(k, id) //nolint:errcheck // restoring a key this record already held can't conflict
		}
	}
}

// diffKeys returns (pre−post, post−pre) — the key sets to delete and to
// insert, per step 3.
func diffKeys(pre, post [][]byte) (toDelete, toInsert [][]byte) {
	postSet := make(map[string]bool, len(post))
	for _, k := range post {
		postSet[string(k)] = true
	}
	preSet := make(map[string]bool, len(pre))
	for _, k := range pre {
		preSet[string(k)] = true
		if !postSet[string(k)] {
			toDelete = append(toDelete, k)
		}
	}
	for _, k := range post {
		if !preSet[string(k)] {
			toInsert = append(toInsert, k)
		}
	}
	return toDelete, toInsert
}

// isShardKeyChange reports whether newDoc's value differs from preImage's
// for any field named in pattern.
func isShardKeyChange(pattern []bsonkit.KeyPart, preImage, newDoc *bsonkit.Document) bool {
	for _, kp := range pattern {
		oldVals, _ := bsonkit.ExpandPath(preImage, kp.Path)
		newVals, _ := bsonkit.ExpandPath(newDoc, kp.Path)
		if !valueSetsEqual(oldVals, newVals) {
			return true
		}
	}
	return false
}

func valueSetsEqual(a, b []bsonkit.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bsonkit.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// retry wraps fn in cenkalti/backoff/v4's bounded exponential backoff,
// stopping after w.cfg.WriteConflictRetryLimit retries (one first attempt
// plus up to that many more): a WriteConflict is retried by re-opening the
// unit of work, with bounded exponential backoff, until the configured
// retry limit is reached. Any error fn
// wraps in backoff.Permanent is surfaced immediately without retrying.
func (w *WritePath) retry(ctx context.Context, fn func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), w.cfg.WriteConflictRetryLimit),
		ctx,
	)
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fn()
		if err != nil && w.log != nil {
			w.log.Debug("write path attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}, policy)
	return err
}

// classifyIndexErr always treats an index-maintenance failure as permanent
// — DuplicateKey is the only error this path raises, and retrying a unit
// of work never resolves a genuine unique-constraint conflict.
func classifyIndexErr(err error) error {
	return backoff.Permanent(err)
}

func classifyCommitErr(err error) error {
	if e, ok := dberr.AsError(err); ok && e.Kind == dberr.KindWriteConflict {
		return err // retryable
	}
	return backoff.Permanent(err)
}
