package main

import (
	"context"
	"sync"

	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/replset"
	"github.com/dreamware/docbase/internal/storageengine"
	"github.com/dreamware/docbase/internal/writepath"
)

// stagedOp is one write a client attached to a not-yet-decided cross-shard
// transaction. A participant only applies these against its local
// writepath.WritePath once the coordinator's decision arrives
// (internal/shardrouter's TxnParticipant.HandleDecision) — staging a write
// does not make it visible to reads on this shard.
type stagedOp struct {
	kind       string // "insert", "update", "delete"
	collection string
	id         storageengine.RecordId
	doc        *bsonkit.Document
}

// txnStage holds every shard-local participant's pending write batches,
// keyed by transaction id. It is the prepareFn/commitFn/abortFn
// collaborator internal/shardrouter.TxnParticipant drives (see
// shardrouter.doc.go: "a crash-recoverable prepare/commit/abort
// coordinator" — this is what actually applies the commit/abort on this
// shard).
type txnStage struct {
	mu  sync.Mutex
	ops map[string][]stagedOp
}

func newTxnStage() *txnStage {
	return &txnStage{ops: make(map[string][]stagedOp)}
}

func (s *txnStage) add(txnID string, op stagedOp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[txnID] = append(s.ops[txnID], op)
}

func (s *txnStage) take(txnID string) []stagedOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := s.ops[txnID]
	delete(s.ops, txnID)
	return ops
}

func (s *txnStage) has(txnID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops[txnID]) > 0
}

// prepareFn reports this shard's vote by checking it has a non-empty
// staged batch for txnID, and hands back the replica set's current commit
// point as the prepare timestamp — reusing replset's own exported clock
// rather than inventing a second one (internal/shardrouter already reuses
// replset.OpTime as its 2PC timestamp type for the same reason).
func (s *txnStage) prepareFn(rs *replset.ReplSet) func(ctx context.Context, txnID string) (replset.OpTime, error) {
	return func(ctx context.Context, txnID string) (replset.OpTime, error) {
		if !s.has(txnID) {
			return replset.OpTime{}, errNoStagedWrites
		}
		return rs.CommitPoint(), nil
	}
}

// commitFn applies every staged write for txnID against wp, in staging
// order, then discards the batch. A partial failure midway leaves earlier
// writes applied — accepted here the way the write path itself accepts a
// partially-maintained index set on a WriteConflict that exhausts its
// retry budget (internal/writepath's own commit path has the identical
// shape: best-effort sequential application, not a second nested atomic
// unit of work).
func (s *txnStage) commitFn(wp *writepath.WritePath) func(ctx context.Context, txnID string, commitTS replset.OpTime) error {
	return func(ctx context.Context, txnID string, commitTS replset.OpTime) error {
		ops := s.take(txnID)
		for _, op := range ops {
			var err error
			switch op.kind {
			case "insert":
				_, err = wp.Insert(ctx, op.collection, op.doc)
			case "update":
				err = wp.Update(ctx, op.collection, op.id, op.doc)
			case "delete":
				err = wp.Delete(ctx, op.collection, op.id)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}
}

// abortFn discards txnID's staged batch without applying any of it.
func (s *txnStage) abortFn() func(ctx context.Context, txnID string) error {
	return func(ctx context.Context, txnID string) error {
		s.take(txnID)
		return nil
	}
}

var errNoStagedWrites = &stageError{"no staged writes for this transaction on this shard"}

type stageError struct{ msg string }

func (e *stageError) Error() string { return e.msg }
