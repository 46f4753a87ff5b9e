package shardrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/dreamware/docbase/internal/cluster"
	"github.com/dreamware/docbase/internal/replset"
	"github.com/dreamware/docbase/internal/storage"
)

// Coordinator drives the two-phase commit protocol for one cross-shard
// transaction family, durably persisting every transaction's participant
// list and decision through a storage.Store so a crash can resume exactly
// where it left off. Prepare fans out to every participant in parallel
// under the caller's ctx, since 2PC prepare latency is bounded by the
// slowest participant either way; the decision is then sent to each
// participant in turn.
type Coordinator struct {
	store storage.Store
	log   *zap.Logger
}

// NewCoordinator builds a Coordinator backed by store for record durability.
func NewCoordinator(store storage.Store, log *zap.Logger) *Coordinator {
	return &Coordinator{store: store, log: log}
}

func recordKey(txnID string) string { return "shardrouter/txn/" + txnID }

func (c *Coordinator) load(txnID string) (*txnRecord, error) {
	data, err := c.store.Get(recordKey(txnID))
	if err != nil {
		return nil, err
	}
	var rec txnRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Coordinator) save(rec *txnRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.store.Put(recordKey(rec.TxnID), data)
}

// Begin is step 1: durably persist the participant list before any
// participant is contacted.
func (c *Coordinator) Begin(txnID string, participants []Participant) error {
	rec := &txnRecord{
		TxnID:        txnID,
		Participants: participants,
		State:        TxnPending,
		Acked:        make(map[string]bool),
	}
	return c.save(rec)
}

// Run advances txnID through however much of the protocol its persisted
// record says remains: a fresh Pending record runs prepare then decide; a
// record already in Committing/Aborting (left over from a crash before
// every participant acked) resumes decide. A finished transaction's record
// has already been deleted, so Run returns storage.ErrKeyNotFound for it.
// This single entry point serves both the first attempt and crash-restart
// resumption.
func (c *Coordinator) Run(ctx context.Context, txnID string) error {
	rec, err := c.load(txnID)
	if err != nil {
		return err
	}

	if rec.State == TxnPending {
		commit, ts := c.prepareAll(ctx, rec)
		if commit {
			rec.State, rec.CommitTimestamp = TxnCommitting, ts
		} else {
			rec.State = TxnAborting
		}
		if err := c.save(rec); err != nil {
			return err
		}
	}

	switch rec.State {
	case TxnCommitting, TxnAborting:
		return c.decide(ctx, rec)
	default:
		return nil // TxnCommitted/TxnAborted: already finished
	}
}

// prepareAll sends prepareTransaction to every participant concurrently and
// returns whether all voted commit, plus the max prepare timestamp used as
// the commit timestamp. An unreachable participant counts as an abort
// vote: any abort vote or timeout sends abortTransaction.
func (c *Coordinator) prepareAll(ctx context.Context, rec *txnRecord) (commit bool, ts replset.OpTime) {
	replies := make([]PrepareReply, len(rec.Participants))
	errs := make([]error, len(rec.Participants))

	var wg sync.WaitGroup
	for i, p := range rec.Participants {
		wg.Add(1)
		go func(i int, p Participant) {
			defer wg.Done()
			replies[i], errs[i] = sendPrepare(ctx, p.Addr, PrepareRequest{TxnID: rec.TxnID})
		}(i, p)
	}
	wg.Wait()

	commit = true
	for i, p := range rec.Participants {
		if errs[i] != nil {
			if c.log != nil {
				c.log.Warn("prepare failed, voting abort", zap.String("shard", p.ShardID), zap.Error(errs[i]))
			}
			commit = false
			continue
		}
		if replies[i].Vote == VoteAbort {
			commit = false
			continue
		}
		if ts.Less(replies[i].PrepareTimestamp) {
			ts = replies[i].PrepareTimestamp
		}
	}
	return commit, ts
}

// decide is steps 3-4: send the decision to every participant that hasn't
// yet acked, and once all have, finalize the record — committed/aborted,
// then durably deleted. Re-sending to an already-acked participant never
// happens (Acked is checked first), satisfying "idempotent: re-sending
// commit/abort to an already-acked participant is a no-op."
func (c *Coordinator) decide(ctx context.Context, rec *txnRecord) error {
	var merr error
	for _, p := range rec.Participants {
		if rec.Acked[p.ShardID] {
			continue
		}
		reply, err := sendDecision(ctx, p.Addr, DecisionRequest{
			TxnID:           rec.TxnID,
			Decision:        rec.State,
			CommitTimestamp: rec.CommitTimestamp,
		})
		if err != nil {
			merr = multierr.Append(merr, fmt.Errorf("participant %s: %w", p.ShardID, err))
			continue
		}
		if reply.Acked {
			rec.Acked[p.ShardID] = true
		}
	}

	if !rec.allAcked() {
		if err := c.save(rec); err != nil {
			merr = multierr.Append(merr, err)
		}
		return merr
	}

	if rec.State == TxnCommitting {
		rec.State = TxnCommitted
	} else {
		rec.State = TxnAborted
	}
	if err := c.store.Delete(recordKey(rec.TxnID)); err != nil {
		merr = multierr.Append(merr, err)
	}
	return merr
}

// Status reports a transaction's current persisted state, or
// storage.ErrKeyNotFound if it has already finished and been forgotten.
func (c *Coordinator) Status(txnID string) (TxnState, error) {
	rec, err := c.load(txnID)
	if err != nil {
		return "", err
	}
	return rec.State, nil
}

func sendPrepare(ctx context.Context, addr string, req PrepareRequest) (PrepareReply, error) {
	var reply PrepareReply
	err := cluster.PostJSON(ctx, addr+"/shardrouter/prepareTransaction", req, &reply)
	return reply, err
}

func sendDecision(ctx context.Context, addr string, req DecisionRequest) (AckReply, error) {
	path := "/shardrouter/commitTransaction"
	if req.Decision == TxnAborting {
		path = "/shardrouter/abortTransaction"
	}
	var reply AckReply
	err := cluster.PostJSON(ctx, addr+path, req, &reply)
	return reply, err
}
