package shardrouter

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dreamware/docbase/internal/replset"
	"github.com/dreamware/docbase/internal/storage"
)

// ParticipantState is one shard's local view of a cross-shard transaction
// it has been asked to prepare.
type ParticipantState string

const (
	ParticipantPrepared  ParticipantState = "prepared"
	ParticipantCommitted ParticipantState = "committed"
	ParticipantAborted   ParticipantState = "aborted"
)

type participantRecord struct {
	TxnID            string           `json:"txnId"`
	State            ParticipantState `json:"state"`
	PrepareTimestamp replset.OpTime   `json:"prepareTimestamp"`
}

// TxnParticipant is the receiving side of the two-phase commit protocol on
// one shard: it answers prepareTransaction by staging the write through
// prepareFn and answers the subsequent decision by committing or aborting
// it. Its own durable record (separate from the coordinator's) is what lets
// a participant that prepared but crashed before hearing the decision pick
// back up and hold its locks until asked again: a participant that
// prepared must be able to commit or abort even across restart.
type TxnParticipant struct {
	store     storage.Store
	prepareFn func(ctx context.Context, txnID string) (replset.OpTime, error)
	commitFn  func(ctx context.Context, txnID string, commitTS replset.OpTime) error
	abortFn   func(ctx context.Context, txnID string) error
}

// NewTxnParticipant builds a TxnParticipant. prepareFn should stage the
// transaction's writes and acquire whatever locks hold them durably
// uncommitted; commitFn/abortFn apply or discard that staged state.
func NewTxnParticipant(
	store storage.Store,
	prepareFn func(ctx context.Context, txnID string) (replset.OpTime, error),
	commitFn func(ctx context.Context, txnID string, commitTS replset.OpTime) error,
	abortFn func(ctx context.Context, txnID string) error,
) *TxnParticipant {
	return &TxnParticipant{store: store, prepareFn: prepareFn, commitFn: commitFn, abortFn: abortFn}
}

func participantKey(txnID string) string { return "shardrouter/participant/" + txnID }

func (p *TxnParticipant) load(txnID string) (*participantRecord, error) {
	data, err := p.store.Get(participantKey(txnID))
	if err != nil {
		return nil, err
	}
	var rec participantRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *TxnParticipant) save(rec *participantRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return p.store.Put(participantKey(rec.TxnID), data)
}

// HandlePrepare answers a PrepareRequest. Retrying an already-prepared
// transaction replies with its original vote rather than re-running
// prepareFn, so a coordinator retry after a dropped reply can't stage the
// same write twice.
func (p *TxnParticipant) HandlePrepare(ctx context.Context, req PrepareRequest) PrepareReply {
	if rec, err := p.load(req.TxnID); err == nil {
		return PrepareReply{Vote: VoteCommit, PrepareTimestamp: rec.PrepareTimestamp}
	}

	ts, err := p.prepareFn(ctx, req.TxnID)
	if err != nil {
		return PrepareReply{Vote: VoteAbort}
	}
	rec := &participantRecord{TxnID: req.TxnID, State: ParticipantPrepared, PrepareTimestamp: ts}
	if err := p.save(rec); err != nil {
		return PrepareReply{Vote: VoteAbort}
	}
	return PrepareReply{Vote: VoteCommit, PrepareTimestamp: ts}
}

// HandleDecision answers a DecisionRequest, applying commit or abort at
// most once: a repeat of an already-applied decision just re-acks.
func (p *TxnParticipant) HandleDecision(ctx context.Context, req DecisionRequest) AckReply {
	rec, err := p.load(req.TxnID)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) && req.Decision == TxnAborting {
			// Never prepared (e.g. this shard's prepare reply was lost and
			// the coordinator aborted before retrying): an abort of an
			// unseen transaction is trivially satisfied.
			return AckReply{TxnID: req.TxnID, Acked: true}
		}
		return AckReply{TxnID: req.TxnID, Acked: false}
	}

	switch rec.State {
	case ParticipantCommitted, ParticipantAborted:
		return AckReply{TxnID: req.TxnID, Acked: true}
	}

	var applyErr error
	if req.Decision == TxnCommitting {
		applyErr = p.commitFn(ctx, req.TxnID, req.CommitTimestamp)
		rec.State = ParticipantCommitted
	} else {
		applyErr = p.abortFn(ctx, req.TxnID)
		rec.State = ParticipantAborted
	}
	if applyErr != nil {
		return AckReply{TxnID: req.TxnID, Acked: false}
	}
	if err := p.save(rec); err != nil {
		return AckReply{TxnID: req.TxnID, Acked: false}
	}
	return AckReply{TxnID: req.TxnID, Acked: true}
}
