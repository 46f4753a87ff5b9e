package shardrouter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/docbase/internal/replset"
	"github.com/dreamware/docbase/internal/storage"
)

func TestTxnParticipantPrepareIsIdempotent(t *testing.T) {
	calls := 0
	tp := NewTxnParticipant(
		storage.NewMemoryStore(),
		func(ctx context.Context, txnID string) (replset.OpTime, error) {
			calls++
			return replset.OpTime{Term: 1, Index: 5}, nil
		},
		func(ctx context.Context, txnID string, commitTS replset.OpTime) error { return nil },
		func(ctx context.Context, txnID string) error { return nil },
	)

	first := tp.HandlePrepare(context.Background(), PrepareRequest{TxnID: "txn-1"})
	second := tp.HandlePrepare(context.Background(), PrepareRequest{TxnID: "txn-1"})

	assert.Equal(t, VoteCommit, first.Vote)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls, "a retried prepare must not re-stage the write")
}

func TestTxnParticipantCommitAppliesOnceThenAcksIdempotently(t *testing.T) {
	commits := 0
	tp := NewTxnParticipant(
		storage.NewMemoryStore(),
		func(ctx context.Context, txnID string) (replset.OpTime, error) {
			return replset.OpTime{Term: 1, Index: 1}, nil
		},
		func(ctx context.Context, txnID string, commitTS replset.OpTime) error {
			commits++
			return nil
		},
		func(ctx context.Context, txnID string) error { return nil },
	)

	_ = tp.HandlePrepare(context.Background(), PrepareRequest{TxnID: "txn-2"})
	first := tp.HandleDecision(context.Background(), DecisionRequest{TxnID: "txn-2", Decision: TxnCommitting})
	second := tp.HandleDecision(context.Background(), DecisionRequest{TxnID: "txn-2", Decision: TxnCommitting})

	assert.True(t, first.Acked)
	assert.True(t, second.Acked)
	assert.Equal(t, 1, commits, "a repeated commit decision must not re-apply")
}

func TestTxnParticipantAbortOfUnpreparedTxnIsTriviallyAcked(t *testing.T) {
	tp := NewTxnParticipant(
		storage.NewMemoryStore(),
		func(ctx context.Context, txnID string) (replset.OpTime, error) { return replset.OpTime{}, nil },
		func(ctx context.Context, txnID string, commitTS replset.OpTime) error { return nil },
		func(ctx context.Context, txnID string) error { return nil },
	)

	reply := tp.HandleDecision(context.Background(), DecisionRequest{TxnID: "never-seen", Decision: TxnAborting})
	assert.True(t, reply.Acked)
}

func TestTxnParticipantPrepareFailureVotesAbort(t *testing.T) {
	tp := NewTxnParticipant(
		storage.NewMemoryStore(),
		func(ctx context.Context, txnID string) (replset.OpTime, error) {
			return replset.OpTime{}, assertErr
		},
		func(ctx context.Context, txnID string, commitTS replset.OpTime) error { return nil },
		func(ctx context.Context, txnID string) error { return nil },
	)

	reply := tp.HandlePrepare(context.Background(), PrepareRequest{TxnID: "txn-3"})
	require.Equal(t, VoteAbort, reply.Vote)
}
