package shardrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/docbase/internal/replset"
	"github.com/dreamware/docbase/internal/storage"
)

// fakeParticipantServer runs a TxnParticipant behind real HTTP handlers, so
// the coordinator tests exercise the actual cluster.PostJSON wire path.
func fakeParticipantServer(t *testing.T, tp *TxnParticipant) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/shardrouter/prepareTransaction", func(w http.ResponseWriter, r *http.Request) {
		var req PrepareRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(tp.HandlePrepare(r.Context(), req))
	})
	mux.HandleFunc("/shardrouter/commitTransaction", func(w http.ResponseWriter, r *http.Request) {
		var req DecisionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(tp.HandleDecision(r.Context(), req))
	})
	mux.HandleFunc("/shardrouter/abortTransaction", func(w http.ResponseWriter, r *http.Request) {
		var req DecisionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(tp.HandleDecision(r.Context(), req))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newFakeParticipant(vote Vote) *TxnParticipant {
	return NewTxnParticipant(
		storage.NewMemoryStore(),
		func(ctx context.Context, txnID string) (replset.OpTime, error) {
			if vote == VoteAbort {
				return replset.OpTime{}, assertErr
			}
			return replset.OpTime{Term: 1, Index: 1}, nil
		},
		func(ctx context.Context, txnID string, commitTS replset.OpTime) error { return nil },
		func(ctx context.Context, txnID string) error { return nil },
	)
}

var assertErr = &prepareFailure{}

type prepareFailure struct{}

func (*prepareFailure) Error() string { return "participant declines to prepare" }

func TestCoordinatorCommitsWhenAllParticipantsVoteCommit(t *testing.T) {
	srvA := fakeParticipantServer(t, newFakeParticipant(VoteCommit))
	srvB := fakeParticipantServer(t, newFakeParticipant(VoteCommit))

	coord := NewCoordinator(storage.NewMemoryStore(), nil)
	participants := []Participant{
		{ShardID: "shard-a", Addr: srvA.URL},
		{ShardID: "shard-b", Addr: srvB.URL},
	}
	require.NoError(t, coord.Begin("txn-1", participants))
	require.NoError(t, coord.Run(context.Background(), "txn-1"))

	_, err := coord.Status("txn-1")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound, "a finished transaction's record is durably deleted")
}

func TestCoordinatorAbortsWhenAnyParticipantVotesAbort(t *testing.T) {
	srvA := fakeParticipantServer(t, newFakeParticipant(VoteCommit))
	srvB := fakeParticipantServer(t, newFakeParticipant(VoteAbort))

	coord := NewCoordinator(storage.NewMemoryStore(), nil)
	participants := []Participant{
		{ShardID: "shard-a", Addr: srvA.URL},
		{ShardID: "shard-b", Addr: srvB.URL},
	}
	require.NoError(t, coord.Begin("txn-2", participants))
	require.NoError(t, coord.Run(context.Background(), "txn-2"))

	_, err := coord.Status("txn-2")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestCoordinatorKeepsAbortingRecordAfterPartialAck(t *testing.T) {
	tpA := newFakeParticipant(VoteCommit)
	srvA := fakeParticipantServer(t, tpA)

	store := storage.NewMemoryStore()
	coord := NewCoordinator(store, nil)
	// shard-b has no server listening; its prepare/decide calls fail.
	participants := []Participant{
		{ShardID: "shard-a", Addr: srvA.URL},
		{ShardID: "shard-b", Addr: "http://127.0.0.1:1"},
	}
	require.NoError(t, coord.Begin("txn-3", participants))

	// shard-b is unreachable during prepare, so the vote is abort; shard-a
	// acks the abort but shard-b cannot, so the record stays in Aborting
	// for a later Run to resume.
	err := coord.Run(context.Background(), "txn-3")
	assert.Error(t, err, "unreachable participant during decide surfaces an error")

	state, err := coord.Status("txn-3")
	require.NoError(t, err)
	assert.Equal(t, TxnAborting, state, "not yet finished: shard-b never acked")
}

func TestCoordinatorRunOnFinishedTransactionReportsNotFound(t *testing.T) {
	srvA := fakeParticipantServer(t, newFakeParticipant(VoteCommit))
	coord := NewCoordinator(storage.NewMemoryStore(), nil)
	participants := []Participant{{ShardID: "shard-a", Addr: srvA.URL}}
	require.NoError(t, coord.Begin("txn-4", participants))
	require.NoError(t, coord.Run(context.Background(), "txn-4"))

	err := coord.Run(context.Background(), "txn-4")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound, "record was already forgotten")
}
