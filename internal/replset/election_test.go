package replset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/docbase/internal/config"
)

func newTestReplSet(t *testing.T, selfID string, members ...*Member) *ReplSet {
	t.Helper()
	cfg := config.DefaultOptions()
	cfg.HeartbeatTimeout = 50 * time.Millisecond
	return New(selfID, members, nil, cfg, nil)
}

func TestHandleVoteRequestGrantsOncePerTerm(t *testing.T) {
	r := newTestReplSet(t, "b",
		&Member{ID: "a", Addr: "a:1", Voting: true},
		&Member{ID: "b", Addr: "b:1", Voting: true},
	)

	reply := r.HandleVoteRequest(VoteRequest{Term: 1, CandidateID: "a", Optime: OpTime{Term: 1, Index: 5}})
	assert.True(t, reply.Granted)

	// A second candidate in the same term must be refused.
	reply2 := r.HandleVoteRequest(VoteRequest{Term: 1, CandidateID: "c", Optime: OpTime{Term: 1, Index: 9}})
	assert.False(t, reply2.Granted)

	// The same candidate asking again in the same term is still granted
	// (idempotent, not a second distinct vote).
	reply3 := r.HandleVoteRequest(VoteRequest{Term: 1, CandidateID: "a", Optime: OpTime{Term: 1, Index: 5}})
	assert.True(t, reply3.Granted)
}

func TestHandleVoteRequestRefusesStaleCandidate(t *testing.T) {
	r := newTestReplSet(t, "b",
		&Member{ID: "a", Addr: "a:1", Voting: true},
		&Member{ID: "b", Addr: "b:1", Voting: true, LastOptime: OpTime{Term: 2, Index: 10}},
	)

	reply := r.HandleVoteRequest(VoteRequest{Term: 1, CandidateID: "a", Optime: OpTime{Term: 1, Index: 1}})
	assert.False(t, reply.Granted, "a candidate whose optime trails self's must not get a vote")
}

func TestHandleVoteRequestAdvancesTermAndStepsDownPrimary(t *testing.T) {
	r := newTestReplSet(t, "b",
		&Member{ID: "a", Addr: "a:1", Voting: true},
		&Member{ID: "b", Addr: "b:1", Voting: true},
	)
	r.mu.Lock()
	r.members["b"].State = StatePrimary
	r.currentTerm = 1
	r.mu.Unlock()

	reply := r.HandleVoteRequest(VoteRequest{Term: 5, CandidateID: "a", Optime: OpTime{}})
	assert.True(t, reply.Granted)
	assert.Equal(t, uint64(5), reply.Term)
	assert.Equal(t, StateSecondary, r.Self().State, "a higher term must step down an incumbent primary")
}

func TestPrepareElectionRequiresSecondaryState(t *testing.T) {
	r := newTestReplSet(t, "a",
		&Member{ID: "a", Addr: "a:1", Voting: true},
		&Member{ID: "b", Addr: "b:1", Voting: true, LastHeartbeat: time.Now()},
	)
	r.mu.Lock()
	r.members["a"].State = StatePrimary
	r.mu.Unlock()

	_, _, ok := r.prepareElection()
	assert.False(t, ok, "a member already Primary must not start a new election")
}

func TestPrepareElectionRequiresReachableMajority(t *testing.T) {
	r := newTestReplSet(t, "a",
		&Member{ID: "a", Addr: "a:1", Voting: true},
		&Member{ID: "b", Addr: "b:1", Voting: true}, // never heard from
		&Member{ID: "c", Addr: "c:1", Voting: true},
	)

	_, _, ok := r.prepareElection()
	assert.False(t, ok, "with no reachable peers out of 3 voters, self alone isn't a majority")
}

func TestPrepareElectionSucceedsWithFreshestOptimeAndPriority(t *testing.T) {
	r := newTestReplSet(t, "a",
		&Member{ID: "a", Addr: "a:1", Voting: true, Priority: 1, LastOptime: OpTime{Term: 2, Index: 5}},
		&Member{ID: "b", Addr: "b:1", Voting: true, Priority: 1, LastOptime: OpTime{Term: 2, Index: 3}, LastHeartbeat: time.Now()},
	)

	req, peers, ok := r.prepareElection()
	require.True(t, ok)
	assert.Len(t, peers, 1)
	assert.Equal(t, "a", req.CandidateID)
	assert.Equal(t, uint64(1), req.Term, "term must bump from 0 to 1 on a new bid")
}

func TestPrepareElectionFailsWhenPeerHasFresherOptime(t *testing.T) {
	r := newTestReplSet(t, "a",
		&Member{ID: "a", Addr: "a:1", Voting: true, Priority: 1, LastOptime: OpTime{Term: 1, Index: 1}},
		&Member{ID: "b", Addr: "b:1", Voting: true, Priority: 1, LastOptime: OpTime{Term: 2, Index: 1}, LastHeartbeat: time.Now()},
	)

	_, _, ok := r.prepareElection()
	assert.False(t, ok, "self must not bid for election when a reachable peer's optime is fresher")
}

func TestPrepareElectionAbortsOnPeerPrimaryWithNewerOrEqualTerm(t *testing.T) {
	r := newTestReplSet(t, "a",
		&Member{ID: "a", Addr: "a:1", Voting: true, Priority: 1, LastOptime: OpTime{Term: 2, Index: 5}},
		&Member{ID: "b", Addr: "b:1", Voting: true, Priority: 1, State: StatePrimary, Term: 3, LastOptime: OpTime{Term: 2, Index: 5}, LastHeartbeat: time.Now()},
	)
	r.mu.Lock()
	r.currentTerm = 3
	r.mu.Unlock()

	_, _, ok := r.prepareElection()
	assert.False(t, ok, "a reachable peer already Primary at an equal-or-newer term must abort the bid")
}

func TestPrepareElectionProceedsWhenPeerPrimaryHasOlderTerm(t *testing.T) {
	r := newTestReplSet(t, "a",
		&Member{ID: "a", Addr: "a:1", Voting: true, Priority: 1, LastOptime: OpTime{Term: 2, Index: 5}},
		&Member{ID: "b", Addr: "b:1", Voting: true, Priority: 1, State: StatePrimary, Term: 1, LastOptime: OpTime{Term: 2, Index: 5}, LastHeartbeat: time.Now()},
	)
	r.mu.Lock()
	r.currentTerm = 3
	r.mu.Unlock()

	_, _, ok := r.prepareElection()
	assert.True(t, ok, "a peer stuck claiming Primary at a stale term must not block a new bid")
}
