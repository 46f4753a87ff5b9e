package replset

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/docbase/internal/cluster"
)

// VoteRequest is a candidate's bid for votes in a term.
type VoteRequest struct {
	Term        uint64 `json:"term"`
	CandidateID string `json:"candidateId"`
	Optime      OpTime `json:"optime"`
}

// VoteReply grants or denies a VoteRequest.
type VoteReply struct {
	Term    uint64 `json:"term"`
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
}

func requestVote(ctx context.Context, addr string, req VoteRequest) (VoteReply, error) {
	var reply VoteReply
	err := cluster.PostJSON(ctx, rpcURL(addr, "/replset/requestVote"), req, &reply)
	return reply, err
}

// HandleVoteRequest is the receiving side of an election: grant a vote iff
// this member hasn't already voted in req.Term, and the candidate's optime
// is at least as fresh as this member's own. Each member votes at most once
// per term, so a candidate wins only once a majority of voting members
// have granted it. cmd/dbnode wires this to the /replset/requestVote handler.
func (r *ReplSet) HandleVoteRequest(req VoteRequest) VoteReply {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.Term < r.currentTerm {
		return VoteReply{Term: r.currentTerm, Granted: false, Reason: "stale term"}
	}
	if req.Term > r.currentTerm {
		r.currentTerm = req.Term
		r.votedFor = ""
		r.steppingDownLocked()
	}
	if r.votedFor != "" && r.votedFor != req.CandidateID {
		return VoteReply{Term: r.currentTerm, Granted: false, Reason: "already voted"}
	}
	self := r.members[r.selfID]
	if self.LastOptime.Less(req.Optime) || self.LastOptime == req.Optime {
		r.votedFor = req.CandidateID
		return VoteReply{Term: r.currentTerm, Granted: true}
	}
	return VoteReply{Term: r.currentTerm, Granted: false, Reason: "candidate optime behind self"}
}

// maybeElect runs one election attempt if self is Secondary, holds the
// freshest optime and the highest priority among reachable majority
// members, and no other precondition blocks it.
// On loss it backs off a randomized interval before electionLoop retries.
func (r *ReplSet) maybeElect(ctx context.Context) {
	req, peers, ok := r.prepareElection()
	if !ok {
		return
	}

	votes := 1 // self-vote
	for _, peer := range peers {
		reqCtx, cancel := context.WithTimeout(ctx, r.cfg.HeartbeatTimeout)
		reply, err := requestVote(reqCtx, peer.Addr, req)
		cancel()
		if err != nil {
			continue
		}
		r.mu.Lock()
		if reply.Term > r.currentTerm {
			r.currentTerm = reply.Term
			r.votedFor = ""
			r.steppingDownLocked()
			r.mu.Unlock()
			return // a higher term exists; abandon this bid
		}
		r.mu.Unlock()
		if reply.Granted {
			votes++
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	majority := (votingCountLocked(r.members)/2 + 1)
	if votes >= majority && r.currentTerm == req.Term {
		self := r.members[r.selfID]
		self.State = StatePrimary
		if r.log != nil {
			r.log.Info("election won", zap.Uint64("term", r.currentTerm), zap.Int("votes", votes))
		}
		if r.onStateChange != nil {
			go r.onStateChange(StatePrimary)
		}
	} else {
		r.electionBackoffUntil = time.Now().Add(randomBackoff(r.cfg.ElectionBackoffMin, r.cfg.ElectionBackoffMax))
	}
}

// prepareElection checks every election precondition and, if they
// all hold, bumps the term and returns the VoteRequest to broadcast.
func (r *ReplSet) prepareElection() (VoteRequest, []*Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	self := r.members[r.selfID]
	if self.State != StateSecondary {
		return VoteRequest{}, nil, false
	}
	if time.Now().Before(r.electionBackoffUntil) {
		return VoteRequest{}, nil, false
	}

	now := time.Now()
	var reachableMajority []*Member
	for id, m := range r.members {
		if id == r.selfID || !m.Voting {
			continue
		}
		if m.reachable(now, r.cfg.HeartbeatTimeout) {
			reachableMajority = append(reachableMajority, m)
		}
		// Split-brain detection: abort if another member with equal or
		// newer term already claims Primary.
		if m.State == StatePrimary && m.Term >= r.currentTerm {
			return VoteRequest{}, nil, false
		}
	}
	if (len(reachableMajority)+1)*2 < votingCountLocked(r.members) {
		return VoteRequest{}, nil, false // can't reach a majority
	}
	if !r.hasFreshestOptimeAndPriorityLocked(self, reachableMajority) {
		return VoteRequest{}, nil, false
	}

	r.currentTerm++
	r.votedFor = r.selfID
	return VoteRequest{Term: r.currentTerm, CandidateID: r.selfID, Optime: self.LastOptime}, reachableMajority, true
}

// hasFreshestOptimeAndPriorityLocked reports whether self's optime is at
// least as fresh, and self's priority at least as high, as every reachable
// peer's, among the reachable majority members considered for election.
func (r *ReplSet) hasFreshestOptimeAndPriorityLocked(self *Member, peers []*Member) bool {
	for _, peer := range peers {
		if peer.LastOptime.Less(self.LastOptime) {
			continue
		}
		if self.LastOptime.Less(peer.LastOptime) {
			return false
		}
		if peer.Priority > self.Priority {
			return false
		}
	}
	return true
}

func votingCountLocked(members map[string]*Member) int {
	n := 0
	for _, m := range members {
		if m.Voting {
			n++
		}
	}
	return n
}

func randomBackoff(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
