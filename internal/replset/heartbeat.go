package replset

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/docbase/internal/cluster"
)

// HeartbeatRequest is what every heartbeat carries: the sender's state,
// last-applied optime, config version, election term, and cluster time.
type HeartbeatRequest struct {
	FromID        string      `json:"fromId"`
	State         MemberState `json:"state"`
	Optime        OpTime      `json:"optime"`
	ConfigVersion uint64      `json:"configVersion"`
	ClusterTime   ClusterTime `json:"clusterTime"`
	Term          uint64      `json:"term"`
}

// HeartbeatReply is the responder's view of itself, echoed back so the
// sender can update its membership table from one round trip.
type HeartbeatReply struct {
	FromID        string      `json:"fromId"`
	State         MemberState `json:"state"`
	Optime        OpTime      `json:"optime"`
	ConfigVersion uint64      `json:"configVersion"`
	ClusterTime   ClusterTime `json:"clusterTime"`
	Term          uint64      `json:"term"`
}

// sendHeartbeat posts a HeartbeatRequest to addr's heartbeat endpoint via
// cluster.PostJSON.
func sendHeartbeat(ctx context.Context, addr string, req HeartbeatRequest) (HeartbeatReply, error) {
	var reply HeartbeatReply
	err := cluster.PostJSON(ctx, rpcURL(addr, "/replset/heartbeat"), req, &reply)
	return reply, err
}

// heartbeatAll sends a HeartbeatRequest to every member but self, updating
// each Member's LastHeartbeat/State/LastOptime/ConfigVersion from the
// reply and advancing the local cluster time from any peer's newer one.
// Unreachable peers are left with a stale LastHeartbeat — reachable()
// handles the timeout math; heartbeatAll never deletes a member itself.
func (r *ReplSet) heartbeatAll(ctx context.Context) {
	req := r.heartbeatRequest()

	r.mu.RLock()
	peers := make([]*Member, 0, len(r.members))
	for id, m := range r.members {
		if id != r.selfID {
			peers = append(peers, m)
		}
	}
	r.mu.RUnlock()

	for _, peer := range peers {
		reqCtx, cancel := context.WithTimeout(ctx, r.cfg.HeartbeatTimeout)
		reply, err := sendHeartbeat(reqCtx, peer.Addr, req)
		cancel()
		if err != nil {
			if r.log != nil {
				r.log.Debug("heartbeat failed", zap.String("peer", peer.ID), zap.Error(err))
			}
			continue
		}
		r.recordHeartbeatReply(reply)
	}
}

func (r *ReplSet) heartbeatRequest() HeartbeatRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	self := r.members[r.selfID]
	return HeartbeatRequest{
		FromID:        r.selfID,
		State:         self.State,
		Optime:        self.LastOptime,
		ConfigVersion: self.ConfigVersion,
		ClusterTime:   r.clusterTime,
		Term:          r.currentTerm,
	}
}

func (r *ReplSet) recordHeartbeatReply(reply HeartbeatReply) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[reply.FromID]
	if !ok {
		return
	}
	m.LastHeartbeat = time.Now()
	m.State = reply.State
	m.LastOptime = reply.Optime
	m.ConfigVersion = reply.ConfigVersion
	m.Term = reply.Term
	r.advanceClusterTimeLocked(reply.ClusterTime)
	if reply.Term > r.currentTerm {
		r.currentTerm = reply.Term
		r.steppingDownLocked()
	}
}

// HandleHeartbeat is the receiving side: record the sender's reported
// state and reply with this member's own. cmd/dbnode wires this to the
// /replset/heartbeat HTTP handler.
func (r *ReplSet) HandleHeartbeat(req HeartbeatRequest) HeartbeatReply {
	r.mu.Lock()
	if m, ok := r.members[req.FromID]; ok {
		m.LastHeartbeat = time.Now()
		m.State = req.State
		m.LastOptime = req.Optime
		m.ConfigVersion = req.ConfigVersion
		m.Term = req.Term
	}
	r.advanceClusterTimeLocked(req.ClusterTime)
	if req.Term > r.currentTerm {
		r.currentTerm = req.Term
		r.steppingDownLocked()
	}
	self := r.members[r.selfID]
	reply := HeartbeatReply{
		FromID:        r.selfID,
		State:         self.State,
		Optime:        self.LastOptime,
		ConfigVersion: self.ConfigVersion,
		ClusterTime:   r.clusterTime,
		Term:          r.currentTerm,
	}
	r.mu.Unlock()
	return reply
}

// advanceClusterTimeLocked implements "any received cluster time > local
// advances local". Caller holds r.mu.
func (r *ReplSet) advanceClusterTimeLocked(ct ClusterTime) {
	if ct.After(r.clusterTime) {
		r.clusterTime = ct
	}
}

// steppingDownLocked demotes a Primary that just observed a higher term —
// split-brain detection's other half, paired with the check in
// prepareElection. Caller holds r.mu.
func (r *ReplSet) steppingDownLocked() {
	self := r.members[r.selfID]
	if self.State == StatePrimary {
		self.State = StateSecondary
		if r.onStateChange != nil {
			go r.onStateChange(StateSecondary)
		}
	}
}
