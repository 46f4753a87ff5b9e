package replset

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/docbase/internal/config"
)

// ReplSet drives one member's replica-set state machine: heartbeats to
// every peer, election attempts while Secondary, commit-point advancement
// while Primary, and cluster-time gossip, all driven from the one ticker
// loop in Start.
type ReplSet struct {
	mu      sync.RWMutex
	selfID  string
	members map[string]*Member

	currentTerm          uint64
	votedFor             string
	commitPoint          OpTime
	clusterTime          ClusterTime
	electionBackoffUntil time.Time

	keyManager    *KeyManager
	cfg           config.Options
	log           *zap.Logger
	onStateChange func(MemberState)

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a ReplSet for selfID, seeded with the given member list (which
// must include an entry for selfID). Every member starts Startup2 except
// self, which starts Secondary — a freshly started member must hear from
// the set before it can be trusted to reflect anyone's real state.
func New(selfID string, initial []*Member, keyManager *KeyManager, cfg config.Options, log *zap.Logger) *ReplSet {
	members := make(map[string]*Member, len(initial))
	for _, m := range initial {
		cp := *m
		if cp.ID == selfID {
			cp.State = StateSecondary
		} else if cp.State == "" {
			cp.State = StateStartup2
		}
		members[cp.ID] = &cp
	}
	return &ReplSet{
		selfID:     selfID,
		members:    members,
		keyManager: keyManager,
		cfg:        cfg,
		log:        log,
	}
}

// OnStateChange registers a callback invoked (off the calling goroutine)
// whenever self's MemberState changes.
func (r *ReplSet) OnStateChange(fn func(MemberState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStateChange = fn
}

// Self returns a copy of this member's own current state.
func (r *ReplSet) Self() Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *r.members[r.selfID]
}

// AdvanceOptime records that self has locally applied through optime,
// advancing self.LastOptime if it is newer. cmd/dbnode calls this after
// every writepath.WritePath commit (or, on a secondary, after applying an
// oplog entry shipped from the primary).
func (r *ReplSet) AdvanceOptime(optime OpTime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	self := r.members[r.selfID]
	if self.LastOptime.Less(optime) {
		self.LastOptime = optime
	}
	if self.State == StatePrimary {
		r.recomputeCommitPointLocked()
	}
}

// recomputeCommitPointLocked implements "the primary
// computes the highest optime at which a majority of voting members have
// durably applied, and advances it monotonically": the majority-th largest
// LastOptime among voting members (ties broken toward the smaller of the
// tied optimes, so "majority have applied at least this" always holds).
func (r *ReplSet) recomputeCommitPointLocked() {
	var optimes []OpTime
	for _, m := range r.members {
		if m.Voting {
			optimes = append(optimes, m.LastOptime)
		}
	}
	if len(optimes) == 0 {
		return
	}
	sort.Slice(optimes, func(i, j int) bool { return optimes[j].Less(optimes[i]) }) // descending
	majorityIdx := len(optimes)/2 + 1
	if majorityIdx > len(optimes) {
		majorityIdx = len(optimes)
	}
	candidate := optimes[majorityIdx-1]
	if r.commitPoint.Less(candidate) {
		r.commitPoint = candidate
	}
}

// CommitPoint returns the current majority commit point.
func (r *ReplSet) CommitPoint() OpTime {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commitPoint
}

// AwaitMajority blocks until self's commit point reaches at least optime,
// implementing "Majority-read requests block until the
// requested optime ≤ commit point." Returns ctx.Err() if ctx is done
// first.
func (r *ReplSet) AwaitMajority(ctx context.Context, optime OpTime) error {
	const pollInterval = 10 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		cp := r.CommitPoint()
		if !cp.Less(optime) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ClusterTime returns the current gossiped cluster time. The value is not
// signed here; KeyManager.Sign produces a signature for it.
func (r *ReplSet) ClusterTime() ClusterTime {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clusterTime
}

// Start runs the heartbeat/election loop until ctx is done, blocking the
// calling goroutine — callers run it with `go replSet.Start(ctx)`.
func (r *ReplSet) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	defer r.wg.Done()

	if r.keyManager != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.keyManager.Start(ctx)
		}()
	}

	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	r.heartbeatAll(ctx)
	r.maybeElect(ctx)

	for {
		select {
		case <-ticker.C:
			r.heartbeatAll(ctx)
			r.maybeElect(ctx)
			r.mu.Lock()
			if r.members[r.selfID].State == StatePrimary {
				r.recomputeCommitPointLocked()
			}
			r.mu.Unlock()
		case <-ctx.Done():
			if r.log != nil {
				r.log.Info("replset loop stopping", zap.Error(ctx.Err()))
			}
			return
		}
	}
}

// Stop cancels the heartbeat/election loop and waits for it to exit.
func (r *ReplSet) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// EnterRollback transitions self into StateRollback, the state entered
// while undoing locally-applied ops past the common point with a newly
// elected primary's log. ExitRollback returns to Secondary
// once the undo completes.
func (r *ReplSet) EnterRollback() {
	r.setSelfState(StateRollback)
}

// ExitRollback transitions self back to Secondary after a rollback
// finishes.
func (r *ReplSet) ExitRollback() {
	r.setSelfState(StateSecondary)
}

func (r *ReplSet) setSelfState(state MemberState) {
	r.mu.Lock()
	r.members[r.selfID].State = state
	cb := r.onStateChange
	r.mu.Unlock()
	if cb != nil {
		go cb(state)
	}
}

// Stepdown voluntarily demotes a Primary to Secondary ("manual
// stepdown") and starts the post-loss backoff so it doesn't immediately
// re-contest the vacated primacy.
func (r *ReplSet) Stepdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	self := r.members[r.selfID]
	if self.State != StatePrimary {
		return
	}
	self.State = StateSecondary
	r.electionBackoffUntil = time.Now().Add(randomBackoff(r.cfg.ElectionBackoffMin, r.cfg.ElectionBackoffMax))
	if r.onStateChange != nil {
		go r.onStateChange(StateSecondary)
	}
}
