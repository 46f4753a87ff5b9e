package shardrouter

import (
	"github.com/dreamware/docbase/internal/replset"
)

// TxnState is a coordinator record's position in the four-step
// prepare/commit/abort/cleanup protocol.
type TxnState string

const (
	TxnPending    TxnState = "pending"    // participant list durably persisted, no decision yet
	TxnCommitting TxnState = "committing" // all participants voted commit
	TxnAborting   TxnState = "aborting"   // some participant voted abort or timed out
	TxnCommitted  TxnState = "committed"  // every participant has acked commit
	TxnAborted    TxnState = "aborted"    // every participant has acked abort
)

// Vote is a participant's response to prepareTransaction.
type Vote uint8

const (
	VoteCommit Vote = iota
	VoteAbort
)

// Participant identifies one shard taking part in a cross-shard
// transaction.
type Participant struct {
	ShardID string `json:"shardId"`
	Addr    string `json:"addr"`
}

// PrepareRequest asks a participant to vote on txnId.
type PrepareRequest struct {
	TxnID string `json:"txnId"`
}

// PrepareReply is a participant's vote, with the timestamp at which it
// prepared (only meaningful when Vote is VoteCommit).
type PrepareReply struct {
	Vote             Vote           `json:"vote"`
	PrepareTimestamp replset.OpTime `json:"prepareTimestamp"`
}

// DecisionRequest carries the coordinator's final decision and, for a
// commit, the chosen commit timestamp (the max of every prepare timestamp,
// per step 3).
type DecisionRequest struct {
	TxnID           string         `json:"txnId"`
	Decision        TxnState       `json:"decision"`
	CommitTimestamp replset.OpTime `json:"commitTimestamp,omitempty"`
}

// AckReply is a participant's acknowledgment of a DecisionRequest.
type AckReply struct {
	TxnID string `json:"txnId"`
	Acked bool   `json:"acked"`
}

// txnRecord is the coordinator's durable state for one transaction: what
// must survive a crash so that on restart the coordinator reads its
// persisted record and resumes at the step indicated by what is on disk.
// Acked tracks which participants have confirmed the decision so a
// resumed coordinator only re-sends to stragglers.
type txnRecord struct {
	TxnID           string          `json:"txnId"`
	Participants    []Participant   `json:"participants"`
	State           TxnState        `json:"state"`
	CommitTimestamp replset.OpTime  `json:"commitTimestamp"`
	Acked           map[string]bool `json:"acked"`
}

func (r *txnRecord) allAcked() bool {
	for _, p := range r.Participants {
		if !r.Acked[p.ShardID] {
			return false
		}
	}
	return true
}
