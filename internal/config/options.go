// Package config defines the typed tunables bag every engine subsystem
// receives at construction, following the pattern of ignite's pkg/options:
// one Options struct with functional-option setters and a defaults
// constructor, kept deliberately separate from whatever parses
// --replSet/--shardsvr/--port/--dbpath off the command line, which this
// package treats as external to the core.
package config

import (
	"time"

	"github.com/c2h5oh/datasize"
)

// Options carries every tunable the core components need: memory budgets,
// retry limits, and replication timing. Components receive it as an
// immutable value, treating configuration as process-wide with an
// explicit init -> serve -> teardown lifecycle.
type Options struct {
	// SortMemoryBudget bounds the Sort stage's in-memory buffer (pinned
	// to a configuration parameter rather than a constant) before it
	// spills runs to disk.
	SortMemoryBudget datasize.ByteSize

	// PlanCacheMemoryBudget bounds the total size of cached plan shapes
	// before LRU eviction.
	PlanCacheMemoryBudget datasize.ByteSize

	// PlanCacheEvictAfterMisses is the number of cache misses against one
	// entry's shape before that entry is evicted.
	PlanCacheEvictAfterMisses int

	// WriteConflictRetryLimit bounds the number of times the write path
	// reopens a unit of work after a WriteConflict.
	WriteConflictRetryLimit uint64

	// StaleConfigRetryLimit is a bound on StaleConfig/StaleDbVersion
	// refresh-and-retry cycles. No component reads it, and no code path
	// retries after a StaleConfig or StaleDbVersion error.
	StaleConfigRetryLimit uint64

	// HeartbeatInterval is how often a replica-set member pings every
	// other member.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout bounds how long a member waits for a heartbeat
	// reply before considering the peer unreachable.
	HeartbeatTimeout time.Duration

	// ElectionBackoffMin/Max bound the randomized retry interval a
	// member waits after losing an election before trying again.
	ElectionBackoffMin time.Duration
	ElectionBackoffMax time.Duration

	// SigningKeyRotationInterval is how often the cluster-time key
	// manager rotates its signing key.
	SigningKeyRotationInterval time.Duration

	// YieldWorkBudget bounds the number of storage "work units" an
	// operation performs between suspension-point checks.
	YieldWorkBudget uint64

	// MaxConsecutiveSkippedKeys records the threshold above which the
	// B-tree cursor warns about a long run of tombstoned entries. The
	// cursor does not read this field: its threshold is fixed at 10.
	MaxConsecutiveSkippedKeys int
}

// Option mutates an Options value under construction.
type Option func(*Options)

// New builds an Options value from DefaultOptions with the given overrides
// applied in order.
func New(opts ...Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithSortMemoryBudget overrides the Sort stage spill threshold.
func WithSortMemoryBudget(budget datasize.ByteSize) Option {
	return func(o *Options) {
		if budget > 0 {
			o.SortMemoryBudget = budget
		}
	}
}

// WithPlanCacheMemoryBudget overrides the plan cache's size bound.
func WithPlanCacheMemoryBudget(budget datasize.ByteSize) Option {
	return func(o *Options) {
		if budget > 0 {
			o.PlanCacheMemoryBudget = budget
		}
	}
}

// WithWriteConflictRetryLimit overrides the write path's retry limit.
func WithWriteConflictRetryLimit(limit uint64) Option {
	return func(o *Options) {
		if limit > 0 {
			o.WriteConflictRetryLimit = limit
		}
	}
}

// WithHeartbeatInterval overrides the replica-set heartbeat period.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.HeartbeatInterval = d
		}
	}
}
