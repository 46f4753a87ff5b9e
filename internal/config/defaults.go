package config

import (
	"time"

	"github.com/c2h5oh/datasize"
)

const (
	// DefaultSortMemoryBudget is the Sort stage's default in-memory buffer
	// before it spills sorted runs to disk.
	DefaultSortMemoryBudget = 100 * datasize.MB

	// DefaultPlanCacheMemoryBudget bounds the cached plan-shape corpus.
	DefaultPlanCacheMemoryBudget = 16 * datasize.MB

	// DefaultPlanCacheEvictAfterMisses is the miss count that evicts a
	// plan-cache entry whose chosen plan stopped being productive.
	DefaultPlanCacheEvictAfterMisses = 5

	// DefaultWriteConflictRetryLimit bounds the write path's retry loop.
	DefaultWriteConflictRetryLimit = 10

	// DefaultStaleConfigRetryLimit is StaleConfigRetryLimit's default (no
	// component reads it).
	DefaultStaleConfigRetryLimit = 3

	// DefaultHeartbeatInterval matches "every ~2s".
	DefaultHeartbeatInterval = 2 * time.Second

	// DefaultHeartbeatTimeout bounds how long a heartbeat RPC may take.
	DefaultHeartbeatTimeout = 10 * time.Second

	// DefaultElectionBackoffMin/Max bound the randomized post-loss retry.
	DefaultElectionBackoffMin = 300 * time.Millisecond
	DefaultElectionBackoffMax = 2 * time.Second

	// DefaultSigningKeyRotationInterval rotates cluster-time signing keys.
	DefaultSigningKeyRotationInterval = 30 * time.Minute

	// DefaultYieldWorkBudget bounds work units between yield checks.
	DefaultYieldWorkBudget = 1000

	// DefaultMaxConsecutiveSkippedKeys equals the B-tree cursor's fixed
	// skipUnusedKeys warn threshold (it warns after more than 10).
	DefaultMaxConsecutiveSkippedKeys = 10
)

// DefaultOptions returns the engine's baseline tunables.
func DefaultOptions() Options {
	return Options{
		SortMemoryBudget:          DefaultSortMemoryBudget,
		PlanCacheMemoryBudget:     DefaultPlanCacheMemoryBudget,
		PlanCacheEvictAfterMisses: DefaultPlanCacheEvictAfterMisses,
		WriteConflictRetryLimit:   DefaultWriteConflictRetryLimit,
		StaleConfigRetryLimit:     DefaultStaleConfigRetryLimit,
		HeartbeatInterval:         DefaultHeartbeatInterval,
		HeartbeatTimeout:          DefaultHeartbeatTimeout,
		ElectionBackoffMin:        DefaultElectionBackoffMin,
		ElectionBackoffMax:        DefaultElectionBackoffMax,
		SigningKeyRotationInterval: DefaultSigningKeyRotationInterval,
		YieldWorkBudget:           DefaultYieldWorkBudget,
		MaxConsecutiveSkippedKeys: DefaultMaxConsecutiveSkippedKeys,
	}
}
