// Package opctx implements the per-operation context every suspendable
// engine call threads through: a bag wrapping context.Context with a
// yield policy and a work-unit budget, so a long-running scan knows when it
// is allowed to give up its locks and let another operation run.
package opctx

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dreamware/docbase/internal/config"
	"github.com/dreamware/docbase/internal/dberr"
)

// YieldPolicy controls when an operation may voluntarily suspend.
type YieldPolicy uint8

const (
	// YieldAuto yields at storage-engine-chosen suspension points whenever
	// the work budget is exhausted — the default for read and write paths.
	YieldAuto YieldPolicy = iota
	// YieldWriteConflictRetryOnly never yields except to retry after a
	// WriteConflict; used by short, latency-sensitive writes.
	YieldWriteConflictRetryOnly
	// NoYield never suspends voluntarily; used by internal bookkeeping
	// operations that must run to completion once started.
	NoYield
	// InterruptOnly never yields for work-budget reasons but still honors
	// cancellation.
	InterruptOnly
)

// OperationContext is the per-call bag threaded through every suspendable
// operation: the underlying context.Context for cancellation/deadline, the
// yield policy, and a work counter that suspension points consult to decide
// whether enough work has happened since the last yield to justify another.
type OperationContext struct {
	ctx    context.Context
	policy YieldPolicy
	budget uint64

	workDone uint64
	killed   int32
}

// New builds an OperationContext from ctx and cfg's default work budget.
func New(ctx context.Context, policy YieldPolicy, cfg config.Options) *OperationContext {
	return &OperationContext{ctx: ctx, policy: policy, budget: cfg.YieldWorkBudget}
}

// Context returns the underlying context.Context, for call sites that need
// to pass cancellation/deadline to something outside this package (an RPC,
// a timer).
func (oc *OperationContext) Context() context.Context { return oc.ctx }

// Deadline delegates to the underlying context.
func (oc *OperationContext) Deadline() (time.Time, bool) { return oc.ctx.Deadline() }

// CheckForInterrupt returns Interrupted if the context was canceled or
// ExceededTimeLimit if its deadline passed, or nil otherwise. It also
// returns QueryPlanKilled if Kill was called on this OperationContext
// directly (distinct from context cancellation: a plan can be killed by an
// administrative command without tearing down the whole request context).
func (oc *OperationContext) CheckForInterrupt() error {
	if atomic.LoadInt32(&oc.killed) != 0 {
		return dberr.New(dberr.KindQueryPlanKilled, "operation killed")
	}
	if err := oc.ctx.Err(); err != nil {
		if oc.ctx.Err() == context.DeadlineExceeded {
			return dberr.Wrap(err, dberr.KindExceededTimeLimit, "operation exceeded its time limit")
		}
		return dberr.Wrap(err, dberr.KindInterrupted, "operation interrupted")
	}
	return nil
}

// Kill marks the operation as administratively killed; the next
// CheckForInterrupt call observes it.
func (oc *OperationContext) Kill() { atomic.StoreInt32(&oc.killed, 1) }

// NoteWork records n units of storage work performed (a B-tree descent, a
// document fetch) and reports whether the accumulated work since the last
// ResetWork call has crossed the configured budget. YieldPolicy gates
// whether the caller should act on a true result: NoYield and
// InterruptOnly callers should ignore it.
func (oc *OperationContext) NoteWork(n uint64) bool {
	total := atomic.AddUint64(&oc.workDone, n)
	return total >= oc.budget
}

// ResetWork zeroes the work counter, called after a voluntary yield.
func (oc *OperationContext) ResetWork() { atomic.StoreUint64(&oc.workDone, 0) }

// Policy returns the configured YieldPolicy.
func (oc *OperationContext) Policy() YieldPolicy { return oc.policy }

// ShouldYieldForWork reports whether the operation should suspend right now,
// combining the configured policy with the work counter: only YieldAuto
// voluntarily yields for work-budget reasons.
func (oc *OperationContext) ShouldYieldForWork() bool {
	if oc.policy != YieldAuto {
		return false
	}
	return atomic.LoadUint64(&oc.workDone) >= oc.budget
}
