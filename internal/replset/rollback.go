package replset

import (
	"context"

	"github.com/dreamware/docbase/internal/writepath"
)

// RollbackPlan is the result of comparing this member's oplog against a
// newly elected primary's: every locally-applied entry past the point the
// two logs last agreed, newest first so undoing them in order never
// references an optime the undo itself hasn't reached yet.
type RollbackPlan struct {
	CommonPoint OpTime
	Divergent   []writepath.OplogEntry
}

// PlanRollback compares localEntries (this member's applied log, oldest
// first) against primaryEntries (the new primary's, oldest first) and
// returns the entries to undo: "If a newly elected
// primary's log diverges from this node's after a common point... undo
// each local op past the common point." Entries are compared positionally
// since both logs share the same prefix up to the common point by
// construction of the replication protocol.
func PlanRollback(localEntries, primaryEntries []writepath.OplogEntry, localOptimes, primaryOptimes []OpTime) RollbackPlan {
	common := 0
	for common < len(localEntries) && common < len(primaryEntries) {
		if localOptimes[common] != primaryOptimes[common] {
			break
		}
		common++
	}
	divergent := make([]writepath.OplogEntry, len(localEntries)-common)
	for i := len(localEntries) - 1; i >= common; i-- {
		divergent[len(localEntries)-1-i] = localEntries[i]
	}
	var commonPoint OpTime
	if common > 0 {
		commonPoint = localOptimes[common-1]
	}
	return RollbackPlan{CommonPoint: commonPoint, Divergent: divergent}
}

// Apply undoes every entry in the plan against wp, newest first (the order
// RollbackPlan.Divergent is already in): an insert's undo is a delete, a
// delete's undo is a re-insert of its pre-image, an update's undo is a
// restore of its pre-image. Anything not locally undoable (the pre-image
// itself was lost, e.g. across a restart with no durable oplog) must be
// refetched from the new primary by the caller — Apply returns that
// entry in the unresolved slice rather than erroring out the
// whole rollback.
func Apply(ctx context.Context, wp *writepath.WritePath, collection string, plan RollbackPlan) (unresolved []writepath.OplogEntry, err error) {
	for _, entry := range plan.Divergent {
		switch entry.Kind {
		case writepath.OpInsert:
			if uerr := wp.Delete(ctx, collection, entry.RecordId); uerr != nil {
				unresolved = append(unresolved, entry)
			}
		case writepath.OpDelete:
			if entry.PreImage == nil {
				unresolved = append(unresolved, entry)
				continue
			}
			if _, uerr := wp.Insert(ctx, collection, entry.PreImage); uerr != nil {
				unresolved = append(unresolved, entry)
			}
		case writepath.OpUpdate:
			if entry.PreImage == nil {
				unresolved = append(unresolved, entry)
				continue
			}
			if uerr := wp.Update(ctx, collection, entry.RecordId, entry.PreImage); uerr != nil {
				unresolved = append(unresolved, entry)
			}
		}
	}
	return unresolved, nil
}
