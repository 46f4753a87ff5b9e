package replset

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dreamware/docbase/internal/writepath"
)

func TestPlanRollbackFindsCommonPointAndReversesOrder(t *testing.T) {
	local := []writepath.OplogEntry{
		{Kind: writepath.OpInsert},
		{Kind: writepath.OpUpdate},
		{Kind: writepath.OpDelete},
	}
	localOptimes := []OpTime{{Term: 1, Index: 1}, {Term: 1, Index: 2}, {Term: 2, Index: 3}}

	primary := []writepath.OplogEntry{
		{Kind: writepath.OpInsert},
		{Kind: writepath.OpUpdate},
		{Kind: writepath.OpUpdate}, // diverges from local's delete at index 3
	}
	primaryOptimes := []OpTime{{Term: 1, Index: 1}, {Term: 1, Index: 2}, {Term: 2, Index: 3}}
	primaryOptimes[2] = OpTime{Term: 3, Index: 3} // diverges from local's term-2 entry

	plan := PlanRollback(local, primary, localOptimes, primaryOptimes)

	assert.Equal(t, OpTime{Term: 1, Index: 2}, plan.CommonPoint)
	assert.Len(t, plan.Divergent, 1)
	assert.Equal(t, writepath.OpDelete, plan.Divergent[0].Kind, "only the entry past the common point is undone")
}

func TestPlanRollbackNoDivergenceYieldsEmptyPlan(t *testing.T) {
	entries := []writepath.OplogEntry{{Kind: writepath.OpInsert}}
	optimes := []OpTime{{Term: 1, Index: 1}}

	plan := PlanRollback(entries, entries, optimes, optimes)
	assert.Empty(t, plan.Divergent)
	assert.Equal(t, optimes[0], plan.CommonPoint)
}
