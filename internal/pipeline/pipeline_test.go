package pipeline

import (
	"context"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/config"
	"github.com/dreamware/docbase/internal/opctx"
	"github.com/dreamware/docbase/internal/storageengine"
)

func testOC() *opctx.OperationContext {
	return opctx.New(context.Background(), opctx.YieldAuto, config.DefaultOptions())
}

func seedEngine(t *testing.T, n int) (*storageengine.MemoryEngine, []storageengine.RecordId) {
	t.Helper()
	e := storageengine.NewMemoryEngine()
	require.NoError(t, e.CreateCollection("c"))
	uow := e.StartUnitOfWork()
	var ids []storageengine.RecordId
	for i := 0; i < n; i++ {
		id, err := uow.Insert("c", bsonkit.NewDocument(bsonkit.F("i", bsonkit.Int32(int32(i)))))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, uow.Commit())
	return e, ids
}

func drainAll(t *testing.T, s Stage) []Row {
	t.Helper()
	var out []Row
	for {
		row, result, err := s.GetNext(testOC())
		require.NoError(t, err)
		if result == EOF {
			return out
		}
		if result == Paused {
			continue
		}
		out = append(out, row)
	}
}

func TestCollectionScanAndLimit(t *testing.T) {
	e, _ := seedEngine(t, 5)
	cur, err := e.OpenCursor("c")
	require.NoError(t, err)

	scan := NewCollectionScan(cur)
	limited := NewLimit(scan, 3)
	rows := drainAll(t, limited)
	assert.Len(t, rows, 3)
}

func TestSkipDropsLeadingRows(t *testing.T) {
	e, _ := seedEngine(t, 5)
	cur, err := e.OpenCursor("c")
	require.NoError(t, err)

	scan := NewCollectionScan(cur)
	skipped := NewSkip(scan, 2)
	rows := drainAll(t, skipped)
	require.Len(t, rows, 3)
	v, _ := rows[0].Doc.Get("i")
	n, _ := v.AsNumber()
	assert.Equal(t, float64(2), n)
}

func TestFilterDropsNonMatching(t *testing.T) {
	e, _ := seedEngine(t, 5)
	cur, err := e.OpenCursor("c")
	require.NoError(t, err)

	scan := NewCollectionScan(cur)
	filtered := NewFilter(scan, func(doc *bsonkit.Document) bool {
		v, _ := doc.Get("i")
		n, _ := v.AsNumber()
		return int(n)%2 == 0
	})
	rows := drainAll(t, filtered)
	assert.Len(t, rows, 3) // 0, 2, 4
}

func TestSortAscendingByKey(t *testing.T) {
	e := storageengine.NewMemoryEngine()
	require.NoError(t, e.CreateCollection("c"))
	uow := e.StartUnitOfWork()
	for _, n := range []int32{5, 1, 3, 2, 4} {
		_, err := uow.Insert("c", bsonkit.NewDocument(bsonkit.F("i", bsonkit.Int32(n))))
		require.NoError(t, err)
	}
	require.NoError(t, uow.Commit())

	cur, err := e.OpenCursor("c")
	require.NoError(t, err)
	scan := NewCollectionScan(cur)
	keyed := NewSortKeyGenerator(scan, []SortField{{Path: "i"}})
	tracker := NewRootTracker(10 * datasize.MB)
	sorted := NewSort(keyed, tracker)

	rows := drainAll(t, sorted)
	require.Len(t, rows, 5)
	var got []int
	for _, r := range rows {
		v, _ := r.Doc.Get("i")
		n, _ := v.AsNumber()
		got = append(got, int(n))
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
}

func TestSortSpillsAndMerges(t *testing.T) {
	e := storageengine.NewMemoryEngine()
	require.NoError(t, e.CreateCollection("c"))
	uow := e.StartUnitOfWork()
	for i := 20; i > 0; i-- {
		_, err := uow.Insert("c", bsonkit.NewDocument(bsonkit.F("i", bsonkit.Int32(int32(i)))))
		require.NoError(t, err)
	}
	require.NoError(t, uow.Commit())

	cur, err := e.OpenCursor("c")
	require.NoError(t, err)
	scan := NewCollectionScan(cur)
	keyed := NewSortKeyGenerator(scan, []SortField{{Path: "i"}})
	// Tiny budget forces at least one spill for 20 rows.
	tracker := NewRootTracker(200)
	sorted := NewSort(keyed, tracker)

	rows := drainAll(t, sorted)
	require.Len(t, rows, 20)
	prev := -1
	for _, r := range rows {
		v, _ := r.Doc.Get("i")
		n, _ := v.AsNumber()
		assert.Greater(t, int(n), prev)
		prev = int(n)
	}
}

func TestGroupSumByKey(t *testing.T) {
	e := storageengine.NewMemoryEngine()
	require.NoError(t, e.CreateCollection("c"))
	uow := e.StartUnitOfWork()
	for _, pair := range [][2]int32{{1, 10}, {1, 20}, {2, 5}} {
		_, err := uow.Insert("c", bsonkit.NewDocument(bsonkit.F("k", bsonkit.Int32(pair[0])), bsonkit.F("v", bsonkit.Int32(pair[1]))))
		require.NoError(t, err)
	}
	require.NoError(t, uow.Commit())

	cur, err := e.OpenCursor("c")
	require.NoError(t, err)
	scan := NewCollectionScan(cur)
	tracker := NewRootTracker(1 * datasize.MB)
	grouped := NewGroup(scan, GroupSpec{
		KeyPath:      "k",
		Accumulators: []AccumulatorSpec{{Kind: AccSum, Path: "v", As: "total"}},
	}, tracker)

	rows := drainAll(t, grouped)
	require.Len(t, rows, 2)

	totals := map[int]float64{}
	for _, r := range rows {
		idv, _ := r.Doc.Get("_id")
		n, _ := idv.AsNumber()
		tv, _ := r.Doc.Get("total")
		total, _ := tv.AsNumber()
		totals[int(n)] = total
	}
	assert.Equal(t, float64(30), totals[1])
	assert.Equal(t, float64(5), totals[2])
}

func TestProjectInclusionKeepsID(t *testing.T) {
	doc := bsonkit.NewDocument(bsonkit.F("_id", bsonkit.Int32(1)), bsonkit.F("a", bsonkit.Int32(2)), bsonkit.F("b", bsonkit.Int32(3)))
	out := applyProjection(doc, ProjectSpec{Include: []string{"a"}})
	_, hasID := out.Get("_id")
	_, hasA := out.Get("a")
	_, hasB := out.Get("b")
	assert.True(t, hasID)
	assert.True(t, hasA)
	assert.False(t, hasB)
}

func TestMemoryTrackerRejectsOverBudget(t *testing.T) {
	tr := NewRootTracker(100)
	tok, err := tr.Reserve(60)
	require.NoError(t, err)
	_, err = tr.Reserve(60)
	require.Error(t, err)
	tok.Release()
	_, err = tr.Reserve(60)
	require.NoError(t, err)
}

func TestMemoryTrackerPeakTracksLifetimeMaximum(t *testing.T) {
	tr := NewRootTracker(100)

	tok1, err := tr.Reserve(40)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), tr.Used())
	assert.Equal(t, uint64(40), tr.Peak())

	tok2, err := tr.Reserve(30)
	require.NoError(t, err)
	assert.Equal(t, uint64(70), tr.Used())
	assert.Equal(t, uint64(70), tr.Peak())
	assert.GreaterOrEqual(t, tr.Peak(), tr.Used())

	tok1.Release()
	assert.Equal(t, uint64(30), tr.Used())
	assert.Equal(t, uint64(70), tr.Peak(), "peak must not drop when usage falls")
	assert.GreaterOrEqual(t, tr.Peak(), tr.Used())

	tok2.Release()
	assert.Equal(t, uint64(0), tr.Used())
	assert.Equal(t, uint64(70), tr.Peak(), "peak survives full release")
}

func TestExchangeRoundRobinSplitsEvenly(t *testing.T) {
	e, _ := seedEngine(t, 6)
	cur, err := e.OpenCursor("c")
	require.NoError(t, err)
	scan := NewCollectionScan(cur)
	ex := NewExchange(scan, RoundRobin, 2, nil)

	r0 := drainAll(t, ex.Receiver(0))
	r1 := drainAll(t, ex.Receiver(1))
	assert.Equal(t, 3, len(r0))
	assert.Equal(t, 3, len(r1))
}
