package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/btreeindex"
	"github.com/dreamware/docbase/internal/config"
	"github.com/dreamware/docbase/internal/opctx"
	"github.com/dreamware/docbase/internal/pipeline"
	"github.com/dreamware/docbase/internal/queryexpr"
	"github.com/dreamware/docbase/internal/storageengine"
)

// seedWithIndex inserts n documents {a: 0..n-1} into collection "c" and
// builds a matching ascending index over "a", mirroring what
// internal/writepath's index maintenance would have produced.
func seedWithIndex(t *testing.T, n int) (*storageengine.MemoryEngine, StaticCatalog) {
	t.Helper()
	engine := storageengine.NewMemoryEngine()
	require.NoError(t, engine.CreateCollection("c"))

	pattern := []bsonkit.KeyPart{bsonkit.Asc("a")}
	idx, err := btreeindex.New("a_1", btreeindex.V1, false, pattern)
	require.NoError(t, err)

	uow := engine.StartUnitOfWork()
	for i := 0; i < n; i++ {
		doc := bsonkit.NewDocument(bsonkit.F("a", bsonkit.Int32(int32(i))))
		id, err := uow.Insert("c", doc)
		require.NoError(t, err)
		keys, _, err := bsonkit.EncodeKeys(pattern, doc)
		require.NoError(t, err)
		require.NoError(t, idx.Insert(keys[0], id))
	}
	require.NoError(t, uow.Commit())

	catalog := StaticCatalog{"c": {{Name: "a_1", Index: idx, Pattern: pattern}}}
	return engine, catalog
}

func gteQuery(field string, n int32) *queryexpr.CompiledQuery {
	pred := bsonkit.NewDocument(bsonkit.F(field, bsonkit.Doc(bsonkit.NewDocument(bsonkit.F("$gte", bsonkit.Int32(n))))))
	cq, err := queryexpr.Compile(pred)
	if err != nil {
		panic(err)
	}
	return cq
}

func drainPlan(t *testing.T, stage pipeline.Stage) []int {
	t.Helper()
	oc := opctx.New(context.Background(), opctx.YieldAuto, config.DefaultOptions())
	var out []int
	for {
		row, result, err := stage.GetNext(oc)
		require.NoError(t, err)
		if result == pipeline.EOF {
			return out
		}
		if result == pipeline.Paused {
			continue
		}
		v, _ := row.Doc.Get("a")
		n, _ := v.AsNumber()
		out = append(out, int(n))
	}
}

func TestPlanChoosesCoveringIndex(t *testing.T) {
	engine, catalog := seedWithIndex(t, 10)
	p := New(engine, catalog, config.DefaultOptions(), nil)

	cq := gteQuery("a", 7)
	stage, shape, err := p.Plan(context.Background(), "c", cq, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, IndexScanPlan, shape.Kind)

	got := drainPlan(t, stage)
	assert.ElementsMatch(t, []int{7, 8, 9}, got)
}

func TestPlanFallsBackToCollectionScanWithoutCoveringIndex(t *testing.T) {
	engine, catalog := seedWithIndex(t, 5)
	p := New(engine, catalog, config.DefaultOptions(), nil)

	cq := gteQuery("b", 0) // "b" isn't indexed
	stage, shape, err := p.Plan(context.Background(), "c", cq, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, CollectionScanPlan, shape.Kind)

	got := drainPlan(t, stage)
	assert.Len(t, got, 5)
}

func TestPlanCacheReusesShapeAcrossLiterals(t *testing.T) {
	engine, catalog := seedWithIndex(t, 10)
	p := New(engine, catalog, config.DefaultOptions(), nil)

	_, shape1, err := p.Plan(context.Background(), "c", gteQuery("a", 2), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, p.cache.Len())

	stage2, shape2, err := p.Plan(context.Background(), "c", gteQuery("a", 8), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, p.cache.Len(), "same QueryPattern should reuse the cached entry, not add a new one")
	assert.Equal(t, shape1.Kind, shape2.Kind)

	got := drainPlan(t, stage2)
	assert.ElementsMatch(t, []int{8, 9}, got)
}

func TestPlanInvalidateCollectionClearsCache(t *testing.T) {
	engine, catalog := seedWithIndex(t, 5)
	p := New(engine, catalog, config.DefaultOptions(), nil)

	_, _, err := p.Plan(context.Background(), "c", gteQuery("a", 1), nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, p.cache.Len())

	p.InvalidateCollection("c")
	assert.Equal(t, 0, p.cache.Len())
}

func TestOrPlanUnionDedupesOverlappingBranches(t *testing.T) {
	engine, catalog := seedWithIndex(t, 10)
	p := New(engine, catalog, config.DefaultOptions(), nil)

	pred := bsonkit.NewDocument(bsonkit.F("$or", bsonkit.Array([]bsonkit.Value{
		bsonkit.Doc(bsonkit.NewDocument(bsonkit.F("a", bsonkit.Doc(bsonkit.NewDocument(bsonkit.F("$gte", bsonkit.Int32(5))))))),
		bsonkit.Doc(bsonkit.NewDocument(bsonkit.F("a", bsonkit.Doc(bsonkit.NewDocument(bsonkit.F("$gte", bsonkit.Int32(7))))))),
	})))
	cq, err := queryexpr.Compile(pred)
	require.NoError(t, err)

	stage, shape, err := p.Plan(context.Background(), "c", cq, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, OrPlan, shape.Kind)

	got := drainPlan(t, stage)
	assert.Equal(t, []int{5, 6, 7, 8, 9}, got, "branches must merge in RecordId order, not concatenate")
}
