package planner

import (
	"context"

	"go.uber.org/zap"

	"github.com/dreamware/docbase/internal/config"
	"github.com/dreamware/docbase/internal/dberr"
	"github.com/dreamware/docbase/internal/pipeline"
	"github.com/dreamware/docbase/internal/queryexpr"
	"github.com/dreamware/docbase/internal/storageengine"
)

var errShapeNotFound = dberr.New(dberr.KindIndexNotFound, "cached plan shape no longer matches any enumerated candidate")

// Planner turns a compiled query plus a requested sort into a ready Stage
// tree, consulting and maintaining its plan cache along the way.
type Planner struct {
	engine  storageengine.Engine
	catalog Catalog
	cache   *Cache
	cfg     config.Options
	log     *zap.Logger
}

// New builds a Planner over engine/catalog, sizing its cache from cfg.
func New(engine storageengine.Engine, catalog Catalog, cfg config.Options, log *zap.Logger) *Planner {
	return &Planner{
		engine:  engine,
		catalog: catalog,
		cache:   NewCache(cfg.PlanCacheMemoryBudget, cfg.PlanCacheEvictAfterMisses),
		cfg:     cfg,
		log:     log,
	}
}

// Plan produces a ready-to-pull Stage for collection matching cq, sorted per
// sortFields. It consults the plan cache first; on a cache hit it builds the
// cached shape directly (no re-ranking), on a miss it enumerates and ranks
// fresh candidates and caches the winner.
func (p *Planner) Plan(ctx context.Context, collection string, cq *queryexpr.CompiledQuery, sortFields []SortSpec, projection []string) (pipeline.Stage, PlanShape, error) {
	key := NewCacheKey(collection, cq, sortFields, projection)

	if shape, ok := p.cache.Get(key); ok {
		stage, err := p.buildFromShape(ctx, collection, cq, sortFields, shape)
		if err == nil {
			return stage, shape, nil
		}
		// The cached shape no longer applies cleanly (e.g. its index was
		// dropped and recreated differently) — fall through to a fresh
		// enumeration rather than surfacing a stale-plan error to the
		// caller.
		p.cache.Miss(key)
	}

	candidates := p.enumerateCandidates(collection, cq, sortFields)
	shape, stage, err := rank(ctx, candidates, p.cfg)
	if err != nil {
		return nil, PlanShape{}, err
	}
	p.cache.Put(key, shape)
	return stage, shape, nil
}

// InvalidateCollection drops every cached plan for collection — called by
// the write path (internal/writepath) on index creation/drop and by
// catalog-level rename/drop operations.
func (p *Planner) InvalidateCollection(collection string) {
	p.cache.Invalidate(collection)
}

func (p *Planner) enumerateCandidates(collection string, cq *queryexpr.CompiledQuery, sortFields []SortSpec) []Candidate {
	if cq.Or != nil {
		return []Candidate{
			enumerateOr(p.engine, p.catalog, collection, cq.Or, sortFields, p.cfg, p.log),
			orCollectionScanFallback(p.engine, collection, cq.Or, sortFields, p.cfg),
		}
	}
	return enumerate(p.engine, p.catalog, collection, cq.Bounds, sortFields, p.cfg, p.log)
}

// buildFromShape reconstructs a Stage tree directly from a cached shape,
// skipping enumeration and ranking entirely — the fast path a repeated
// structurally-identical query takes.
func (p *Planner) buildFromShape(ctx context.Context, collection string, cq *queryexpr.CompiledQuery, sortFields []SortSpec, shape PlanShape) (pipeline.Stage, error) {
	for _, c := range p.enumerateCandidates(collection, cq, sortFields) {
		if shapesEquivalent(c.Shape, shape) {
			return c.Build(ctx)
		}
	}
	return nil, errShapeNotFound
}

// shapesEquivalent compares two shapes ignoring PrefixScore, which is
// recomputed from live bounds at enumeration time and so may differ in its
// low bits across calls with different literal values of the same
// QueryPattern without the shape actually being a different plan.
func shapesEquivalent(a, b PlanShape) bool {
	a.PrefixScore, b.PrefixScore = 0, 0
	if a.Kind != b.Kind || a.IndexName != b.IndexName || a.Backward != b.Backward || a.NeedsSort != b.NeedsSort {
		return false
	}
	if len(a.Branches) != len(b.Branches) {
		return false
	}
	for i := range a.Branches {
		if !shapesEquivalent(a.Branches[i], b.Branches[i]) {
			return false
		}
	}
	return true
}
