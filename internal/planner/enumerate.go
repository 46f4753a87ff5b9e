package planner

import (
	"context"

	"go.uber.org/zap"

	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/btreeindex"
	"github.com/dreamware/docbase/internal/config"
	"github.com/dreamware/docbase/internal/pipeline"
	"github.com/dreamware/docbase/internal/queryexpr"
	"github.com/dreamware/docbase/internal/storageengine"
)

// Candidate is one enumerated plan: its cacheable Shape plus a Build func
// that constructs a fresh Stage tree. Build is called once for trial
// ranking and, for the winner, again to serve the real query (a lone
// candidate skips the trial and is built once) — enumerate.go never runs a
// plan itself.
type Candidate struct {
	Shape PlanShape
	Build func(ctx context.Context) (pipeline.Stage, error)
}

// enumerate implements enumeration rules 1 and 2 for a single
// (non-$or) conjunction: one IndexScan plan per covering index, plus the
// always-present CollectionScan fallback.
func enumerate(engine storageengine.Engine, catalog Catalog, collection string, bounds queryexpr.FieldBoundSet, sortFields []SortSpec, cfg config.Options, log *zap.Logger) []Candidate {
	pred := residualPredicate(bounds)
	candidates := make([]Candidate, 0, len(catalog.IndexesFor(collection))+1)

	for _, desc := range catalog.IndexesFor(collection) {
		prefixLen := boundedPrefixLen(desc.Pattern, bounds)
		if prefixLen == 0 {
			continue
		}
		desc := desc
		dir, satisfiesSort := indexSatisfiesSort(desc.Pattern, sortFields)
		needsSort := len(sortFields) > 0 && !satisfiesSort
		if !satisfiesSort {
			dir = btreeindex.Forward
		}

		candidates = append(candidates, Candidate{
			Shape: PlanShape{
				Kind:        IndexScanPlan,
				IndexName:   desc.Name,
				Backward:    dir == btreeindex.Backward,
				NeedsSort:   needsSort,
				PrefixScore: prefixScore(desc.Pattern, bounds, prefixLen),
			},
			Build: func(ctx context.Context) (pipeline.Stage, error) {
				lo, hi, hiIncl := prefixRange(desc.Pattern, bounds, prefixLen)
				cur, err := btreeindex.Open(ctx, desc.Index, lo, hi, hiIncl, dir, log)
				if err != nil {
					return nil, err
				}
				var stage pipeline.Stage = pipeline.NewIndexScan(cur)
				stage = pipeline.NewFetch(stage, engine, collection, false)
				stage = pipeline.NewFilter(stage, pred)
				if needsSort {
					stage = sortStage(stage, sortFields, cfg)
				}
				return stage, nil
			},
		})
	}

	candidates = append(candidates, Candidate{
		Shape: PlanShape{Kind: CollectionScanPlan, NeedsSort: len(sortFields) > 0},
		Build: func(ctx context.Context) (pipeline.Stage, error) {
			cur, err := engine.OpenCursor(collection)
			if err != nil {
				return nil, err
			}
			var stage pipeline.Stage = pipeline.NewCollectionScan(cur)
			stage = pipeline.NewFilter(stage, pred)
			if len(sortFields) > 0 {
				stage = sortStage(stage, sortFields, cfg)
			}
			return stage, nil
		},
	})

	return candidates
}

// enumerateOr implements enumeration rule 3: one subplan per $or branch,
// unioned and deduplicated by RecordId (see or.go).
func enumerateOr(engine storageengine.Engine, catalog Catalog, collection string, branches []*queryexpr.CompiledQuery, sortFields []SortSpec, cfg config.Options, log *zap.Logger) Candidate {
	branchCandidates := make([]Candidate, len(branches))
	shapes := make([]PlanShape, len(branches))
	for i, branch := range branches {
		best := pickBest(enumerate(engine, catalog, collection, branch.Bounds, nil, cfg, log))
		branchCandidates[i] = best
		shapes[i] = best.Shape
	}

	return Candidate{
		Shape: PlanShape{Kind: OrPlan, Branches: shapes, NeedsSort: len(sortFields) > 0},
		Build: func(ctx context.Context) (pipeline.Stage, error) {
			branchStages := make([]pipeline.Stage, len(branchCandidates))
			for i, c := range branchCandidates {
				s, err := c.Build(ctx)
				if err != nil {
					return nil, err
				}
				branchStages[i] = s
			}
			var stage pipeline.Stage = newOrStage(branchStages)
			if len(sortFields) > 0 {
				stage = sortStage(stage, sortFields, cfg)
			}
			return stage, nil
		},
	}
}

// orCollectionScanFallback is enumeration rule 2's always-available
// fallback applied to a top-level $or: a single CollectionScan filtered by
// the disjunction of every branch's bounds, competing against the unioned
// per-branch index scan in the same lock-step race.
func orCollectionScanFallback(engine storageengine.Engine, collection string, branches []*queryexpr.CompiledQuery, sortFields []SortSpec, cfg config.Options) Candidate {
	pred := residualPredicateOr(branches)
	return Candidate{
		Shape: PlanShape{Kind: CollectionScanPlan, NeedsSort: len(sortFields) > 0},
		Build: func(ctx context.Context) (pipeline.Stage, error) {
			cur, err := engine.OpenCursor(collection)
			if err != nil {
				return nil, err
			}
			var stage pipeline.Stage = pipeline.NewCollectionScan(cur)
			stage = pipeline.NewFilter(stage, pred)
			if len(sortFields) > 0 {
				stage = sortStage(stage, sortFields, cfg)
			}
			return stage, nil
		},
	}
}

// pickBest runs a quick, budget-free heuristic pick for an $or branch: the
// first index-covered candidate if any exists, else the collection scan —
// full lock-step ranking per branch would multiply the trial cost by the
// branch count for comparatively little benefit, since branches are usually
// planned once each and cached independently going forward.
func pickBest(cands []Candidate) Candidate {
	for _, c := range cands {
		if c.Shape.Kind == IndexScanPlan {
			return c
		}
	}
	return cands[len(cands)-1]
}

func sortStage(child pipeline.Stage, sortFields []SortSpec, cfg config.Options) pipeline.Stage {
	fields := make([]pipeline.SortField, len(sortFields))
	for i, f := range sortFields {
		fields[i] = pipeline.SortField{Path: f.Path, Desc: f.Desc}
	}
	keyed := pipeline.NewSortKeyGenerator(child, fields)
	return pipeline.NewSort(keyed, pipeline.NewRootTracker(cfg.SortMemoryBudget))
}

// boundedPrefixLen returns the count of pattern's leading fields that carry
// a compiled bound, stopping at the first unbounded field: this checks
// whether an index's leading fields are covered by the query's bounds.
func boundedPrefixLen(pattern []bsonkit.KeyPart, bounds queryexpr.FieldBoundSet) int {
	n := 0
	for _, kp := range pattern {
		if _, ok := bounds[kp.Path]; !ok {
			break
		}
		n++
	}
	return n
}

// prefixScore bit-packs tie-break rule 3's
// (singlePointPrefix, allPointsPrefix, totalBoundedFields, -indexKeyLength)
// tuple into one comparable uint64 — the more equality fields at the front
// of the index, and the shorter the key, the higher the score.
func prefixScore(pattern []bsonkit.KeyPart, bounds queryexpr.FieldBoundSet, prefixLen int) uint64 {
	singlePointPrefix := uint64(0)
	allPointsPrefix := uint64(1)
	for i := 0; i < prefixLen; i++ {
		b := bounds[pattern[i].Path]
		equality := b.LowerInclusive && b.UpperInclusive && bsonkit.Equal(b.Lower, b.Upper)
		if equality {
			singlePointPrefix++
		} else {
			allPointsPrefix = 0
		}
	}
	negLen := uint64(0xFFFF) - uint64(len(pattern))
	return (singlePointPrefix << 48) | (allPointsPrefix << 47) | (uint64(prefixLen) << 32) | negLen
}

// prefixRange composes a [lo, hi] index-key range from the first prefixLen
// fields of pattern using their compiled bounds.
func prefixRange(pattern []bsonkit.KeyPart, bounds queryexpr.FieldBoundSet, prefixLen int) (lo, hi []byte, hiInclusive bool) {
	loVals := make([]bsonkit.Value, prefixLen)
	hiVals := make([]bsonkit.Value, prefixLen)
	desc := make([]bool, prefixLen)
	hiInclusive = true
	for i := 0; i < prefixLen; i++ {
		b := bounds[pattern[i].Path]
		loVals[i] = b.Lower
		hiVals[i] = b.Upper
		desc[i] = pattern[i].Desc
		if b.Upper.Kind != bsonkit.KindMaxKey && !b.UpperInclusive {
			hiInclusive = false
		}
	}
	return bsonkit.EncodeValues(loVals, desc), bsonkit.EncodeValues(hiVals, desc), hiInclusive
}

// indexSatisfiesSort reports whether scanning pattern in some direction
// already produces rows in sortFields order, avoiding a blocking Sort stage.
func indexSatisfiesSort(pattern []bsonkit.KeyPart, sortFields []SortSpec) (btreeindex.Direction, bool) {
	if len(sortFields) == 0 || len(sortFields) > len(pattern) {
		return btreeindex.Forward, len(sortFields) == 0
	}
	forward, backward := true, true
	for i, f := range sortFields {
		if pattern[i].Path != f.Path {
			return btreeindex.Forward, false
		}
		if pattern[i].Desc != f.Desc {
			forward = false
		} else {
			backward = false
		}
	}
	if forward {
		return btreeindex.Forward, true
	}
	if backward {
		return btreeindex.Backward, true
	}
	return btreeindex.Forward, false
}
