package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/queryexpr"
)

// PlanKind names the shape a candidate takes (enumeration
// rules).
type PlanKind uint8

const (
	// IndexScanPlan is an IndexScan → Fetch → Filter → Sort? plan.
	IndexScanPlan PlanKind = iota
	// CollectionScanPlan is the always-available CollectionScan → Filter →
	// Sort fallback.
	CollectionScanPlan
	// OrPlan unions one subplan per $or disjunct, deduplicated by RecordId.
	OrPlan
)

// PlanShape is a plan's cacheable fingerprint: everything about a plan
// except the literal bound values, so structurally identical queries with
// different literals reuse the same cache entry ("full plan
// shape sans bound values").
type PlanShape struct {
	Kind      PlanKind
	IndexName string // set only for IndexScanPlan
	Backward  bool
	NeedsSort bool
	Branches  []PlanShape // set only for OrPlan, one shape per disjunct

	// PrefixScore bit-packs tie-break rule 3's
	// (singlePointPrefix, allPointsPrefix, totalBoundedFields,
	// -indexKeyLength) tuple, computed once at enumeration time from the
	// index's pattern and the compiled bounds. Zero for non-index plans.
	PrefixScore uint64
}

func (s PlanShape) String() string {
	switch s.Kind {
	case IndexScanPlan:
		dir := "fwd"
		if s.Backward {
			dir = "bwd"
		}
		return fmt.Sprintf("idx(%s,%s,sort=%v)", s.IndexName, dir, s.NeedsSort)
	case OrPlan:
		parts := make([]string, len(s.Branches))
		for i, b := range s.Branches {
			parts[i] = b.String()
		}
		return "or(" + strings.Join(parts, "|") + ")"
	default:
		return fmt.Sprintf("collscan(sort=%v)", s.NeedsSort)
	}
}

// CacheKey is the plan cache's lookup key: the compiled QueryPattern
// extended with sort and projection shape.
type CacheKey struct {
	Collection string
	Predicate  string // serialized QueryPattern (or branch patterns for $or)
	Sort       string
	Projection string
}

// NewCacheKey builds a CacheKey for a single (non-$or) compiled query, or
// for a top-level $or by concatenating each branch's pattern.
func NewCacheKey(collection string, cq *queryexpr.CompiledQuery, sort []SortSpec, projection []string) CacheKey {
	return CacheKey{
		Collection: collection,
		Predicate:  serializeCompiled(cq),
		Sort:       serializeSort(sort),
		Projection: strings.Join(projection, ","),
	}
}

func serializeCompiled(cq *queryexpr.CompiledQuery) string {
	if cq == nil {
		return ""
	}
	if cq.Or != nil {
		parts := make([]string, len(cq.Or))
		for i, branch := range cq.Or {
			parts[i] = serializePattern(branch.Pattern)
		}
		return "or(" + strings.Join(parts, "|") + ")"
	}
	return serializePattern(cq.Pattern)
}

func serializePattern(p queryexpr.QueryPattern) string {
	names := make([]string, 0, len(p))
	for field := range p {
		names = append(names, field)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, field := range names {
		parts[i] = fmt.Sprintf("%s:%d", field, p[field])
	}
	return strings.Join(parts, ",")
}

// SortSpec is one requested sort field, independent of internal/pipeline so
// this package doesn't force every caller through pipeline.SortField.
type SortSpec struct {
	Path string
	Desc bool
}

func serializeSort(fields []SortSpec) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf("%s:%v", f.Path, f.Desc)
	}
	return strings.Join(parts, ",")
}

// residualPredicate builds a pipeline.Predicate-compatible check (see
// pipeline/filter.go) that re-validates bounds against a materialized document —
// every plan carries this residual filter regardless of which index, if
// any, narrowed the scan, since an index bound is an optimization, not a
// substitute for re-checking the predicate.
func residualPredicate(bounds queryexpr.FieldBoundSet) func(doc *bsonkit.Document) bool {
	return func(doc *bsonkit.Document) bool {
		for path, b := range bounds {
			vals, _ := bsonkit.ExpandPath(doc, path)
			if !anyValueSatisfies(vals, b) {
				return false
			}
		}
		return true
	}
}

// residualPredicateOr builds the disjunction of every branch's
// residualPredicate — used by the CollectionScan fallback competing against
// a top-level $or's unioned index scan.
func residualPredicateOr(branches []*queryexpr.CompiledQuery) func(doc *bsonkit.Document) bool {
	preds := make([]func(doc *bsonkit.Document) bool, len(branches))
	for i, branch := range branches {
		preds[i] = residualPredicate(branch.Bounds)
	}
	return func(doc *bsonkit.Document) bool {
		for _, pred := range preds {
			if pred(doc) {
				return true
			}
		}
		return false
	}
}

func anyValueSatisfies(vals []bsonkit.Value, b *queryexpr.FieldBound) bool {
	if len(vals) == 0 {
		vals = []bsonkit.Value{bsonkit.Null()}
	}
	for _, v := range vals {
		if valueSatisfies(v, b) {
			return true
		}
	}
	return false
}

func valueSatisfies(v bsonkit.Value, b *queryexpr.FieldBound) bool {
	if lc := bsonkit.Compare(v, b.Lower); lc < 0 || (lc == 0 && !b.LowerInclusive) {
		return false
	}
	if uc := bsonkit.Compare(v, b.Upper); uc > 0 || (uc == 0 && !b.UpperInclusive) {
		return false
	}
	if len(b.Extra) > 0 {
		for _, e := range b.Extra {
			if bsonkit.Equal(v, e) {
				return true
			}
		}
		return false
	}
	return true
}
