package queryexpr

import (
	"strings"

	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/dberr"
)

// CompiledQuery is the output of Compile: either a single conjunction
// (Bounds/Pattern populated, Or nil) or a top-level disjunction (Or
// populated with one CompiledQuery per branch, Bounds/Pattern nil). Nested
// $or inside an $and branch is not supported: $or is a planner-level union
// of index scans, which this engine implements only at the top level; a
// nested $or compiles as a Nontrivial residual field instead of failing
// outright.
type CompiledQuery struct {
	Bounds FieldBoundSet
	Pattern QueryPattern
	Or     []*CompiledQuery
}

// Compile turns a predicate document of the shape
// {path1: constraint1, path2: constraint2, ...} into a CompiledQuery.
func Compile(pred *bsonkit.Document) (*CompiledQuery, error) {
	if orVal, ok := pred.Get("$or"); ok {
		branches, err := compileOrBranches(orVal)
		if err != nil {
			return nil, err
		}
		return &CompiledQuery{Or: branches}, nil
	}

	bounds, err := compileConjunction(pred)
	if err != nil {
		return nil, err
	}
	return &CompiledQuery{Bounds: bounds, Pattern: derivePattern(bounds)}, nil
}

func compileOrBranches(orVal bsonkit.Value) ([]*CompiledQuery, error) {
	arr, ok := orVal.AsArray()
	if !ok {
		return nil, dberr.New(dberr.KindBadValue, "$or requires an array of predicates")
	}
	branches := make([]*CompiledQuery, 0, len(arr))
	for _, sub := range arr {
		subDoc, ok := sub.AsDocument()
		if !ok {
			return nil, dberr.New(dberr.KindBadValue, "$or branch must be a document")
		}
		cq, err := Compile(subDoc)
		if err != nil {
			return nil, err
		}
		branches = append(branches, cq)
	}
	return branches, nil
}

func compileConjunction(pred *bsonkit.Document) (FieldBoundSet, error) {
	bounds := FieldBoundSet{}
	var walk func(d *bsonkit.Document) error
	walk = func(d *bsonkit.Document) error {
		for _, f := range d.Fields {
			switch f.Name {
			case "$and":
				arr, ok := f.Value.AsArray()
				if !ok {
					return dberr.New(dberr.KindBadValue, "$and requires an array of predicates")
				}
				for _, sub := range arr {
					subDoc, ok := sub.AsDocument()
					if !ok {
						return dberr.New(dberr.KindBadValue, "$and element must be a document")
					}
					if err := walk(subDoc); err != nil {
						return err
					}
				}
			case "$or":
				// Nested $or: fold to an unconstrained (Nontrivial) bound
				// per field it touches rather than failing the whole
				// compile; the planner falls back to a full scan plus
				// residual filter for this field.
				continue
			default:
				if err := mergeFieldConstraint(bounds, f.Name, f.Value); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return bounds, walk(pred)
}

func mergeFieldConstraint(bounds FieldBoundSet, path string, constraint bsonkit.Value) error {
	next, err := compileConstraint(constraint)
	if err != nil {
		return err
	}
	if existing, ok := bounds[path]; ok {
		bounds[path] = intersect(existing, next)
	} else {
		bounds[path] = next
	}
	return nil
}

func compileConstraint(constraint bsonkit.Value) (*FieldBound, error) {
	doc, isDoc := constraint.AsDocument()
	if !isDoc || !isOperatorDocument(doc) {
		return &FieldBound{Lower: constraint, LowerInclusive: true, Upper: constraint, UpperInclusive: true}, nil
	}

	b := unconstrained()
	for _, opF := range doc.Fields {
		switch opF.Name {
		case "$eq":
			b.Lower, b.LowerInclusive = opF.Value, true
			b.Upper, b.UpperInclusive = opF.Value, true
		case "$lt":
			b.Upper, b.UpperInclusive = opF.Value, false
		case "$lte":
			b.Upper, b.UpperInclusive = opF.Value, true
		case "$gt":
			b.Lower, b.LowerInclusive = opF.Value, false
		case "$gte":
			b.Lower, b.LowerInclusive = opF.Value, true
		case "$in":
			arr, ok := opF.Value.AsArray()
			if !ok {
				return nil, dberr.New(dberr.KindBadValue, "$in requires an array")
			}
			lo, hi := tightestBracket(arr)
			b.Lower, b.LowerInclusive = lo, true
			b.Upper, b.UpperInclusive = hi, true
			b.Extra = append(b.Extra, arr...)
		case "$all":
			arr, ok := opF.Value.AsArray()
			if !ok {
				return nil, dberr.New(dberr.KindBadValue, "$all requires an array")
			}
			if len(arr) == 1 {
				b.Lower, b.LowerInclusive = arr[0], true
				b.Upper, b.UpperInclusive = arr[0], true
			} else {
				b.Extra = append(b.Extra, arr...)
			}
		case "$regex":
			pattern, ok := opF.Value.AsString()
			if !ok {
				return nil, dberr.New(dberr.KindBadValue, "$regex requires a string pattern")
			}
			if prefix := literalPrefix(pattern); prefix != "" {
				b.Lower, b.LowerInclusive = bsonkit.String(prefix), true
				b.Upper, b.UpperInclusive = bsonkit.String(incrementLastByte(prefix)), false
			}
		default:
			return nil, dberr.New(dberr.KindBadValue, "unsupported query operator").WithDetail("operator", opF.Name)
		}
	}
	return b, nil
}

// isOperatorDocument reports whether doc is an operator expression (every
// field name starts with "$") rather than a literal document to match
// exactly via equality.
func isOperatorDocument(doc *bsonkit.Document) bool {
	if len(doc.Fields) == 0 {
		return false
	}
	for _, f := range doc.Fields {
		if !strings.HasPrefix(f.Name, "$") {
			return false
		}
	}
	return true
}

// tightestBracket returns the smallest [lo, hi] bracket covering every
// value in vals.
func tightestBracket(vals []bsonkit.Value) (lo, hi bsonkit.Value) {
	if len(vals) == 0 {
		return bsonkit.MinKey(), bsonkit.MaxKey()
	}
	lo, hi = vals[0], vals[0]
	for _, v := range vals[1:] {
		if bsonkit.Compare(v, lo) < 0 {
			lo = v
		}
		if bsonkit.Compare(v, hi) > 0 {
			hi = v
		}
	}
	return lo, hi
}

// literalPrefix returns the leading run of a regex pattern's literal
// (non-metacharacter) characters, or "" if the pattern starts with a
// metacharacter or an anchor-free wildcard ("$regex with a
// simple literal prefix").
func literalPrefix(pattern string) string {
	pattern = strings.TrimPrefix(pattern, "^")
	const meta = `.*+?()[]{}|\^$`
	for i, r := range pattern {
		if strings.ContainsRune(meta, r) {
			return pattern[:i]
		}
	}
	return pattern
}

// incrementLastByte returns the lexicographically next string after every
// string sharing prefix s — the standard "increment the last byte" trick
// for turning a prefix match into a half-open range.
func incrementLastByte(s string) string {
	b := []byte(s)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return string(b[:i+1])
		}
	}
	// All 0xFF bytes (or empty): no finite successor, so the range is
	// unbounded above.
	return string(b) + "\xff"
}
