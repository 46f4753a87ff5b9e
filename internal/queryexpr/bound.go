// Package queryexpr compiles a predicate document into per-field bounds:
// the FieldBoundSet a planner can turn into index-scan ranges, plus the
// QueryPattern fingerprint the plan cache keys on.
package queryexpr

import "github.com/dreamware/docbase/internal/bsonkit"

// FieldBound is one field's combined constraint: a [Lower, Upper] interval
// (using MinKey/MaxKey sentinels for "unconstrained on this side") plus any
// extra values that must be kept around for an exact residual check — e.g.
// every literal in an $in list, since the bracket alone can't express
// "exactly these three values."
type FieldBound struct {
	Lower          bsonkit.Value
	LowerInclusive bool
	Upper          bsonkit.Value
	UpperInclusive bool
	Extra          []bsonkit.Value
}

func unconstrained() *FieldBound {
	return &FieldBound{Lower: bsonkit.MinKey(), Upper: bsonkit.MaxKey()}
}

// isEquality reports whether the bound collapses to a single value.
func (b *FieldBound) isEquality() bool {
	return b.LowerInclusive && b.UpperInclusive && bsonkit.Equal(b.Lower, b.Upper)
}

func (b *FieldBound) hasLower() bool { return b.Lower.Kind != bsonkit.KindMinKey }
func (b *FieldBound) hasUpper() bool { return b.Upper.Kind != bsonkit.KindMaxKey }

// intersect combines a and b per field, taking the greater lower bound and
// the lesser upper bound; inclusivity ANDs when the bounds tie.
func intersect(a, b *FieldBound) *FieldBound {
	out := &FieldBound{}

	switch c := bsonkit.Compare(a.Lower, b.Lower); {
	case c > 0:
		out.Lower, out.LowerInclusive = a.Lower, a.LowerInclusive
	case c < 0:
		out.Lower, out.LowerInclusive = b.Lower, b.LowerInclusive
	default:
		out.Lower, out.LowerInclusive = a.Lower, a.LowerInclusive && b.LowerInclusive
	}

	switch c := bsonkit.Compare(a.Upper, b.Upper); {
	case c < 0:
		out.Upper, out.UpperInclusive = a.Upper, a.UpperInclusive
	case c > 0:
		out.Upper, out.UpperInclusive = b.Upper, b.UpperInclusive
	default:
		out.Upper, out.UpperInclusive = a.Upper, a.UpperInclusive && b.UpperInclusive
	}

	out.Extra = append(append([]bsonkit.Value(nil), a.Extra...), b.Extra...)
	return out
}

// FieldBoundSet maps a dotted field path to its combined FieldBound.
type FieldBoundSet map[string]*FieldBound

// PatternKind classifies one field's bound shape for the plan-cache
// fingerprint.
type PatternKind uint8

const (
	Equality PatternKind = iota
	LowerBound
	UpperBound
	UpperAndLowerBound
	Nontrivial
)

// QueryPattern is the plan-cache fingerprint: per field, which shape of
// bound it compiled to. Two predicates with the same QueryPattern are
// planned identically regardless of the literal values involved.
type QueryPattern map[string]PatternKind

func derivePattern(bounds FieldBoundSet) QueryPattern {
	pattern := make(QueryPattern, len(bounds))
	for path, b := range bounds {
		switch {
		case b.isEquality():
			pattern[path] = Equality
		case b.hasLower() && b.hasUpper():
			pattern[path] = UpperAndLowerBound
		case b.hasLower():
			pattern[path] = LowerBound
		case b.hasUpper():
			pattern[path] = UpperBound
		default:
			pattern[path] = Nontrivial
		}
	}
	return pattern
}
