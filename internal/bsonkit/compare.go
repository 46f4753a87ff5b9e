package bsonkit

import "bytes"

// typeRank gives every Kind its position in the canonical BSON-style type
// order: MinKey < Null < Numbers < String < Document < Array < Binary <
// ObjectID < Boolean < Date < Regex < MaxKey. All four numeric
// kinds share one rank; they are later disambiguated by value, not by type.
func typeRank(k Kind) int {
	switch k {
	case KindMinKey:
		return 0
	case KindNull:
		return 1
	case KindInt32, KindInt64, KindDouble, KindDecimal128:
		return 2
	case KindString:
		return 3
	case KindDocument:
		return 4
	case KindArray:
		return 5
	case KindBinary:
		return 6
	case KindObjectID:
		return 7
	case KindBoolean:
		return 8
	case KindDate:
		return 9
	case KindRegex:
		return 10
	case KindMaxKey:
		return 11
	default:
		return 12
	}
}

// Compare returns -1, 0, or 1 as a sorts before, equal to, or after b, using
// the canonical type order for values of different kinds and a type-specific
// comparison within one kind. This is the single source of truth every
// index key, sort stage, and predicate-range evaluation compares against.
func Compare(a, b Value) int {
	ra, rb := typeRank(a.Kind), typeRank(b.Kind)
	if ra != rb {
		return cmpInt(ra, rb)
	}

	switch a.Kind {
	case KindMinKey, KindNull, KindMaxKey:
		return 0
	case KindInt32, KindInt64, KindDouble, KindDecimal128:
		return cmpFloat(a.num, b.num)
	case KindString:
		return cmpBytes([]byte(a.str), []byte(b.str))
	case KindDocument:
		return compareDocuments(a.doc, b.doc)
	case KindArray:
		return compareArrays(a.arr, b.arr)
	case KindBinary:
		return cmpBytes(a.bin, b.bin)
	case KindObjectID:
		return bytes.Compare(a.oid[:], b.oid[:])
	case KindBoolean:
		return cmpBool(a.b, b.b)
	case KindDate:
		switch {
		case a.t.Before(b.t):
			return -1
		case a.t.After(b.t):
			return 1
		default:
			return 0
		}
	case KindRegex:
		if c := cmpBytes([]byte(a.regex.Pattern), []byte(b.regex.Pattern)); c != 0 {
			return c
		}
		return cmpBytes([]byte(a.regex.Options), []byte(b.regex.Options))
	default:
		return 0
	}
}

// Equal reports whether a and b compare equal under Compare.
func Equal(a, b Value) bool { return Compare(a, b) == 0 }

func compareDocuments(a, b *Document) int {
	for i := 0; i < len(a.Fields) && i < len(b.Fields); i++ {
		if c := cmpBytes([]byte(a.Fields[i].Name), []byte(b.Fields[i].Name)); c != 0 {
			return c
		}
		if c := Compare(a.Fields[i].Value, b.Fields[i].Value); c != 0 {
			return c
		}
	}
	return cmpInt(len(a.Fields), len(b.Fields))
}

func compareArrays(a, b []Value) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmpInt(len(a), len(b))
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

func cmpBytes(a, b []byte) int {
	return bytes.Compare(a, b)
}
