// Package bsonkit implements the self-describing document and value model
// the rest of the engine is built on, plus the
// order-preserving key codec that turns a document into the
// byte keys a B-tree index actually stores.
//
// A Value carries its BSON-like type tag alongside its payload so that two
// values of different declared types (an int32 3 and a string "3") never
// compare equal and sort into the canonical type-then-value order every
// index and sort-by-key operation depends on.
package bsonkit

import "time"

// Kind is a value's BSON-like type tag. The declared order of the iota block
// has no bearing on sort order — see typeRank for that — it exists purely to
// give each type a stable, comparable identity.
type Kind uint8

const (
	KindMinKey Kind = iota
	KindNull
	KindInt32
	KindInt64
	KindDouble
	KindDecimal128
	KindString
	KindDocument
	KindArray
	KindBinary
	KindObjectID
	KindBoolean
	KindDate
	KindRegex
	KindMaxKey
)

// ObjectID is a 12-byte unique identifier, generated the way every document
// store mints its own primary key when the caller doesn't supply one.
type ObjectID [12]byte

// Value is a single self-describing BSON-like value: exactly one of the
// fields below is meaningful, selected by Kind. Values are immutable once
// constructed; the constructors are the only way to produce one so a Value
// can never end up with inconsistent Kind/payload pairing.
type Value struct {
	Kind Kind

	num   float64
	str   string
	doc   *Document
	arr   []Value
	bin   []byte
	oid   ObjectID
	b     bool
	t     time.Time
	regex RegexPattern
}

// RegexPattern is a regular expression value: a pattern plus its option
// flags ("i", "m", "x", "s" style modifiers), kept apart so a regex's
// pattern text never gets confused with a plain string.
type RegexPattern struct {
	Pattern string
	Options string
}

func Null() Value                { return Value{Kind: KindNull} }
func MinKey() Value              { return Value{Kind: KindMinKey} }
func MaxKey() Value              { return Value{Kind: KindMaxKey} }
func Int32(v int32) Value        { return Value{Kind: KindInt32, num: float64(v)} }
func Int64(v int64) Value        { return Value{Kind: KindInt64, num: float64(v)} }
func Double(v float64) Value     { return Value{Kind: KindDouble, num: v} }
func Decimal128(v float64) Value { return Value{Kind: KindDecimal128, num: v} }
func String(s string) Value      { return Value{Kind: KindString, str: s} }
func Doc(d *Document) Value      { return Value{Kind: KindDocument, doc: d} }
func Array(vs []Value) Value     { return Value{Kind: KindArray, arr: vs} }
func Binary(b []byte) Value      { return Value{Kind: KindBinary, bin: b} }
func ID(oid ObjectID) Value      { return Value{Kind: KindObjectID, oid: oid} }
func Bool(b bool) Value          { return Value{Kind: KindBoolean, b: b} }
func Date(t time.Time) Value     { return Value{Kind: KindDate, t: t.UTC()} }

func Regex(pattern, options string) Value {
	return Value{Kind: KindRegex, regex: RegexPattern{Pattern: pattern, Options: options}}
}

// AsNumber returns v's numeric payload and whether v is one of the numeric
// kinds (Int32, Int64, Double, Decimal128).
func (v Value) AsNumber() (float64, bool) {
	switch v.Kind {
	case KindInt32, KindInt64, KindDouble, KindDecimal128:
		return v.num, true
	default:
		return 0, false
	}
}

// AsString returns v's string payload and whether v is a String.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.str, true
}

// AsDocument returns v's nested document and whether v is a Document.
func (v Value) AsDocument() (*Document, bool) {
	if v.Kind != KindDocument {
		return nil, false
	}
	return v.doc, true
}

// AsArray returns v's element slice and whether v is an Array.
func (v Value) AsArray() ([]Value, bool) {
	if v.Kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

// AsBinary returns v's byte payload and whether v is Binary.
func (v Value) AsBinary() ([]byte, bool) {
	if v.Kind != KindBinary {
		return nil, false
	}
	return v.bin, true
}

// AsObjectID returns v's ObjectID and whether v is an ObjectID.
func (v Value) AsObjectID() (ObjectID, bool) {
	if v.Kind != KindObjectID {
		return ObjectID{}, false
	}
	return v.oid, true
}

// AsBool returns v's boolean payload and whether v is a Boolean.
func (v Value) AsBool() (bool, bool) {
	if v.Kind != KindBoolean {
		return false, false
	}
	return v.b, true
}

// AsDate returns v's timestamp and whether v is a Date.
func (v Value) AsDate() (time.Time, bool) {
	if v.Kind != KindDate {
		return time.Time{}, false
	}
	return v.t, true
}

// AsRegex returns v's pattern/options and whether v is a Regex.
func (v Value) AsRegex() (RegexPattern, bool) {
	if v.Kind != KindRegex {
		return RegexPattern{}, false
	}
	return v.regex, true
}

// IsNumeric reports whether Kind is one of the four numeric types, which
// compare across each other by value rather than by declared type: numeric
// types form a single comparison class.
func (k Kind) IsNumeric() bool {
	switch k {
	case KindInt32, KindInt64, KindDouble, KindDecimal128:
		return true
	default:
		return false
	}
}
