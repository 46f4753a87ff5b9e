package bsonkit

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/zeebo/xxh3"

	"github.com/dreamware/docbase/internal/dberr"
)

// KeyPart is one field of an index's key pattern: a dotted path plus how
// that field's encoded bytes participate in ordering, ascending,
// descending, or hashed.
type KeyPart struct {
	Path     string
	Desc     bool
	Hashed   bool
	Collation Collation
}

// Asc builds an ascending KeyPart for path.
func Asc(path string) KeyPart { return KeyPart{Path: path} }

// Desc builds a descending KeyPart for path.
func Desc(path string) KeyPart { return KeyPart{Path: path, Desc: true} }

// HashedPart builds a hashed KeyPart for path. Hashed fields support only
// equality lookups — the hash deliberately does not preserve order, so a
// hashed field can never appear in a range bound.
func HashedPart(path string) KeyPart { return KeyPart{Path: path, Hashed: true} }

// EncodeKeys renders every index key doc contributes for pattern, fanning
// out over array-valued fields to produce one key per combination. It
// reports multikey=true if any field in pattern is array-valued in doc,
// and returns a CannotIndexParallelArrays error if more than one field is.
func EncodeKeys(pattern []KeyPart, doc *Document) (keys [][]byte, multikey bool, err error) {
	perField := make([][]Value, len(pattern))
	arrayFields := 0

	for i, kp := range pattern {
		vals, sawArray := ExpandPath(doc, kp.Path)
		// A path that ends on an array contributes one key per element;
		// an empty array indexes as Null.
		var flat []Value
		for _, v := range vals {
			arr, isArr := v.AsArray()
			if !isArr {
				flat = append(flat, v)
				continue
			}
			sawArray = true
			if len(arr) == 0 {
				flat = append(flat, Null())
			}
			flat = append(flat, arr...)
		}
		vals = flat
		if len(vals) == 0 {
			vals = []Value{Null()}
		}
		perField[i] = vals
		if sawArray {
			arrayFields++
		}
	}

	if arrayFields > 1 {
		return nil, false, dberr.New(dberr.KindCannotIndexParallelArrays,
			"cannot index parallel arrays: more than one indexed field is array-valued in this document").
			WithDetail("pattern", patternPaths(pattern))
	}
	multikey = arrayFields == 1

	combos := cartesian(perField)
	keys = make([][]byte, 0, len(combos))
	for _, combo := range combos {
		var buf bytes.Buffer
		for i, v := range combo {
			encodeField(&buf, v, pattern[i])
		}
		keys = append(keys, buf.Bytes())
	}
	return keys, multikey, nil
}

// EncodeValues renders a single comparable key from already-resolved scalar
// values (as opposed to EncodeKeys, which resolves paths against a
// document and fans out over arrays). internal/pipeline's SortKeyGenerator
// uses this: it has already picked one representative value per sort
// field, so there is no fan-out or parallel-array case left to detect.
func EncodeValues(vals []Value, desc []bool) []byte {
	var buf bytes.Buffer
	for i, v := range vals {
		d := false
		if i < len(desc) {
			d = desc[i]
		}
		encodeField(&buf, v, KeyPart{Desc: d})
	}
	return buf.Bytes()
}

func patternPaths(pattern []KeyPart) []string {
	paths := make([]string, len(pattern))
	for i, kp := range pattern {
		paths[i] = kp.Path
	}
	return paths
}

// cartesian returns the cross product of lists, preserving the order of
// lists[0] as the outermost axis. In practice at most one list has length
// greater than one (EncodeKeys rejects the parallel-array case), so this is
// almost always a simple 1:1 fan-out rather than a true combinatorial blow-up.
func cartesian(lists [][]Value) [][]Value {
	if len(lists) == 0 {
		return [][]Value{{}}
	}
	rest := cartesian(lists[1:])
	out := make([][]Value, 0, len(lists[0])*len(rest))
	for _, v := range lists[0] {
		for _, r := range rest {
			combo := make([]Value, 0, len(r)+1)
			combo = append(combo, v)
			combo = append(combo, r...)
			out = append(out, combo)
		}
	}
	return out
}

// encodeField appends v's order-preserving encoding to buf, honoring kp's
// direction and hashing.
func encodeField(buf *bytes.Buffer, v Value, kp KeyPart) {
	start := buf.Len()

	if kp.Hashed {
		var raw bytes.Buffer
		encodeValue(&raw, v, nil)
		h := xxh3.Hash(raw.Bytes())
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], h)
		buf.Write(b[:])
		return
	}

	encodeValue(buf, v, kp.Collation)

	if kp.Desc {
		invertTail(buf, start)
	}
}

func invertTail(buf *bytes.Buffer, from int) {
	b := buf.Bytes()
	for i := from; i < len(b); i++ {
		b[i] = ^b[i]
	}
}

// encodeValue writes v's self-delimiting, order-preserving byte encoding.
// Concatenating the encodings of several values (as EncodeKeys does for a
// compound key) yields bytes that compare correctly field-by-field because
// every encoding either has a fixed width or carries an explicit
// length/terminator.
func encodeValue(buf *bytes.Buffer, v Value, collation Collation) {
	buf.WriteByte(byte(typeRank(v.Kind)))

	switch v.Kind {
	case KindMinKey, KindNull, KindMaxKey:
		// no payload: the type tag alone fully orders these.
	case KindInt32, KindInt64, KindDouble, KindDecimal128:
		writeOrderedFloat64(buf, v.num)
	case KindString:
		writeOrderedString(buf, v.str, collation)
	case KindDocument:
		doc, _ := v.AsDocument()
		writeUint32(buf, uint32(len(doc.Fields)))
		for _, f := range doc.Fields {
			writeEscapedTerminated(buf, f.Name)
			encodeValue(buf, f.Value, collation)
		}
	case KindArray:
		arr, _ := v.AsArray()
		writeUint32(buf, uint32(len(arr)))
		for _, elem := range arr {
			encodeValue(buf, elem, collation)
		}
	case KindBinary:
		b, _ := v.AsBinary()
		writeUint32(buf, uint32(len(b)))
		buf.Write(b)
	case KindObjectID:
		oid, _ := v.AsObjectID()
		buf.Write(oid[:])
	case KindBoolean:
		b, _ := v.AsBool()
		if b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case KindDate:
		t, _ := v.AsDate()
		writeOrderedInt64(buf, t.UnixNano())
	case KindRegex:
		r, _ := v.AsRegex()
		writeEscapedTerminated(buf, r.Pattern)
		writeEscapedTerminated(buf, r.Options)
	}
}

// writeOrderedFloat64 writes f as 8 bytes whose big-endian unsigned order
// matches f's numeric order — the standard IEEE-754 order-preserving
// transform: flip the sign bit for non-negative numbers, flip every bit for
// negative numbers.
func writeOrderedFloat64(buf *bytes.Buffer, f float64) {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], bits)
	buf.Write(b[:])
}

// writeOrderedInt64 applies the same sign-flip transform as
// writeOrderedFloat64 but for a plain two's-complement integer: flipping
// the top bit turns signed comparison into unsigned byte comparison.
func writeOrderedInt64(buf *bytes.Buffer, n int64) {
	u := uint64(n) ^ (1 << 63)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], u)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, n uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	buf.Write(b[:])
}

// writeOrderedString encodes s for use inside a compound key. Under the
// default (simple, nil) collation it writes escaped-and-terminated raw
// bytes so plain byte comparison reproduces string order. Under a
// collation, it writes the collation's sort key length-prefixed — the sort
// key need not be escapable, since its own byte order already encodes
// comparison order and the length prefix alone delimits it unambiguously.
func writeOrderedString(buf *bytes.Buffer, s string, collation Collation) {
	if collation == nil {
		writeEscapedTerminated(buf, s)
		return
	}
	key := collation.SortKey(s)
	writeUint32(buf, uint32(len(key)))
	buf.Write(key)
}

// writeEscapedTerminated writes s such that any embedded 0x00 byte is
// escaped as 0x00 0xFF, then appends a 0x00 0x00 terminator. This keeps
// byte-lexicographic order equal to string order while still letting the
// decoder (and, more importantly, the comparator) find the end of the
// field without a length prefix — "ab" sorts before "abc" exactly as a
// prefix relationship should.
func writeEscapedTerminated(buf *bytes.Buffer, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == 0x00 {
			buf.WriteByte(0x00)
			buf.WriteByte(0xFF)
			continue
		}
		buf.WriteByte(c)
	}
	buf.WriteByte(0x00)
	buf.WriteByte(0x00)
}
