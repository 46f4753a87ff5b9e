package bsonkit

import "strings"

// Field is one name/value pair in a Document. Documents preserve field
// order as inserted, the way a driver-facing document always must, since
// field order is itself observable (e.g. it is part of what makes two
// documents byte-identical on the wire).
type Field struct {
	Name  string
	Value Value
}

// Document is an ordered collection of fields. It is the self-describing
// unit calls a "document": no external schema, compared and
// indexed purely from what it declares about itself.
type Document struct {
	Fields []Field
}

// NewDocument builds a Document from the given fields, in order.
func NewDocument(fields ...Field) *Document {
	return &Document{Fields: fields}
}

// F is a convenience constructor for a Field.
func F(name string, v Value) Field {
	return Field{Name: name, Value: v}
}

// Get returns the value of the top-level field named name.
func (d *Document) Get(name string) (Value, bool) {
	if d == nil {
		return Value{}, false
	}
	for _, f := range d.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// ExpandPath resolves a dotted path (e.g. "a.b.c") against d, fanning out
// across any array met before the last path component — the traversal the
// ordered key codec (codec.go), the sort-key generator and the planner's
// residual filter rely on to implement "dotted paths implicitly reach into
// arrays." The value the last component reaches is returned as is, even
// when it is an array; the key codec and the sort-key generator expand such
// an array into its elements themselves.
//
// It returns every value the path resolves to and whether an array was
// traversed to get there (sawArray); sawArray stays false when only the
// final value is an array.
// A path that resolves to nothing returns a single Null value, matching the
// "missing field sorts as Null" rule used throughout comparisons and index
// keys.
func ExpandPath(root *Document, path string) (values []Value, sawArray bool) {
	parts := strings.Split(path, ".")
	cur := []Value{Doc(root)}

	for _, part := range parts {
		var next []Value
		for _, v := range cur {
			switch v.Kind {
			case KindDocument:
				doc, _ := v.AsDocument()
				fv, ok := doc.Get(part)
				if !ok {
					next = append(next, Null())
					continue
				}
				next = append(next, fv)
			case KindArray:
				sawArray = true
				arr, _ := v.AsArray()
				// A numeric path component indexes into the array
				// directly; otherwise the remaining path is applied to
				// every element (the classic dotted-path-through-array
				// fan-out).
				if idx, ok := arrayIndex(part); ok {
					if idx >= 0 && idx < len(arr) {
						next = append(next, arr[idx])
					} else {
						next = append(next, Null())
					}
					continue
				}
				if len(arr) == 0 {
					next = append(next, Null())
					continue
				}
				for _, elem := range arr {
					if elem.Kind == KindDocument {
						doc, _ := elem.AsDocument()
						if fv, ok := doc.Get(part); ok {
							next = append(next, fv)
							continue
						}
					}
					next = append(next, Null())
				}
			default:
				next = append(next, Null())
			}
		}
		cur = next
	}
	return cur, sawArray
}

func arrayIndex(part string) (int, bool) {
	if part == "" {
		return 0, false
	}
	n := 0
	for _, r := range part {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
