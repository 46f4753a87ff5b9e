package wire

import (
	"fmt"
	"sort"

	"github.com/dreamware/docbase/internal/bsonkit"
)

// ToDocument builds a bsonkit.Document from a JSON-decoded Doc. Field order
// is not preserved by encoding/json's map, so ToDocument sorts field names
// for determinism — index key encoding only cares about named paths, not
// declaration order, so this is harmless beyond making output reproducible.
func ToDocument(d Doc) (*bsonkit.Document, error) {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]bsonkit.Field, 0, len(d))
	for _, name := range names {
		v, err := toValue(d[name])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		fields = append(fields, bsonkit.F(name, v))
	}
	return bsonkit.NewDocument(fields...), nil
}

func toValue(raw any) (bsonkit.Value, error) {
	switch v := raw.(type) {
	case nil:
		return bsonkit.Null(), nil
	case bool:
		return bsonkit.Bool(v), nil
	case string:
		return bsonkit.String(v), nil
	case float64:
		// encoding/json decodes every JSON number as float64; a document
		// round-tripped through ToDocument/FromDocument therefore widens
		// int32/int64 to double, which is acceptable for a client-facing
		// envelope that never feeds the index codec's type-rank ordering
		// directly (callers needing exact integer width go through the
		// internal bsonkit constructors, not this edge).
		return bsonkit.Double(v), nil
	case map[string]any:
		doc, err := ToDocument(Doc(v))
		if err != nil {
			return bsonkit.Value{}, err
		}
		return bsonkit.Doc(doc), nil
	case []any:
		vals := make([]bsonkit.Value, len(v))
		for i, e := range v {
			ev, err := toValue(e)
			if err != nil {
				return bsonkit.Value{}, err
			}
			vals[i] = ev
		}
		return bsonkit.Array(vals), nil
	default:
		return bsonkit.Value{}, fmt.Errorf("unsupported JSON value type %T", raw)
	}
}

// FromDocument converts a bsonkit.Document back into a JSON-friendly Doc.
func FromDocument(doc *bsonkit.Document) Doc {
	out := make(Doc, len(doc.Fields))
	for _, f := range doc.Fields {
		out[f.Name] = fromValue(f.Value)
	}
	return out
}

func fromValue(v bsonkit.Value) any {
	if n, ok := v.AsNumber(); ok {
		return n
	}
	if s, ok := v.AsString(); ok {
		return s
	}
	if b, ok := v.AsBool(); ok {
		return b
	}
	if sub, ok := v.AsDocument(); ok {
		return FromDocument(sub)
	}
	if arr, ok := v.AsArray(); ok {
		out := make([]any, len(arr))
		for i, e := range arr {
			out[i] = fromValue(e)
		}
		return out
	}
	return nil
}
