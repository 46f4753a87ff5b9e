package bsonkit

import (
	"bytes"
	"encoding/gob"
	"time"
)

// wireValue is an exported mirror of Value used only to round-trip through
// encoding/gob, since Value's fields are deliberately unexported to keep
// construction going through the typed constructors. This is the format
// internal/pipeline's Sort stage spills to when a run exceeds its memory
// budget — it needs the actual document back, not just a comparable key.
type wireValue struct {
	Kind  Kind
	Num   float64
	Str   string
	Doc   *wireDocument
	Arr   []wireValue
	Bin   []byte
	OID   ObjectID
	B     bool
	T     time.Time
	Regex RegexPattern
}

type wireDocument struct {
	Fields []wireField
}

type wireField struct {
	Name  string
	Value wireValue
}

func toWireValue(v Value) wireValue {
	w := wireValue{Kind: v.Kind, Num: v.num, Str: v.str, Bin: v.bin, OID: v.oid, B: v.b, T: v.t, Regex: v.regex}
	if v.doc != nil {
		w.Doc = toWireDocument(v.doc)
	}
	if v.arr != nil {
		w.Arr = make([]wireValue, len(v.arr))
		for i, e := range v.arr {
			w.Arr[i] = toWireValue(e)
		}
	}
	return w
}

func fromWireValue(w wireValue) Value {
	v := Value{Kind: w.Kind, num: w.Num, str: w.Str, bin: w.Bin, oid: w.OID, b: w.B, t: w.T, regex: w.Regex}
	if w.Doc != nil {
		v.doc = fromWireDocument(w.Doc)
	}
	if w.Arr != nil {
		v.arr = make([]Value, len(w.Arr))
		for i, e := range w.Arr {
			v.arr[i] = fromWireValue(e)
		}
	}
	return v
}

func toWireDocument(d *Document) *wireDocument {
	w := &wireDocument{Fields: make([]wireField, len(d.Fields))}
	for i, f := range d.Fields {
		w.Fields[i] = wireField{Name: f.Name, Value: toWireValue(f.Value)}
	}
	return w
}

func fromWireDocument(w *wireDocument) *Document {
	d := &Document{Fields: make([]Field, len(w.Fields))}
	for i, f := range w.Fields {
		d.Fields[i] = Field{Name: f.Name, Value: fromWireValue(f.Value)}
	}
	return d
}

// Marshal serializes doc to bytes that Unmarshal can reconstruct exactly.
// Unlike the index key codec, this round-trips every type without loss —
// it exists for spilling sort runs and other internal transport, not for
// ordering.
func Marshal(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(toWireDocument(doc)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal reconstructs a Document previously produced by Marshal.
func Unmarshal(b []byte) (*Document, error) {
	var w wireDocument
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&w); err != nil {
		return nil, err
	}
	return fromWireDocument(&w), nil
}
