package queryexpr

import "github.com/dreamware/docbase/internal/bsonkit"

// SimplifiedQuery rebuilds a canonical predicate document from bounds,
// restricted to the fields named in projection (or every field in bounds if
// projection is empty). names two consumers: the replication
// change-stream emitter (re-deriving a filter to match against new writes)
// and covered-projection planning.
func SimplifiedQuery(bounds FieldBoundSet, projection []string) *bsonkit.Document {
	fields := projection
	if len(fields) == 0 {
		fields = make([]string, 0, len(bounds))
		for path := range bounds {
			fields = append(fields, path)
		}
	}

	doc := &bsonkit.Document{}
	for _, path := range fields {
		b, ok := bounds[path]
		if !ok {
			continue
		}
		doc.Fields = append(doc.Fields, bsonkit.F(path, simplifiedConstraint(b)))
	}
	return doc
}

func simplifiedConstraint(b *FieldBound) bsonkit.Value {
	if b.isEquality() {
		return b.Lower
	}

	var ops []bsonkit.Field
	if b.hasLower() {
		name := "$gte"
		if !b.LowerInclusive {
			name = "$gt"
		}
		ops = append(ops, bsonkit.F(name, b.Lower))
	}
	if b.hasUpper() {
		name := "$lte"
		if !b.UpperInclusive {
			name = "$lt"
		}
		ops = append(ops, bsonkit.F(name, b.Upper))
	}
	if len(ops) == 0 {
		// Fully unconstrained (Nontrivial): match the original semantics of
		// "no restriction on this field" with an always-true bracket.
		return bsonkit.Doc(bsonkit.NewDocument(bsonkit.F("$gte", bsonkit.MinKey())))
	}
	return bsonkit.Doc(bsonkit.NewDocument(ops...))
}
