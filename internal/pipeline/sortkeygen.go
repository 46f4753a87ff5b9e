package pipeline

import (
	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/dberr"
	"github.com/dreamware/docbase/internal/opctx"
)

// SortField is one field of a sort pattern.
type SortField struct {
	Path string
	Desc bool
}

// SortKeyGenerator synthesizes a comparable Row.Key per Pattern for each
// document. Arrays on a sort field behave as the index codec
// would: the least element wins for an ascending field, the greatest for a
// descending one. More than one array-valued sort field in the same
// document fails CannotSortParallelArrays, the sort-side analogue of the
// codec's CannotIndexParallelArrays.
type SortKeyGenerator struct {
	child   Stage
	pattern []SortField
	stats   Stats
}

// NewSortKeyGenerator wraps child, computing a sort key per pattern for
// every row it produces.
func NewSortKeyGenerator(child Stage, pattern []SortField) *SortKeyGenerator {
	return &SortKeyGenerator{child: child, pattern: pattern}
}

func (s *SortKeyGenerator) GetNext(oc *opctx.OperationContext) (Row, StageResult, error) {
	row, result, err := s.child.GetNext(oc)
	if result != Advanced || err != nil {
		bump(&s.stats, false)
		return row, result, err
	}
	key, err := ComputeSortKey(row.Doc, s.pattern, row.Meta)
	if err != nil {
		return Row{}, Paused, err
	}
	row.Key = key
	bump(&s.stats, true)
	return row, Advanced, nil
}

func (s *SortKeyGenerator) SaveState() error    { return s.child.SaveState() }
func (s *SortKeyGenerator) RestoreState() error { return s.child.RestoreState() }
func (s *SortKeyGenerator) Stats() Stats        { return s.stats }

// ComputeSortKey picks one representative value per pattern field from doc
// — resolving $meta references against meta first — and encodes them into
// one comparable key via bsonkit.EncodeValues.
func ComputeSortKey(doc *bsonkit.Document, pattern []SortField, meta map[string]bsonkit.Value) ([]byte, error) {
	vals := make([]bsonkit.Value, len(pattern))
	desc := make([]bool, len(pattern))
	arrayFields := 0

	for i, f := range pattern {
		desc[i] = f.Desc
		if v, ok := metaValue(f.Path, meta); ok {
			vals[i] = v
			continue
		}

		expanded, sawArray := bsonkit.ExpandPath(doc, f.Path)
		var flat []bsonkit.Value
		for _, v := range expanded {
			if arr, ok := v.AsArray(); ok {
				sawArray = true
				flat = append(flat, arr...)
				continue
			}
			flat = append(flat, v)
		}
		if sawArray {
			arrayFields++
		}
		vals[i] = pickRepresentative(flat, f.Desc)
	}

	if arrayFields > 1 {
		return nil, dberr.New(dberr.KindCannotSortParallelArrays,
			"cannot sort on parallel arrays: more than one sort field is array-valued in this document")
	}
	return bsonkit.EncodeValues(vals, desc), nil
}

func metaValue(path string, meta map[string]bsonkit.Value) (bsonkit.Value, bool) {
	const prefix = "$meta:"
	if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
		return bsonkit.Value{}, false
	}
	v, ok := meta[path[len(prefix):]]
	return v, ok
}

func pickRepresentative(vals []bsonkit.Value, desc bool) bsonkit.Value {
	if len(vals) == 0 {
		return bsonkit.Null()
	}
	chosen := vals[0]
	for _, v := range vals[1:] {
		c := bsonkit.Compare(v, chosen)
		if desc && c > 0 {
			chosen = v
		} else if !desc && c < 0 {
			chosen = v
		}
	}
	return chosen
}
