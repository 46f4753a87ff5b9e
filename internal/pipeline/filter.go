package pipeline

import (
	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/opctx"
)

// Predicate evaluates a residual condition against a materialized document
// — whatever internal/queryexpr could not push into index bounds.
type Predicate func(doc *bsonkit.Document) bool

// Filter evaluates pred against every child row, dropping non-matches.
type Filter struct {
	child Stage
	pred  Predicate
	stats Stats
}

// NewFilter wraps child, applying pred to every row it produces.
func NewFilter(child Stage, pred Predicate) *Filter {
	return &Filter{child: child, pred: pred}
}

func (s *Filter) GetNext(oc *opctx.OperationContext) (Row, StageResult, error) {
	for {
		if err := oc.CheckForInterrupt(); err != nil {
			return Row{}, Paused, err
		}
		row, result, err := s.child.GetNext(oc)
		if result != Advanced || err != nil {
			bump(&s.stats, false)
			return row, result, err
		}
		if s.pred == nil || s.pred(row.Doc) {
			bump(&s.stats, true)
			return row, Advanced, nil
		}
		bump(&s.stats, false)
	}
}

func (s *Filter) SaveState() error    { return s.child.SaveState() }
func (s *Filter) RestoreState() error { return s.child.RestoreState() }
func (s *Filter) Stats() Stats        { return s.stats }
