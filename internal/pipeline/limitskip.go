package pipeline

import "github.com/dreamware/docbase/internal/opctx"

// Skip drops the first n rows from child, passing the rest through
// untouched.
type Skip struct {
	child   Stage
	n       uint64
	skipped uint64
	stats   Stats
}

// NewSkip wraps child, discarding its first n rows.
func NewSkip(child Stage, n uint64) *Skip { return &Skip{child: child, n: n} }

func (s *Skip) GetNext(oc *opctx.OperationContext) (Row, StageResult, error) {
	for s.skipped < s.n {
		row, result, err := s.child.GetNext(oc)
		if result != Advanced || err != nil {
			bump(&s.stats, false)
			return row, result, err
		}
		s.skipped++
	}
	row, result, err := s.child.GetNext(oc)
	bump(&s.stats, result == Advanced)
	return row, result, err
}

func (s *Skip) SaveState() error    { return s.child.SaveState() }
func (s *Skip) RestoreState() error { return s.child.RestoreState() }
func (s *Skip) Stats() Stats        { return s.stats }

// Limit caps child's output at n rows.
type Limit struct {
	child   Stage
	n       uint64
	emitted uint64
	stats   Stats
}

// NewLimit wraps child, emitting at most n rows before reporting EOF.
func NewLimit(child Stage, n uint64) *Limit { return &Limit{child: child, n: n} }

func (s *Limit) GetNext(oc *opctx.OperationContext) (Row, StageResult, error) {
	if s.emitted >= s.n {
		bump(&s.stats, false)
		return Row{}, EOF, nil
	}
	row, result, err := s.child.GetNext(oc)
	if result == Advanced {
		s.emitted++
	}
	bump(&s.stats, result == Advanced)
	return row, result, err
}

func (s *Limit) SaveState() error    { return s.child.SaveState() }
func (s *Limit) RestoreState() error { return s.child.RestoreState() }
func (s *Limit) Stats() Stats        { return s.stats }
