package planner

import (
	"container/heap"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/dreamware/docbase/internal/opctx"
	"github.com/dreamware/docbase/internal/pipeline"
)

// orStage unions one subplan per $or disjunct via a k-way merge keyed on
// RecordId, so the output stays globally RecordId-ordered the same way a
// single index scan is, then drops duplicates a later branch re-surfaces
// with a roaring bitmap. RecordIds are dense, monotonically-assigned
// 64-bit integers (internal/storageengine), exactly the shape a roaring
// bitmap compresses well — picked over a plain map[RecordId]struct{} for
// that reason.
type orStage struct {
	branches []pipeline.Stage
	seen     *roaring64.Bitmap
	heap     orMergeHeap

	fillIdx int          // branches not yet given their first heap entry
	pending *orMergeItem // popped from the heap, awaiting its branch's next row
	stats   pipeline.Stats
}

func newOrStage(branches []pipeline.Stage) *orStage {
	return &orStage{branches: branches, seen: roaring64.New()}
}

func (s *orStage) GetNext(oc *opctx.OperationContext) (pipeline.Row, pipeline.StageResult, error) {
	for {
		if err := oc.CheckForInterrupt(); err != nil {
			return pipeline.Row{}, pipeline.Paused, err
		}

		if s.fillIdx < len(s.branches) {
			row, result, err := s.branches[s.fillIdx].GetNext(oc)
			if err != nil {
				return pipeline.Row{}, pipeline.Paused, err
			}
			if result == pipeline.Paused {
				s.bump(false)
				return pipeline.Row{}, pipeline.Paused, nil
			}
			if result == pipeline.EOF {
				s.fillIdx++
				continue
			}
			heap.Push(&s.heap, orMergeItem{row: row, branch: s.fillIdx})
			s.fillIdx++
			continue
		}

		if s.pending == nil {
			if s.heap.Len() == 0 {
				s.bump(false)
				return pipeline.Row{}, pipeline.EOF, nil
			}
			item := heap.Pop(&s.heap).(orMergeItem)
			s.pending = &item
		}

		row, result, err := s.branches[s.pending.branch].GetNext(oc)
		if err != nil {
			return pipeline.Row{}, pipeline.Paused, err
		}
		if result == pipeline.Paused {
			s.bump(false)
			return pipeline.Row{}, pipeline.Paused, nil
		}
		if result == pipeline.Advanced {
			heap.Push(&s.heap, orMergeItem{row: row, branch: s.pending.branch})
		}

		out := s.pending.row
		s.pending = nil
		if !s.seen.CheckedAdd(uint64(out.RecordId)) {
			s.bump(false) // already seen from an earlier branch
			continue
		}
		s.bump(true)
		return out, pipeline.Advanced, nil
	}
}

func (s *orStage) bump(advanced bool) {
	s.stats.Works++
	if advanced {
		s.stats.Advances++
	}
}

func (s *orStage) SaveState() error {
	for _, b := range s.branches {
		if err := b.SaveState(); err != nil {
			return err
		}
	}
	return nil
}

func (s *orStage) RestoreState() error {
	for _, b := range s.branches {
		if err := b.RestoreState(); err != nil {
			return err
		}
	}
	return nil
}

func (s *orStage) Stats() pipeline.Stats { return s.stats }

type orMergeItem struct {
	row    pipeline.Row
	branch int
}

type orMergeHeap []orMergeItem

func (h orMergeHeap) Len() int           { return len(h) }
func (h orMergeHeap) Less(i, j int) bool { return h[i].row.RecordId < h[j].row.RecordId }
func (h orMergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *orMergeHeap) Push(x interface{}) { *h = append(*h, x.(orMergeItem)) }
func (h *orMergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
