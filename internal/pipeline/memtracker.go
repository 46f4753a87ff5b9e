package pipeline

import (
	"sync"

	"github.com/c2h5oh/datasize"

	"github.com/dreamware/docbase/internal/dberr"
)

// MemoryTracker is a hierarchical memory budget: Group and Sort each
// reserve memory through the tracker they are given. A tracker made with
// Child charges every reservation against its parent chain as well, so a
// runaway stage can be capped by an operation-wide budget, not just its
// own; a tracker made with NewRootTracker has no parent and is capped only
// by its own limit.
type MemoryTracker struct {
	mu     sync.Mutex
	limit  uint64
	used   uint64
	peak   uint64
	parent *MemoryTracker
}

// NewRootTracker creates a top-level tracker with the given budget.
func NewRootTracker(limit datasize.ByteSize) *MemoryTracker {
	return &MemoryTracker{limit: uint64(limit)}
}

// Child creates a tracker scoped to limit, charged against t on every
// reservation in addition to its own budget.
func (t *MemoryTracker) Child(limit datasize.ByteSize) *MemoryTracker {
	return &MemoryTracker{limit: uint64(limit), parent: t}
}

// Token represents a live memory reservation. Release must be called
// exactly once to return the memory to its tracker (and, transitively, to
// every ancestor tracker it was charged against).
type Token struct {
	tracker *MemoryTracker
	amount  uint64
	parent  *Token
}

// Reserve charges n bytes against t and every ancestor tracker, failing
// with OutOfMemory if any tracker in the chain would exceed
// its budget. On failure nothing is charged anywhere (all-or-nothing,
// mirroring the all-or-nothing commit semantics used elsewhere).
func (t *MemoryTracker) Reserve(n uint64) (*Token, error) {
	if t.parent != nil {
		parentTok, err := t.parent.Reserve(n)
		if err != nil {
			return nil, err
		}
		tok, err := t.reserveLocal(n)
		if err != nil {
			parentTok.Release()
			return nil, err
		}
		tok.parent = parentTok
		return tok, nil
	}
	return t.reserveLocal(n)
}

func (t *MemoryTracker) reserveLocal(n uint64) (*Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.used+n > t.limit {
		return nil, dberr.New(dberr.KindOutOfMemory, "memory tracker budget exceeded").
			WithDetail("limit", t.limit).WithDetail("used", t.used).WithDetail("requested", n)
	}
	t.used += n
	if t.used > t.peak {
		t.peak = t.used
	}
	return &Token{tracker: t, amount: n}, nil
}

// Release returns the token's reservation to its tracker chain. Safe to
// call once; a second call is a no-op.
func (tok *Token) Release() {
	if tok == nil || tok.tracker == nil {
		return
	}
	tok.tracker.mu.Lock()
	tok.tracker.used -= tok.amount
	tok.tracker.mu.Unlock()
	tok.tracker = nil
	if tok.parent != nil {
		tok.parent.Release()
	}
}

// Used returns the tracker's current local usage, for tests and stats.
func (t *MemoryTracker) Used() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

// Peak returns the tracker's lifetime-maximum local usage, for post-query
// stats. It never decreases, even after Release brings Used back down.
func (t *MemoryTracker) Peak() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peak
}
