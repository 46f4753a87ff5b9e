package btreeindex

import (
	"bytes"
	"context"

	"go.uber.org/zap"

	"github.com/tidwall/btree"

	"github.com/dreamware/docbase/internal/dberr"
	"github.com/dreamware/docbase/internal/storageengine"
)

// Direction is the cursor's scan direction: +1 ascending, -1 descending.
type Direction int8

const (
	Forward  Direction = 1
	Backward Direction = -1
)

// BoundsIterator drives a cursor across a vector of disjoint key intervals
// (a compiled FieldBoundSet reduced to ranges, driven by an
// interval-vector object). When the cursor's current key falls past the
// active interval, the cursor calls Advance and, if it returns true,
// re-descends the tree to SeekHint rather than walking linearly past the
// gap.
type BoundsIterator interface {
	// Current returns the active interval. ok is false once exhausted.
	Current() (lo, hi []byte, hiInclusive bool, ok bool)
	// Advance moves to the next interval. Returns false when no interval
	// remains.
	Advance() bool
	// SeekHint is the key the cursor should re-descend to after Advance.
	SeekHint() []byte
}

// SavedState is the (key, recordId) a cursor remembers across a yield
// point, per saveState/restoreState contract.
type SavedState struct {
	Key      []byte
	RecordId storageengine.RecordId
	valid    bool
}

// Cursor is a stateful iterator over one Index. It is not safe for
// concurrent use.
type Cursor struct {
	idx    *Index
	dir    Direction
	iter   btree.IterG[Entry]
	log    *zap.Logger

	endKey       []byte
	inclusiveEnd bool
	bounds       BoundsIterator

	cur Entry
	eof bool

	consecutiveSkipped int
}

// Open positions a cursor at the first live entry at-or-past startKey in
// direction, honoring endKey/inclusiveEnd (first open
// overload). log may be nil.
func Open(ctx context.Context, idx *Index, startKey, endKey []byte, inclusiveEnd bool, dir Direction, log *zap.Logger) (*Cursor, error) {
	if !idx.Version.valid() {
		return nil, dberr.New(dberr.KindUnsupportedIndexVersion, "unsupported index version").WithDetail("index", idx.Name)
	}
	c := &Cursor{idx: idx, dir: dir, iter: idx.tree.Iter(), log: log, endKey: endKey, inclusiveEnd: inclusiveEnd}
	c.seekStart(startKey)
	if err := c.advancePastUnused(ctx); err != nil {
		return nil, err
	}
	c.checkEnd()
	return c, nil
}

// OpenWithBounds positions a cursor driven by a BoundsIterator instead of a
// fixed [startKey, endKey) range.
func OpenWithBounds(ctx context.Context, idx *Index, bounds BoundsIterator, dir Direction, log *zap.Logger) (*Cursor, error) {
	if !idx.Version.valid() {
		return nil, dberr.New(dberr.KindUnsupportedIndexVersion, "unsupported index version").WithDetail("index", idx.Name)
	}
	lo, hi, hiIncl, ok := bounds.Current()
	if !ok {
		return &Cursor{idx: idx, dir: dir, iter: idx.tree.Iter(), log: log, bounds: bounds, eof: true}, nil
	}
	c := &Cursor{idx: idx, dir: dir, iter: idx.tree.Iter(), log: log, bounds: bounds, endKey: hi, inclusiveEnd: hiIncl}
	c.seekStart(lo)
	if err := c.advancePastUnused(ctx); err != nil {
		return nil, err
	}
	c.checkEndWithBounds(ctx)
	return c, nil
}

func (c *Cursor) seekStart(key []byte) {
	if c.dir == Forward {
		if key == nil {
			if !c.iter.First() {
				c.eof = true
				return
			}
		} else if !c.iter.Seek(Entry{Key: key}) {
			c.eof = true
			return
		}
	} else {
		if key == nil {
			if !c.iter.Last() {
				c.eof = true
				return
			}
		} else if !seekReverse(&c.iter, key) {
			c.eof = true
			return
		}
	}
	c.cur = c.iter.Item()
}

// seekReverse positions iter at the last entry with Key <= key, which
// tidwall/btree's forward Seek doesn't give directly: seek forward to the
// first entry >= key, then step back one if it overshot.
func seekReverse(iter *btree.IterG[Entry], key []byte) bool {
	if iter.Seek(Entry{Key: key}) {
		if bytes.Equal(iter.Item().Key, key) {
			return true
		}
		return iter.Prev()
	}
	return iter.Last()
}

// CurrentKey returns the entry's key at the cursor's position. Invalid
// unless !Eof().
func (c *Cursor) CurrentKey() []byte { return c.cur.Key }

// CurrentRecordId returns the entry's RecordId at the cursor's position.
// Invalid unless !Eof().
func (c *Cursor) CurrentRecordId() storageengine.RecordId { return c.cur.RecordId }

// Eof reports whether the cursor has no more entries.
func (c *Cursor) Eof() bool { return c.eof }

// Close releases the cursor's underlying tree iterator. Safe to call more
// than once.
func (c *Cursor) Close() { c.iter.Release() }

// Advance moves the cursor one live entry forward (per Direction) and
// returns the new Eof state. It checks ctx for cancellation before
// stepping and again before each tombstoned entry it skips, returning
// Interrupted if it was canceled.
func (c *Cursor) Advance(ctx context.Context) (bool, error) {
	if c.eof {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return c.eof, dberr.Wrap(err, dberr.KindInterrupted, "cursor advance canceled")
	}

	if !c.step() {
		c.eof = true
		return true, nil
	}
	if err := c.advancePastUnused(ctx); err != nil {
		return c.eof, err
	}
	if c.bounds != nil {
		c.checkEndWithBounds(ctx)
	} else {
		c.checkEnd()
	}
	return c.eof, nil
}

func (c *Cursor) step() bool {
	if c.dir == Forward {
		if !c.iter.Next() {
			return false
		}
	} else {
		if !c.iter.Prev() {
			return false
		}
	}
	c.cur = c.iter.Item()
	return true
}

// advancePastUnused skips tombstoned entries (skipUnusedKeys) without
// counting them as scanned, warning once a run exceeds 10 consecutive
// skips.
func (c *Cursor) advancePastUnused(ctx context.Context) error {
	for !c.eof && c.cur.Unused {
		if err := ctx.Err(); err != nil {
			return dberr.Wrap(err, dberr.KindInterrupted, "cursor advance canceled")
		}
		c.consecutiveSkipped++
		if c.consecutiveSkipped == 11 && c.log != nil {
			c.log.Warn("btreeindex: skipped more than 10 consecutive unused keys",
				zap.String("index", c.idx.Name))
		}
		if !c.step() {
			c.eof = true
			return nil
		}
	}
	if !c.cur.Unused {
		c.consecutiveSkipped = 0
	}
	return nil
}

// checkEnd implements the fixed [startKey,endKey) end-of-range test.
func (c *Cursor) checkEnd() {
	if c.eof || c.endKey == nil {
		return
	}
	cmp := bytes.Compare(c.cur.Key, c.endKey)
	switch c.dir {
	case Forward:
		if cmp > 0 || (cmp == 0 && !c.inclusiveEnd) {
			c.eof = true
		}
	default:
		if cmp < 0 {
			c.eof = true
		}
	}
}

// checkEndWithBounds interleaves end-of-interval detection with the bounds
// iterator: when the current key runs past the active interval, it asks the
// iterator to advance and, if another interval remains, re-descends the
// tree to SeekHint (advanceTo) instead of walking linearly through the gap.
func (c *Cursor) checkEndWithBounds(ctx context.Context) {
	for !c.eof {
		if c.endKey == nil {
			return
		}
		cmp := bytes.Compare(c.cur.Key, c.endKey)
		past := cmp > 0 || (cmp == 0 && !c.inclusiveEnd)
		if c.dir == Backward {
			past = cmp < 0
		}
		if !past {
			return
		}
		if !c.bounds.Advance() {
			c.eof = true
			return
		}
		lo, hi, hiIncl, ok := c.bounds.Current()
		if !ok {
			c.eof = true
			return
		}
		c.endKey, c.inclusiveEnd = hi, hiIncl
		hint := c.bounds.SeekHint()
		if hint == nil {
			hint = lo
		}
		c.seekStart(hint)
		if c.eof {
			return
		}
		if err := c.advancePastUnused(ctx); err != nil {
			c.eof = true
			return
		}
	}
}

// SaveState captures the cursor's position by value.
func (c *Cursor) SaveState() SavedState {
	if c.eof {
		return SavedState{}
	}
	return SavedState{Key: append([]byte(nil), c.cur.Key...), RecordId: c.cur.RecordId, valid: true}
}

// RestoreState resumes at a previously saved position: if the exact (key,
// recordId) entry is still present it resumes there; otherwise it re-seeks
// by key and skips past any deleted-marker entries. If the key vanished
// entirely, it lands on the first live entry strictly greater (forward) or
// lesser (backward) than the saved key. If the index has been dropped it
// returns CursorInvalidated.
func (c *Cursor) RestoreState(ctx context.Context, saved SavedState) error {
	if c.idx.dropped {
		return dberr.New(dberr.KindCursorInvalidated, "index was dropped").WithDetail("index", c.idx.Name)
	}
	if !saved.valid {
		c.eof = true
		return nil
	}

	c.iter = c.idx.tree.Iter()
	if c.iter.Seek(Entry{Key: saved.Key, RecordId: saved.RecordId}) && bytes.Equal(c.iter.Item().Key, saved.Key) && c.iter.Item().RecordId == saved.RecordId {
		c.cur = c.iter.Item()
		c.eof = false
	} else {
		c.seekStart(saved.Key)
	}

	if err := c.advancePastUnused(ctx); err != nil {
		return err
	}
	if c.bounds != nil {
		c.checkEndWithBounds(ctx)
	} else {
		c.checkEnd()
	}
	return nil
}
