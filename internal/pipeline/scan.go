package pipeline

import (
	"context"

	"github.com/dreamware/docbase/internal/btreeindex"
	"github.com/dreamware/docbase/internal/opctx"
	"github.com/dreamware/docbase/internal/storageengine"
)

// CollectionScan wraps a record-store cursor, producing (document,
// recordId) pairs in storage order.
type CollectionScan struct {
	cursor storageengine.Cursor
	stats  Stats
}

// NewCollectionScan opens cur and returns a ready-to-pull CollectionScan.
func NewCollectionScan(cur storageengine.Cursor) *CollectionScan {
	return &CollectionScan{cursor: cur}
}

func (s *CollectionScan) GetNext(oc *opctx.OperationContext) (Row, StageResult, error) {
	if err := oc.CheckForInterrupt(); err != nil {
		return Row{}, Paused, err
	}
	id, doc, ok := s.cursor.Next()
	oc.NoteWork(1)
	if !ok {
		bump(&s.stats, false)
		return Row{}, EOF, nil
	}
	s.stats.DocsExamined++
	bump(&s.stats, true)
	return Row{Doc: doc, RecordId: id}, Advanced, nil
}

// SaveState keeps the record cursor: it iterates a snapshot taken when it
// was opened, so it holds no engine lock across a yield and resumes where
// it stopped.
func (s *CollectionScan) SaveState() error    { return nil }
func (s *CollectionScan) RestoreState() error { return nil }
func (s *CollectionScan) Stats() Stats        { return s.stats }

// IndexScan wraps a B-tree cursor (internal/btreeindex), producing
// (indexKey, recordId) pairs without a document attached — Fetch adds the
// document unless the query is covered by the index key alone.
type IndexScan struct {
	cursor *btreeindex.Cursor
	saved  btreeindex.SavedState
	stats  Stats
}

// NewIndexScan wraps an already-open btreeindex.Cursor.
func NewIndexScan(cur *btreeindex.Cursor) *IndexScan {
	return &IndexScan{cursor: cur}
}

func (s *IndexScan) GetNext(oc *opctx.OperationContext) (Row, StageResult, error) {
	if err := oc.CheckForInterrupt(); err != nil {
		return Row{}, Paused, err
	}
	if s.cursor.Eof() {
		bump(&s.stats, false)
		return Row{}, EOF, nil
	}
	row := Row{RecordId: s.cursor.CurrentRecordId(), Key: s.cursor.CurrentKey()}
	s.stats.KeysExamined++
	bump(&s.stats, true)

	if _, err := s.cursor.Advance(oc.Context()); err != nil {
		return Row{}, Paused, err
	}
	oc.NoteWork(1)
	return row, Advanced, nil
}

func (s *IndexScan) SaveState() error {
	s.saved = s.cursor.SaveState()
	s.cursor.Close()
	return nil
}
func (s *IndexScan) RestoreState() error {
	return s.cursor.RestoreState(context.Background(), s.saved)
}
func (s *IndexScan) Stats() Stats { return s.stats }

// Fetch loads the document for each upstream row's RecordId from engine,
// unless Covered is set, in which case the upstream row's index key
// already satisfies the query's projection and Fetch passes rows through
// untouched.
type Fetch struct {
	child      Stage
	engine     storageengine.Engine
	collection string
	covered    bool
	stats      Stats
}

// NewFetch wraps child, loading documents from collection in engine unless
// covered is true.
func NewFetch(child Stage, engine storageengine.Engine, collection string, covered bool) *Fetch {
	return &Fetch{child: child, engine: engine, collection: collection, covered: covered}
}

func (s *Fetch) GetNext(oc *opctx.OperationContext) (Row, StageResult, error) {
	row, result, err := s.child.GetNext(oc)
	if result != Advanced || err != nil {
		bump(&s.stats, false)
		return row, result, err
	}
	if s.covered {
		bump(&s.stats, true)
		return row, Advanced, nil
	}

	doc, ok, err := s.engine.FindRecord(s.collection, row.RecordId)
	if err != nil {
		return Row{}, Paused, err
	}
	oc.NoteWork(1)
	s.stats.DocsExamined++
	if !ok {
		// The record was deleted between index lookup and fetch; skip it
		// rather than surface a hole in the result set.
		bump(&s.stats, false)
		return s.GetNext(oc)
	}
	row.Doc = doc
	bump(&s.stats, true)
	return row, Advanced, nil
}

func (s *Fetch) SaveState() error    { return s.child.SaveState() }
func (s *Fetch) RestoreState() error { return s.child.RestoreState() }
func (s *Fetch) Stats() Stats        { return s.stats }
