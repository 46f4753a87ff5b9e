package pipeline

import (
	"bytes"
	"container/heap"
	"encoding/gob"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"

	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/dberr"
	"github.com/dreamware/docbase/internal/opctx"
	"github.com/dreamware/docbase/internal/storageengine"
)

// Shared encoder/decoder for spill runs — both are documented as safe for
// concurrent use, and construction is expensive enough (dictionary tables)
// that every Sort stage shares one pair instead of allocating its own.
// SpeedFastest favors the hot spill path over run size; spill runs are
// transient and never persisted past one query.
var (
	spillEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	spillDecoder, _ = zstd.NewReader(nil)
)

// Sort buffers rows up to a configured memory budget, spilling sorted runs
// once the budget is exceeded, then merges every run. Output
// order is strictly ascending by Row.Key — SortKeyGenerator already folds
// descending fields into the key's byte order, so Sort itself never needs
// to know a field's direction.
type Sort struct {
	child   Stage
	tracker *MemoryTracker

	buffer  []Row
	tokens  []*Token
	runs    [][]byte // each a spilled, compressed, checksummed run
	sums    []uint64

	merged      []Row
	pos         int
	initialized bool
	stats       Stats
}

// NewSort wraps child, spilling through tracker's budget.
func NewSort(child Stage, tracker *MemoryTracker) *Sort {
	return &Sort{child: child, tracker: tracker}
}

func (s *Sort) GetNext(oc *opctx.OperationContext) (Row, StageResult, error) {
	if !s.initialized {
		if err := s.drain(oc); err != nil {
			return Row{}, Paused, err
		}
		s.initialized = true
	}
	if s.pos >= len(s.merged) {
		bump(&s.stats, false)
		return Row{}, EOF, nil
	}
	row := s.merged[s.pos]
	s.pos++
	bump(&s.stats, true)
	return row, Advanced, nil
}

func (s *Sort) drain(oc *opctx.OperationContext) error {
	for {
		row, result, err := s.child.GetNext(oc)
		if err != nil {
			return err
		}
		if result == Paused {
			continue
		}
		if result == EOF {
			break
		}
		if err := s.appendRow(row); err != nil {
			return err
		}
	}
	if err := s.spill(); err != nil { // flush whatever remains, even a single run
		return err
	}
	merged, err := s.mergeRuns()
	if err != nil {
		return err
	}
	s.merged = merged
	return nil
}

func (s *Sort) appendRow(row Row) error {
	size, err := estimateRowSize(row)
	if err != nil {
		return err
	}
	tok, err := s.tracker.Reserve(size)
	if err != nil {
		if spillErr := s.spill(); spillErr != nil {
			return spillErr
		}
		tok, err = s.tracker.Reserve(size)
		if err != nil {
			return err
		}
	}
	s.buffer = append(s.buffer, row)
	s.tokens = append(s.tokens, tok)
	return nil
}

func (s *Sort) spill() error {
	if len(s.buffer) == 0 {
		return nil
	}
	sort.Slice(s.buffer, func(i, j int) bool { return bytes.Compare(s.buffer[i].Key, s.buffer[j].Key) < 0 })

	blob, err := serializeRun(s.buffer)
	if err != nil {
		return err
	}
	compressed := spillEncoder.EncodeAll(blob, nil)
	s.runs = append(s.runs, compressed)
	s.sums = append(s.sums, xxh3.Hash(compressed))

	for _, t := range s.tokens {
		t.Release()
	}
	s.buffer = nil
	s.tokens = nil
	return nil
}

// mergeRuns k-way merges every spilled run via a min-heap keyed by Row.Key.
func (s *Sort) mergeRuns() ([]Row, error) {
	if len(s.runs) == 1 {
		return deserializeRun(s.runs[0], s.sums[0])
	}

	streams := make([][]Row, len(s.runs))
	for i, blob := range s.runs {
		rows, err := deserializeRun(blob, s.sums[i])
		if err != nil {
			return nil, err
		}
		streams[i] = rows
	}

	h := &mergeHeap{}
	for i, rows := range streams {
		if len(rows) > 0 {
			heap.Push(h, mergeItem{row: rows[0], stream: i, idx: 0})
		}
	}
	heap.Init(h)

	out := make([]Row, 0)
	for h.Len() > 0 {
		item := heap.Pop(h).(mergeItem)
		out = append(out, item.row)
		next := item.idx + 1
		if next < len(streams[item.stream]) {
			heap.Push(h, mergeItem{row: streams[item.stream][next], stream: item.stream, idx: next})
		}
	}
	return out, nil
}

func (s *Sort) SaveState() error    { return s.child.SaveState() }
func (s *Sort) RestoreState() error { return s.child.RestoreState() }
func (s *Sort) Stats() Stats        { return s.stats }

type mergeItem struct {
	row    Row
	stream int
	idx    int
}

type mergeHeap []mergeItem

func (h mergeHeap) Len() int            { return len(h) }
func (h mergeHeap) Less(i, j int) bool  { return bytes.Compare(h[i].row.Key, h[j].row.Key) < 0 }
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(mergeItem)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type wireSortRow struct {
	DocBytes []byte
	Key      []byte
	RecordId uint64
}

// estimateRowSize approximates a row's in-memory footprint without paying
// for a full Marshal round-trip (which, per call, carries gob's one-time
// type-descriptor overhead) — cheap enough to call for every row as it's
// buffered.
func estimateRowSize(row Row) (uint64, error) {
	return uint64(approxDocSize(row.Doc) + len(row.Key) + 32), nil
}

func approxDocSize(doc *bsonkit.Document) int {
	if doc == nil {
		return 0
	}
	total := 0
	for _, f := range doc.Fields {
		total += len(f.Name) + approxValueSize(f.Value)
	}
	return total
}

func approxValueSize(v bsonkit.Value) int {
	switch v.Kind {
	case bsonkit.KindString:
		s, _ := v.AsString()
		return len(s) + 8
	case bsonkit.KindBinary:
		b, _ := v.AsBinary()
		return len(b) + 8
	case bsonkit.KindDocument:
		d, _ := v.AsDocument()
		return approxDocSize(d) + 8
	case bsonkit.KindArray:
		arr, _ := v.AsArray()
		total := 8
		for _, e := range arr {
			total += approxValueSize(e)
		}
		return total
	default:
		return 16
	}
}

func serializeRun(rows []Row) ([]byte, error) {
	wrs := make([]wireSortRow, len(rows))
	for i, r := range rows {
		docBytes, err := bsonkit.Marshal(r.Doc)
		if err != nil {
			return nil, err
		}
		wrs[i] = wireSortRow{DocBytes: docBytes, Key: r.Key, RecordId: uint64(r.RecordId)}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wrs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deserializeRun(compressed []byte, wantSum uint64) ([]Row, error) {
	if xxh3.Hash(compressed) != wantSum {
		return nil, dberr.New(dberr.KindDataCorruption, "sort spill checksum mismatch")
	}
	raw, err := spillDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, dberr.Wrap(err, dberr.KindDataCorruption, "sort spill decompression failed")
	}
	var wrs []wireSortRow
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&wrs); err != nil {
		return nil, err
	}
	rows := make([]Row, len(wrs))
	for i, w := range wrs {
		doc, err := bsonkit.Unmarshal(w.DocBytes)
		if err != nil {
			return nil, err
		}
		rows[i] = Row{Doc: doc, Key: w.Key, RecordId: storageengine.RecordId(w.RecordId)}
	}
	return rows, nil
}
