package writepath

import (
	"sync"

	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/storageengine"
)

// OpKind names the logical operation an OplogEntry records.
type OpKind uint8

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
)

// OplogEntry is one logical write, carried by the replication log step of
// the unit-of-work sequence: a replication-log entry describing the
// logical operation, plus pre/post images where change-stream
// configuration requires them. internal/replset's rollback reads them back
// to undo divergent writes; this package only emits them.
type OplogEntry struct {
	Kind       OpKind
	Collection string
	RecordId   storageengine.RecordId
	PreImage   *bsonkit.Document // nil for insert
	PostImage  *bsonkit.Document // nil for delete
}

// OplogSink receives every committed write in commit order. MemoryOplog is
// its only implementation in this repository; tests and cmd/dbnode use it.
type OplogSink interface {
	Append(entry OplogEntry)
}

// MemoryOplog is an in-memory OplogSink, the replication-log analogue of
// storageengine.MemoryEngine: no persistence, ordered append, read back
// for tests and for a single-node change-stream cursor.
type MemoryOplog struct {
	mu      sync.Mutex
	entries []OplogEntry
}

// NewMemoryOplog returns an empty MemoryOplog.
func NewMemoryOplog() *MemoryOplog {
	return &MemoryOplog{}
}

func (o *MemoryOplog) Append(entry OplogEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, entry)
}

// Entries returns a snapshot of every entry appended so far, in commit
// order.
func (o *MemoryOplog) Entries() []OplogEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]OplogEntry, len(o.entries))
	copy(out, o.entries)
	return out
}
