// Package btreeindex implements the stateful B-tree index cursor: a
// single index's on-disk entries plus an iterator that can open at a key or
// bounds-iterator position, advance with cancellation checks, and save/
// restore its position across a yield point.
package btreeindex

import (
	"bytes"

	"github.com/tidwall/btree"

	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/dberr"
	"github.com/dreamware/docbase/internal/storageengine"
)

// Version is an index's on-disk entry format. Only V0 and V1 are
// recognized; anything else fails UnsupportedIndexVersion at cursor
// construction.
type Version uint8

const (
	V0 Version = iota
	V1
)

func (v Version) valid() bool { return v == V0 || v == V1 }

// Entry is one stored index entry: an order-preserving key (internal/bsonkit
// produces these) and the RecordId it points at. Unused marks a tombstoned
// entry — deleted in place, not yet physically reclaimed — that a cursor
// must skip without counting it as scanned.
type Entry struct {
	Key      []byte
	RecordId storageengine.RecordId
	Unused   bool
}

func entryLess(a, b Entry) bool {
	if c := bytes.Compare(a.Key, b.Key); c != 0 {
		return c < 0
	}
	return a.RecordId < b.RecordId
}

// Index is one B-tree index's storage: an ordered set of Entry values plus
// the metadata (version, uniqueness, key pattern) a cursor and the planner
// dispatch on.
type Index struct {
	Name    string
	Version Version
	Unique  bool
	// Pattern is the index's key pattern, the same []bsonkit.KeyPart
	// EncodeKeys consumes to turn a document into this index's entries.
	// internal/planner reads it to decide whether an index's leading fields
	// cover a compiled query and whether its direction already satisfies a
	// requested sort.
	Pattern []bsonkit.KeyPart

	tree    *btree.BTreeG[Entry]
	dropped bool
}

// New creates an empty Index over pattern. It returns UnsupportedIndexVersion
// if version is not one this build recognizes.
func New(name string, version Version, unique bool, pattern []bsonkit.KeyPart) (*Index, error) {
	if !version.valid() {
		return nil, dberr.New(dberr.KindUnsupportedIndexVersion, "unsupported index version").
			WithDetail("index", name).WithDetail("version", version)
	}
	return &Index{
		Name:    name,
		Version: version,
		Unique:  unique,
		Pattern: pattern,
		tree:    btree.NewBTreeG(entryLess),
	}, nil
}

// Insert adds an entry, returning DuplicateKey if this is a unique index and
// key is already held by a different RecordId.
func (ix *Index) Insert(key []byte, id storageengine.RecordId) error {
	if ix.Unique {
		if existing, ok := ix.firstForKey(key); ok && existing.RecordId != id {
			return dberr.NewDuplicateKey(ix.Name, key)
		}
	}
	ix.tree.Set(Entry{Key: key, RecordId: id})
	return nil
}

// Delete marks the (key, id) entry unused in place; physical reclamation is
// out of scope for this in-memory reference implementation, matching how
// the real engine defers reclamation to a background compaction.
func (ix *Index) Delete(key []byte, id storageengine.RecordId) {
	target := Entry{Key: key, RecordId: id}
	if e, ok := ix.tree.Get(target); ok {
		e.Unused = true
		ix.tree.Set(e)
	}
}

// Drop invalidates the index; any cursor's subsequent RestoreState call
// fails with CursorInvalidated.
func (ix *Index) Drop() { ix.dropped = true }

func (ix *Index) firstForKey(key []byte) (Entry, bool) {
	iter := ix.tree.Iter()
	defer iter.Release()
	for ok := iter.Seek(Entry{Key: key}); ok && bytes.Equal(iter.Item().Key, key); ok = iter.Next() {
		if !iter.Item().Unused {
			return iter.Item(), true
		}
	}
	return Entry{}, false
}
