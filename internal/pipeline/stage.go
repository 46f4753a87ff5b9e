// Package pipeline implements the pull-based execution pipeline: a tree of
// Stage values that each pull rows from their children, the same
// iterator-tree shape used by every document-database query executor.
package pipeline

import (
	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/opctx"
	"github.com/dreamware/docbase/internal/storageengine"
)

// StageResult is what GetNext reports about the row it returned.
type StageResult uint8

const (
	// Advanced means Row is populated with a new result.
	Advanced StageResult = iota
	// Paused means the stage yielded without producing a row; the
	// caller should retry GetNext after letting other operations run.
	Paused
	// EOF means the stage is exhausted; Row is not populated.
	EOF
)

// Row is one unit flowing through the pipeline: a document and/or the
// RecordId and index key it was found by, plus any per-row metadata
// upstream stages attach (e.g. a computed sort key, a $meta value).
type Row struct {
	Doc      *bsonkit.Document
	RecordId storageengine.RecordId
	Key      []byte
	Meta     map[string]bsonkit.Value
}

// Stats are the per-stage counters names: works (total calls
// to GetNext), advances (calls that returned Advanced), docs/keys examined.
type Stats struct {
	Works        uint64
	Advances     uint64
	DocsExamined uint64
	KeysExamined uint64
}

// Stage is one node of the execution pipeline.
type Stage interface {
	// GetNext pulls the next result, consulting oc for cancellation and
	// yield-budget checks before doing storage work.
	GetNext(oc *opctx.OperationContext) (Row, StageResult, error)

	// SaveState propagates a save-state request to this stage and its
	// children, dropping any references to in-flight storage cursors
	// that must be reacquired on restore.
	SaveState() error

	// RestoreState propagates a restore-state request, re-seeking any
	// underlying cursor to its saved position.
	RestoreState() error

	// Stats returns this stage's counters.
	Stats() Stats
}

func bump(s *Stats, advanced bool) {
	s.Works++
	if advanced {
		s.Advances++
	}
}
