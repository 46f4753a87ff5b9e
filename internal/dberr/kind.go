// Package dberr provides the engine-wide error-kind taxonomy used across every
// component of the document-storage and query engine, from the B-tree cursor
// up through the shard-routing coordinator.
//
// The package follows the pattern established by ignite's pkg/errors: a
// hierarchical structure with a foundational baseError carrying a Kind, a
// human message, and an optional wrapped cause, plus domain-specific error
// types (DuplicateKeyError, StaleConfigError, ...) that embed it and add the
// context each failure mode needs for recovery. Callers distinguish failures
// programmatically via Kind rather than by matching on message text, which is
// what lets the write path (internal/writepath), the shard router
// (internal/shardrouter), and the replica-set state machine
// (internal/replset) each apply the propagation policy spec'd for their kind
// without string comparison.
package dberr

// Kind is a stable, comparable identifier for one category of engine failure.
// It mirrors the error kinds enumerated for the core: the exact set a client
// or an internal retry loop needs to branch on, no more.
type Kind string

const (
	KindBadValue                  Kind = "BadValue"
	KindNamespaceNotFound         Kind = "NamespaceNotFound"
	KindNamespaceExists           Kind = "NamespaceExists"
	KindDuplicateKey              Kind = "DuplicateKey"
	KindIndexNotFound             Kind = "IndexNotFound"
	KindCannotIndexParallelArrays Kind = "CannotIndexParallelArrays"
	KindCannotSortParallelArrays  Kind = "CannotSortParallelArrays"
	KindWriteConflict             Kind = "WriteConflict"
	KindInterrupted               Kind = "Interrupted"
	KindExceededTimeLimit         Kind = "ExceededTimeLimit"
	KindStaleConfig               Kind = "StaleConfig"
	KindStaleDbVersion            Kind = "StaleDbVersion"
	KindNoSuchTransaction         Kind = "NoSuchTransaction"
	KindTransactionTooOld         Kind = "TransactionTooOld"
	KindPreparedTxnInProgress     Kind = "PreparedTransactionInProgress"
	KindMovePrimaryInProgress     Kind = "MovePrimaryInProgress"
	KindUnsupportedIndexVersion   Kind = "UnsupportedIndexVersion"
	KindQueryPlanKilled           Kind = "QueryPlanKilled"
	KindOutOfMemory               Kind = "OutOfMemory"
	KindInvalidBSON               Kind = "InvalidBSON"
	KindCursorInvalidated         Kind = "CursorInvalidated"
	KindDataCorruption            Kind = "DataCorruption"
)

// ErrorLabel is one of the client-visible retry labels from ,
// attached to a response so a driver knows whether retrying is safe.
type ErrorLabel string

const (
	LabelTransientTransactionError  ErrorLabel = "TransientTransactionError"
	LabelRetryableWriteError        ErrorLabel = "RetryableWriteError"
	LabelNonResumableChangeStream   ErrorLabel = "NonResumableChangeStreamError"
	LabelResumableChangeStream      ErrorLabel = "ResumableChangeStreamError"
	LabelNoWritesPerformed          ErrorLabel = "NoWritesPerformed"
)

// fatal reports whether a Kind can never be recovered by the process itself
// and must abort after flushing logs.
func (k Kind) fatal() bool {
	return k == KindOutOfMemory
}

// IsFatal reports whether err carries a Kind that is fatal to the process.
func IsFatal(err error) bool {
	e, ok := AsError(err)
	return ok && e.Kind.fatal()
}
