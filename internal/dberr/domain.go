package dberr

import "fmt"

// DuplicateKeyError reports a unique-index conflict: a write would leave
// two distinct RecordIds sharing an encoded key under a unique index.
type DuplicateKeyError struct {
	*Error
	IndexName string
	Key       []byte
}

// NewDuplicateKey builds a DuplicateKeyError for the named index and key.
func NewDuplicateKey(indexName string, key []byte) *DuplicateKeyError {
	return &DuplicateKeyError{
		Error:     New(KindDuplicateKey, fmt.Sprintf("duplicate key in index %q", indexName)),
		IndexName: indexName,
		Key:       key,
	}
}

// Unwrap returns the embedded *Error itself rather than its cause,
// shadowing the field's promoted Unwrap — this is what lets AsError's
// walk land on the *Error and read its Kind, instead of skipping straight
// past it to whatever (if anything) that *Error wraps.
func (d *DuplicateKeyError) Unwrap() error { return d.Error }

// StaleConfigError reports that a client's chunk-map or database version is
// behind the version the shard currently owns. The client is expected to
// refresh its catalog and retry.
type StaleConfigError struct {
	*Error
	Wanted   ShardVersion
	Received ShardVersion
}

// ShardVersion is (epoch, major, minor) per Shard-Key Range Map.
type ShardVersion struct {
	Epoch uint64
	Major uint64
	Minor uint64
}

// Less reports whether v sorts strictly before o, comparing epoch first
// (an epoch bump means the chunk map was rebuilt from scratch) then the
// (major, minor) monotonic counters within an epoch.
func (v ShardVersion) Less(o ShardVersion) bool {
	if v.Epoch != o.Epoch {
		return v.Epoch < o.Epoch
	}
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	return v.Minor < o.Minor
}

// NewStaleConfig builds a StaleConfigError from the shard version a client
// expected versus the version the shard actually reports.
func NewStaleConfig(wanted, received ShardVersion) *StaleConfigError {
	return &StaleConfigError{
		Error:    New(KindStaleConfig, fmt.Sprintf("stale shard version: wanted %+v, received %+v", wanted, received)),
		Wanted:   wanted,
		Received: received,
	}
}

// Unwrap returns the embedded *Error; see DuplicateKeyError.Unwrap.
func (s *StaleConfigError) Unwrap() error { return s.Error }

// ValidationError reports a BadValue failure, mirroring ignite's
// ValidationError: it names the offending field and rule so a caller can
// surface actionable feedback instead of a bare message.
type ValidationError struct {
	*Error
	Field    string
	Rule     string
	Provided any
}

// NewValidation builds a BadValue ValidationError.
func NewValidation(msg string) *ValidationError {
	return &ValidationError{Error: New(KindBadValue, msg)}
}

// Unwrap returns the embedded *Error; see DuplicateKeyError.Unwrap.
func (v *ValidationError) Unwrap() error { return v.Error }

// WithField records which field failed validation and returns the receiver.
func (v *ValidationError) WithField(field string) *ValidationError {
	v.Field = field
	return v
}

// WithRule records which validation rule was violated and returns the receiver.
func (v *ValidationError) WithRule(rule string) *ValidationError {
	v.Rule = rule
	return v
}

// WithProvided records the offending value and returns the receiver.
func (v *ValidationError) WithProvided(value any) *ValidationError {
	v.Provided = value
	return v
}

// Labels computes the error labels that should accompany a
// failed response for err, given whether it occurred inside an
// as-yet-uncommitted multi-document transaction.
func Labels(err error, inUncommittedTxn bool) []ErrorLabel {
	e, ok := AsError(err)
	if !ok {
		return nil
	}

	var labels []ErrorLabel
	if inUncommittedTxn && isTransientTxnKind(e.Kind) {
		labels = append(labels, LabelTransientTransactionError)
	}
	return labels
}

// isTransientTxnKind reports whether a Kind is one of the write-conflict /
// commit-conflict kinds that, inside an uncommitted transaction, warrant the
// TransientTransactionError label.
func isTransientTxnKind(k Kind) bool {
	switch k {
	case KindWriteConflict, KindStaleConfig, KindStaleDbVersion, KindNoSuchTransaction:
		return true
	default:
		return false
	}
}
