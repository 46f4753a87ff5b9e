// Package wire defines the minimal request/reply envelopes cmd/dbnode
// exposes over plain HTTP+JSON. It deliberately does not model a real
// wire/command-dispatch protocol — it
// is the same "external collaborator, named where the core touches it"
// level internal/cluster types operate at, just on the
// client-facing side rather than the node-to-node side.
package wire

import "fmt"

// Doc is the JSON-friendly shape a client sends and receives a document
// as. Scalars map onto Go's native json.Unmarshal targets (string, float64,
// bool, nested map/slice); ToDocument/FromDocument translate between this
// and bsonkit.Document at the edge of the system.
type Doc map[string]any

// InsertRequest asks a node to insert one document into collection.
type InsertRequest struct {
	Collection string `json:"collection"`
	Document   Doc    `json:"document"`
}

// InsertReply reports the RecordId the inserted document was assigned.
type InsertReply struct {
	RecordId uint64 `json:"recordId"`
}

// FindRequest asks a node to run filter against collection, optionally
// sorted and/or projected.
type FindRequest struct {
	Collection string     `json:"collection"`
	Filter     Doc        `json:"filter"`
	Sort       []SortTerm `json:"sort,omitempty"`
	Projection []string   `json:"projection,omitempty"`
	Limit      uint64     `json:"limit,omitempty"`
	Skip       uint64     `json:"skip,omitempty"`
}

// SortTerm is one field of a requested sort order.
type SortTerm struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// FindReply carries the matched documents plus the winning plan's shape,
// named for callers that want to see what the planner chose without a
// separate explain round trip.
type FindReply struct {
	Documents []Doc  `json:"documents"`
	PlanShape string `json:"planShape,omitempty"`
}

// UpdateRequest replaces the document at RecordId with Document.
type UpdateRequest struct {
	Collection string `json:"collection"`
	RecordId   uint64 `json:"recordId"`
	Document   Doc    `json:"document"`
}

// DeleteRequest removes the document at RecordId from collection.
type DeleteRequest struct {
	Collection string `json:"collection"`
	RecordId   uint64 `json:"recordId"`
}

// CreateIndexRequest registers a new index on collection.
type CreateIndexRequest struct {
	Collection string          `json:"collection"`
	Name       string          `json:"name"`
	Unique     bool            `json:"unique"`
	Pattern    []IndexKeyPart  `json:"pattern"`
}

// IndexKeyPart is one component of a requested index's key pattern.
type IndexKeyPart struct {
	Path   string `json:"path"`
	Desc   bool   `json:"desc,omitempty"`
	Hashed bool   `json:"hashed,omitempty"`
}

// ErrorReply is returned in place of a 2xx body when a request fails.
// Kind mirrors dberr.Kind so a client can branch on it without parsing
// Message text, and Labels carries the retry labels
// (TransientTransactionError, RetryableWriteError) when applicable.
type ErrorReply struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message"`
	Labels  []string `json:"labels,omitempty"`
}

func (e *ErrorReply) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
