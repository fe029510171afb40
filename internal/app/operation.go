package app

import "strings"

// Run status values written to the journal when a run finishes.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation tracks one CLI invocation of a pipeline stage. Operations are
// created in memory with ID=0 and get an ID from the journal when persisted.
// Read-only commands (status, history, window) never persist theirs.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
}

// NewOperation creates a new in-memory operation. Parameters are joined with
// a single space.
func NewOperation(operation string, parameters ...string) *Operation {
	return &Operation{
		Operation:  operation,
		Parameters: strings.Join(parameters, " "),
		Status:     StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the journal.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation as failed.
func (op *Operation) Fail() {
	op.Status = StatusError
}
