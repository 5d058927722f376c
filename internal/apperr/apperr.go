// Package apperr defines the error kinds shared by the pipeline, the bus and
// the session layer. A kind decides which fixed message a client sees; the
// wrapped error only ever reaches the log.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// ValidationRejected means generated SQL failed the safety check.
	ValidationRejected Kind = "validation_rejected"
	// EmptyResult is not a failure; it routes a query to the suggestion step.
	EmptyResult Kind = "empty_result"
	// ExecutionFailure covers connection and execution errors of the data store.
	ExecutionFailure Kind = "execution_failure"
	// OracleFailure means one of the two language model calls failed.
	OracleFailure Kind = "oracle_failure"
	// CorrelationTimeout means no matching response arrived within the retry budget.
	CorrelationTimeout Kind = "correlation_timeout"
	// BusCleanupFailure is logged only; it never reaches the client.
	BusCleanupFailure Kind = "bus_cleanup_failure"
)

// E wraps an error with kind and human-friendly message.
type E struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }

// KindOf returns the kind of the first *E in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
