// Package coherr defines the sentinel error kinds the coherence core can
// return across its upcall/downcall boundaries, per the error handling design.
package coherr

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// Kind is one of the fixed error classes the core exposes.
type Kind int

const (
	// OutOfResources means handle/ring/replica allocation failed after retry.
	OutOfResources Kind = iota
	// TransportUnavailable means no ops vector is registered.
	TransportUnavailable
	// Nacked means a peer refused the transaction.
	Nacked
	// RetryFault means the caller must re-drive the fault from scratch.
	RetryFault
	// InvalidMessage means a message's type or header was malformed.
	InvalidMessage
	// InvariantViolation means a fault landed on one of the action
	// table's invalid cells (indices 11, 15 and 31).
	InvariantViolation
)

func (k Kind) String() string {
	switch k {
	case OutOfResources:
		return "OutOfResources"
	case TransportUnavailable:
		return "TransportUnavailable"
	case Nacked:
		return "Nacked"
	case RetryFault:
		return "RetryFault"
	case InvalidMessage:
		return "InvalidMessage"
	case InvariantViolation:
		return "InvariantViolation"
	default:
		return "Unknown"
	}
}

// coreError pairs a Kind with a message; New wraps it in a
// github.com/pkg/errors stack trace, and Is/KindOf look through that wrapping.
type coreError struct {
	kind Kind
	msg  string
}

func (e *coreError) Error() string { return e.kind.String() + ": " + e.msg }

// New creates a sentinel error of the given kind with a stack trace attached.
func New(kind Kind, msg string) error {
	return errors.WithStack(&coreError{kind: kind, msg: msg})
}

// Wrap attaches kind-preserving context to an existing error, keeping the
// original stack trace if cause already carries one.
func Wrap(cause error, msg string) error {
	return errors.Wrap(cause, msg)
}

// Is reports whether err (possibly wrapped, or aggregated in a multierror)
// is a coreError of the given kind.
func Is(err error, kind Kind) bool {
	var ce *coreError
	return stderrors.As(err, &ce) && ce.kind == kind
}

// KindOf returns the Kind of err if it (or its cause) is a coreError.
func KindOf(err error) (Kind, bool) {
	if ce, ok := errors.Cause(err).(*coreError); ok {
		return ce.kind, true
	}
	return 0, false
}
