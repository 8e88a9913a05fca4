// Package errs defines the error taxonomy shared by the pipeline components.
//
// Errors are classified by Kind. Fatal kinds (InsufficientData,
// VendorUnavailable after retries, StorageConflict) abort a run; recoverable
// kinds (InsufficientHistory, Computation) are absorbed into quality flags on
// the produced record.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation decisions.
type Kind string

const (
	// KindValidation marks a per-contract rejection. Never surfaced to the
	// caller directly, only via exclusion counts and flags.
	KindValidation Kind = "validation"

	// KindInsufficientData marks too few valid contracts for exposure, or a
	// missing shortest realized-vol window. Fatal to the run.
	KindInsufficientData Kind = "insufficient_data"

	// KindInsufficientHistory marks a single realized-vol window lacking
	// price history. Recovered as a null field plus flag.
	KindInsufficientHistory Kind = "insufficient_history"

	// KindVendorUnavailable marks a transport or availability failure from
	// the chain-data vendor after bounded retries.
	KindVendorUnavailable Kind = "vendor_unavailable"

	// KindStorageConflict marks lease contention on a storage partition.
	// Retryable by the caller.
	KindStorageConflict Kind = "storage_conflict"

	// KindComputation marks a recoverable analytic failure, e.g. no contract
	// within delta tolerance for skew. Recovered as a null field plus flag.
	KindComputation Kind = "computation"
)

// Error is a classified pipeline error.
type Error struct {
	Kind Kind
	Op   string // logical operation, e.g. "exposure.Aggregate"
	Msg  string
	Err  error // wrapped cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, string(e.Kind))
	}
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error without a cause.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind of err, or "" if err is not a classified error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Fatal reports whether err must abort the whole run.
func Fatal(err error) bool {
	switch KindOf(err) {
	case KindInsufficientData, KindVendorUnavailable, KindStorageConflict:
		return true
	default:
		return false
	}
}
