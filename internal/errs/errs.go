// Package errs implements the error taxonomy used throughout the engine
// (spec §7): a small closed set of result codes propagated as ordinary Go
// errors instead of ADLB's ADLB_CHECK/MPI_CHECK early-return macros.
package errs

import "fmt"

// Code is one of the closed set of result codes the core can return.
// Success is never constructed as a Code value; callers observe success
// as a nil error.
type Code int

const (
	// Nothing indicates a non-fatal "not available" result: iget on an
	// empty queue, subscribe on an already-closed datum, enumerate past
	// the end of a container.
	Nothing Code = iota + 1
	// Rejected indicates a retryable failure: double-write to a set-once
	// datum, or a sync handshake that was declined by the peer.
	Rejected
	// NotFound indicates the referenced id or subscript is absent.
	NotFound
	// Invalid indicates a malformed request: bad type, bad parallelism,
	// empty type vector, oversized payload.
	Invalid
	// OOM indicates the server could not satisfy an allocation.
	OOM
	// Shutdown indicates the operation was cancelled by a global shutdown.
	Shutdown
	// Internal indicates an invariant violation; the caller should treat
	// this as non-recoverable for the current operation.
	Internal
)

func (c Code) String() string {
	switch c {
	case Nothing:
		return "NOTHING"
	case Rejected:
		return "REJECTED"
	case NotFound:
		return "NOT_FOUND"
	case Invalid:
		return "INVALID"
	case OOM:
		return "OOM"
	case Shutdown:
		return "SHUTDOWN"
	case Internal:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Error wraps a Code with a human-readable message and optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	var e *Error
	if err == nil {
		return false
	}
	if ae, ok := err.(*Error); ok {
		e = ae
	} else {
		return false
	}
	return e.Code == code
}

// New constructs an *Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error with the given code, message, and cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the Code from err, defaulting to Internal for errors
// that did not originate from this package (unexpected/unclassified
// failures are treated as internal invariant violations).
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return Internal
}

// Retryable reports whether the propagation policy (spec §7) calls for
// the caller to retry with backoff rather than surface the error.
func Retryable(err error) bool {
	return Is(err, Rejected)
}
