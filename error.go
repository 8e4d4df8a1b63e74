package digs

import "fmt"

// ErrorCode enumerates the error taxonomy every DiGS component branches on.
// Callers inspect Code, never the formatted message, to decide whether to
// retry, surface to the user, or abort the current control-thread cycle.
type ErrorCode int

const (
	// Unknown is an unspecified error condition.
	Unknown ErrorCode = iota
	// NotFound marks an LFN or path absent from the catalogue or a backend.
	// Surfaced to the caller; never retried.
	NotFound
	// AuthDenied marks a rejected credential or a caller not permitted to
	// perform the requested operation. Surfaced to the caller; never retried.
	AuthDenied
	// Transient marks a timeout, connection reset, or other condition
	// expected to clear on its own. Logged and retried on the next
	// reconciliation tick.
	Transient
	// Protocol marks an unexpected response from a backend. Logged as a
	// warning; the operation fails once and is retried on the next tick.
	Protocol
	// NoSpace marks a backend-reported capacity shortfall. The placement
	// engine blacklists the node for the current command; reconciliation
	// continues.
	NoSpace
	// Invariant marks invalid configuration, a failed atomic rename, or a
	// malformed LFN. Fatal for the current cycle; logged at high severity.
	Invariant
	// OutOfMemory is fatal to the process.
	OutOfMemory
)

// Error carries a Code, the wrapped error, and optional user data (e.g. the
// LFN or node name the failure concerns) so log lines and CLI messages can
// reference the offending entity without re-deriving it from the stack.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

// Error implements the error interface, formatting the code, user data, and
// wrapped error details.
func (e Error) Error() string {
	return fmt.Errorf("digs error code %d (user data: %v): %w", e.Code, e.UserData, e.Err).Error()
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the given code and optional user data.
func NewError(code ErrorCode, userData any, err error) Error {
	return Error{Code: code, Err: err, UserData: userData}
}
