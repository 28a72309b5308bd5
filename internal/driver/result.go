package driver

import (
	"errors"
	"fmt"
)

// Kind classifies a driver or engine failure.
type Kind uint8

const (
	// KindNotFound reports an invalid device, context, or range index.
	KindNotFound Kind = iota + 1
	// KindConflict reports a session already active on the context.
	KindConflict
	// KindInvalidState reports an operation illegal in the current state.
	KindInvalidState
	// KindCapacityExceeded reports a range or buffer overrun.
	KindCapacityExceeded
	// KindUnbalancedRange reports a stop at nonzero depth or a pop
	// without a matching push.
	KindUnbalancedRange
	// KindUnknownMetric reports an unrecognized metric name.
	KindUnknownMetric
	// KindDriverFailure reports a failed underlying collection call.
	// It is the only fatal class: it forces the session to Disabled.
	KindDriverFailure
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidState:
		return "invalid_state"
	case KindCapacityExceeded:
		return "capacity_exceeded"
	case KindUnbalancedRange:
		return "unbalanced_range"
	case KindUnknownMetric:
		return "unknown_metric"
	case KindDriverFailure:
		return "driver_failure"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a classified error with a formatted message.
func Errorf(k Kind, op, format string, args ...any) *Error {
	return &Error{Kind: k, Op: op, Err: fmt.Errorf(format, args...)}
}

// WrapErr classifies an existing error. The original error remains
// reachable through errors.Unwrap so driver failures propagate unmodified.
func WrapErr(k Kind, op string, err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		// Already classified. Keep the original kind.
		return de
	}

	return &Error{Kind: k, Op: op, Err: err}
}

// KindOf extracts the kind of an error, or 0 if unclassified.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}

	return 0
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// Fatal reports whether err forces a session to Disabled.
func Fatal(err error) bool {
	return IsKind(err, KindDriverFailure)
}
