package aggregates

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies aggregate and service failures into the small fixed
// set the transport layer is allowed to expose.
type ErrorCode string

const (
	// CodeValidation marks bad input shape or range; never retried.
	CodeValidation ErrorCode = "validation"
	// CodeNotFound marks a missing aggregate or entity.
	CodeNotFound ErrorCode = "not_found"
	// CodeConflict marks an optimistic concurrency collision on append.
	CodeConflict ErrorCode = "conflict"
	// CodeInvariantViolation marks a domain rule rejection (caps, terminal
	// states, age bounds).
	CodeInvariantViolation ErrorCode = "invariant_violation"
	// CodePreconditionFailed marks a rejected cross-entity precondition
	// (membership, subscription tier limits).
	CodePreconditionFailed ErrorCode = "precondition_failed"
	// CodeQuotaExceeded marks the per-family daily translation cap.
	CodeQuotaExceeded ErrorCode = "quota_exceeded"
	// CodeUnavailable marks an exhausted external capability.
	CodeUnavailable ErrorCode = "unavailable"
	// CodeTimeout marks a bounded wait that hit its ceiling.
	CodeTimeout ErrorCode = "timeout"
	// CodeRetryable marks a transient failure safe to retry.
	CodeRetryable ErrorCode = "retryable"
	// CodeInternal marks everything else.
	CodeInternal ErrorCode = "internal"
)

// Error is the typed failure carried across aggregate and service
// boundaries.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func NewError(code ErrorCode, op, message string, cause error) error {
	return &Error{Code: code, Op: strings.TrimSpace(op), Message: strings.TrimSpace(message), Cause: cause}
}

func Errorf(code ErrorCode, op, format string, args ...any) error {
	return &Error{Code: code, Op: strings.TrimSpace(op), Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and op to err, preserving an existing *Error code.
func Wrap(code ErrorCode, op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return &Error{Code: ae.Code, Op: strings.TrimSpace(op), Message: ae.Message, Cause: ae.Cause}
	}
	return &Error{Code: code, Op: strings.TrimSpace(op), Cause: err}
}

func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// CodeOf returns the error's code, or empty when err carries none.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
