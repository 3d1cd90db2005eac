package reorder

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/ehrlich-b/go-reorder/internal/affinity"
)

// Error represents a structured experiment error with context
type Error struct {
	Op     string        // Operation that failed (e.g., "NEW", "PIN")
	Worker int           // Worker index (-1 if not applicable)
	Code   ErrorCode     // High-level error category
	Errno  syscall.Errno // OS errno (0 if not applicable)
	Msg    string        // Human-readable message
	Inner  error         // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.Worker >= 0 {
		parts = append(parts, fmt.Sprintf("worker=%d", e.Worker))
	}

	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("reorder: %s (%s)", msg, parts[0])
	}

	return fmt.Sprintf("reorder: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches on the error code, against either an ErrorCode sentinel or
// another *Error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if code, ok := target.(ErrorCode); ok {
		return e.Code == code
	}

	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}

	return false
}

// ErrorCode represents high-level error categories. Codes are themselves
// errors so they can be used directly with errors.Is.
type ErrorCode string

func (c ErrorCode) Error() string {
	return string(c)
}

const (
	ErrCodeInvalidParameters   ErrorCode = "invalid parameters"
	ErrCodeClosed              ErrorCode = "experiment closed"
	ErrCodeAffinityUnsupported ErrorCode = "thread affinity not supported"
	ErrCodeAffinityRejected    ErrorCode = "thread affinity rejected"
	ErrCodeInternal            ErrorCode = "internal error"
)

// Sentinel errors
var (
	ErrInvalidParameters error = ErrCodeInvalidParameters
	ErrClosed            error = ErrCodeClosed
)

// Error constructors

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:     op,
		Worker: -1,
		Code:   code,
		Msg:    msg,
	}
}

// NewWorkerError creates a new worker-specific error
func NewWorkerError(op string, worker int, code ErrorCode, msg string) *Error {
	return &Error{
		Op:     op,
		Worker: worker,
		Code:   code,
		Msg:    msg,
	}
}

// WrapError wraps an existing error with experiment context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	// If it's already a structured error, just update the operation
	var re *Error
	if errors.As(inner, &re) {
		return &Error{
			Op:     op,
			Worker: re.Worker,
			Code:   re.Code,
			Errno:  re.Errno,
			Msg:    re.Msg,
			Inner:  re.Inner,
		}
	}

	code := ErrCodeInternal
	switch {
	case errors.Is(inner, affinity.ErrUnsupported):
		code = ErrCodeAffinityUnsupported
	case errors.Is(inner, affinity.ErrInvalidCPU):
		code = ErrCodeInvalidParameters
	}

	var errno syscall.Errno
	if errors.As(inner, &errno) {
		code = mapErrnoToCode(errno)
		return &Error{
			Op:     op,
			Worker: -1,
			Code:   code,
			Errno:  errno,
			Msg:    inner.Error(),
			Inner:  inner,
		}
	}

	return &Error{
		Op:     op,
		Worker: -1,
		Code:   code,
		Msg:    inner.Error(),
		Inner:  inner,
	}
}

// mapErrnoToCode maps sched_setaffinity failures to error codes
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.EINVAL, syscall.EPERM, syscall.ESRCH:
		return ErrCodeAffinityRejected
	case syscall.ENOSYS:
		return ErrCodeAffinityUnsupported
	default:
		return ErrCodeInternal
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == code
	}
	return errors.Is(err, code)
}
