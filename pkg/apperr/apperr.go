// Package apperr defines the single error type every component in the
// engine returns across package boundaries: a stable Code a caller can
// switch on, a human Message, and optional structured context.
package apperr

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

type Code string

const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeConflict           Code = "CONFLICT"
	CodeVersionMismatch    Code = "VERSION_MISMATCH"
	CodeInvalidTransition  Code = "INVALID_TRANSITION"
	CodeLeaseHeld          Code = "STRATEGY_LOCKED"
	CodeCycleDetected      Code = "CYCLE_DETECTED"
	CodeVerificationFailed Code = "VERIFICATION_FAILED"
	CodeGatewayUnavailable Code = "GATEWAY_UNAVAILABLE"
	CodeNotImplemented     Code = "NOT_IMPLEMENTED"
	CodeInternal           Code = "INTERNAL"
)

// Error carries a stable Code plus an optional LockUntil: the timestamp
// a caller that hit CodeLeaseHeld can retry after.
type Error struct {
	Code      Code
	Message   string
	LockUntil *time.Time
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, cause error, message string) *Error {
	return &Error{Code: code, Message: message, cause: errors.WithStack(cause)}
}

func WithLease(code Code, message string, lockUntil time.Time) *Error {
	return &Error{Code: code, Message: message, LockUntil: &lockUntil}
}

// Is reports whether err is an *Error carrying the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code carried by err, or CodeInternal if err is not
// an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
