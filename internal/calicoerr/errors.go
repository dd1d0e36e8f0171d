// Package calicoerr defines the error taxonomy shared across the engine.
//
// Every fallible operation returns one of the Codes below, wrapped with an
// optional underlying cause. Callers distinguish kinds with Is/As rather
// than comparing messages, which are informational only.
package calicoerr

import (
	"errors"
	"fmt"
)

// Code is one of the error kinds from the engine's error taxonomy.
type Code int

const (
	// NotFound means a key or entity does not exist. Retriable, non-fatal.
	NotFound Code = iota
	// InvalidArgument means the caller violated a precondition.
	InvalidArgument
	// LogicError means API misuse (e.g. committing a non-current txn).
	LogicError
	// Corruption means a checksum or structural invariant was violated on read.
	Corruption
	// Io means the Env returned a system failure.
	Io
	// Busy means no frame was available; internal callers retry after a WAL flush.
	Busy
)

func (c Code) String() string {
	switch c {
	case NotFound:
		return "NotFound"
	case InvalidArgument:
		return "InvalidArgument"
	case LogicError:
		return "LogicError"
	case Corruption:
		return "Corruption"
	case Io:
		return "Io"
	case Busy:
		return "Busy"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Code == e.Code
	}
	return false
}

// New builds an *Error of the given code with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given code, preserving cause for Unwrap.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// sentinels used purely for errors.Is comparisons against a bare Code.
var (
	ErrNotFound         = &Error{Code: NotFound, Msg: "not found"}
	ErrInvalidArgument  = &Error{Code: InvalidArgument, Msg: "invalid argument"}
	ErrLogicError       = &Error{Code: LogicError, Msg: "logic error"}
	ErrCorruption       = &Error{Code: Corruption, Msg: "corruption"}
	ErrIo               = &Error{Code: Io, Msg: "io error"}
	ErrBusy             = &Error{Code: Busy, Msg: "busy"}
)

// Of reports whether err carries the given Code, directly or by wrapping.
func Of(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
