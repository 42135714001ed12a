// Package errors provides the structured error kinds used across the sky
// model toolkit.
//
// Codecs, the image cube and the restoration engine return *Error values
// carrying a Code, so the CLI can print a one-line message and callers can
// branch on the kind:
//
//	if errors.Is(err, errors.ErrCodeFileFormat) {
//	    // not a NEWSTAR file after all
//	}
package errors

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error kind.
type Code string

const (
	// ErrCodeInvalidInput: the caller passed a bad argument (unknown format
	// name, non-numeric literal, mismatched shape).
	ErrCodeInvalidInput Code = "INVALID_INPUT"

	// ErrCodeFileFormat: a file whose header or structure does not match
	// the codec's contract.
	ErrCodeFileFormat Code = "FILE_FORMAT"

	// ErrCodeUnsupportedShape: a source shape with no representation in the
	// target format.
	ErrCodeUnsupportedShape Code = "UNSUPPORTED_SHAPE"

	// ErrCodeAxisMismatch: a restored model image has an extra axis whose
	// size is >1 and differs from the target.
	ErrCodeAxisMismatch Code = "AXIS_MISMATCH"

	ErrCodeNotFound Code = "NOT_FOUND"
	ErrCodeExists   Code = "EXISTS"
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code anywhere in its chain.
func Is(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// GetCode extracts the outermost error code, or "" for foreign errors.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a one-line message without the code prefix. Causes
// are appended so the user sees why a file could not be read.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s", e.Message, UserMessage(e.Cause))
		}
		return e.Message
	}
	return err.Error()
}

// Warning is a per-record problem that a codec logs as "filename:line:
// reason" and then continues past.
type Warning struct {
	File   string
	Line   int
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s:%d: %s", w.File, w.Line, w.Reason)
}
