// Package errors provides code-bearing application errors shared by the
// repositories, the routing service and the transports.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an error for transport mapping.
type Code string

const (
	ErrCodeNotFound     Code = "NOT_FOUND"
	ErrCodeConflict     Code = "CONFLICT"
	ErrCodeInvalidInput Code = "INVALID_INPUT"
	ErrCodeUnauthorized Code = "UNAUTHORIZED"
	ErrCodeInternal     Code = "INTERNAL"
)

// Error is an application error with a classification code.
type Error struct {
	Code    Code
	Message string
	Field   string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an error with the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Cause: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found: %s", resource, id)}
}

// InvalidInput reports a validation failure on a named field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeInvalidInput, Field: field, Message: message}
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) Code {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsNotFound reports whether err carries ErrCodeNotFound.
func IsNotFound(err error) bool {
	return err != nil && CodeOf(err) == ErrCodeNotFound
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As is errors.As from the standard library.
func As(err error, target any) bool { return stderrors.As(err, target) }
