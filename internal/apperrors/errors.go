// Package apperrors provides the error taxonomy shared by the registries,
// the dispatcher and the HTTP API.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of an error.
type ErrorType string

const (
	// TypeNotFound indicates an unknown image or task id.
	TypeNotFound ErrorType = "not_found"
	// TypeConflict indicates an operation that violates a lifecycle invariant.
	TypeConflict ErrorType = "conflict"
	// TypeIO indicates a read, transform or write failure.
	TypeIO ErrorType = "io"
	// TypeValidation indicates malformed input such as a bad job descriptor.
	TypeValidation ErrorType = "validation"
	// TypeInternal indicates anything else.
	TypeInternal ErrorType = "internal"
)

// Error is a categorized error with an optional cause.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the HTTP status code for this error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Type: TypeNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Type: TypeConflict, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return &Error{Type: TypeValidation, Message: fmt.Sprintf(format, args...)}
}

// IO wraps cause as an IO failure.
func IO(cause error, format string, args ...any) *Error {
	return &Error{Type: TypeIO, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Internal wraps cause as an internal failure.
func Internal(cause error, format string, args ...any) *Error {
	return &Error{Type: TypeInternal, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// TypeOf returns the type of the first *Error in err's chain, or
// TypeInternal when there is none.
func TypeOf(err error) ErrorType {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return TypeInternal
}

// HTTPStatus maps any error to an HTTP status code.
func HTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func IsNotFound(err error) bool   { return err != nil && TypeOf(err) == TypeNotFound }
func IsConflict(err error) bool   { return err != nil && TypeOf(err) == TypeConflict }
func IsValidation(err error) bool { return err != nil && TypeOf(err) == TypeValidation }
func IsIO(err error) bool         { return err != nil && TypeOf(err) == TypeIO }
