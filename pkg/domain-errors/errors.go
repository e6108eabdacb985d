// Package domainerrors defines the typed error taxonomy shared by services,
// handlers, and adapters. Services translate infrastructure sentinels into
// these codes; handlers map codes onto HTTP statuses without inspecting
// error strings.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for programmatic handling at the adapter boundary.
type Code string

const (
	// CodeValidation marks a request rejected by business-rule validation.
	// The wrapped error usually enumerates field-level violations.
	CodeValidation Code = "validation_failed"

	// CodeInvalidInput marks malformed or out-of-range input caught at a
	// trust boundary before any business rule runs.
	CodeInvalidInput Code = "invalid_input"

	// CodeBadRequest marks a structurally unusable request (bad JSON,
	// missing required parameters).
	CodeBadRequest Code = "bad_request"

	// CodeMalformed marks a syntactically invalid certificate identifier
	// supplied by a caller.
	CodeMalformed Code = "malformed_identifier"

	// CodeNotFound marks a lookup miss.
	CodeNotFound Code = "not_found"

	// CodeConflict marks a business-invariant violation such as a second
	// active certificate for a domain that already has one.
	CodeConflict Code = "conflict"

	// CodeExhausted marks identifier-space exhaustion: generation retries
	// ran out without finding a free identifier. Fatal, alert-worthy.
	CodeExhausted Code = "identifier_space_exhausted"

	// CodeUnauthorized marks missing or invalid credentials.
	CodeUnauthorized Code = "unauthorized"

	// CodeForbidden marks an authenticated principal lacking the required role.
	CodeForbidden Code = "forbidden"

	// CodeTimeout marks an operation aborted by deadline or cancellation.
	CodeTimeout Code = "timeout"

	// CodeInternal marks unexpected infrastructure failure. Details are
	// logged, never returned to callers.
	CodeInternal Code = "internal_error"
)

// Error carries a stable code, a human-readable message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

// New builds a domain error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error, preserving the
// cause for errors.Is/errors.As chains.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause so wrapped sentinels stay matchable.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another domain error by code and message, letting tests assert
// with errors.Is against a freshly built value.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var domainErr *Error
	for errors.As(err, &domainErr) {
		if domainErr.Code == code {
			return true
		}
		err = domainErr.Unwrap()
		if err == nil {
			return false
		}
	}
	return false
}

// Is is a readability alias for HasCode at call sites that read like
// predicates: dErrors.Is(err, dErrors.CodeConflict).
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the outermost domain code in the chain, or CodeInternal
// when the error carries no code at all.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}
