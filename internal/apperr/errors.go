// Package apperr provides the error taxonomy shared by the ingestion pipeline
// and the components it drives.
package apperr

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error class.
type Code string

const (
	// CodeUnknown is reported for errors that carry no class.
	CodeUnknown Code = "UNKNOWN"

	// Client-class errors
	CodeMalformedSubmission Code = "MALFORMED_SUBMISSION"
	CodeMediaFetch          Code = "MEDIA_FETCH"

	// Server-class errors
	CodeMediaWrite   Code = "MEDIA_WRITE"
	CodeStorageInit  Code = "STORAGE_INIT"
	CodeStorageWrite Code = "STORAGE_WRITE"
	CodeStorageRead  Code = "STORAGE_READ"
)

// HTTPStatus maps the code to the status returned by the HTTP surface.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeMalformedSubmission, CodeMediaFetch:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error with an optional cause.
type Error struct {
	Code    Code   // Error class
	Message string // Human-readable message, safe to show for client-class codes
	Cause   error  // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates an error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsClientError reports whether err was caused by the request itself.
func IsClientError(err error) bool {
	return CodeOf(err).HTTPStatus() < http.StatusInternalServerError
}
