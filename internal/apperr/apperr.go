package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an expected, recoverable failure so that transports can
// map it to an HTTP status or a structured websocket error event.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeInvalidPhase  Code = "INVALID_PHASE"
	CodeNotAuthorized Code = "NOT_AUTHORIZED"
	CodeCapacity      Code = "CAPACITY_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT_ERROR"
	CodeInternal      Code = "INTERNAL_ERROR"
)

// Error is the error type returned by all room and game operations.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to an Error, keeping the original error chain.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

func Validation(format string, args ...any) *Error {
	return New(CodeValidation, format, args...)
}

func InvalidPhase(format string, args ...any) *Error {
	return New(CodeInvalidPhase, format, args...)
}

func NotAuthorized(format string, args ...any) *Error {
	return New(CodeNotAuthorized, format, args...)
}

func Capacity(format string, args ...any) *Error {
	return New(CodeCapacity, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(CodeConflict, format, args...)
}

// Internal wraps an unexpected failure. The caller logs the cause with full
// context; only the generic message crosses the wire.
func Internal(cause error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", cause: cause}
}

// CodeOf extracts the Code from an error chain, defaulting to CodeInternal
// for anything that is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// PublicMessage returns the message safe to send to a client.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != CodeInternal {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps an error code to the status the REST surface responds with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotAuthorized:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeCapacity, CodeConflict:
		return http.StatusConflict
	case CodeInvalidPhase:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
