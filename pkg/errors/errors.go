package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a typed domain error with HTTP awareness. Details carries
// machine-readable findings (e.g. validation rule failures) alongside the
// human message.
type Error struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Status  int      `json:"status"`
	Details []string `json:"details,omitempty"`
	Err     error    `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// The three error kinds callers must be able to tell apart: precondition or
// authorization failures (never retried), business-rule failures (stable
// reason codes), and infrastructure failures (retryable, with CIRCUIT_OPEN
// meaning "do not retry before the advertised next attempt time").
var (
	ErrUnauthorized  = New("AUTHORIZATION_ERROR", http.StatusUnauthorized, "authentication required")
	ErrForbidden     = New("AUTHORIZATION_ERROR", http.StatusForbidden, "insufficient role")
	ErrPrecondition  = New("PRECONDITION_FAILED", http.StatusBadRequest, "precondition failed")
	ErrValidation    = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrBusinessLogic = New("BUSINESS_LOGIC_ERROR", http.StatusConflict, "business rule violated")
	ErrNotFound      = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrCircuitOpen   = New("CIRCUIT_OPEN", http.StatusServiceUnavailable, "circuit breaker open")
	ErrInternal      = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithDetails returns a copy of the error carrying the provided detail lines.
func WithDetails(err *Error, details []string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	clone.Details = details
	return &clone
}
