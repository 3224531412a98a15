// Package apperr holds the error taxonomy shared by the engine and its
// mapping to HTTP failure responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is an error kind carrying the HTTP status it surfaces as.
type StatusError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func (e *StatusError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Reason)
	}
	return e.Message
}

// Is matches any StatusError with the same code and message, so a copy
// produced by WithReason still compares equal to its sentinel.
func (e *StatusError) Is(target error) bool {
	t, ok := target.(*StatusError)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == e.Message
}

func New(code int, message string) *StatusError {
	return &StatusError{Code: code, Message: message}
}

// WithReason returns a copy of e with the reason attached. Sentinels are
// never mutated.
func (e *StatusError) WithReason(reason string) *StatusError {
	cp := *e
	cp.Reason = reason
	return &cp
}

var (
	ErrNotFound            = New(http.StatusNotFound, "not found")
	ErrAlreadyExists       = New(http.StatusConflict, "already exists")
	ErrBadRequest          = New(http.StatusBadRequest, "invalid request")
	ErrValidation          = New(http.StatusBadRequest, "validation failed")
	ErrUniqueViolation     = New(http.StatusConflict, "unique constraint violation")
	ErrUnauthorized        = New(http.StatusUnauthorized, "unauthorized")
	ErrUnknownType         = New(http.StatusInternalServerError, "unknown field type")
	ErrCompile             = New(http.StatusInternalServerError, "schema compile error")
	ErrInvalidCustomRoutes = New(http.StatusInternalServerError, "custom routes should always return a router")
	ErrStorage             = New(http.StatusInternalServerError, "storage operation failed")
)

// NotFound wraps ErrNotFound with the missing subject.
func NotFound(format string, args ...any) error {
	return ErrNotFound.WithReason(fmt.Sprintf(format, args...))
}

// Status reports the HTTP status for err. Unknown errors are 500.
func Status(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return http.StatusInternalServerError
}
