package apperr

import (
	"fmt"
	"strings"
)

type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Codes used in FieldError.Code
const (
	CodeRequired     = "required"
	CodeTypeMismatch = "type_mismatch"
	CodeEnumInvalid  = "enum_invalid"
	CodeMinLength    = "min_length"
	CodeMaxLength    = "max_length"
	CodeUnique       = "unique_violation"
	CodeUnknownField = "unknown_field"
	CodeInvalid      = "invalid"
)

func Ferr(code, field, msg string) FieldError {
	return FieldError{Code: code, Field: field, Message: msg}
}

// ValidationError groups every field problem found in one document.
type ValidationError struct {
	Entity string
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return fmt.Sprintf("%s validation failed: %s", e.Entity, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	for _, fe := range e.Errors {
		if fe.Code == CodeUnique {
			return ErrUniqueViolation
		}
	}
	return ErrValidation
}
