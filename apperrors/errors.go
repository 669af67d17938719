package apperrors

import (
	"errors"
	"fmt"
)

// Not-found class errors. Handlers translate these to 404; an expired
// session is indistinguishable from an absent one.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrFileNotFound    = errors.New("file not found")
	ErrObjectNotFound  = errors.New("object not found")
)

// ValidationError is a client-caused 400-class error. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrFileNotFound) ||
		errors.Is(err, ErrObjectNotFound)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
