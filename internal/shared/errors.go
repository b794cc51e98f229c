package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates resource not found. Soft-deleted records surface
	// the same error as records that never existed.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the actor is not a contributor on the document.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict indicates the mutation lost against current committed state.
	ErrConflict = errors.New("conflict")
	// ErrInfrastructure wraps retryable backing-store failures.
	ErrInfrastructure = errors.New("infrastructure failure")
)

// ValidationError carries field-level messages for rejected input.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages, "; ")
}

// NewValidationError builds a ValidationError from messages.
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Messages: messages}
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Conflictf wraps ErrConflict with a specific message.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Forbiddenf wraps ErrForbidden with a specific message.
func Forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}
