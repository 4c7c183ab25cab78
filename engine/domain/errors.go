package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine.
var (
	ErrSourceNotFound    = errors.New("source not found")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrParse             = errors.New("parse error")
	ErrNoDocuments       = errors.New("no documents loaded")
	ErrCollectionMissing = errors.New("collection does not exist")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	ErrEmptyContent    = errors.New("content is empty")
	ErrMissingTag      = errors.New("missing metadata tag")
	ErrEmptyQuestion   = errors.New("question is empty")
	ErrQuestionTooLong = errors.New("question too long")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Wrapped, e.Field)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// IsSoft reports whether err means a source is simply absent or not
// configured, as opposed to a call that failed.
func IsSoft(err error) bool {
	return errors.Is(err, ErrSourceNotFound)
}
