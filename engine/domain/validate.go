package domain

import (
	"strings"
	"unicode/utf8"
)

// MaxQuestionLength bounds a chat question, in characters.
const MaxQuestionLength = 1000

// ValidateDocument checks the invariant every document must hold once it
// leaves a loader: non-empty content and both source and type tags.
func ValidateDocument(d Document) error {
	if strings.TrimSpace(d.Content) == "" {
		return NewValidationError("content", "", ErrEmptyContent)
	}
	if d.Metadata.String(KeySource) == "" {
		return NewValidationError(KeySource, "", ErrMissingTag)
	}
	if d.Metadata.String(KeyType) == "" {
		return NewValidationError(KeyType, "", ErrMissingTag)
	}
	return nil
}

// ValidateQuestion checks a user question before any external call is made.
func ValidateQuestion(q string) error {
	text := strings.TrimSpace(q)
	if text == "" {
		return NewValidationError("message", q, ErrEmptyQuestion)
	}
	if utf8.RuneCountInString(text) > MaxQuestionLength {
		return NewValidationError("message", "", ErrQuestionTooLong)
	}
	return nil
}
