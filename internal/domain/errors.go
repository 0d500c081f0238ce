package domain

import (
	"errors"
	"fmt"
)

// Typed failures surfaced by the scoring pipeline. The engine never masks a
// failure as a "not fraud" verdict; callers decide on fallback policy.
var (
	// ErrInvalidTimestamp indicates an unparseable transaction timestamp.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrModelNotLoaded indicates the normalizer was invoked before a
	// normalization model was supplied.
	ErrModelNotLoaded = errors.New("normalization model not loaded")

	// ErrInvalidThreshold indicates a decision threshold outside [0, 1].
	ErrInvalidThreshold = errors.New("threshold must be between 0 and 1")

	// ErrClassifierTimeout indicates the classifier did not answer within
	// the configured per-call timeout.
	ErrClassifierTimeout = errors.New("classifier timed out")
)

// ValidationError reports a transaction field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid transaction: %s %s", e.Field, e.Reason)
}

// ClassifierError wraps a failure from the underlying classifier.
type ClassifierError struct {
	Err error
}

func (e *ClassifierError) Error() string {
	return fmt.Sprintf("classifier failure: %v", e.Err)
}

func (e *ClassifierError) Unwrap() error {
	return e.Err
}
