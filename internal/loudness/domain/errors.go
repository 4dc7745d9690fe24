package loudness

import (
	"errors"
	"fmt"
)

var (
	// ErrNilRepository is returned when a required repository is missing.
	ErrNilRepository = errors.New("loudness: nil repository")
	// ErrInvalidThresholds is returned when the low threshold exceeds the high one.
	ErrInvalidThresholds = errors.New("loudness: low threshold above high threshold")
)

// InputError reports a malformed client field. It maps to a 4xx response.
type InputError struct {
	Field  string
	Reason string
}

// NewInputError constructs an InputError.
func NewInputError(field, reason string) *InputError {
	return &InputError{Field: field, Reason: reason}
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// StoreError wraps a persistence failure with the operation that failed.
type StoreError struct {
	Op  string
	Err error
}

// WrapStore wraps err as a StoreError; nil stays nil.
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
