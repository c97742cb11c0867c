package utils

import "fmt"

// MalformedRecordError represents a raw market-data bar rejected during
// normalization. The offending bar is dropped; the rest of its batch is kept.
type MalformedRecordError struct {
	Message string
}

// Error returns the error message string.
func (e *MalformedRecordError) Error() string {
	return e.Message
}

// NewMalformedRecordError creates a new MalformedRecordError with a specific message.
func NewMalformedRecordError(message string) error {
	return &MalformedRecordError{
		Message: message,
	}
}

// NewMalformedRecordErrorf creates a new MalformedRecordError with a formatted message.
func NewMalformedRecordErrorf(format string, args ...interface{}) error {
	return &MalformedRecordError{
		Message: fmt.Sprintf(format, args...),
	}
}

// PersistenceError represents a store write failure for one series batch.
// The failed batch rolls back alone and never aborts sibling units.
type PersistenceError struct {
	Message string
	Err     error
}

// Error returns the error message string.
func (e *PersistenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError wraps a store error with context.
func NewPersistenceError(message string, err error) error {
	return &PersistenceError{
		Message: message,
		Err:     err,
	}
}
