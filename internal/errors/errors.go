// Package errors holds the error taxonomy shared by every aura component.
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - ExitCode mapping for the command line tools
// - Error wrapping utilities

package errors

import (
	"context"
	"errors"
	"fmt"
)

// ============================================================================
// Exit codes - returned by cmd/aura and cmd/aurad
// ============================================================================

const (
	ExitOK          = 0
	ExitFailure     = 2
	ExitInterrupted = 130
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Caller input errors. Always detected before any side effect.
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidValue    = fmt.Errorf("invalid value: %w", ErrInvalidArgument)

	// Construction parameters (store open, config files).
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")

	// Persisted structure that no known schema variant matches.
	ErrSchema = errors.New("unsupported schema")

	// Underlying storage read/write failure.
	ErrIO          = errors.New("i/o error")
	ErrStoreClosed = fmt.Errorf("store is closed: %w", ErrIO)

	// Persistence was disabled for the session after a write failure.
	ErrPersistenceDisabled = errors.New("persistence disabled")

	ErrNotFound    = errors.New("not found")
	ErrInterrupted = errors.New("interrupted")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// IsInvalidArgument returns true if err was caused by bad caller input.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsConfig returns true if err is a configuration error.
func IsConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField)
}

// IsSchema returns true if err reports an unrecognized persisted schema.
func IsSchema(err error) bool {
	return errors.Is(err, ErrSchema)
}

// IsIO returns true if err is a storage read/write failure.
func IsIO(err error) bool {
	return errors.Is(err, ErrIO)
}

// IsInterrupted returns true for user interrupts and context cancellation.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted) ||
		errors.Is(err, context.Canceled)
}

// ============================================================================
// Exit code mapping
// ============================================================================

// ExitCode maps an error to the process exit code of the command line tools.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case IsInterrupted(err):
		return ExitInterrupted
	default:
		return ExitFailure
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewInvalidArgument creates an invalid-argument error for a named parameter.
func NewInvalidArgument(field, reason string) error {
	return fmt.Errorf("%s %s: %w", field, reason, ErrInvalidArgument)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("%s %v: %s: %w", field, value, reason, ErrInvalidValue)
}

// NewInvalidConfig creates a configuration error with context.
func NewInvalidConfig(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewSchema creates a schema error.
func NewSchema(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrSchema)
}

// NewIO tags err as an I/O failure of op. The original error stays reachable
// through errors.Is/As.
func NewIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Err: err}
}

// IOError records the storage operation that failed.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

// Unwrap exposes both the cause and the ErrIO category.
func (e *IOError) Unwrap() []error {
	return []error{e.Err, ErrIO}
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewInvalidConfig(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap exposes every collected error to errors.Is/As.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
