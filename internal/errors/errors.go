// Package errors provides the error definitions shared by every plclogger
// component.
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - StatusCode mapping for the HTTP API
// - Error wrapping utilities
// - A validation error collector used by config and catalog loading

package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Not found errors
	ErrNotFound          = errors.New("not found")
	ErrUnknownTag        = errors.New("unknown tag")
	ErrUnknownSetpoint   = errors.New("unknown setpoint")
	ErrChunkNotFound     = errors.New("chunk not found")
	ErrDatabaseNotExists = errors.New("database file does not exist")

	// Validation errors
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrMissingField      = errors.New("missing required field")
	ErrDuplicateName     = errors.New("duplicate name")
	ErrInvalidName       = errors.New("invalid name")
	ErrUnknownDataType   = errors.New("unknown data type")
	ErrUnsupportedType   = errors.New("unsupported data type")
	ErrInvalidWordOrder  = errors.New("invalid word order")
	ErrAddressOutOfRange = errors.New("address out of range")
	ErrInvalidPolicy     = errors.New("invalid logging policy")
	ErrInvalidRange      = errors.New("invalid time range")
	ErrInvalidPreset     = errors.New("invalid calendar preset")

	// Field bus errors
	ErrConnectionFailed = errors.New("connection failed")
	ErrNotConnected     = errors.New("not connected")
	ErrTimeout          = errors.New("timeout")
	ErrProtocol         = errors.New("protocol error")

	// Storage errors
	ErrDatabase           = errors.New("database error")
	ErrBusy               = errors.New("database busy")
	ErrAutoVacuumDisabled = errors.New("incremental auto_vacuum not enabled")
	ErrReadOnly           = errors.New("storage opened read-only")

	// Internal errors
	ErrInternal = errors.New("internal error")
	ErrClosed   = errors.New("closed")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// New is a convenience wrapper for errors.New
var New = errors.New

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnknownTag) ||
		errors.Is(err, ErrUnknownSetpoint) ||
		errors.Is(err, ErrChunkNotFound) ||
		errors.Is(err, ErrDatabaseNotExists)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrDuplicateName) ||
		errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrUnknownDataType) ||
		errors.Is(err, ErrUnsupportedType) ||
		errors.Is(err, ErrInvalidWordOrder) ||
		errors.Is(err, ErrAddressOutOfRange) ||
		errors.Is(err, ErrInvalidPolicy) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidPreset)
}

// IsFieldBusError returns true if err came from the PLC connection.
func IsFieldBusError(err error) bool {
	return errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrProtocol)
}

// IsTransient returns true for failures expected to clear on their own:
// field bus hiccups and SQLite lock contention.
func IsTransient(err error) bool {
	return IsFieldBusError(err) || errors.Is(err, ErrBusy)
}

// IsRetriable returns true if the error is potentially retriable.
func IsRetriable(err error) bool {
	return IsTransient(err)
}

// ============================================================================
// Error to HTTP status mapping
// ============================================================================

// StatusCode maps an error to the HTTP status the API answers with.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case IsValidation(err):
		return http.StatusBadRequest
	case Is(err, ErrBusy), Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	case IsFieldBusError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
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

// Mark attaches a sentinel to err so that errors.Is matches both.
func Mark(err error, sentinel error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewUnknownTag creates an unknown-tag error.
func NewUnknownTag(name string) error {
	return fmt.Errorf("tag '%s': %w", name, ErrUnknownTag)
}

// NewUnknownSetpoint creates an unknown-setpoint error.
func NewUnknownSetpoint(name string) error {
	return fmt.Errorf("setpoint '%s': %w", name, ErrUnknownSetpoint)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
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
	v.Errors = append(v.Errors, NewValidation(field, reason))
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

// Err returns nil if there are no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if !v.HasErrors() {
		return nil
	}
	return v
}

// Unwrap returns the collected errors so errors.Is sees every sentinel.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
