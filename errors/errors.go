// Package errors provides standardized error handling for Metagraph components.
// It classifies errors into the categories the service layer cares about
// (validation, not-found, conflict, transaction, partial batch failure) and
// provides helpers for consistent wrapping across the system.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorValidation represents errors from payloads or domain objects that
	// fail declared constraints (required field, enum membership, bad shape)
	ErrorValidation ErrorClass = iota
	// ErrorNotFound represents references to ontology or graph objects that
	// are absent or not owned by the requesting container
	ErrorNotFound
	// ErrorConflict represents duplicate-key collisions, e.g. two mappings
	// racing on the same (data source, shape hash) pair
	ErrorConflict
	// ErrorTransaction represents persistence transactions that failed to
	// start, commit, or roll back
	ErrorTransaction
	// ErrorPartial represents a batch in which some items failed without
	// aborting their siblings
	ErrorPartial
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorValidation:
		return "validation"
	case ErrorNotFound:
		return "not_found"
	case ErrorConflict:
		return "conflict"
	case ErrorTransaction:
		return "transaction"
	case ErrorPartial:
		return "partial"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Ontology errors
	ErrMetatypeNotFound     = errors.New("metatype not found")
	ErrRelationshipNotFound = errors.New("relationship pair not found")
	ErrKeyNotFound          = errors.New("metatype key not found")
	ErrContainerMismatch    = errors.New("object not owned by container")

	// Graph errors
	ErrNodeNotFound = errors.New("node not found")

	// Mapping errors
	ErrMappingNotFound   = errors.New("type mapping not found")
	ErrDuplicateShape    = errors.New("mapping already exists for shape")
	ErrMappingIncomplete = errors.New("mapping transformations not loaded")

	// Changelist errors
	ErrChangelistNotFound  = errors.New("changelist not found")
	ErrInvalidStatusChange = errors.New("invalid changelist status transition")
	ErrChangelistImmutable = errors.New("changelist payload is immutable")
	ErrApprovalNotFound    = errors.New("changelist approval not found")

	// Persistence errors
	ErrTxBegin    = errors.New("transaction begin failed")
	ErrTxCommit   = errors.New("transaction commit failed")
	ErrTxRollback = errors.New("transaction rollback failed")

	// Generic data errors
	ErrInvalidData   = errors.New("invalid data format")
	ErrMissingField  = errors.New("required field missing")
	ErrInvalidFilter = errors.New("invalid filter expression")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsValidation checks if an error is a validation failure
func IsValidation(err error) bool {
	return hasClass(err, ErrorValidation) ||
		errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidFilter)
}

// IsNotFound checks if an error is a missing-object failure
func IsNotFound(err error) bool {
	return hasClass(err, ErrorNotFound) ||
		errors.Is(err, ErrMetatypeNotFound) ||
		errors.Is(err, ErrRelationshipNotFound) ||
		errors.Is(err, ErrKeyNotFound) ||
		errors.Is(err, ErrNodeNotFound) ||
		errors.Is(err, ErrMappingNotFound) ||
		errors.Is(err, ErrChangelistNotFound) ||
		errors.Is(err, ErrApprovalNotFound)
}

// IsConflict checks if an error is a duplicate-key collision
func IsConflict(err error) bool {
	if hasClass(err, ErrorConflict) || errors.Is(err, ErrDuplicateShape) {
		return true
	}
	if err == nil {
		return false
	}
	// Driver-level unique violations surface as plain errors; both sqlite and
	// postgres mention the constraint in the message.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

// IsTransaction checks if an error is a transaction failure
func IsTransaction(err error) bool {
	return hasClass(err, ErrorTransaction) ||
		errors.Is(err, ErrTxBegin) ||
		errors.Is(err, ErrTxCommit) ||
		errors.Is(err, ErrTxRollback)
}

func hasClass(err error, class ErrorClass) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == class
	}
	return false
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	switch {
	case IsNotFound(err):
		return ErrorNotFound
	case IsConflict(err):
		return ErrorConflict
	case IsTransaction(err):
		return ErrorTransaction
	default:
		return ErrorValidation
	}
}

// newClassified creates a new classified error.
// Internal helper - use the Wrap* functions instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapValidation wraps an error as a validation failure with context
func WrapValidation(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorValidation, wrappedErr, component, method, wrappedErr.Error())
}

// WrapNotFound wraps an error as a missing-object failure with context
func WrapNotFound(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorNotFound, wrappedErr, component, method, wrappedErr.Error())
}

// WrapConflict wraps an error as a duplicate-key collision with context
func WrapConflict(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorConflict, wrappedErr, component, method, wrappedErr.Error())
}

// WrapTransaction wraps an error as a transaction failure with context
func WrapTransaction(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransaction, wrappedErr, component, method, wrappedErr.Error())
}

// BatchError collects per-item failures from a batch operation. The batch as
// a whole succeeded for every item not present in Failures.
type BatchError struct {
	Failures map[string]error
}

// Error implements the error interface
func (be *BatchError) Error() string {
	if len(be.Failures) == 0 {
		return "batch completed"
	}
	parts := make([]string, 0, len(be.Failures))
	for key, err := range be.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", key, err))
	}
	return fmt.Sprintf("%d item(s) failed: %s", len(be.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the per-item failures to errors.Is and errors.As, so a
// batch holding a single not-found item still classifies as not found
func (be *BatchError) Unwrap() []error {
	if len(be.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(be.Failures))
	for _, err := range be.Failures {
		errs = append(errs, err)
	}
	return errs
}

// Add records a failure for one batch item
func (be *BatchError) Add(key string, err error) {
	if be.Failures == nil {
		be.Failures = make(map[string]error)
	}
	be.Failures[key] = err
}

// OrNil returns nil when no item failed, the classified batch error otherwise
func (be *BatchError) OrNil() error {
	if len(be.Failures) == 0 {
		return nil
	}
	return newClassified(ErrorPartial, be, "batch", "OrNil", be.Error())
}
