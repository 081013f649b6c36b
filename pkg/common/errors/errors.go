// Package errors provides the common error taxonomy for the remstore system.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and retry decisions
type Kind string

const (
	// KindValidation indicates a malformed query, event path, or parameter.
	// Permanent; returned to the caller or dead-lettered.
	KindValidation Kind = "VALIDATION"

	// KindNotFound indicates a missing entity id or KV key
	KindNotFound Kind = "NOT_FOUND"

	// KindConflict indicates a tenant mismatch on upsert or a
	// deterministic-id collision with different content
	KindConflict Kind = "CONFLICT"

	// KindTransient indicates pool checkout timeout, network reset, or
	// backend overload. Callers retry with exponential backoff.
	KindTransient Kind = "TRANSIENT"

	// KindDependency indicates a missing embedding provider or LLM
	// credentials. Semantic operations degrade; non-semantic ops proceed.
	KindDependency Kind = "DEPENDENCY"

	// KindInternal indicates an unexpected invariant violation
	KindInternal Kind = "INTERNAL"
)

// Error is the structured error carried across component boundaries
type Error struct {
	Component string
	Operation string
	Kind      Kind
	Err       error
	Context   map[string]interface{}
}

// Error returns a string representation of the error
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s (%s)", e.Component, e.Operation, e.Err.Error(), e.Kind)
	}
	return fmt.Sprintf("%s.%s (%s)", e.Component, e.Operation, e.Kind)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new structured error
func New(component, operation string, kind Kind, err error) *Error {
	return &Error{
		Component: component,
		Operation: operation,
		Kind:      kind,
		Err:       err,
	}
}

// Newf creates a new structured error from a format string
func Newf(component, operation string, kind Kind, format string, args ...interface{}) *Error {
	return New(component, operation, kind, fmt.Errorf(format, args...))
}

// WithContext adds context to the error and returns it
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// KindOf returns the Kind of an error, or KindInternal when the error does
// not carry one
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsValidation returns true if the error is a validation error
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// IsNotFound returns true if the error indicates a missing entity or key
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsConflict returns true if the error indicates a conflict
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

// IsTransient returns true if the error may succeed on retry
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsDependency returns true if the error indicates a missing collaborator
func IsDependency(err error) bool {
	return KindOf(err) == KindDependency
}

// IsRetryable reports whether a retry loop should attempt the operation
// again. Only Transient errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

// Sentinel errors shared across components
var (
	// ErrNotFound is the bare sentinel for a missing record
	ErrNotFound = errors.New("record not found")

	// ErrNoEmbeddingProvider is returned when no embedding provider is
	// configured; callers may skip embedding rather than abort
	ErrNoEmbeddingProvider = errors.New("no embedding provider configured")
)
