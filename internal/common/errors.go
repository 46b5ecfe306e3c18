// Package common defines shared constants and sentinel errors used across
// the feed client layers. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository/backend-level errors.
	ErrNotFound = errors.New("not found")

	// ErrTransient marks a remote call that failed because of connectivity,
	// a timeout or an unavailable backend. Local optimistic state is reverted.
	ErrTransient = errors.New("transient network error")

	// ErrConflict is returned for duplicate writes and deletes of already
	// deleted records. Idempotent operations treat it as success.
	ErrConflict = errors.New("conflict")

	// ErrValidation is returned before any local mutation or network call.
	ErrValidation = errors.New("validation error")

	// ErrScopeMismatch is internal: a reconciled entity does not belong to
	// the active view scope. It is logged and never surfaced.
	ErrScopeMismatch = errors.New("scope mismatch")

	// Auth errors.
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")

	// ErrMalformedRecord is returned when a backend record cannot be decoded
	// into a typed entity.
	ErrMalformedRecord = errors.New("malformed record")
)

// ValidationError describes which input was rejected and why.
// It matches ErrValidation via errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid is a shorthand for constructing a *ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
