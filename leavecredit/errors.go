/*
errors.go - Error kinds for the leave-credit ledger

PURPOSE:
  All error types in one place. Every ledger failure is one of three kinds,
  each unwrapping to a sentinel so callers can use errors.Is:

    ValidationError -> ErrValidation   bad input or a rule would be broken
    ConflictError   -> ErrConflict     bucket/run/policy state forbids the write
    NotFoundError   -> ErrNotFound     operation needs a bucket that is absent

  Messages carry the values involved, e.g.
    "cannot reduce used credits below 0: current=3, delta=-5"

SEE ALSO:
  - ledger.go: Produces these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package leavecredit

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")

	// ErrDuplicateIdempotencyKey is returned by stores when an entry with the
	// same idempotency key was already written.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrRunAlreadyClaimed marks a (policy, period) that was already processed.
	ErrRunAlreadyClaimed = errors.New("period already processed for policy")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError reports a rejected input or a rule that would be broken.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError reports that existing state forbids the write.
type ConflictError struct {
	Key     string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Key)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a missing bucket, entry, policy or employee.
type NotFoundError struct {
	Kind string // "bucket", "entry", "policy", "employee", "run"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func requiredField(field string) *ValidationError {
	return &ValidationError{Field: field, Message: "is required"}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrRunAlreadyClaimed)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
