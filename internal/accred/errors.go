package accred

import (
	"errors"
	"fmt"
)

// Sentinel errors for lifecycle operations. NotFound, InvalidTransition,
// Unauthorized and ValidationFailed are never retryable; Conflict and
// Transient are surfaced as retryable and retries are the caller's job.
var (
	// ErrNotFound is returned when no credential exists for the given ID.
	ErrNotFound = errors.New("credential not found")

	// ErrUnauthorized is returned when the actor's role does not permit the
	// requested operation. Produced by the orchestrator; the state machine
	// itself is role-agnostic.
	ErrUnauthorized = errors.New("actor is not authorized for this operation")

	// ErrConflict is returned when a concurrent mutation race is detected:
	// the credential's status changed between load and commit.
	ErrConflict = errors.New("credential was modified concurrently")
)

// InvalidTransitionError is returned when the requested action is not legal
// from the credential's current status.
type InvalidTransitionError struct {
	Current   Status
	Attempted Action
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s a credential in status %s", e.Attempted, e.Current)
}

// ValidationError is returned when a mandatory field is missing or malformed,
// e.g. revoking without a reason.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// TransientError wraps a storage or timeout failure that is safe to retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsRetryable reports whether the caller may safely retry the operation.
func IsRetryable(err error) bool {
	var te *TransientError
	return errors.Is(err, ErrConflict) || errors.As(err, &te)
}
