package provision

import (
	"errors"
	"fmt"
)

// ErrUnresolvedReference is returned when a payload references a local id
// that no earlier step has produced.
var ErrUnresolvedReference = errors.New("unresolved reference")

// ErrAlreadyExists is returned by a step's Do when the remote object is
// already present. The step counts as skipped; a GUID returned alongside is
// still bound.
var ErrAlreadyExists = errors.New("already exists")

// ErrAbsent is returned by a step's Do when the object it would remove is
// not there. The step counts as skipped.
var ErrAbsent = errors.New("not found")

// ErrConflictingID is returned when a local id is bound to a second, different GUID.
var ErrConflictingID = errors.New("conflicting id")

// StepError reports a step that still failed after all retry attempts.
type StepError struct {
	// Phase is the ID of the phase the step belongs to.
	Phase string

	// Label is the step's human-readable description.
	Label string

	// Attempts is the number of attempts made.
	Attempts int

	// Err is the error from the last attempt.
	Err error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("phase %s: %s failed after %d attempts: %v", e.Phase, e.Label, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Label, e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error.
func (e *StepError) Unwrap() error {
	return e.Err
}

// IsRetryExhausted returns true if err is, or wraps, a *StepError.
func IsRetryExhausted(err error) bool {
	var se *StepError
	return errors.As(err, &se)
}

// IsUnresolvedReference returns true if err wraps ErrUnresolvedReference.
func IsUnresolvedReference(err error) bool {
	return errors.Is(err, ErrUnresolvedReference)
}
