package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches any NotFoundError
	ErrNotFound = errors.New("workflow: not found")
	// ErrInvalidState matches InvalidStateError and ValidationError
	ErrInvalidState = errors.New("workflow: invalid state")
	// ErrPersistence matches any PersistenceError
	ErrPersistence = errors.New("workflow: persistence failure")

	// ErrEnvelopeNotFound is returned by EnvelopeStore implementations for unknown ids
	ErrEnvelopeNotFound = errors.New("envelope store: envelope not found")
)

// NotFoundError reports a missing envelope or stage number.
// StageNumber is zero when the envelope itself is missing.
type NotFoundError struct {
	EnvelopeID  string
	StageNumber int
}

func (e *NotFoundError) Error() string {
	if e.StageNumber == 0 {
		return fmt.Sprintf("workflow: envelope %s not found", e.EnvelopeID)
	}
	return fmt.Sprintf("workflow: stage %d not found in envelope %s", e.StageNumber, e.EnvelopeID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// InvalidStateError reports an event fired against a stage or workflow that is
// not in the required precondition state. Callers must re-read before retrying.
type InvalidStateError struct {
	Op          string
	EnvelopeID  string
	StageNumber int
	Reason      string
}

func (e *InvalidStateError) Error() string {
	if e.StageNumber == 0 {
		return fmt.Sprintf("workflow: %s on envelope %s: %s", e.Op, e.EnvelopeID, e.Reason)
	}
	return fmt.Sprintf("workflow: %s on envelope %s stage %d: %s", e.Op, e.EnvelopeID, e.StageNumber, e.Reason)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// ValidationError reports a stage array that breaks a structural invariant
type ValidationError struct {
	StageNumber int
	Reason      string
}

func (e *ValidationError) Error() string {
	if e.StageNumber == 0 {
		return fmt.Sprintf("workflow: invalid stage array: %s", e.Reason)
	}
	return fmt.Sprintf("workflow: invalid stage array at stage %d: %s", e.StageNumber, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidState
}

// PersistenceError wraps a store failure verbatim
type PersistenceError struct {
	Op         string
	EnvelopeID string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("workflow: %s envelope %s: %v", e.Op, e.EnvelopeID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// errorOutcome classifies an error for metrics and tracing
func errorOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	default:
		return "error"
	}
}
