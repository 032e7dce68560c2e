package policy

import (
	"errors"
	"fmt"
)

// Sentinel errors for the policy store.
var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("policy record not found")

	// ErrDuplicateName indicates a policy name collision.
	ErrDuplicateName = errors.New("policy name already exists")

	// ErrStoreUnavailable indicates that the backing store could not be
	// reached.
	ErrStoreUnavailable = errors.New("policy store unavailable")
)

// EvaluationError indicates that the evaluator could not assemble the
// applicable-policy set. The gate collapses it into a denial.
type EvaluationError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *EvaluationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("policy evaluation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("policy evaluation error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *EvaluationError) Unwrap() error {
	return e.Cause
}

// NewEvaluationError creates a new EvaluationError.
func NewEvaluationError(message string, cause error) *EvaluationError {
	return &EvaluationError{
		Message: message,
		Cause:   cause,
	}
}

// IsEvaluationError checks if an error is an EvaluationError.
func IsEvaluationError(err error) bool {
	var evalErr *EvaluationError
	return errors.As(err, &evalErr)
}
