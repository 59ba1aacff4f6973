package domain

import (
	"errors"
	"fmt"
)

// ErrIllegalState is matched by every IllegalStateError.
var ErrIllegalState = errors.New("illegal state")

// ErrFlowRegression is returned when a terminal flow would be reset to a
// non-terminal one within the same pass. The write is rejected.
var ErrFlowRegression = errors.New("flow cannot leave a terminal state")

// IllegalStateError reports an operation that cannot be performed in the
// current state of the transaction, such as wrapping a committed response.
type IllegalStateError struct {
	Op     string
	Reason string
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("illegal state in %s: %s", e.Op, e.Reason)
}

// Is makes errors.Is(err, ErrIllegalState) match.
func (e *IllegalStateError) Is(target error) bool {
	return target == ErrIllegalState
}

// NewIllegalState builds an IllegalStateError.
func NewIllegalState(op, reason string) error {
	return &IllegalStateError{Op: op, Reason: reason}
}

// Evaluation phases reported by EvaluationError.
const (
	PhaseCondition = "condition"
	PhaseOperation = "operation"
	PhaseConfig    = "configuration"
)

// EvaluationError wraps an error raised while evaluating a rule.
type EvaluationError struct {
	Provider string
	Rule     string
	Phase    string
	Err      error
}

func (e *EvaluationError) Error() string {
	rule := e.Rule
	if rule == "" {
		rule = "<unnamed>"
	}
	return fmt.Sprintf("rule %s/%s %s failed: %v", e.Provider, rule, e.Phase, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// IsEvaluationError returns true if err is or wraps an EvaluationError.
func IsEvaluationError(err error) bool {
	var ee *EvaluationError
	return errors.As(err, &ee)
}
