package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/internal/guardrail"
	"github.com/wonny/aegis-analytics/internal/runstate"
)

var (
	// ErrAlreadyFinalized is returned when a finalized RunRecord is modified
	ErrAlreadyFinalized = errors.New("run record already finalized")
	// ErrInvalidTransition is returned for a state change the machine does not allow
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInvalidDefinition is returned when a pipeline definition is malformed
	ErrInvalidDefinition = errors.New("invalid pipeline definition")
)

// StageError carries an explicit error kind out of a stage
type StageError struct {
	Kind contracts.ErrorKind
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Fail wraps err with an explicit kind
func Fail(kind contracts.ErrorKind, err error) error {
	return &StageError{Kind: kind, Err: err}
}

// Failf is Fail with a formatted message
func Failf(kind contracts.ErrorKind, format string, args ...any) error {
	return &StageError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// classify maps a stage error to its kind. Unclassified errors from fetch
// stages are provider failures; from any other stage, calculation failures.
func classify(kind Kind, err error) contracts.ErrorKind {
	var se *StageError
	switch {
	case errors.As(err, &se):
		return se.Kind
	case errors.Is(err, guardrail.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return contracts.ErrKindTimeout
	case errors.Is(err, runstate.ErrNotReady):
		return contracts.ErrKindNotReady
	case errors.Is(err, runstate.ErrDuplicateWrite):
		return contracts.ErrKindDuplicate
	case kind == KindFetch:
		return contracts.ErrKindProvider
	default:
		return contracts.ErrKindCalculation
	}
}

// isFatal reports whether a failure kind is a wiring/invariant violation
func isFatal(k contracts.ErrorKind) bool {
	switch k {
	case contracts.ErrKindNotReady, contracts.ErrKindDuplicate, contracts.ErrKindInternal:
		return true
	default:
		return false
	}
}

// RunError is the structured reason a run did not complete
type RunError struct {
	Kind    contracts.ErrorKind `json:"kind"`
	Stage   contracts.StageName `json:"stage,omitempty"`
	Group   contracts.GroupName `json:"group,omitempty"`
	Message string              `json:"message"`
}

func (e *RunError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s at %s: %s", e.Kind, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
