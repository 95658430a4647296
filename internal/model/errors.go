package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                 = errors.New("not found")
	ErrUnauthorized             = errors.New("unauthorized")
	ErrCapacityExceeded         = errors.New("capacity exceeded")
	ErrIncompleteSelection      = errors.New("incomplete selection")
	ErrArtifactGenerationFailed = errors.New("artifact generation failed")
	ErrInvariantViolation       = errors.New("invariant violation detected")
	ErrInvalidTransition        = errors.New("invalid status transition")
	ErrSealLost                 = errors.New("seal lost before artifact commit")
	ErrNotSectioned             = errors.New("paper has sections; select within a section")
)

// CapacityError reports a rejected selection with the live counts.
type CapacityError struct {
	Scope    ScopeState
	Selected int
	Target   int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: %s has %d of %d selected", ErrCapacityExceeded, e.Scope.Ref, e.Selected, e.Target)
}

func (e *CapacityError) Is(target error) bool { return target == ErrCapacityExceeded }

// IncompleteError reports a finalize attempted before the target was reached.
type IncompleteError struct {
	Scope ScopeState
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%s: %s has %d of %d selected", ErrIncompleteSelection, e.Scope.Ref, e.Scope.Selected, e.Scope.Target)
}

func (e *IncompleteError) Is(target error) bool { return target == ErrIncompleteSelection }

// TransitionError reports a status change the state machine does not allow.
type TransitionError struct {
	Scope ScopeRef
	From  ScopeStatus
	To    ScopeStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s %s -> %s", ErrInvalidTransition, e.Scope, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// InvariantError describes a counter that disagrees with the stored flags.
type InvariantError struct {
	Scope   ScopeRef
	Counter int
	Recount int
	Target  int
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s counter=%d recount=%d target=%d", ErrInvariantViolation, e.Scope, e.Counter, e.Recount, e.Target)
}

func (e *InvariantError) Is(target error) bool { return target == ErrInvariantViolation }
