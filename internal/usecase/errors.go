package usecase

import (
	"errors"
	"fmt"

	"github.com/paincake00/dispatchcore/internal/entity"
)

var (
	ErrNotFound                  = errors.New("not found")
	ErrInvalidInput              = errors.New("invalid input")
	ErrInvalidTransition         = errors.New("invalid transition")
	ErrNotAuthorized             = errors.New("not authorized")
	ErrDuplicateActiveAssignment = errors.New("alarm already has an active assignment")
	ErrVerificationFailed        = errors.New("arrival verification failed")
	// ErrStaleAssignment статус назначения в хранилище уже не тот, из которого строился переход.
	ErrStaleAssignment = errors.New("assignment changed concurrently")
)

// TransitionError команда не допустима в текущем статусе назначения.
type TransitionError struct {
	AssignmentID string
	Op           string
	From         entity.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: assignment %s is %s: %v", e.Op, e.AssignmentID, e.From, ErrInvalidTransition)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// DuplicateAssignmentError у тревоги уже есть активное назначение.
type DuplicateAssignmentError struct {
	AlarmID            string
	ActiveAssignmentID string
}

func (e *DuplicateAssignmentError) Error() string {
	return fmt.Sprintf("alarm %s: active assignment %s: %v", e.AlarmID, e.ActiveAssignmentID, ErrDuplicateActiveAssignment)
}

func (e *DuplicateAssignmentError) Unwrap() error { return ErrDuplicateActiveAssignment }

// VerificationError отказ проверки прибытия. Назначение остается в arrived, попытку можно повторить.
type VerificationError struct {
	Reason  entity.VerificationReason
	Attempt *entity.VerificationAttempt
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrVerificationFailed, e.Reason)
}

func (e *VerificationError) Unwrap() error { return ErrVerificationFailed }

func notAuthorized(actor, op, assignmentID string) error {
	return fmt.Errorf("actor %q may not %s assignment %s: %w", actor, op, assignmentID, ErrNotAuthorized)
}

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidInput)
}
