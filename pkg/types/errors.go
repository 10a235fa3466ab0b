package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTargetBusy is returned when a lock conflict prevents building a task
	ErrTargetBusy = errors.New("target busy")
	// ErrInvalidTransition is returned for an illegal status change
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrValidation is returned when a request or payload fails validation
	ErrValidation = errors.New("validation error")
	// ErrWorkerUnavailable is returned when a queuer cannot place a task
	ErrWorkerUnavailable = errors.New("worker unavailable")
	// ErrBrokenTask marks a task whose worker vanished
	ErrBrokenTask = errors.New("broken task")
	// ErrPayloadFailure marks a job whose payload process exited non-zero
	ErrPayloadFailure = errors.New("payload failure")
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
)

// TransitionError describes a rejected status change
type TransitionError struct {
	Entity string
	ID     int64
	From   Status
	To     Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %d: %s -> %s: %s", e.Entity, e.ID, e.From, e.To, ErrInvalidTransition)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// BusyError names the entity whose lock blocked a task
type BusyError struct {
	Entity    EntityRef
	ConcernID int64
	TaskID    int64
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%s: %s is locked by task %d (concern %d)", ErrTargetBusy, e.Entity, e.TaskID, e.ConcernID)
}

func (e *BusyError) Unwrap() error { return ErrTargetBusy }

// ValidationError collects validation failures for a request
type ValidationError struct {
	Field    string
	Problems []string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(e.Problems, "; "))
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalidf builds a single-problem ValidationError
func Invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Problems: []string{fmt.Sprintf(format, args...)}}
}

// NotFoundf wraps ErrNotFound with a description of the missing row
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}
