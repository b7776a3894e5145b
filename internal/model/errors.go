package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks input that fails validation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIllegalTransition marks a status change the lifecycle forbids.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrNotFound means no incident has the requested id.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by stores when a compare-and-swap save loses a race.
	// Callers reload and retry.
	ErrConflict = errors.New("concurrent modification")
)

// TransitionError reports a status change the lifecycle table does not allow.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal status transition: %s -> %s", e.From, e.To)
}

// Unwrap lets errors.Is match ErrIllegalTransition.
func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }
