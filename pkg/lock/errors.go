package lock

import (
	"fmt"

	"github.com/pkg/errors"
)

// Phase identifies the step of the lock lifecycle in which a failure occurred.
type Phase string

const (
	// PhaseBootstrap covers creation of the resource's lock row
	PhaseBootstrap Phase = "bootstrap"

	// PhaseAcquire covers the polling loop that takes the lock
	PhaseAcquire Phase = "acquire"

	// PhaseExecute covers the caller's unit of work
	PhaseExecute Phase = "execute"

	// PhaseRelease covers returning the row to the unlocked state
	PhaseRelease Phase = "release"
)

var (
	// ErrDuplicate is returned by Store.Insert when the row already exists.
	ErrDuplicate = errors.New("lock row already exists")

	// ErrNotFound is returned by Tx.Get when the resource has no row.
	ErrNotFound = errors.New("lock row not found")

	// ErrConflict marks a retryable transaction conflict, such as a serialization failure.
	ErrConflict = errors.New("transaction conflict")

	// ErrInconsistentLockState means the lock row vanished after it was bootstrapped.
	ErrInconsistentLockState = errors.New("lock table is not initialized for resource")

	// ErrAlreadyUnlocked means the row was unlocked by someone else while the holder was still
	// running, which only happens when a stale lock was reclaimed.
	ErrAlreadyUnlocked = errors.New(
		"release found an already-unlocked resource; the operation may have partially succeeded, verify before retrying",
	)
)

// Error is the failure reported by Execute and Do.
//
// Err is the first failure observed and is what Unwrap returns. Suppressed holds a release
// failure that happened after Err and was not propagated, so callers can still inspect it.
type Error struct {
	Phase      Phase
	Resource   string
	Err        error
	Suppressed error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Phase, e.Resource, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// PhaseOf returns the phase of the first *Error in err's chain, or "" when there is none.
func PhaseOf(err error) Phase {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Phase
	}

	return ""
}

// SuppressedOf returns the suppressed release failure carried by err, if any.
func SuppressedOf(err error) error {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Suppressed
	}

	return nil
}

func newError(phase Phase, resource string, err error) *Error {
	return &Error{Phase: phase, Resource: resource, Err: err}
}
