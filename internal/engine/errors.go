package engine

import (
	"errors"
	"fmt"
)

// Engine error taxonomy.
var (
	// ErrNoQuestionsAvailable is returned by Start when the Question Source
	// yields an empty or undersized set. No session row is created.
	ErrNoQuestionsAvailable = errors.New("no questions available")

	// ErrInvalidTransition marks an operation called in the wrong state,
	// e.g. SelectAnswer on a completed session. Programming error — rejected
	// deterministically, never silently ignored.
	ErrInvalidTransition = errors.New("invalid session state transition")

	// ErrIndexOutOfRange is returned by Navigate for a cursor outside the
	// assigned question order.
	ErrIndexOutOfRange = errors.New("question index out of range")

	// ErrNoActiveSession is returned by the store when a student has no
	// in-progress session to resume.
	ErrNoActiveSession = errors.New("no active session")

	// ErrSessionUnrecoverable marks a stored session whose progress data is
	// corrupt. The caller treats the session as lost and returns the student
	// to the instructions screen instead of crashing.
	ErrSessionUnrecoverable = errors.New("session state unrecoverable")
)

// PersistenceError wraps a failed store write. Terminal-path persistence
// errors are retryable: the session stays Active until the write durably
// succeeds, so the caller may safely call Submit again.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence write failed (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
