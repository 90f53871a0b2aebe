package types

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the task engine. Match them with errors.Is.
var (
	// ErrInvalidRequest means a required field was missing or malformed.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrPlanner means the planning oracle failed or returned malformed output.
	ErrPlanner = errors.New("planner error")

	// ErrExecutionFailure means a dispatched action failed against the session.
	ErrExecutionFailure = errors.New("execution failure")

	// ErrSessionUnavailable means the session provider could not be reached or
	// does not know the session.
	ErrSessionUnavailable = errors.New("session unavailable")

	// ErrAlreadyRunning means a start or step is already in flight for the task.
	ErrAlreadyRunning = errors.New("already running")
)

// TaskError carries an error kind plus the operation that produced it.
// errors.Is matches both the kind and the wrapped cause.
type TaskError struct {
	Kind    error
	Op      string
	Message string
	Err     error
}

// NewTaskError creates a TaskError. Err may be nil.
func NewTaskError(kind error, op, message string, err error) *TaskError {
	return &TaskError{Kind: kind, Op: op, Message: message, Err: err}
}

func (e *TaskError) Error() string {
	msg := e.Message
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *TaskError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the taxonomy kind of err, or nil when err is not classified.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrInvalidRequest,
		ErrAlreadyRunning,
		ErrPlanner,
		ErrExecutionFailure,
		ErrSessionUnavailable,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
