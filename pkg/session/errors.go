package session

import (
	"errors"
	"fmt"

	"github.com/entrhq/browsepilot/pkg/types"
)

var (
	// ErrUnknownSession means the provider has no live session with that id.
	ErrUnknownSession = errors.New("unknown session")

	// ErrActionFailed means the session is healthy but the action did not succeed
	// (element not found, navigation error, timeout inside the page).
	ErrActionFailed = errors.New("action failed")

	// ErrTransport means the provider could not be reached or answered with a
	// server-side failure.
	ErrTransport = errors.New("provider transport error")
)

// ActionError describes a failed action. It matches ErrActionFailed.
type ActionError struct {
	Tool   types.Tool
	Reason string
	Err    error
}

// NewActionError creates an ActionError. err may be nil.
func NewActionError(tool types.Tool, reason string, err error) *ActionError {
	return &ActionError{Tool: tool, Reason: reason, Err: err}
}

func (e *ActionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Tool, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Tool, e.Reason)
}

func (e *ActionError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrActionFailed, e.Err}
	}
	return []error{ErrActionFailed}
}

// IsRetryable reports whether err may succeed if the same call is repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport)
}
