// Package session defines the contract between the task engine and a remote,
// stateful browser. Adapters live in subpackages: playwright drives a local
// Chromium, remote talks to a hosted session service over HTTP.
package session

import (
	"context"
	"time"

	"github.com/entrhq/browsepilot/pkg/types"
)

// Provider creates, drives and destroys browser sessions.
//
// Implementations must be safe for concurrent use across sessions. Calls for
// a single session are serialized by the caller.
type Provider interface {
	// CreateSession provisions a new session and returns its identity.
	CreateSession(ctx context.Context, opts Options) (*types.Session, error)

	// DestroySession releases a session. Destroying an unknown or already
	// destroyed session returns nil.
	DestroySession(ctx context.Context, sessionID string) error

	// Dispatch performs one primitive action against a live session.
	Dispatch(ctx context.Context, sessionID string, action Action) (*Outcome, error)
}

// Viewport is the browser window size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// Options configures a new session.
type Options struct {
	// ContextID resumes persisted browser state (cookies, storage) when set.
	ContextID string

	// PersistContext saves browser state back to ContextID on destroy.
	PersistContext bool

	Viewport *Viewport

	// Timeout is the default per-action timeout inside the browser.
	Timeout time.Duration

	// Metadata is passed through to providers that support tagging.
	Metadata map[string]string
}

// Action is one primitive the provider should perform.
type Action struct {
	Tool        types.Tool
	Instruction string

	// Schema shapes EXTRACT results. Nil means provider default.
	Schema *types.ExtractionSchema

	// Final marks the best-effort extraction run after the step loop.
	Final bool
}

// Outcome is what a successful dispatch reports back.
type Outcome struct {
	// Message is a short human-readable summary of what happened.
	Message string

	// URL is the page URL after the action, when known.
	URL string

	// Data carries extracted values for EXTRACT actions.
	Data map[string]any
}
