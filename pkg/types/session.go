package types

import "time"

// Session is a live remote browser addressed by an opaque id.
type Session struct {
	// ID is the provider-assigned session identifier.
	ID string `json:"sessionId"`

	// LiveViewURL lets a caller watch the session as it runs.
	LiveViewURL string `json:"liveViewUrl"`

	// ContextID is a continuation token the provider may use to resume
	// browser state (cookies, storage) in a later session.
	ContextID string `json:"contextId,omitempty"`

	// CreatedAt is when the provider reported the session ready.
	CreatedAt time.Time `json:"createdAt"`
}
