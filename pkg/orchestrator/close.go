package orchestrator

// CloseReason says why a session is being closed. It decides whether a
// preserved session survives.
type CloseReason string

const (
	// CloseReasonCompleted is used when the step loop reached a terminal state.
	CloseReasonCompleted CloseReason = "completed"

	// CloseReasonCleanup is used on error paths, cancellation and teardown.
	CloseReasonCleanup CloseReason = "cleanup"

	// CloseReasonExplicit is a close requested by the session owner. It
	// overrides the preserve flag.
	CloseReasonExplicit CloseReason = "explicit"

	// CloseReasonShutdown is used when the process hosting the registry
	// exits. It overrides the preserve flag.
	CloseReasonShutdown CloseReason = "shutdown"
)

// overridesPreserve reports whether r closes a preserved session.
func (r CloseReason) overridesPreserve() bool {
	return r == CloseReasonExplicit || r == CloseReasonShutdown
}

// stronger returns whichever of r and other closes more sessions.
func (r CloseReason) stronger(other CloseReason) CloseReason {
	if r == "" || (!r.overridesPreserve() && other.overridesPreserve()) {
		return other
	}
	return r
}
