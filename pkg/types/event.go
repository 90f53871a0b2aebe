package types

import "time"

// TaskEventType defines the type of event emitted by the orchestrator.
type TaskEventType string

const (
	EventTypeTaskStarted        TaskEventType = "task_started"        // EventTypeTaskStarted indicates the step loop is about to begin.
	EventTypeSessionCreated     TaskEventType = "session_created"     // EventTypeSessionCreated indicates a browser session is live.
	EventTypeStepPlanned        TaskEventType = "step_planned"        // EventTypeStepPlanned indicates the planner proposed a step.
	EventTypeStepStarted        TaskEventType = "step_started"        // EventTypeStepStarted indicates a step is being dispatched.
	EventTypeStepCompleted      TaskEventType = "step_completed"      // EventTypeStepCompleted indicates a step finished successfully.
	EventTypeStepFailed         TaskEventType = "step_failed"         // EventTypeStepFailed indicates a step failed against the session.
	EventTypeExtractionCaptured TaskEventType = "extraction_captured" // EventTypeExtractionCaptured indicates an extraction result was stored.
	EventTypeTaskCompleted      TaskEventType = "task_completed"      // EventTypeTaskCompleted indicates the loop reached a terminal state without error.
	EventTypeTaskFailed         TaskEventType = "task_failed"         // EventTypeTaskFailed indicates the loop halted on an error.
	EventTypeSessionPreserved   TaskEventType = "session_preserved"   // EventTypeSessionPreserved indicates the session will outlive the loop.
	EventTypeSessionClosed      TaskEventType = "session_closed"      // EventTypeSessionClosed indicates local session identity was cleared.
)

// TaskEvent represents a state transition of a task instance.
type TaskEvent struct {
	// Metadata holds optional additional information about the event.
	Metadata map[string]interface{}

	// Step is a copy of the step the event refers to (step events only).
	Step *Step

	// Extraction is the captured result (extraction and completion events).
	Extraction *ExtractionResult

	// Error contains error information for failure events.
	Error error

	// Time is when the event was emitted.
	Time time.Time

	// Type indicates the kind of event.
	Type TaskEventType

	TaskID      string
	SessionID   string
	LiveViewURL string

	// StepIndex is the zero-based position of the step in the history.
	StepIndex int

	// Done reports whether the planner declared the goal achieved (completion events).
	Done bool
}

func newTaskEvent(t TaskEventType, taskID string) *TaskEvent {
	return &TaskEvent{
		Type:     t,
		TaskID:   taskID,
		Time:     time.Now(),
		Metadata: make(map[string]interface{}),
	}
}

// NewTaskStartedEvent creates a task started event.
func NewTaskStartedEvent(taskID, goal string) *TaskEvent {
	e := newTaskEvent(EventTypeTaskStarted, taskID)
	e.Metadata["goal"] = goal
	return e
}

// NewSessionCreatedEvent creates a session created event.
func NewSessionCreatedEvent(taskID string, s *Session) *TaskEvent {
	e := newTaskEvent(EventTypeSessionCreated, taskID)
	if s != nil {
		e.SessionID = s.ID
		e.LiveViewURL = s.LiveViewURL
	}
	return e
}

// NewStepPlannedEvent creates a step planned event.
func NewStepPlannedEvent(taskID, sessionID string, index int, step Step) *TaskEvent {
	return newStepEvent(EventTypeStepPlanned, taskID, sessionID, index, step)
}

// NewStepStartedEvent creates a step started event.
func NewStepStartedEvent(taskID, sessionID string, index int, step Step) *TaskEvent {
	return newStepEvent(EventTypeStepStarted, taskID, sessionID, index, step)
}

// NewStepCompletedEvent creates a step completed event.
func NewStepCompletedEvent(taskID, sessionID string, index int, step Step) *TaskEvent {
	return newStepEvent(EventTypeStepCompleted, taskID, sessionID, index, step)
}

// NewStepFailedEvent creates a step failed event.
func NewStepFailedEvent(taskID, sessionID string, index int, step Step, err error) *TaskEvent {
	e := newStepEvent(EventTypeStepFailed, taskID, sessionID, index, step)
	e.Error = err
	return e
}

func newStepEvent(t TaskEventType, taskID, sessionID string, index int, step Step) *TaskEvent {
	e := newTaskEvent(t, taskID)
	e.SessionID = sessionID
	e.StepIndex = index
	s := step.Clone()
	e.Step = &s
	return e
}

// NewExtractionCapturedEvent creates an extraction captured event.
func NewExtractionCapturedEvent(taskID, sessionID string, result *ExtractionResult) *TaskEvent {
	e := newTaskEvent(EventTypeExtractionCaptured, taskID)
	e.SessionID = sessionID
	e.Extraction = result.Clone()
	return e
}

// NewTaskCompletedEvent creates a task completed event.
func NewTaskCompletedEvent(taskID string, done bool, result *ExtractionResult) *TaskEvent {
	e := newTaskEvent(EventTypeTaskCompleted, taskID)
	e.Done = done
	e.Extraction = result.Clone()
	return e
}

// NewTaskFailedEvent creates a task failed event.
func NewTaskFailedEvent(taskID string, err error) *TaskEvent {
	e := newTaskEvent(EventTypeTaskFailed, taskID)
	e.Error = err
	return e
}

// NewSessionPreservedEvent creates a session preserved event.
func NewSessionPreservedEvent(taskID, sessionID string) *TaskEvent {
	e := newTaskEvent(EventTypeSessionPreserved, taskID)
	e.SessionID = sessionID
	return e
}

// NewSessionClosedEvent creates a session closed event. A non-nil err means
// the remote destroy failed; local identity is cleared regardless.
func NewSessionClosedEvent(taskID, sessionID, reason string, err error) *TaskEvent {
	e := newTaskEvent(EventTypeSessionClosed, taskID)
	e.SessionID = sessionID
	e.Error = err
	e.Metadata["reason"] = reason
	return e
}

// WithMetadata adds a metadata entry and returns the event for chaining.
func (e *TaskEvent) WithMetadata(key string, value interface{}) *TaskEvent {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsStepEvent reports whether the event concerns a single step.
func (e *TaskEvent) IsStepEvent() bool {
	switch e.Type {
	case EventTypeStepPlanned, EventTypeStepStarted, EventTypeStepCompleted, EventTypeStepFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the event ends the step loop.
func (e *TaskEvent) IsTerminal() bool {
	return e.Type == EventTypeTaskCompleted || e.Type == EventTypeTaskFailed
}

// IsError reports whether the event carries a failure.
func (e *TaskEvent) IsError() bool {
	return e.Type == EventTypeStepFailed || e.Type == EventTypeTaskFailed || e.Error != nil
}
