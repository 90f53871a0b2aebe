// Package store keeps a client-side projection of task instances built from
// orchestrator events.
//
// Every mutation goes through Reduce, a pure function over deep copies, so
// snapshots handed out by the store never change underneath the caller. The
// store is a view: the orchestrator stays the authority on whether a session
// is open.
package store

import (
	"github.com/entrhq/browsepilot/pkg/types"
)

// State is the projection of one task instance.
type State struct {
	TaskID      string                  `json:"taskId"`
	Goal        string                  `json:"goal,omitempty"`
	SessionID   string                  `json:"sessionId,omitempty"`
	LiveViewURL string                  `json:"liveViewUrl,omitempty"`
	Steps       []types.Step            `json:"steps"`
	CurrentStep *types.Step             `json:"currentStep,omitempty"`
	Extraction  *types.ExtractionResult `json:"extraction,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Loading     bool                    `json:"loading"`
	Done        bool                    `json:"done"`
	Closed      bool                    `json:"closed"`
	Preserved   bool                    `json:"preserved"`
}

// Initial returns the idle state for taskID.
func Initial(taskID string) State {
	return State{TaskID: taskID, Steps: []types.Step{}}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.Steps = types.CloneSteps(s.Steps)
	if out.Steps == nil {
		out.Steps = []types.Step{}
	}
	if s.CurrentStep != nil {
		c := s.CurrentStep.Clone()
		out.CurrentStep = &c
	}
	out.Extraction = s.Extraction.Clone()
	return out
}

// Reduce applies one event to s and returns the new state. s is not modified.
// Events for other tasks are ignored.
func Reduce(s State, e *types.TaskEvent) State {
	next := s.Clone()
	if e == nil || (e.TaskID != "" && s.TaskID != "" && e.TaskID != s.TaskID) {
		return next
	}

	switch e.Type {
	case types.EventTypeTaskStarted:
		next = Initial(s.TaskID)
		if goal, ok := e.Metadata["goal"].(string); ok {
			next.Goal = goal
		}
		next.Loading = true

	case types.EventTypeSessionCreated:
		next.SessionID = e.SessionID
		next.LiveViewURL = e.LiveViewURL
		next.Closed = false

	case types.EventTypeStepPlanned:
		next.CurrentStep = cloneStep(e.Step)
		next.Loading = true

	case types.EventTypeStepStarted:
		next.CurrentStep = cloneStep(e.Step)
		next.Loading = true

	case types.EventTypeStepCompleted, types.EventTypeStepFailed:
		if e.Step != nil {
			next.Steps = setStep(next.Steps, e.StepIndex, e.Step.Clone())
		}
		next.CurrentStep = nil
		next.Loading = false
		if e.Type == types.EventTypeStepFailed && e.Error != nil {
			next.Error = e.Error.Error()
		}

	case types.EventTypeExtractionCaptured:
		if next.Extraction == nil || (e.Extraction != nil && e.Extraction.Final) {
			next.Extraction = e.Extraction.Clone()
		}

	case types.EventTypeTaskCompleted:
		next.Done = true
		next.Loading = false
		next.CurrentStep = nil
		if next.Extraction == nil {
			next.Extraction = e.Extraction.Clone()
		}

	case types.EventTypeTaskFailed:
		next.Loading = false
		next.CurrentStep = nil
		if e.Error != nil {
			next.Error = e.Error.Error()
		}

	case types.EventTypeSessionPreserved:
		next.Preserved = true

	case types.EventTypeSessionClosed:
		next.Closed = true
		next.Preserved = false
		next.Loading = false
		next.CurrentStep = nil
	}
	return next
}

// setStep places step at index, appending when index is past the end.
func setStep(steps []types.Step, index int, step types.Step) []types.Step {
	if index >= 0 && index < len(steps) {
		steps[index] = step
		return steps
	}
	return append(steps, step)
}

func cloneStep(s *types.Step) *types.Step {
	if s == nil {
		return nil
	}
	c := s.Clone()
	return &c
}
