package types

import (
	"fmt"
	"strings"
)

// Tool identifies the primitive browser action a step performs.
type Tool string

const (
	ToolGoto    Tool = "GOTO"    // ToolGoto navigates the page to a URL.
	ToolAct     Tool = "ACT"     // ToolAct interacts with the page (click, fill, press, scroll).
	ToolExtract Tool = "EXTRACT" // ToolExtract pulls structured data out of the page.
	ToolObserve Tool = "OBSERVE" // ToolObserve describes the current page without changing it.
	ToolClose   Tool = "CLOSE"   // ToolClose signals that the browser work is finished.
	ToolWait    Tool = "WAIT"    // ToolWait pauses for a duration or until a selector appears.
	ToolNavBack Tool = "NAVBACK" // ToolNavBack goes back one entry in the page history.
)

var validTools = map[Tool]bool{
	ToolGoto:    true,
	ToolAct:     true,
	ToolExtract: true,
	ToolObserve: true,
	ToolClose:   true,
	ToolWait:    true,
	ToolNavBack: true,
}

// ParseTool converts a planner- or wire-supplied tool name into a Tool.
// Matching is case-insensitive and tolerates surrounding whitespace.
func ParseTool(s string) (Tool, error) {
	t := Tool(strings.ToUpper(strings.TrimSpace(s)))
	if !validTools[t] {
		return "", fmt.Errorf("unknown tool %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the supported tools.
func (t Tool) Valid() bool {
	return validTools[t]
}

// YieldsData reports whether a successful dispatch of t may carry extracted data.
func (t Tool) YieldsData() bool {
	return t == ToolExtract
}

// StepStatus is the lifecycle state of a step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Terminal reports whether the status is completed or failed.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// StepError describes why a step failed.
type StepError struct {
	Message string `json:"message"`
}

// Step is one planned-and-executed browser action. The JSON form is the wire
// shape shared with the UI and the tool-calling layer.
type Step struct {
	Text        string     `json:"text"`
	Reasoning   string     `json:"reasoning"`
	Tool        Tool       `json:"tool"`
	Instruction string     `json:"instruction"`
	Status      StepStatus `json:"status,omitempty"`
	Error       *StepError `json:"error,omitempty"`
}

// Validate checks the fields a step needs before it can be executed.
func (s *Step) Validate() error {
	if s == nil {
		return fmt.Errorf("step is nil")
	}
	if !s.Tool.Valid() {
		return fmt.Errorf("unknown tool %q", s.Tool)
	}
	switch s.Tool {
	case ToolGoto, ToolAct, ToolWait:
		if strings.TrimSpace(s.Instruction) == "" {
			return fmt.Errorf("%s step requires an instruction", s.Tool)
		}
	}
	return nil
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	if s.Error != nil {
		e := *s.Error
		s.Error = &e
	}
	return s
}

// Fail returns a copy of the step marked failed with the given error.
func (s Step) Fail(err error) Step {
	out := s.Clone()
	out.Status = StepFailed
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	out.Error = &StepError{Message: msg}
	return out
}

// Complete returns a copy of the step marked completed.
func (s Step) Complete() Step {
	out := s.Clone()
	out.Status = StepCompleted
	out.Error = nil
	return out
}

// CloneSteps deep-copies a step slice. A nil input yields nil.
func CloneSteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = s.Clone()
	}
	return out
}
