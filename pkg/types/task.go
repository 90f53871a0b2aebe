package types

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

const (
	// DefaultMaxSteps is the step budget used when a task does not set one.
	DefaultMaxSteps = 10

	// MaxStepsLimit caps the step budget a caller may request.
	MaxStepsLimit = 50
)

// Task is one user-level request to accomplish a goal through browser automation.
type Task struct {
	ID               string            `json:"id,omitempty" yaml:"id"`
	Goal             string            `json:"goal" yaml:"goal"`
	StartURL         string            `json:"startUrl,omitempty" yaml:"start_url"`
	Variables        map[string]string `json:"variables,omitempty" yaml:"variables"`
	ExtractionSchema *ExtractionSchema `json:"extractionSchema,omitempty" yaml:"extraction_schema"`
	MaxSteps         int               `json:"maxSteps,omitempty" yaml:"max_steps"`
}

// Validate checks that the task can be started. It does not modify the task.
func (t *Task) Validate() error {
	if t == nil {
		return NewTaskError(ErrInvalidRequest, "validate", "task is required", nil)
	}
	if strings.TrimSpace(t.Goal) == "" {
		return NewTaskError(ErrInvalidRequest, "validate", "goal is required", nil)
	}
	if t.MaxSteps < 0 || t.MaxSteps > MaxStepsLimit {
		return NewTaskError(ErrInvalidRequest, "validate",
			fmt.Sprintf("max steps must be between 1 and %d, got %d", MaxStepsLimit, t.MaxSteps), nil)
	}
	for name := range t.Variables {
		if !validVariableName(name) {
			return NewTaskError(ErrInvalidRequest, "validate", fmt.Sprintf("invalid variable name %q", name), nil)
		}
	}
	if t.ExtractionSchema != nil {
		if err := t.ExtractionSchema.Validate(); err != nil {
			return NewTaskError(ErrInvalidRequest, "validate", "invalid extraction schema", err)
		}
	}
	return nil
}

// Budget returns the effective step budget.
func (t *Task) Budget() int {
	if t.MaxSteps <= 0 {
		return DefaultMaxSteps
	}
	return t.MaxSteps
}

// Clone returns a deep copy so the caller's task cannot change under a running loop.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	out.Variables = maps.Clone(t.Variables)
	if t.ExtractionSchema != nil {
		s := t.ExtractionSchema.Clone()
		out.ExtractionSchema = &s
	}
	return &out
}

// VariableNames returns the sorted variable names. Values are never exposed
// through this method so it is safe to hand to the planner.
func (t *Task) VariableNames() []string {
	names := slices.Collect(maps.Keys(t.Variables))
	slices.Sort(names)
	return names
}

func validVariableName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}
