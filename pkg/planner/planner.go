// Package planner chooses the next browser step toward a goal.
//
// The Planner contract is stateless: every call receives the full goal and the
// history so far, and must accept an empty history on the first call.
package planner

import (
	"context"

	"github.com/entrhq/browsepilot/pkg/logging"
	"github.com/entrhq/browsepilot/pkg/types"
)

var plannerLog *logging.Logger

func init() {
	plannerLog = logging.MustComponent("planner")
}

// Request is the input to one planning call.
type Request struct {
	Goal     string
	StartURL string

	// VariableNames lists the placeholders the planner may reference as
	// %name%. Values are never sent.
	VariableNames []string

	// History holds the steps executed so far, oldest first, already
	// redacted for display.
	History []types.Step

	Session *types.Session
}

// Decision is the planner's answer: either a step to run or done.
type Decision struct {
	Step *types.Step
	Done bool

	// Schema optionally shapes the data an EXTRACT step should return.
	Schema *types.ExtractionSchema

	// Reasoning explains a done decision. Step decisions carry their own.
	Reasoning string
}

// Planner produces the next step for a task.
type Planner interface {
	NextAction(ctx context.Context, req Request) (*Decision, error)
}

// Func adapts a function to the Planner interface.
type Func func(ctx context.Context, req Request) (*Decision, error)

// NextAction implements Planner.
func (f Func) NextAction(ctx context.Context, req Request) (*Decision, error) {
	return f(ctx, req)
}

// Validate checks that a decision can be acted on.
func (d *Decision) Validate() error {
	if d == nil {
		return types.NewTaskError(types.ErrPlanner, "plan", "empty decision", nil)
	}
	if d.Done {
		return nil
	}
	if err := d.Step.Validate(); err != nil {
		return types.NewTaskError(types.ErrPlanner, "plan", "invalid step", err)
	}
	if d.Schema != nil {
		if err := d.Schema.Validate(); err != nil {
			return types.NewTaskError(types.ErrPlanner, "plan", "invalid extraction schema", err)
		}
	}
	return nil
}
