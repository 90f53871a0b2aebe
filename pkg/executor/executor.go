package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/browsepilot/pkg/logging"
	"github.com/entrhq/browsepilot/pkg/session"
	"github.com/entrhq/browsepilot/pkg/types"
)

var execLog *logging.Logger

func init() {
	execLog = logging.MustComponent("executor")
}

// Config configures an Executor.
type Config struct {
	Provider session.Provider

	// AllowedURLs and DeniedURLs are glob patterns over GOTO targets.
	// An empty allow list permits every http(s) URL not denied.
	AllowedURLs []string
	DeniedURLs  []string

	// StepTimeout bounds a single dispatch. Zero means no bound beyond ctx.
	StepTimeout time.Duration
}

// Executor runs single steps against a session provider.
type Executor struct {
	provider session.Provider
	policy   *URLPolicy
	timeout  time.Duration
}

// Outcome reports a successful step.
type Outcome struct {
	// Step is the completed step, redacted for display.
	Step types.Step

	Message string
	URL     string

	// Data is set for EXTRACT steps that returned something.
	Data map[string]any

	// Closed is true for CLOSE steps, which are never dispatched.
	Closed bool
}

// New creates an Executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("session provider is required")
	}
	policy, err := NewURLPolicy(cfg.AllowedURLs, cfg.DeniedURLs)
	if err != nil {
		return nil, err
	}
	return &Executor{
		provider: cfg.Provider,
		policy:   policy,
		timeout:  cfg.StepTimeout,
	}, nil
}

// Execute validates step, resolves its placeholders and dispatches it. schema
// shapes EXTRACT steps; nil selects types.DefaultSchema.
//
// Errors match types.ErrExecutionFailure or types.ErrSessionUnavailable, and
// their text never contains variable values.
func (e *Executor) Execute(ctx context.Context, sessionID string, step types.Step, variables map[string]string, schema *types.ExtractionSchema) (*Outcome, error) {
	return e.ExecuteFrom(ctx, sessionID, "", step, variables, schema)
}

// ExecuteFrom is Execute with the URL of the current page. Path-relative GOTO
// targets are resolved against base before the URL policy sees them.
func (e *Executor) ExecuteFrom(ctx context.Context, sessionID, base string, step types.Step, variables map[string]string, schema *types.ExtractionSchema) (*Outcome, error) {
	display := RedactStep(step, variables)
	if sessionID == "" {
		return nil, types.NewTaskError(types.ErrSessionUnavailable, "execute", "no session", nil)
	}
	if err := step.Validate(); err != nil {
		return nil, types.NewTaskError(types.ErrExecutionFailure, "execute", "invalid step", redactErr(err, variables))
	}

	if step.Tool == types.ToolClose {
		execLog.Infof("[%s] close requested: %s", sessionID, display.Text)
		return &Outcome{Step: display.Complete(), Closed: true}, nil
	}

	instruction := Substitute(strings.TrimSpace(step.Instruction), variables)
	if step.Tool == types.ToolGoto {
		instruction = ResolveURL(base, instruction)
		if err := e.policy.Check(instruction); err != nil {
			return nil, types.NewTaskError(types.ErrExecutionFailure, "execute", "navigation blocked", redactErr(err, variables))
		}
	}

	action := session.Action{Tool: step.Tool, Instruction: instruction}
	if step.Tool == types.ToolExtract {
		action.Schema = schemaOrDefault(schema)
	}

	execLog.Infof("[%s] dispatching %s %s", sessionID, step.Tool, display.Instruction)
	start := time.Now()
	result, err := e.dispatch(ctx, sessionID, action)
	if err != nil {
		execLog.Warnf("[%s] %s failed after %s: %s", sessionID, step.Tool, time.Since(start).Round(time.Millisecond), Redact(err.Error(), variables))
		return nil, translate(ctx, "execute", redactErr(err, variables))
	}
	execLog.Debugf("[%s] %s completed in %s", sessionID, step.Tool, time.Since(start).Round(time.Millisecond))

	out := &Outcome{
		Step:    display.Complete(),
		Message: Redact(result.Message, variables),
		URL:     result.URL,
	}
	if out.URL == "" && step.Tool == types.ToolGoto {
		out.URL = instruction
	}
	if step.Tool.YieldsData() && len(result.Data) > 0 {
		if err := action.Schema.Check(result.Data); err != nil {
			return nil, types.NewTaskError(types.ErrExecutionFailure, "execute", "extracted data does not match schema", err)
		}
		out.Data = result.Data
	}
	return out, nil
}

// Extract runs a final extraction. A nil schema selects types.DefaultSchema.
func (e *Executor) Extract(ctx context.Context, sessionID string, schema *types.ExtractionSchema) (*types.ExtractionResult, error) {
	if sessionID == "" {
		return nil, types.NewTaskError(types.ErrSessionUnavailable, "extract", "no session", nil)
	}
	action := session.Action{Tool: types.ToolExtract, Schema: schemaOrDefault(schema), Final: true}

	result, err := e.dispatch(ctx, sessionID, action)
	if err != nil {
		return nil, translate(ctx, "extract", err)
	}
	if len(result.Data) > 0 {
		if err := action.Schema.Check(result.Data); err != nil {
			return nil, types.NewTaskError(types.ErrExecutionFailure, "extract", "extracted data does not match schema", err)
		}
	}
	return &types.ExtractionResult{
		Data:       result.Data,
		Final:      true,
		CapturedAt: time.Now(),
	}, nil
}

func (e *Executor) dispatch(ctx context.Context, sessionID string, action session.Action) (*session.Outcome, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	out, err := e.provider.Dispatch(ctx, sessionID, action)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = &session.Outcome{}
	}
	return out, nil
}

// translate maps provider errors onto the task taxonomy. A dispatch that ran
// out of its own step timeout is an action failure; cancellation of the
// caller's context is not.
func translate(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, session.ErrActionFailed):
		return types.NewTaskError(types.ErrExecutionFailure, op, "", err)
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return types.NewTaskError(types.ErrExecutionFailure, op, "step timed out", err)
	default:
		return types.NewTaskError(types.ErrSessionUnavailable, op, "", err)
	}
}

func schemaOrDefault(schema *types.ExtractionSchema) *types.ExtractionSchema {
	if schema == nil {
		return types.DefaultSchema()
	}
	s := schema.Clone()
	return &s
}

// redactedError keeps the cause for errors.Is while scrubbing its text.
type redactedError struct {
	msg   string
	cause error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.cause }

func redactErr(err error, variables map[string]string) error {
	if err == nil || len(variables) == 0 {
		return err
	}
	msg := Redact(err.Error(), variables)
	if msg == err.Error() {
		return err
	}
	return &redactedError{msg: msg, cause: err}
}
