// Package orchestrator runs browser tasks: it owns the session lifecycle of
// one task instance and drives the plan, execute, record loop.
//
// An Orchestrator serves exactly one task instance. Instances are created and
// torn down through a Registry, which the caller owns.
//
// Lifecycle:
//
//	idle --Start/Run--> creating --> active --Close--> closing --> idle
//
// At most one session exists per instance. Start, Run and ExecuteStep are
// mutually exclusive; a second concurrent call fails with
// types.ErrAlreadyRunning. Every transition is reported to observers in order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/browsepilot/pkg/executor"
	"github.com/entrhq/browsepilot/pkg/logging"
	"github.com/entrhq/browsepilot/pkg/planner"
	"github.com/entrhq/browsepilot/pkg/session"
	"github.com/entrhq/browsepilot/pkg/types"
)

var orchLog *logging.Logger

func init() {
	orchLog = logging.MustComponent("orchestrator")
}

const defaultCloseTimeout = 30 * time.Second

// Observer receives task events synchronously, in emission order. Observers
// must not call Subscribe.
type Observer func(*types.TaskEvent)

// Config configures an Orchestrator.
type Config struct {
	// TaskID names the task instance. A random id is used when empty.
	TaskID string

	Provider session.Provider
	Planner  planner.Planner

	// Executor runs steps. One is built over Provider when nil.
	Executor *executor.Executor

	SessionOptions session.Options
	Observers      []Observer

	// CloseTimeout bounds the remote destroy call.
	CloseTimeout time.Duration

	// KeepSessionOpen preserves every session as soon as it is created.
	KeepSessionOpen bool
}

// Orchestrator is the state machine of one task instance.
type Orchestrator struct {
	id           string
	provider     session.Provider
	planner      planner.Planner
	exec         *executor.Executor
	sessionOpts  session.Options
	closeTimeout time.Duration
	keepOpen     bool

	emitMu    sync.Mutex
	observers []Observer

	mu            sync.Mutex
	task          *types.Task
	session       *types.Session
	creating      bool
	busy          bool
	closing       bool
	preserved     bool
	done          bool
	history       []types.Step
	extraction    *types.ExtractionResult
	pendingSchema *types.ExtractionSchema

	// pageURL is the last known page, the base for relative GOTO targets.
	pageURL string

	// closeRequested holds a close that arrived before the session existed.
	closeRequested CloseReason

	// inflight is closed when the dispatching step settles.
	inflight chan struct{}
}

// StartResult is returned by Start once the first step has settled.
type StartResult struct {
	TaskID      string                  `json:"taskId"`
	SessionID   string                  `json:"sessionId"`
	LiveViewURL string                  `json:"liveViewUrl"`
	FirstStep   *types.Step             `json:"firstStep,omitempty"`
	Done        bool                    `json:"done"`
	Extraction  *types.ExtractionResult `json:"extraction,omitempty"`
}

// AdvanceResult is the planner's answer for the interactive flow.
type AdvanceResult struct {
	Step   *types.Step             `json:"step,omitempty"`
	Done   bool                    `json:"done"`
	Schema *types.ExtractionSchema `json:"extractionSchema,omitempty"`
}

// ExecuteResult reports one interactively executed step.
type ExecuteResult struct {
	Step       types.Step              `json:"step"`
	Extraction *types.ExtractionResult `json:"extraction,omitempty"`
}

// Result summarizes a Run.
type Result struct {
	TaskID      string                  `json:"taskId"`
	SessionID   string                  `json:"sessionId,omitempty"`
	LiveViewURL string                  `json:"liveViewUrl,omitempty"`
	Steps       []types.Step            `json:"steps"`
	Extraction  *types.ExtractionResult `json:"extraction,omitempty"`

	// TaskCompleted is true when the planner declared the goal achieved,
	// issued CLOSE, or a step captured an extraction. A run that exhausted
	// its budget leaves it false.
	TaskCompleted bool `json:"taskCompleted"`

	// Success is TaskCompleted or an extraction was captured.
	Success bool `json:"success"`

	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Snapshot is a read-only view of an instance.
type Snapshot struct {
	TaskID     string
	Session    *types.Session
	History    []types.Step
	Extraction *types.ExtractionResult
	Done       bool
	Preserved  bool
	Running    bool
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("session provider is required")
	}
	if cfg.Planner == nil {
		return nil, fmt.Errorf("planner is required")
	}

	exec := cfg.Executor
	if exec == nil {
		var err error
		exec, err = executor.New(executor.Config{Provider: cfg.Provider})
		if err != nil {
			return nil, fmt.Errorf("failed to create executor: %w", err)
		}
	}

	id := cfg.TaskID
	if id == "" {
		id = uuid.NewString()
	}
	closeTimeout := cfg.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = defaultCloseTimeout
	}

	return &Orchestrator{
		id:           id,
		provider:     cfg.Provider,
		planner:      cfg.Planner,
		exec:         exec,
		sessionOpts:  cfg.SessionOptions,
		closeTimeout: closeTimeout,
		keepOpen:     cfg.KeepSessionOpen,
		observers:    append([]Observer(nil), cfg.Observers...),
	}, nil
}

// ID returns the task-instance id.
func (o *Orchestrator) ID() string {
	return o.id
}

// Subscribe registers an observer for subsequent events.
func (o *Orchestrator) Subscribe(obs Observer) {
	if obs == nil {
		return
	}
	o.emitMu.Lock()
	defer o.emitMu.Unlock()
	o.observers = append(o.observers, obs)
}

func (o *Orchestrator) emit(e *types.TaskEvent) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()
	for _, obs := range o.observers {
		obs(e)
	}
}

// Start creates a session, plans and executes the first step, and returns
// once that step has settled. The session stays open for the interactive
// flow; the caller advances with Advance and ExecuteStep and ends with Close.
func (o *Orchestrator) Start(ctx context.Context, task *types.Task) (*StartResult, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.busy || o.creating || o.session != nil {
		o.mu.Unlock()
		return nil, alreadyRunning("start")
	}
	o.busy = true
	o.reset(task)
	o.mu.Unlock()
	defer o.release()

	orchLog.Infof("[%s] starting task", o.id)
	o.emit(types.NewTaskStartedEvent(o.id, task.Goal))

	sess, err := o.ensureSession(ctx)
	if err != nil {
		o.emit(types.NewTaskFailedEvent(o.id, err))
		return nil, err
	}
	res := &StartResult{TaskID: o.id, SessionID: sess.ID, LiveViewURL: sess.LiveViewURL}

	decision, err := o.plan(ctx, nil)
	if err != nil {
		o.fail(ctx, err, sess, time.Time{})
		return nil, err
	}
	if decision.Done {
		o.markDone()
		o.emit(types.NewTaskCompletedEvent(o.id, true, nil))
		res.Done = true
		return res, nil
	}

	step, extraction, closed, err := o.step(ctx, 0, *decision.Step, o.schemaFor(decision.Schema))
	res.FirstStep = &step
	if err != nil {
		o.fail(ctx, err, sess, time.Time{})
		return res, err
	}
	if extraction != nil && o.capture(extraction) {
		res.Extraction = extraction.Clone()
	}
	if closed || res.Extraction != nil {
		o.markDone()
		res.Done = true
	}
	return res, nil
}

// Advance asks the planner for the next step of the interactive flow. When
// the planner reports done nothing is executed.
func (o *Orchestrator) Advance(ctx context.Context, sessionID, goal string, priorSteps []types.Step) (*AdvanceResult, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, types.NewTaskError(types.ErrInvalidRequest, "advance", "goal is required", nil)
	}
	if _, err := o.requireSession("advance", sessionID); err != nil {
		return nil, err
	}

	decision, err := o.planWithGoal(ctx, goal, priorSteps)
	if err != nil {
		return nil, err
	}
	if decision.Done {
		o.markDone()
		o.emit(types.NewTaskCompletedEvent(o.id, true, o.currentExtraction()))
		return &AdvanceResult{Done: true}, nil
	}

	o.mu.Lock()
	o.pendingSchema = decision.Schema
	o.mu.Unlock()

	step := *decision.Step
	return &AdvanceResult{Step: &step, Schema: decision.Schema}, nil
}

// ExecuteStep runs one caller-supplied step against the session. It never
// changes task-level completion; only one step runs at a time.
func (o *Orchestrator) ExecuteStep(ctx context.Context, sessionID string, step types.Step) (*ExecuteResult, error) {
	if err := step.Validate(); err != nil {
		return nil, types.NewTaskError(types.ErrInvalidRequest, "execute step", "invalid step", err)
	}

	o.mu.Lock()
	if o.session == nil || o.closing || (sessionID != "" && o.session.ID != sessionID) {
		o.mu.Unlock()
		return nil, types.NewTaskError(types.ErrSessionUnavailable, "execute step", fmt.Sprintf("no active session %q", sessionID), nil)
	}
	if o.busy || o.creating {
		o.mu.Unlock()
		return nil, alreadyRunning("execute step")
	}
	o.busy = true
	o.beginStepLocked()
	schema := o.pendingSchema
	o.pendingSchema = nil
	index := len(o.history)
	o.mu.Unlock()
	defer o.release()

	if schema == nil {
		schema = o.schemaFor(nil)
	}
	executed, extraction, _, err := o.step(ctx, index, step, schema)
	res := &ExecuteResult{Step: executed}
	if err != nil {
		return res, err
	}
	if extraction != nil && o.capture(extraction) {
		res.Extraction = extraction.Clone()
	}
	return res, nil
}

// Run executes a task to completion: plan, execute and record until the
// planner is done, an extraction is captured, CLOSE is issued or the step
// budget runs out. Budget exhaustion is a partial result, not an error.
func (o *Orchestrator) Run(ctx context.Context, task *types.Task) (res *Result, err error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.busy || o.creating {
		o.mu.Unlock()
		return nil, alreadyRunning("run")
	}
	o.busy = true
	o.reset(task)
	o.mu.Unlock()
	defer o.release()

	started := time.Now()
	ctx, span := startSpan(ctx, "orchestrator.run", attrTaskID.String(o.id))
	defer func() { endSpan(span, err) }()

	orchLog.Infof("[%s] running task (budget=%d)", o.id, task.Budget())
	o.emit(types.NewTaskStartedEvent(o.id, task.Goal))

	sess, err := o.ensureSession(ctx)
	if err != nil {
		o.emit(types.NewTaskFailedEvent(o.id, err))
		recordTask(outcomeFailed)
		res = o.result(nil, false, started)
		res.Error = err.Error()
		return res, err
	}
	span.SetAttributes(attrSessionID.String(sess.ID))

	completed := false
loop:
	for i := 0; i < task.Budget(); i++ {
		if cerr := ctx.Err(); cerr != nil {
			err = fmt.Errorf("run cancelled after %d steps: %w", i, cerr)
			return o.fail(ctx, err, sess, started), err
		}
		if o.sessionID() != sess.ID {
			err = types.NewTaskError(types.ErrSessionUnavailable, "run", fmt.Sprintf("session %s closed after %d steps", sess.ID, i), nil)
			return o.fail(ctx, err, sess, started), err
		}

		decision, perr := o.plan(ctx, o.History())
		if perr != nil {
			return o.fail(ctx, perr, sess, started), perr
		}
		if decision.Done {
			completed = true
			break
		}

		_, extraction, closed, serr := o.step(ctx, i, *decision.Step, o.schemaFor(decision.Schema))
		if serr != nil {
			return o.fail(ctx, serr, sess, started), serr
		}
		switch {
		case extraction != nil:
			o.capture(extraction)
			completed = true
			break loop
		case closed:
			completed = true
			break loop
		}
	}

	o.finalExtraction(ctx, sess.ID)

	o.mu.Lock()
	o.done = completed
	o.mu.Unlock()

	res = o.result(sess, completed, started)
	span.SetAttributes(attrDone.Bool(completed))
	o.emit(types.NewTaskCompletedEvent(o.id, completed, res.Extraction))

	if res.Success {
		recordTask(outcomeCompleted)
	} else {
		recordTask(outcomePartial)
	}
	orchLog.Infof("[%s] task finished: completed=%v extraction=%v steps=%d", o.id, completed, res.Extraction != nil, len(res.Steps))

	if cerr := o.Close(ctx, sess.ID, CloseReasonCompleted); cerr != nil {
		orchLog.Warnf("[%s] close after completion: %v", o.id, cerr)
	}
	return res, nil
}

// Close releases the session. It is a no-op when there is no session, a
// close is already in progress, sessionID names a different session, or the
// session is preserved and reason does not override preserve. A close that
// arrives while the session is being created is applied once it exists. A
// step that is dispatching settles before the session is destroyed. Local
// identity is cleared even when the remote destroy fails; that failure is
// returned.
func (o *Orchestrator) Close(ctx context.Context, sessionID string, reason CloseReason) error {
	o.mu.Lock()
	if o.session == nil {
		if sessionID == "" && (o.creating || o.busy) {
			o.closeRequested = o.closeRequested.stronger(reason)
			orchLog.Infof("[%s] %s close requested before session exists", o.id, reason)
		}
		o.mu.Unlock()
		return nil
	}
	if o.closing || (sessionID != "" && o.session.ID != sessionID) {
		o.mu.Unlock()
		return nil
	}
	if o.preserved && !reason.overridesPreserve() {
		id := o.session.ID
		o.mu.Unlock()
		orchLog.Infof("[%s] session %s preserved, skipping %s close", o.id, id, reason)
		return nil
	}
	o.closing = true
	id := o.session.ID
	inflight := o.inflight
	o.mu.Unlock()

	// Destroy must run even when the caller's context is already cancelled.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.closeTimeout)
	defer cancel()

	if inflight != nil {
		orchLog.Infof("[%s] waiting for in-flight step before closing %s", o.id, id)
		select {
		case <-inflight:
		case <-dctx.Done():
			orchLog.Warnf("[%s] in-flight step did not settle, closing %s anyway", o.id, id)
		}
	}

	err := o.provider.DestroySession(dctx, id)

	o.mu.Lock()
	o.session = nil
	o.closing = false
	o.preserved = false
	o.pendingSchema = nil
	o.mu.Unlock()

	recordSessionClosed(err)
	if err != nil {
		orchLog.Errorf("[%s] destroy session %s (%s): %v", o.id, id, reason, err)
		err = types.NewTaskError(types.ErrSessionUnavailable, "close", "destroy failed", err)
	} else {
		orchLog.Infof("[%s] session %s closed (%s)", o.id, id, reason)
	}
	o.emit(types.NewSessionClosedEvent(o.id, id, string(reason), err))
	return err
}

// Preserve keeps the current session open past completion and cleanup closes.
// Only an explicit close ends a preserved session.
func (o *Orchestrator) Preserve(sessionID string) error {
	o.mu.Lock()
	if o.session == nil || (sessionID != "" && o.session.ID != sessionID) {
		o.mu.Unlock()
		return types.NewTaskError(types.ErrSessionUnavailable, "preserve", fmt.Sprintf("no active session %q", sessionID), nil)
	}
	already := o.preserved
	o.preserved = true
	id := o.session.ID
	o.mu.Unlock()

	if !already {
		o.emit(types.NewSessionPreservedEvent(o.id, id))
	}
	return nil
}

// Snapshot returns a copy of the instance state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Snapshot{
		TaskID:     o.id,
		History:    types.CloneSteps(o.history),
		Extraction: o.extraction.Clone(),
		Done:       o.done,
		Preserved:  o.preserved,
		Running:    o.busy || o.creating,
	}
	if o.session != nil {
		sess := *o.session
		s.Session = &sess
	}
	return s
}

// History returns a copy of the recorded steps.
func (o *Orchestrator) History() []types.Step {
	o.mu.Lock()
	defer o.mu.Unlock()
	return types.CloneSteps(o.history)
}

// reset prepares state for a new task. Callers hold o.mu.
func (o *Orchestrator) reset(task *types.Task) {
	o.task = task.Clone()
	if o.task.ID == "" {
		o.task.ID = o.id
	}
	o.history = nil
	o.extraction = nil
	o.pendingSchema = nil
	o.closeRequested = ""
	o.pageURL = o.task.StartURL
	o.done = false
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.busy = false
	o.mu.Unlock()
}

// beginStepLocked marks a step as dispatching. Callers hold o.mu.
func (o *Orchestrator) beginStepLocked() {
	if o.inflight == nil {
		o.inflight = make(chan struct{})
	}
}

func (o *Orchestrator) endStep() {
	o.mu.Lock()
	if o.inflight != nil {
		close(o.inflight)
		o.inflight = nil
	}
	o.mu.Unlock()
}

func (o *Orchestrator) markDone() {
	o.mu.Lock()
	o.done = true
	o.mu.Unlock()
}

func (o *Orchestrator) currentExtraction() *types.ExtractionResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.extraction.Clone()
}

func (o *Orchestrator) variables() map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.task == nil {
		return nil
	}
	return o.task.Variables
}

func (o *Orchestrator) schemaFor(planned *types.ExtractionSchema) *types.ExtractionSchema {
	if planned != nil {
		return planned
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.task == nil {
		return nil
	}
	return o.task.ExtractionSchema
}

func (o *Orchestrator) requireSession(op, sessionID string) (*types.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil || (sessionID != "" && o.session.ID != sessionID) {
		return nil, types.NewTaskError(types.ErrSessionUnavailable, op, fmt.Sprintf("no active session %q", sessionID), nil)
	}
	s := *o.session
	return &s, nil
}

// ensureSession returns the live session, creating one if there is none.
func (o *Orchestrator) ensureSession(ctx context.Context) (*types.Session, error) {
	o.mu.Lock()
	if o.session != nil {
		s := *o.session
		o.mu.Unlock()
		return &s, nil
	}
	o.creating = true
	o.mu.Unlock()

	opts := o.sessionOpts
	opts.Metadata = map[string]string{"task_id": o.id}
	for k, v := range o.sessionOpts.Metadata {
		opts.Metadata[k] = v
	}

	created, err := o.provider.CreateSession(ctx, opts)

	o.mu.Lock()
	o.creating = false
	if err != nil {
		o.mu.Unlock()
		orchLog.Errorf("[%s] create session: %v", o.id, err)
		return nil, types.NewTaskError(types.ErrSessionUnavailable, "create session", "", err)
	}
	s := *created
	o.session = &s
	o.preserved = o.keepOpen
	pending := o.closeRequested
	o.closeRequested = ""
	o.mu.Unlock()

	recordSessionCreated()
	orchLog.Infof("[%s] session %s created", o.id, s.ID)
	o.emit(types.NewSessionCreatedEvent(o.id, &s))
	if o.keepOpen {
		o.emit(types.NewSessionPreservedEvent(o.id, s.ID))
	}

	if pending != "" {
		if cerr := o.Close(ctx, s.ID, pending); cerr != nil {
			orchLog.Warnf("[%s] deferred %s close: %v", o.id, pending, cerr)
		}
		if o.sessionID() != s.ID {
			return nil, types.NewTaskError(types.ErrSessionUnavailable, "create session",
				fmt.Sprintf("session %s closed (%s) while it was being created", s.ID, pending), nil)
		}
	}
	out := s
	return &out, nil
}

func (o *Orchestrator) plan(ctx context.Context, history []types.Step) (*planner.Decision, error) {
	o.mu.Lock()
	goal := ""
	if o.task != nil {
		goal = o.task.Goal
	}
	o.mu.Unlock()
	return o.planWithGoal(ctx, goal, history)
}

func (o *Orchestrator) planWithGoal(ctx context.Context, goal string, history []types.Step) (d *planner.Decision, err error) {
	index := len(history)
	ctx, span := startSpan(ctx, "orchestrator.plan", attrTaskID.String(o.id), attrStepIndex.Int(index))
	defer func() { endSpan(span, err) }()

	o.mu.Lock()
	req := planner.Request{Goal: goal, History: types.CloneSteps(history)}
	if o.task != nil {
		req.StartURL = o.task.StartURL
		req.VariableNames = o.task.VariableNames()
	}
	if o.session != nil {
		s := *o.session
		req.Session = &s
	}
	o.mu.Unlock()

	d, err = o.planner.NextAction(ctx, req)
	if err == nil {
		err = d.Validate()
	}
	if err != nil {
		if types.KindOf(err) == nil {
			err = types.NewTaskError(types.ErrPlanner, "plan", "", err)
		}
		orchLog.Warnf("[%s] planning step %d: %v", o.id, index, err)
		return nil, err
	}

	if !d.Done {
		planned := executor.RedactStep(*d.Step, o.variables())
		if planned.Status == "" {
			planned.Status = types.StepPending
		}
		o.emit(types.NewStepPlannedEvent(o.id, o.sessionID(), index, planned))
	}
	return d, nil
}

func (o *Orchestrator) sessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return ""
	}
	return o.session.ID
}

// step executes one step and records it in history. The returned step is
// redacted and carries its final status.
func (o *Orchestrator) step(ctx context.Context, index int, planned types.Step, schema *types.ExtractionSchema) (_ types.Step, _ *types.ExtractionResult, closed bool, err error) {
	o.mu.Lock()
	o.beginStepLocked()
	o.mu.Unlock()
	defer o.endStep()

	vars := o.variables()
	sessionID := o.sessionID()
	o.mu.Lock()
	base := o.pageURL
	o.mu.Unlock()

	display := executor.RedactStep(planned, vars)
	display.Status = types.StepRunning
	display.Error = nil
	o.emit(types.NewStepStartedEvent(o.id, sessionID, index, display))

	ctx, span := startSpan(ctx, "orchestrator.execute",
		attrTaskID.String(o.id),
		attrStepIndex.Int(index),
		attrStepTool.String(string(planned.Tool)),
	)
	out, err := o.exec.ExecuteFrom(ctx, sessionID, base, planned, vars, schema)
	endSpan(span, err)

	if err != nil {
		failed := display.Fail(err)
		o.record(failed)
		recordStep(failed)
		o.emit(types.NewStepFailedEvent(o.id, sessionID, index, failed, err))
		return failed, nil, false, err
	}

	if out.URL != "" {
		o.mu.Lock()
		o.pageURL = out.URL
		o.mu.Unlock()
	}

	completed := out.Step
	o.record(completed)
	recordStep(completed)
	o.emit(types.NewStepCompletedEvent(o.id, sessionID, index, completed))

	var extraction *types.ExtractionResult
	if len(out.Data) > 0 {
		extraction = &types.ExtractionResult{Data: out.Data, CapturedAt: time.Now()}
		if extraction.Empty() {
			extraction = nil
		}
	}
	return completed, extraction, out.Closed, nil
}

func (o *Orchestrator) record(step types.Step) {
	o.mu.Lock()
	o.history = append(o.history, step.Clone())
	o.mu.Unlock()
}

// capture stores result unless one is already held.
func (o *Orchestrator) capture(result *types.ExtractionResult) bool {
	o.mu.Lock()
	if o.extraction != nil {
		o.mu.Unlock()
		return false
	}
	o.extraction = result.Clone()
	o.mu.Unlock()

	o.emit(types.NewExtractionCapturedEvent(o.id, o.sessionID(), result))
	return true
}

// finalExtraction runs once after the loop when steps ran but nothing was
// captured. Failures are logged and swallowed.
func (o *Orchestrator) finalExtraction(ctx context.Context, sessionID string) {
	o.mu.Lock()
	skip := o.extraction != nil || len(o.history) == 0
	o.mu.Unlock()
	if skip {
		return
	}

	ctx, span := startSpan(ctx, "orchestrator.final_extraction", attrTaskID.String(o.id))
	result, err := o.exec.Extract(ctx, sessionID, o.schemaFor(nil))
	endSpan(span, err)
	if err != nil {
		orchLog.Warnf("[%s] final extraction failed: %v", o.id, err)
		return
	}
	if result.Empty() {
		orchLog.Debugf("[%s] final extraction returned no data", o.id)
		return
	}
	o.capture(result)
}

// fail emits the failure, closes with cleanup semantics and builds the
// partial result.
func (o *Orchestrator) fail(ctx context.Context, err error, sess *types.Session, started time.Time) *Result {
	orchLog.Errorf("[%s] task failed: %v", o.id, err)
	o.emit(types.NewTaskFailedEvent(o.id, err))
	recordTask(outcomeFailed)

	if cerr := o.Close(ctx, "", CloseReasonCleanup); cerr != nil {
		orchLog.Warnf("[%s] cleanup close: %v", o.id, cerr)
	}

	res := o.result(sess, false, started)
	res.Error = err.Error()
	return res
}

func (o *Orchestrator) result(sess *types.Session, completed bool, started time.Time) *Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	res := &Result{
		TaskID:        o.id,
		Steps:         types.CloneSteps(o.history),
		Extraction:    o.extraction.Clone(),
		TaskCompleted: completed,
	}
	if res.Steps == nil {
		res.Steps = []types.Step{}
	}
	if sess != nil {
		res.SessionID = sess.ID
		res.LiveViewURL = sess.LiveViewURL
	}
	if !started.IsZero() {
		res.Duration = time.Since(started)
	}
	res.Success = res.TaskCompleted || res.Extraction != nil
	return res
}

func alreadyRunning(op string) error {
	return types.NewTaskError(types.ErrAlreadyRunning, op, "a start or step is already in flight", nil)
}

// IsAlreadyRunning reports whether err is a concurrent-invocation rejection.
func IsAlreadyRunning(err error) bool {
	return errors.Is(err, types.ErrAlreadyRunning)
}
