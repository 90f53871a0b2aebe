package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/entrhq/browsepilot/pkg/orchestrator"
	"github.com/entrhq/browsepilot/pkg/types"
)

// TaskRequest starts or runs a task.
type TaskRequest struct {
	TaskID           string                  `json:"taskId,omitempty"`
	Goal             string                  `json:"goal"`
	StartURL         string                  `json:"startUrl,omitempty"`
	Variables        map[string]string       `json:"variables,omitempty"`
	ExtractionSchema *types.ExtractionSchema `json:"extractionSchema,omitempty"`
	MaxSteps         int                     `json:"maxSteps,omitempty"`
}

func (r TaskRequest) task() *types.Task {
	return &types.Task{
		ID:               r.TaskID,
		Goal:             r.Goal,
		StartURL:         r.StartURL,
		Variables:        r.Variables,
		ExtractionSchema: r.ExtractionSchema,
		MaxSteps:         r.MaxSteps,
	}
}

// NextRequest asks for the next step.
type NextRequest struct {
	SessionID     string       `json:"sessionId"`
	Goal          string       `json:"goal"`
	PreviousSteps []types.Step `json:"previousSteps"`
}

// ExecuteRequest executes one step.
type ExecuteRequest struct {
	SessionID string      `json:"sessionId"`
	Step      *types.Step `json:"step"`
}

// CloseRequest closes a session.
type CloseRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		respondError(w, err, nil)
		return
	}
	task := req.task()
	if err := task.Validate(); err != nil {
		respondError(w, err, nil)
		return
	}

	o, err := s.instance(req.TaskID)
	if err != nil {
		respondError(w, err, nil)
		return
	}

	res, err := o.Start(r.Context(), task)
	if err != nil {
		respondError(w, err, res)
		return
	}

	// The live view is handed to the caller, so the session must outlive
	// completion until the owner closes it.
	if err := o.Preserve(res.SessionID); err != nil {
		apiLog.Warnf("[%s] preserve session %s: %v", o.ID(), res.SessionID, err)
	}
	respondOK(w, res, boolPtr(res.Done))
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		respondError(w, err, nil)
		return
	}
	task := req.task()
	if err := task.Validate(); err != nil {
		respondError(w, err, nil)
		return
	}

	o, err := s.instance(req.TaskID)
	if err != nil {
		respondError(w, err, nil)
		return
	}

	ctx := r.Context()
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	res, err := o.Run(ctx, task)
	if err != nil {
		respondError(w, err, res)
		return
	}
	respondJSON(w, http.StatusOK, Response{
		Success: res.Success,
		Result:  res,
		Done:    boolPtr(res.TaskCompleted),
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	st, ok := s.store.Get(taskID)
	if !ok {
		respondError(w, notFound("task %q not found", taskID), nil)
		return
	}
	respondOK(w, st, boolPtr(st.Done))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if _, ok := s.registry.Get(taskID); !ok {
		respondError(w, notFound("task %q not found", taskID), nil)
		return
	}
	err := s.registry.Remove(r.Context(), taskID)
	s.store.Delete(taskID)
	if err != nil {
		respondError(w, err, nil)
		return
	}
	respondOK(w, map[string]string{"taskId": taskID}, nil)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	o, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req NextRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		respondError(w, err, nil)
		return
	}

	res, err := o.Advance(r.Context(), req.SessionID, req.Goal, req.PreviousSteps)
	if err != nil {
		respondError(w, err, nil)
		return
	}
	respondOK(w, res, boolPtr(res.Done))
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	o, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req ExecuteRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		respondError(w, err, nil)
		return
	}
	if req.Step == nil {
		respondError(w, types.NewTaskError(types.ErrInvalidRequest, "execute step", "step is required", nil), nil)
		return
	}

	res, err := o.ExecuteStep(r.Context(), req.SessionID, *req.Step)
	if err != nil {
		respondError(w, err, res)
		return
	}
	respondOK(w, res, nil)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	var req CloseRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		respondError(w, err, nil)
		return
	}

	o, ok := s.registry.Get(taskID)
	if !ok {
		// Closing something that is already gone is not an error.
		respondOK(w, map[string]bool{"closed": true}, nil)
		return
	}
	if err := o.Close(r.Context(), req.SessionID, orchestrator.CloseReasonExplicit); err != nil {
		respondError(w, err, nil)
		return
	}
	respondOK(w, map[string]bool{"closed": true}, nil)
}

// instance returns the orchestrator for taskID, creating and wiring it to
// the store on first use.
func (s *Server) instance(taskID string) (*orchestrator.Orchestrator, error) {
	if taskID != "" {
		if o, ok := s.registry.Get(taskID); ok {
			return o, nil
		}
	}
	o, err := s.registry.Create(taskID)
	if err != nil {
		if o, ok := s.registry.Get(taskID); ok && taskID != "" {
			return o, nil
		}
		return nil, err
	}
	o.Subscribe(s.store.Apply)
	return o, nil
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*orchestrator.Orchestrator, bool) {
	taskID := chi.URLParam(r, "taskID")
	o, ok := s.registry.Get(taskID)
	if !ok {
		respondError(w, notFound("task %q not found", taskID), nil)
		return nil, false
	}
	return o, true
}
