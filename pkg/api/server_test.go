package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/browsepilot/pkg/orchestrator"
	"github.com/entrhq/browsepilot/pkg/planner"
	"github.com/entrhq/browsepilot/pkg/session/sessiontest"
	"github.com/entrhq/browsepilot/pkg/store"
	"github.com/entrhq/browsepilot/pkg/types"
)

type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   string          `json:"error"`
	Done    *bool           `json:"done"`
}

// sequencePlanner answers with decisions in order and then reports done.
func sequencePlanner(decisions ...*planner.Decision) planner.Planner {
	var mu sync.Mutex
	next := 0
	return planner.Func(func(ctx context.Context, req planner.Request) (*planner.Decision, error) {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(decisions) {
			return &planner.Decision{Done: true}, nil
		}
		d := decisions[next]
		next++
		return d, nil
	})
}

func stepDecision(tool types.Tool, instruction string) *planner.Decision {
	return &planner.Decision{Step: &types.Step{
		Text:        fmt.Sprintf("%s %s", tool, instruction),
		Tool:        tool,
		Instruction: instruction,
	}}
}

func newTestServer(t *testing.T, fake *sessiontest.Provider, p planner.Planner) *httptest.Server {
	t.Helper()
	reg := orchestrator.NewRegistry(orchestrator.NewFactory(orchestrator.Config{
		Provider: fake,
		Planner:  p,
	}))
	s, err := NewServer(Config{Registry: reg, Store: store.New()})
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path string, body any) (int, envelope) {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestNewServerRequiresRegistry(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid request", types.NewTaskError(types.ErrInvalidRequest, "validate", "goal is required", nil), http.StatusBadRequest},
		{"already running", types.NewTaskError(types.ErrAlreadyRunning, "start", "", nil), http.StatusConflict},
		{"planner", types.NewTaskError(types.ErrPlanner, "plan", "", nil), http.StatusInternalServerError},
		{"session", types.NewTaskError(types.ErrSessionUnavailable, "create", "", nil), http.StatusInternalServerError},
		{"execution", types.NewTaskError(types.ErrExecutionFailure, "act", "", nil), http.StatusInternalServerError},
		{"not found", notFound("task %q not found", "x"), http.StatusNotFound},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestStartRejectsBadInput(t *testing.T) {
	fake := &sessiontest.Provider{}
	ts := newTestServer(t, fake, sequencePlanner())

	tests := []struct {
		name string
		body any
	}{
		{"empty body", ""},
		{"malformed json", "{goal"},
		{"missing goal", map[string]any{"startUrl": "https://a.test"}},
		{"budget too large", map[string]any{"goal": "g", "maxSteps": types.MaxStepsLimit + 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := do(t, ts, http.MethodPost, "/v1/tasks", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Error)
		})
	}
	assert.Zero(t, fake.Creates())
}

func TestInteractiveLifecycle(t *testing.T) {
	fake := &sessiontest.Provider{ExtractData: map[string]any{"content": "Pro plan $20"}}
	ts := newTestServer(t, fake, sequencePlanner(
		stepDecision(types.ToolGoto, "https://pricing.test"),
		stepDecision(types.ToolExtract, "read the price"),
	))

	status, env := do(t, ts, http.MethodPost, "/v1/tasks", map[string]any{
		"taskId": "t1",
		"goal":   "find the price",
	})
	require.Equal(t, http.StatusOK, status, env.Error)
	require.NotNil(t, env.Done)
	assert.False(t, *env.Done)

	var started orchestrator.StartResult
	require.NoError(t, json.Unmarshal(env.Result, &started))
	assert.Equal(t, "t1", started.TaskID)
	assert.Equal(t, "sess-1", started.SessionID)
	assert.Equal(t, "https://live.test/sess-1", started.LiveViewURL)
	require.NotNil(t, started.FirstStep)
	assert.Equal(t, types.StepCompleted, started.FirstStep.Status)

	t.Run("second start conflicts", func(t *testing.T) {
		status, _ := do(t, ts, http.MethodPost, "/v1/tasks", map[string]any{"taskId": "t1", "goal": "again"})
		assert.Equal(t, http.StatusConflict, status)
	})

	status, env = do(t, ts, http.MethodPost, "/v1/tasks/t1/next", NextRequest{
		SessionID:     "sess-1",
		Goal:          "find the price",
		PreviousSteps: []types.Step{*started.FirstStep},
	})
	require.Equal(t, http.StatusOK, status, env.Error)
	var next orchestrator.AdvanceResult
	require.NoError(t, json.Unmarshal(env.Result, &next))
	require.NotNil(t, next.Step)
	assert.Equal(t, types.ToolExtract, next.Step.Tool)

	status, env = do(t, ts, http.MethodPost, "/v1/tasks/t1/execute", ExecuteRequest{SessionID: "sess-1", Step: next.Step})
	require.Equal(t, http.StatusOK, status, env.Error)
	var executed orchestrator.ExecuteResult
	require.NoError(t, json.Unmarshal(env.Result, &executed))
	assert.Equal(t, types.StepCompleted, executed.Step.Status)
	require.NotNil(t, executed.Extraction)
	assert.Equal(t, "Pro plan $20", executed.Extraction.Data["content"])

	status, env = do(t, ts, http.MethodGet, "/v1/tasks/t1", nil)
	require.Equal(t, http.StatusOK, status)
	var st store.State
	require.NoError(t, json.Unmarshal(env.Result, &st))
	assert.Equal(t, "find the price", st.Goal)
	assert.Equal(t, "sess-1", st.SessionID)
	assert.Len(t, st.Steps, 2)
	assert.True(t, st.Preserved)

	status, _ = do(t, ts, http.MethodPost, "/v1/tasks/t1/close", CloseRequest{SessionID: "sess-1"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"sess-1"}, fake.Destroyed())

	t.Run("close is idempotent", func(t *testing.T) {
		status, env := do(t, ts, http.MethodPost, "/v1/tasks/t1/close", CloseRequest{SessionID: "sess-1"})
		assert.Equal(t, http.StatusOK, status)
		assert.True(t, env.Success)
		assert.Equal(t, 1, fake.DestroyCalls())
	})

	t.Run("execute after close", func(t *testing.T) {
		status, _ := do(t, ts, http.MethodPost, "/v1/tasks/t1/execute", ExecuteRequest{SessionID: "sess-1", Step: next.Step})
		assert.Equal(t, http.StatusInternalServerError, status)
	})
}

func TestUnknownTask(t *testing.T) {
	ts := newTestServer(t, &sessiontest.Provider{}, sequencePlanner())

	status, _ := do(t, ts, http.MethodGet, "/v1/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, ts, http.MethodPost, "/v1/tasks/missing/next", NextRequest{SessionID: "s", Goal: "g"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, ts, http.MethodDelete, "/v1/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, env := do(t, ts, http.MethodPost, "/v1/tasks/missing/close", CloseRequest{SessionID: "s"})
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
}

func TestExecuteRequiresStep(t *testing.T) {
	fake := &sessiontest.Provider{}
	ts := newTestServer(t, fake, sequencePlanner(stepDecision(types.ToolGoto, "https://a.test")))

	status, _ := do(t, ts, http.MethodPost, "/v1/tasks", map[string]any{"taskId": "t2", "goal": "g"})
	require.Equal(t, http.StatusOK, status)

	status, _ = do(t, ts, http.MethodPost, "/v1/tasks/t2/execute", ExecuteRequest{SessionID: "sess-1"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, ts, http.MethodPost, "/v1/tasks/t2/execute", ExecuteRequest{
		SessionID: "sess-1",
		Step:      &types.Step{Tool: "TELEPORT"},
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRunToCompletion(t *testing.T) {
	fake := &sessiontest.Provider{ExtractData: map[string]any{"content": "42"}}
	ts := newTestServer(t, fake, sequencePlanner(
		stepDecision(types.ToolGoto, "https://a.test"),
		stepDecision(types.ToolExtract, "read the answer"),
	))

	status, env := do(t, ts, http.MethodPost, "/v1/tasks/run", map[string]any{"taskId": "r1", "goal": "answer"})
	require.Equal(t, http.StatusOK, status, env.Error)
	assert.True(t, env.Success)
	require.NotNil(t, env.Done)
	assert.True(t, *env.Done)

	var res orchestrator.Result
	require.NoError(t, json.Unmarshal(env.Result, &res))
	assert.Len(t, res.Steps, 2)
	require.NotNil(t, res.Extraction)
	assert.Equal(t, "42", res.Extraction.Data["content"])
	assert.Zero(t, fake.Live())

	status, env = do(t, ts, http.MethodGet, "/v1/tasks/r1", nil)
	require.Equal(t, http.StatusOK, status)
	var st store.State
	require.NoError(t, json.Unmarshal(env.Result, &st))
	assert.True(t, st.Closed)

	status, _ = do(t, ts, http.MethodDelete, "/v1/tasks/r1", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = do(t, ts, http.MethodGet, "/v1/tasks/r1", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRunFailureCarriesPartialResult(t *testing.T) {
	fake := &sessiontest.Provider{CreateErr: errors.New("provider down")}
	ts := newTestServer(t, fake, sequencePlanner(stepDecision(types.ToolGoto, "https://a.test")))

	status, env := do(t, ts, http.MethodPost, "/v1/tasks/run", map[string]any{"goal": "g"})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "provider down")
	assert.NotEmpty(t, env.Result)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, &sessiontest.Provider{}, sequencePlanner())

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "browsepilot_")
}

func TestServeShutdownClosesPreservedSessions(t *testing.T) {
	fake := &sessiontest.Provider{}
	reg := orchestrator.NewRegistry(orchestrator.NewFactory(orchestrator.Config{
		Provider: fake,
		Planner:  sequencePlanner(stepDecision(types.ToolGoto, "https://a.test")),
	}))
	s, err := NewServer(Config{Registry: reg})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, ln) }()

	body := strings.NewReader(`{"taskId":"t-1","goal":"g"}`)
	resp, err := http.Post("http://"+ln.Addr().String()+"/v1/tasks", "application/json", body)
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, env.Error)

	o, ok := reg.Get("t-1")
	require.True(t, ok)
	require.True(t, o.Snapshot().Preserved)
	assert.Equal(t, 1, fake.Live())

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
	assert.Equal(t, 0, fake.Live())
	assert.Equal(t, []string{"sess-1"}, fake.Destroyed())
}
