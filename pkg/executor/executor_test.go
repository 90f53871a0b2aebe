package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/browsepilot/pkg/session"
	"github.com/entrhq/browsepilot/pkg/session/sessiontest"
	"github.com/entrhq/browsepilot/pkg/types"
)

func newExecutor(t *testing.T, fake *sessiontest.Provider, cfg Config) (*Executor, string) {
	t.Helper()
	cfg.Provider = fake
	exec, err := New(cfg)
	require.NoError(t, err)

	s, err := fake.CreateSession(context.Background(), session.Options{})
	require.NoError(t, err)
	return exec, s.ID
}

func TestNewRequiresProvider(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestExecuteSubstitutesAndRedacts(t *testing.T) {
	fake := &sessiontest.Provider{}
	exec, id := newExecutor(t, fake, Config{})
	vars := map[string]string{"password": "hunter2"}

	step := types.Step{Text: "Enter password", Tool: types.ToolAct, Instruction: "fill #pw = %password%"}
	out, err := exec.Execute(context.Background(), id, step, vars, nil)
	require.NoError(t, err)

	dispatched := fake.Dispatches()
	require.Len(t, dispatched, 1)
	assert.Equal(t, "fill #pw = hunter2", dispatched[0].Action.Instruction)

	assert.Equal(t, "fill #pw = [password]", out.Step.Instruction)
	assert.Equal(t, types.StepCompleted, out.Step.Status)
	assert.Nil(t, out.Data)
}

func TestExecuteClose(t *testing.T) {
	fake := &sessiontest.Provider{}
	exec, id := newExecutor(t, fake, Config{})

	out, err := exec.Execute(context.Background(), id, types.Step{Tool: types.ToolClose}, nil, nil)
	require.NoError(t, err)
	assert.True(t, out.Closed)
	assert.Empty(t, fake.Dispatches())
}

func TestExecuteExtract(t *testing.T) {
	t.Run("default schema", func(t *testing.T) {
		fake := &sessiontest.Provider{ExtractData: map[string]any{"content": "Pro plan $20/mo"}}
		exec, id := newExecutor(t, fake, Config{})

		out, err := exec.Execute(context.Background(), id, types.Step{Tool: types.ToolExtract}, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "Pro plan $20/mo", out.Data["content"])

		action := fake.Dispatches()[0].Action
		require.NotNil(t, action.Schema)
		assert.Equal(t, types.SchemaText, action.Schema.Kind)
		assert.False(t, action.Final)
	})

	t.Run("schema mismatch fails the step", func(t *testing.T) {
		fake := &sessiontest.Provider{ExtractData: map[string]any{"price": 20}}
		exec, id := newExecutor(t, fake, Config{})
		schema := &types.ExtractionSchema{
			Kind:   types.SchemaObject,
			Fields: []types.SchemaField{{Name: "price", Type: types.FieldString, Required: true}},
		}

		_, err := exec.Execute(context.Background(), id, types.Step{Tool: types.ToolExtract}, nil, schema)
		assert.ErrorIs(t, err, types.ErrExecutionFailure)
	})

	t.Run("empty data is not checked", func(t *testing.T) {
		fake := &sessiontest.Provider{}
		exec, id := newExecutor(t, fake, Config{})

		out, err := exec.Execute(context.Background(), id, types.Step{Tool: types.ToolExtract}, nil, nil)
		require.NoError(t, err)
		assert.Nil(t, out.Data)
	})
}

func TestExecuteErrorTranslation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"action failure", session.NewActionError(types.ToolAct, "element not found", nil), types.ErrExecutionFailure},
		{"transport", errors.New("connection reset"), types.ErrSessionUnavailable},
		{"unknown session", session.ErrUnknownSession, types.ErrSessionUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &sessiontest.Provider{
				OnDispatch: func(int, session.Action) (*session.Outcome, error) { return nil, tt.err },
			}
			exec, id := newExecutor(t, fake, Config{})

			_, err := exec.Execute(context.Background(), id, types.Step{Tool: types.ToolObserve}, nil, nil)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestExecuteErrorsNeverLeakSecrets(t *testing.T) {
	fake := &sessiontest.Provider{
		OnDispatch: func(_ int, a session.Action) (*session.Outcome, error) {
			return nil, session.NewActionError(a.Tool, "could not type "+a.Instruction, nil)
		},
	}
	exec, id := newExecutor(t, fake, Config{})

	_, err := exec.Execute(context.Background(), id,
		types.Step{Tool: types.ToolAct, Instruction: "fill #pw = %pw%"}, map[string]string{"pw": "hunter2"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrExecutionFailure)
	assert.ErrorIs(t, err, session.ErrActionFailed)
	assert.NotContains(t, err.Error(), "hunter2")
	assert.Contains(t, err.Error(), "[pw]")
}

func TestExecuteStepTimeout(t *testing.T) {
	fake := &sessiontest.Provider{DispatchGate: make(chan struct{})}
	exec, id := newExecutor(t, fake, Config{StepTimeout: 10 * time.Millisecond})

	_, err := exec.Execute(context.Background(), id, types.Step{Tool: types.ToolObserve}, nil, nil)
	assert.ErrorIs(t, err, types.ErrExecutionFailure)
}

func TestExecuteCallerCancelled(t *testing.T) {
	fake := &sessiontest.Provider{DispatchGate: make(chan struct{})}
	exec, id := newExecutor(t, fake, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := exec.Execute(ctx, id, types.Step{Tool: types.ToolObserve}, nil, nil)
	assert.ErrorIs(t, err, types.ErrSessionUnavailable)
}

func TestExecuteURLPolicy(t *testing.T) {
	fake := &sessiontest.Provider{}
	exec, id := newExecutor(t, fake, Config{AllowedURLs: []string{"https://shop.test/*"}})

	_, err := exec.Execute(context.Background(), id, types.Step{Tool: types.ToolGoto, Instruction: "https://evil.test/"}, nil, nil)
	assert.ErrorIs(t, err, types.ErrExecutionFailure)
	assert.Empty(t, fake.Dispatches())

	_, err = exec.Execute(context.Background(), id, types.Step{Tool: types.ToolGoto, Instruction: "https://shop.test/%path%"},
		map[string]string{"path": "pricing"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test/pricing", fake.Dispatches()[0].Action.Instruction)
}

func TestExecuteFromResolvesRelativeGoto(t *testing.T) {
	fake := &sessiontest.Provider{}
	exec, id := newExecutor(t, fake, Config{AllowedURLs: []string{"https://product.test/*"}})

	out, err := exec.ExecuteFrom(context.Background(), id, "https://product.test",
		types.Step{Tool: types.ToolGoto, Instruction: "/pricing"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://product.test/pricing", fake.Dispatches()[0].Action.Instruction)
	assert.Equal(t, "https://product.test/pricing", out.URL)

	_, err = exec.ExecuteFrom(context.Background(), id, "https://product.test/docs/intro",
		types.Step{Tool: types.ToolGoto, Instruction: "../blog"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://product.test/blog", fake.Dispatches()[1].Action.Instruction)

	// Relative targets still go through the policy once resolved.
	_, err = exec.ExecuteFrom(context.Background(), id, "https://evil.test/",
		types.Step{Tool: types.ToolGoto, Instruction: "/pricing"}, nil, nil)
	assert.ErrorIs(t, err, types.ErrExecutionFailure)

	// Without a base there is nothing to resolve against.
	_, err = exec.Execute(context.Background(), id, types.Step{Tool: types.ToolGoto, Instruction: "/pricing"}, nil, nil)
	assert.ErrorIs(t, err, types.ErrExecutionFailure)
	assert.Len(t, fake.Dispatches(), 2)
}

func TestExecuteInvalidInput(t *testing.T) {
	fake := &sessiontest.Provider{}
	exec, id := newExecutor(t, fake, Config{})

	_, err := exec.Execute(context.Background(), "", types.Step{Tool: types.ToolObserve}, nil, nil)
	assert.ErrorIs(t, err, types.ErrSessionUnavailable)

	_, err = exec.Execute(context.Background(), id, types.Step{Tool: types.ToolGoto}, nil, nil)
	assert.ErrorIs(t, err, types.ErrExecutionFailure)
	assert.Empty(t, fake.Dispatches())
}

func TestExtract(t *testing.T) {
	fake := &sessiontest.Provider{ExtractData: map[string]any{"content": "page text"}}
	exec, id := newExecutor(t, fake, Config{})

	res, err := exec.Extract(context.Background(), id, nil)
	require.NoError(t, err)
	assert.True(t, res.Final)
	assert.Equal(t, "page text", res.Data["content"])
	assert.False(t, res.CapturedAt.IsZero())

	d := fake.Dispatches()
	require.Len(t, d, 1)
	assert.True(t, d[0].Action.Final)
	assert.Empty(t, fake.StepDispatches())

	_, err = exec.Extract(context.Background(), "sess-unknown", nil)
	assert.ErrorIs(t, err, types.ErrSessionUnavailable)
}
