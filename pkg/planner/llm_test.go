package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/browsepilot/pkg/types"
)

// MockLLMProvider is a mock implementation of llm.Provider for testing
type MockLLMProvider struct {
	mock.Mock
}

func (m *MockLLMProvider) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	args := m.Called(ctx, messages)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Message), args.Error(1)
}

func (m *MockLLMProvider) GetModelInfo() *types.ModelInfo {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*types.ModelInfo)
}

func (m *MockLLMProvider) GetModel() string {
	args := m.Called()
	return args.String(0)
}

func newMockProvider(reply *types.Message, err error) *MockLLMProvider {
	m := new(MockLLMProvider)
	m.On("GetModel").Return("test-model")
	m.On("Complete", mock.Anything, mock.Anything).Return(reply, err)
	return m
}

func TestNewLLMPlannerRequiresProvider(t *testing.T) {
	_, err := NewLLMPlanner(nil)
	assert.Error(t, err)
}

func TestLLMPlannerNextAction(t *testing.T) {
	m := newMockProvider(types.NewAssistantMessage(
		`<step><text>Open pricing</text><tool>GOTO</tool><instruction>https://a.test/pricing</instruction></step>`), nil)

	p, err := NewLLMPlanner(m, WithHistoryBudget(500))
	require.NoError(t, err)

	d, err := p.NextAction(context.Background(), Request{Goal: "find pricing", VariableNames: []string{"token"}})
	require.NoError(t, err)
	assert.False(t, d.Done)
	assert.Equal(t, types.ToolGoto, d.Step.Tool)

	m.AssertExpectations(t)
	messages := m.Calls[1].Arguments.Get(1).([]*types.Message)
	require.Len(t, messages, 2)
	assert.Equal(t, types.RoleSystem, messages[0].Role)
	assert.Equal(t, SystemPrompt, messages[0].Content)
	assert.Equal(t, types.RoleUser, messages[1].Role)
	assert.Contains(t, messages[1].Content, "find pricing")
	assert.Contains(t, messages[1].Content, "%token%")
	assert.Contains(t, messages[1].Content, "No steps have been taken yet.")
}

func TestLLMPlannerDone(t *testing.T) {
	m := newMockProvider(types.NewAssistantMessage("<done><reasoning>ok</reasoning></done>"), nil)
	p, err := NewLLMPlanner(m, WithSystemPrompt("custom"))
	require.NoError(t, err)

	d, err := p.NextAction(context.Background(), Request{Goal: "g"})
	require.NoError(t, err)
	assert.True(t, d.Done)
	assert.Equal(t, "ok", d.Reasoning)

	messages := m.Calls[1].Arguments.Get(1).([]*types.Message)
	assert.Equal(t, "custom", messages[0].Content)
}

func TestLLMPlannerErrors(t *testing.T) {
	tests := []struct {
		name  string
		reply *types.Message
		err   error
	}{
		{name: "completion error", err: errors.New("boom")},
		{name: "empty reply", reply: types.NewAssistantMessage("  ")},
		{name: "malformed reply", reply: types.NewAssistantMessage("click the thing")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewLLMPlanner(newMockProvider(tt.reply, tt.err))
			require.NoError(t, err)

			_, err = p.NextAction(context.Background(), Request{Goal: "g"})
			assert.ErrorIs(t, err, types.ErrPlanner)
		})
	}
}

func TestLLMPlannerRequiresGoal(t *testing.T) {
	m := new(MockLLMProvider)
	p, err := NewLLMPlanner(m)
	require.NoError(t, err)

	_, err = p.NextAction(context.Background(), Request{})
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
	m.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}
