package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/entrhq/browsepilot/pkg/llm"
	"github.com/entrhq/browsepilot/pkg/types"
)

// LLMPlanner asks a language model for the next step.
type LLMPlanner struct {
	provider      llm.Provider
	historyBudget int
	systemPrompt  string
}

// Option configures an LLMPlanner.
type Option func(*LLMPlanner)

// WithHistoryBudget sets the token budget for rendered history.
func WithHistoryBudget(tokens int) Option {
	return func(p *LLMPlanner) {
		p.historyBudget = tokens
	}
}

// WithSystemPrompt replaces the default system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(p *LLMPlanner) {
		p.systemPrompt = prompt
	}
}

// NewLLMPlanner creates a planner backed by provider.
func NewLLMPlanner(provider llm.Provider, opts ...Option) (*LLMPlanner, error) {
	if provider == nil {
		return nil, fmt.Errorf("llm provider is required")
	}
	p := &LLMPlanner{
		provider:      provider,
		historyBudget: DefaultHistoryBudget,
		systemPrompt:  SystemPrompt,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

var _ Planner = (*LLMPlanner)(nil)

// NextAction implements Planner.
func (p *LLMPlanner) NextAction(ctx context.Context, req Request) (*Decision, error) {
	if strings.TrimSpace(req.Goal) == "" {
		return nil, types.NewTaskError(types.ErrInvalidRequest, "plan", "goal is required", nil)
	}

	messages := []*types.Message{
		types.NewSystemMessage(p.systemPrompt),
		types.NewUserMessage(BuildUserPrompt(req, p.historyBudget)),
	}

	plannerLog.Debugf("requesting next action from %s (history=%d)", p.provider.GetModel(), len(req.History))
	reply, err := p.provider.Complete(ctx, messages)
	if err != nil {
		return nil, types.NewTaskError(types.ErrPlanner, "plan", "completion failed", err)
	}
	if reply == nil || strings.TrimSpace(reply.Content) == "" {
		return nil, types.NewTaskError(types.ErrPlanner, "plan", "empty completion", nil)
	}

	if u, ok := p.provider.(llm.UsageReporter); ok {
		usage := u.LastUsage()
		plannerLog.Debugf("planner usage: prompt=%d completion=%d", usage.PromptTokens, usage.CompletionTokens)
	}

	d, err := ParseDecision(reply.Content)
	if err != nil {
		plannerLog.Warnf("unparseable planner response: %v", err)
		return nil, err
	}
	if d.Done {
		plannerLog.Infof("planner reports done: %s", d.Reasoning)
	} else {
		plannerLog.Infof("planned %s step: %s", d.Step.Tool, d.Step.Text)
	}
	return d, nil
}
