// Package llm provides the completion contract the action planner talks to.
//
// Example usage:
//
//	provider, err := openai.NewProvider(
//	    os.Getenv("OPENAI_API_KEY"),
//	    openai.WithModel("gpt-4o"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	reply, err := provider.Complete(ctx, []*types.Message{
//	    types.NewSystemMessage("You plan browser steps."),
//	    types.NewUserMessage("Find the pricing page."),
//	})
package llm

import (
	"context"

	"github.com/entrhq/browsepilot/pkg/types"
)

// Provider defines the interface for LLM integrations.
//
// Providers only move messages to and from a model. Prompt construction and
// response parsing belong to the planner.
type Provider interface {
	// Complete sends messages to the LLM and returns the assistant reply.
	Complete(ctx context.Context, messages []*types.Message) (*types.Message, error)

	// GetModelInfo returns information about the model being used.
	GetModelInfo() *types.ModelInfo

	// GetModel returns the model name being used.
	GetModel() string
}

// Usage reports token accounting for one completion, when the provider knows it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// UsageReporter is implemented by providers that track token usage.
type UsageReporter interface {
	LastUsage() Usage
}
