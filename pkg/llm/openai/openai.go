// Package openai provides an OpenAI-compatible LLM provider built on the
// official openai-go client.
//
// Example:
//
//	// Standard OpenAI
//	provider, _ := openai.NewProvider("sk-...", openai.WithModel("gpt-4o"))
//
//	// Local OpenAI-compatible API
//	provider, _ := openai.NewProvider("local",
//	    openai.WithBaseURL("http://localhost:8080/v1"))
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/entrhq/browsepilot/pkg/llm"
	"github.com/entrhq/browsepilot/pkg/types"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o"

	defaultMaxRetries = 2
	defaultTimeout    = 2 * time.Minute
)

// Provider implements llm.Provider for OpenAI-compatible chat completion APIs.
type Provider struct {
	client      openai.Client
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	model       string
	temperature *float64
	maxRetries  int
	timeout     time.Duration
	modelInfo   *types.ModelInfo

	mu        sync.Mutex
	lastUsage llm.Usage
}

// ProviderOption is a function that configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model to use for completions.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		if baseURL != "" {
			p.baseURL = baseURL
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ProviderOption {
	return func(p *Provider) {
		p.temperature = &t
	}
}

// WithMaxRetries sets how many times the client retries transient failures.
func WithMaxRetries(n int) ProviderOption {
	return func(p *Provider) {
		p.maxRetries = n
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithTimeout bounds each completion request.
func WithTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) {
		p.timeout = d
	}
}

// NewProvider creates a provider. An empty apiKey falls back to OPENAI_API_KEY
// and an unset base URL falls back to OPENAI_BASE_URL.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	p := &Provider{
		model:      DefaultModel,
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		maxRetries: defaultMaxRetries,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.baseURL == DefaultBaseURL {
		if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
			p.baseURL = envBaseURL
		}
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(p.apiKey),
		option.WithBaseURL(p.baseURL),
		option.WithMaxRetries(p.maxRetries),
	}
	if p.timeout > 0 {
		clientOpts = append(clientOpts, option.WithRequestTimeout(p.timeout))
	}
	if p.httpClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(p.httpClient))
	}
	p.client = openai.NewClient(clientOpts...)

	p.modelInfo = &types.ModelInfo{
		Provider: "openai",
		Name:     p.model,
		Metadata: make(map[string]interface{}),
	}
	if p.baseURL != DefaultBaseURL {
		p.modelInfo.Metadata["base_url"] = p.baseURL
	}

	return p, nil
}

// Complete sends messages to the chat completions endpoint and returns the
// first choice.
func (p *Provider) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: convertToOpenAIMessages(messages),
	}
	if p.temperature != nil {
		params.Temperature = openai.Float(*p.temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("API request failed with status %d: %w", apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	p.mu.Lock()
	p.lastUsage = llm.Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	p.mu.Unlock()

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}
	return types.NewAssistantMessage(resp.Choices[0].Message.Content), nil
}

// LastUsage returns token usage of the most recent completion.
func (p *Provider) LastUsage() llm.Usage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUsage
}

// GetModelInfo returns information about the model being used.
func (p *Provider) GetModelInfo() *types.ModelInfo {
	return p.modelInfo
}

// GetModel returns the model name being used.
func (p *Provider) GetModel() string {
	return p.model
}

// GetBaseURL returns the base URL being used.
func (p *Provider) GetBaseURL() string {
	return p.baseURL
}

// GetAPIKey returns the API key being used.
func (p *Provider) GetAPIKey() string {
	return p.apiKey
}

func convertToOpenAIMessages(messages []*types.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case types.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

var (
	_ llm.Provider      = (*Provider)(nil)
	_ llm.UsageReporter = (*Provider)(nil)
)
