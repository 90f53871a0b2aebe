package config

import (
	"fmt"
	"os"

	"github.com/entrhq/browsepilot/pkg/llm/openai"
)

// LLMSettings is a resolved set of LLM connection settings.
type LLMSettings struct {
	Model   string
	BaseURL string
	APIKey  string
}

// ResolveLLM merges LLM settings with precedence
// CLI flags > environment variables > config file > defaults.
// The model has no environment variable; a CLI model equal to defaultModel
// counts as unset so a configured model can win over the flag default.
func ResolveLLM(cli LLMSettings, defaultModel string) (LLMSettings, error) {
	out := cli

	if out.APIKey == "" {
		out.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if out.BaseURL == "" {
		out.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}

	if file := GetLLM(); file != nil {
		if cli.Model == "" || cli.Model == defaultModel {
			if m := file.GetModel(); m != "" {
				out.Model = m
			}
		}
		if out.BaseURL == "" {
			out.BaseURL = file.GetBaseURL()
		}
		if out.APIKey == "" {
			out.APIKey = file.GetAPIKey()
		}
	}

	if out.Model == "" {
		out.Model = defaultModel
	}
	if out.APIKey == "" {
		return out, fmt.Errorf("API key is required. Set OPENAI_API_KEY, use -api-key, or configure llm.api_key in ~/.browsepilot/config.json")
	}
	return out, nil
}

// BuildProvider resolves LLM settings and creates the planner's provider.
func BuildProvider(cliModel, cliBaseURL, cliAPIKey, defaultModel string) (*openai.Provider, error) {
	settings, err := ResolveLLM(LLMSettings{Model: cliModel, BaseURL: cliBaseURL, APIKey: cliAPIKey}, defaultModel)
	if err != nil {
		return nil, err
	}

	opts := []openai.ProviderOption{openai.WithModel(settings.Model)}
	if settings.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(settings.BaseURL))
	}

	provider, err := openai.NewProvider(settings.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	return provider, nil
}
