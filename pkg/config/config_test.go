package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/entrhq/browsepilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	assert.False(t, IsInitialized())
	assert.Nil(t, GetLLM())
	assert.Panics(t, func() { Global() })

	require.NoError(t, Initialize(filepath.Join(t.TempDir(), "config.json")))
	assert.True(t, IsInitialized())
	assert.NotNil(t, GetLLM())
	assert.NotNil(t, GetOrchestrator())
	assert.NotNil(t, GetBrowser())
	assert.Len(t, Global().GetSections(), 3)
}

func TestInitializePersistsAcrossLoads(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)
	path := filepath.Join(t.TempDir(), "config.json")

	require.NoError(t, Initialize(path))
	require.NoError(t, GetOrchestrator().SetData(map[string]any{"max_steps": 20, "step_timeout": "15s"}))
	require.NoError(t, GetBrowser().SetData(map[string]any{
		"provider":     ProviderRemote,
		"endpoint":     "https://browsers.example.com",
		"allowed_urls": []string{"https://*.example.com/**"},
	}))
	require.NoError(t, Global().SaveAll())

	resetGlobal()
	require.NoError(t, Initialize(path))

	orch := Orchestrator()
	assert.Equal(t, 20, orch.MaxSteps)
	assert.Equal(t, 15*time.Second, orch.StepTimeout)

	browser := Browser()
	assert.Equal(t, ProviderRemote, browser.Provider)
	assert.Equal(t, "https://browsers.example.com", browser.Endpoint)
	assert.Equal(t, []string{"https://*.example.com/**"}, browser.AllowedURLs)
}

func TestDefaultsWithoutInitialize(t *testing.T) {
	resetGlobal()

	orch := Orchestrator()
	assert.Equal(t, types.DefaultMaxSteps, orch.MaxSteps)
	assert.Equal(t, DefaultStepTimeout, orch.StepTimeout)
	assert.False(t, orch.KeepSessionOpen)

	browser := Browser()
	assert.Equal(t, ProviderPlaywright, browser.Provider)
	assert.True(t, browser.Headless)
}

func TestOrchestratorSectionValidate(t *testing.T) {
	tests := []struct {
		name    string
		data    map[string]any
		wantErr bool
	}{
		{name: "defaults", data: map[string]any{}},
		{name: "zero steps", data: map[string]any{"max_steps": 0}, wantErr: true},
		{name: "too many steps", data: map[string]any{"max_steps": float64(types.MaxStepsLimit + 1)}, wantErr: true},
		{name: "negative budget", data: map[string]any{"history_token_budget": -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewOrchestratorSection()
			require.NoError(t, s.SetData(tt.data))
			if tt.wantErr {
				assert.Error(t, s.Validate())
			} else {
				assert.NoError(t, s.Validate())
			}
		})
	}

	assert.Error(t, NewOrchestratorSection().SetData(map[string]any{"step_timeout": "soon"}))
}

func TestBrowserSectionValidate(t *testing.T) {
	tests := []struct {
		name    string
		data    map[string]any
		wantErr bool
	}{
		{name: "defaults", data: map[string]any{}},
		{name: "remote without endpoint", data: map[string]any{"provider": ProviderRemote}, wantErr: true},
		{name: "remote with endpoint", data: map[string]any{"provider": ProviderRemote, "endpoint": "https://x"}},
		{name: "unknown provider", data: map[string]any{"provider": "lynx"}, wantErr: true},
		{name: "bad viewport", data: map[string]any{"viewport_width": 0}, wantErr: true},
		{name: "negative rate", data: map[string]any{"requests_per_second": -1.0}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewBrowserSection()
			require.NoError(t, s.SetData(tt.data))
			if tt.wantErr {
				assert.Error(t, s.Validate())
			} else {
				assert.NoError(t, s.Validate())
			}
		})
	}

	assert.Error(t, NewBrowserSection().SetData(map[string]any{"allowed_urls": []any{1}}))
}

func TestBrowserSectionReset(t *testing.T) {
	s := NewBrowserSection()
	require.NoError(t, s.SetData(map[string]any{"provider": ProviderRemote, "api_key": "k", "allowed_urls": []any{"a"}}))
	s.Reset()
	snap := s.Snapshot()
	assert.Equal(t, ProviderPlaywright, snap.Provider)
	assert.Empty(t, snap.APIKey)
	assert.Empty(t, snap.AllowedURLs)
}
