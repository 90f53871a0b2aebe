package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/browsepilot/pkg/types"
)

const (
	// SectionIDOrchestrator is the identifier for the step loop settings section
	SectionIDOrchestrator = "orchestrator"

	DefaultStepTimeout        = 60 * time.Second
	DefaultHistoryTokenBudget = 4000
)

// OrchestratorSection holds step loop defaults applied to tasks that do not
// set their own.
type OrchestratorSection struct {
	MaxSteps           int
	StepTimeout        time.Duration
	KeepSessionOpen    bool
	HistoryTokenBudget int
	mu                 sync.RWMutex
}

// NewOrchestratorSection creates the section with default settings.
func NewOrchestratorSection() *OrchestratorSection {
	return &OrchestratorSection{
		MaxSteps:           types.DefaultMaxSteps,
		StepTimeout:        DefaultStepTimeout,
		HistoryTokenBudget: DefaultHistoryTokenBudget,
	}
}

func (s *OrchestratorSection) ID() string    { return SectionIDOrchestrator }
func (s *OrchestratorSection) Title() string { return "Task Loop" }
func (s *OrchestratorSection) Description() string {
	return "Step budget, per-step timeout and session retention for autonomous runs."
}

// Data returns the current configuration data.
func (s *OrchestratorSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"max_steps":            s.MaxSteps,
		"step_timeout":         s.StepTimeout.String(),
		"keep_session_open":    s.KeepSessionOpen,
		"history_token_budget": s.HistoryTokenBudget,
	}
}

// SetData updates the configuration from the provided data.
func (s *OrchestratorSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := toInt(data["max_steps"]); ok {
		s.MaxSteps = n
	}
	if raw, ok := data["step_timeout"].(string); ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid step_timeout %q: %w", raw, err)
		}
		s.StepTimeout = d
	}
	if keep, ok := data["keep_session_open"].(bool); ok {
		s.KeepSessionOpen = keep
	}
	if n, ok := toInt(data["history_token_budget"]); ok {
		s.HistoryTokenBudget = n
	}
	return nil
}

// Validate validates the current configuration.
func (s *OrchestratorSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.MaxSteps < 1 || s.MaxSteps > types.MaxStepsLimit {
		return fmt.Errorf("max_steps must be between 1 and %d", types.MaxStepsLimit)
	}
	if s.StepTimeout < 0 {
		return fmt.Errorf("step_timeout must not be negative")
	}
	if s.HistoryTokenBudget < 0 {
		return fmt.Errorf("history_token_budget must not be negative")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *OrchestratorSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MaxSteps = types.DefaultMaxSteps
	s.StepTimeout = DefaultStepTimeout
	s.KeepSessionOpen = false
	s.HistoryTokenBudget = DefaultHistoryTokenBudget
}

// Snapshot returns a copy of the settings safe to read without locking.
func (s *OrchestratorSection) Snapshot() OrchestratorSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return OrchestratorSettings{
		MaxSteps:           s.MaxSteps,
		StepTimeout:        s.StepTimeout,
		KeepSessionOpen:    s.KeepSessionOpen,
		HistoryTokenBudget: s.HistoryTokenBudget,
	}
}

// OrchestratorSettings is a plain copy of OrchestratorSection.
type OrchestratorSettings struct {
	MaxSteps           int
	StepTimeout        time.Duration
	KeepSessionOpen    bool
	HistoryTokenBudget int
}

// toInt accepts the numeric shapes produced by JSON decoding and by callers.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
