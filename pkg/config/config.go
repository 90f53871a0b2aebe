package config

import (
	"sync"
)

var (
	globalManager *Manager
	globalMu      sync.Mutex
)

// Initialize creates the global configuration manager, registers the default
// sections and loads them from configPath (default ~/.browsepilot/config.json).
func Initialize(configPath string) error {
	store, err := NewFileStore(configPath)
	if err != nil {
		return err
	}

	manager := NewManager(store)
	for _, section := range []Section{
		NewLLMSection(),
		NewOrchestratorSection(),
		NewBrowserSection(),
	} {
		if err := manager.RegisterSection(section); err != nil {
			return err
		}
	}

	if err := manager.LoadAll(); err != nil {
		return err
	}

	globalMu.Lock()
	globalManager = manager
	globalMu.Unlock()
	return nil
}

// Global returns the global configuration manager.
// Panics if Initialize has not been called.
func Global() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager == nil {
		panic("config not initialized: call config.Initialize first")
	}
	return globalManager
}

// IsInitialized returns true if the global configuration has been initialized.
func IsInitialized() bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalManager != nil
}

func getSection[T Section](id string) T {
	var zero T
	if !IsInitialized() {
		return zero
	}
	section, ok := Global().GetSection(id)
	if !ok {
		return zero
	}
	typed, ok := section.(T)
	if !ok {
		return zero
	}
	return typed
}

// GetLLM returns the LLM settings section, or nil before Initialize.
func GetLLM() *LLMSection {
	return getSection[*LLMSection](SectionIDLLM)
}

// GetOrchestrator returns the step loop section, or nil before Initialize.
func GetOrchestrator() *OrchestratorSection {
	return getSection[*OrchestratorSection](SectionIDOrchestrator)
}

// GetBrowser returns the browser section, or nil before Initialize.
func GetBrowser() *BrowserSection {
	return getSection[*BrowserSection](SectionIDBrowser)
}

// Orchestrator returns the effective step loop settings, falling back to
// defaults when the global config is not initialized.
func Orchestrator() OrchestratorSettings {
	if s := GetOrchestrator(); s != nil {
		return s.Snapshot()
	}
	return NewOrchestratorSection().Snapshot()
}

// Browser returns the effective browser settings, falling back to defaults
// when the global config is not initialized.
func Browser() BrowserSettings {
	if s := GetBrowser(); s != nil {
		return s.Snapshot()
	}
	return NewBrowserSection().Snapshot()
}

// resetGlobal clears the global manager. Tests use it between cases.
func resetGlobal() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalManager = nil
}
