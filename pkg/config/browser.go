package config

import (
	"fmt"
	"slices"
	"sync"
)

const (
	// SectionIDBrowser is the identifier for the session provider section
	SectionIDBrowser = "browser"

	ProviderPlaywright = "playwright"
	ProviderRemote     = "remote"

	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800
)

// BrowserSection selects and configures the session provider.
type BrowserSection struct {
	Provider          string
	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	Endpoint          string
	APIKey            string
	ProjectID         string
	RequestsPerSecond float64
	AllowedURLs       []string
	mu                sync.RWMutex
}

// NewBrowserSection creates the section with default settings.
func NewBrowserSection() *BrowserSection {
	return &BrowserSection{
		Provider:       ProviderPlaywright,
		Headless:       true,
		ViewportWidth:  DefaultViewportWidth,
		ViewportHeight: DefaultViewportHeight,
	}
}

func (s *BrowserSection) ID() string    { return SectionIDBrowser }
func (s *BrowserSection) Title() string { return "Browser Sessions" }
func (s *BrowserSection) Description() string {
	return "Local playwright browser or hosted session provider, and the URL allowlist for navigation."
}

// Data returns the current configuration data.
func (s *BrowserSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := make([]any, 0, len(s.AllowedURLs))
	for _, u := range s.AllowedURLs {
		allowed = append(allowed, u)
	}
	return map[string]any{
		"provider":            s.Provider,
		"headless":            s.Headless,
		"viewport_width":      s.ViewportWidth,
		"viewport_height":     s.ViewportHeight,
		"endpoint":            s.Endpoint,
		"api_key":             s.APIKey,
		"project_id":          s.ProjectID,
		"requests_per_second": s.RequestsPerSecond,
		"allowed_urls":        allowed,
	}
}

// SetData updates the configuration from the provided data.
func (s *BrowserSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := data["provider"].(string); ok && v != "" {
		s.Provider = v
	}
	if v, ok := data["headless"].(bool); ok {
		s.Headless = v
	}
	if v, ok := toInt(data["viewport_width"]); ok {
		s.ViewportWidth = v
	}
	if v, ok := toInt(data["viewport_height"]); ok {
		s.ViewportHeight = v
	}
	if v, ok := data["endpoint"].(string); ok {
		s.Endpoint = v
	}
	if v, ok := data["api_key"].(string); ok {
		s.APIKey = v
	}
	if v, ok := data["project_id"].(string); ok {
		s.ProjectID = v
	}
	if v, ok := toFloat(data["requests_per_second"]); ok {
		s.RequestsPerSecond = v
	}
	switch urls := data["allowed_urls"].(type) {
	case []any:
		s.AllowedURLs = s.AllowedURLs[:0]
		for _, u := range urls {
			str, ok := u.(string)
			if !ok {
				return fmt.Errorf("allowed_urls entries must be strings, got %T", u)
			}
			s.AllowedURLs = append(s.AllowedURLs, str)
		}
	case []string:
		s.AllowedURLs = slices.Clone(urls)
	}
	return nil
}

// Validate validates the current configuration.
func (s *BrowserSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch s.Provider {
	case ProviderPlaywright:
	case ProviderRemote:
		if s.Endpoint == "" {
			return fmt.Errorf("remote provider requires an endpoint")
		}
	default:
		return fmt.Errorf("unknown browser provider %q", s.Provider)
	}
	if s.ViewportWidth <= 0 || s.ViewportHeight <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d", s.ViewportWidth, s.ViewportHeight)
	}
	if s.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *BrowserSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Provider = ProviderPlaywright
	s.Headless = true
	s.ViewportWidth = DefaultViewportWidth
	s.ViewportHeight = DefaultViewportHeight
	s.Endpoint = ""
	s.APIKey = ""
	s.ProjectID = ""
	s.RequestsPerSecond = 0
	s.AllowedURLs = nil
}

// Snapshot returns a copy of the settings safe to read without locking.
func (s *BrowserSection) Snapshot() BrowserSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return BrowserSettings{
		Provider:          s.Provider,
		Headless:          s.Headless,
		ViewportWidth:     s.ViewportWidth,
		ViewportHeight:    s.ViewportHeight,
		Endpoint:          s.Endpoint,
		APIKey:            s.APIKey,
		ProjectID:         s.ProjectID,
		RequestsPerSecond: s.RequestsPerSecond,
		AllowedURLs:       slices.Clone(s.AllowedURLs),
	}
}

// BrowserSettings is a plain copy of BrowserSection.
type BrowserSettings struct {
	Provider          string
	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	Endpoint          string
	APIKey            string
	ProjectID         string
	RequestsPerSecond float64
	AllowedURLs       []string
}
