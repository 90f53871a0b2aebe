package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"
)

const settingsVersion = "1"

// Store persists section data by section id.
type Store interface {
	Load() error
	Save() error
	GetSection(sectionID string) (map[string]interface{}, error)
	SetSection(sectionID string, data map[string]interface{}) error
}

// settingsFile is the on-disk layout of the settings file.
type settingsFile struct {
	Version  string                            `json:"version"`
	Sections map[string]map[string]interface{} `json:"sections"`
}

// FileStore is a Store backed by one JSON file. Saves replace the file by
// rename, so readers never see a partial write.
type FileStore struct {
	path string

	mu    sync.RWMutex
	doc   settingsFile
	dirty bool
}

// DefaultSettingsPath returns ~/.browsepilot/config.json.
func DefaultSettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".browsepilot", "config.json"), nil
}

// NewFileStore opens the settings file at path, or DefaultSettingsPath when
// path is empty. A missing file yields an empty store.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		p, err := DefaultSettingsPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	s := &FileStore{path: path, doc: emptySettings()}
	if err := s.Load(); err != nil {
		return nil, fmt.Errorf("failed to load settings from %s: %w", path, err)
	}
	return s, nil
}

func emptySettings() settingsFile {
	return settingsFile{Version: settingsVersion, Sections: make(map[string]map[string]interface{})}
}

// Load replaces the in-memory data with the file contents and discards
// unsaved changes.
func (s *FileStore) Load() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.mu.Lock()
		s.doc, s.dirty = emptySettings(), false
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	doc := emptySettings()
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid settings file: %w", err)
	}
	if doc.Sections == nil {
		doc.Sections = make(map[string]map[string]interface{})
	}

	s.mu.Lock()
	s.doc, s.dirty = doc, false
	s.mu.Unlock()
	return nil
}

// Save writes the settings next to the target and renames them into place.
func (s *FileStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	tmpPath := tmp.Name()

	_, err = tmp.Write(append(raw, '\n'))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpPath, s.path)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write settings: %w", err)
	}

	s.dirty = false
	return nil
}

// GetSection returns a copy of a section's data, empty when it was never set.
func (s *FileStore) GetSection(sectionID string) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.doc.Sections[sectionID]))
	maps.Copy(out, s.doc.Sections[sectionID])
	return out, nil
}

// SetSection replaces a section's data in memory. Save persists it.
func (s *FileStore) SetSection(sectionID string, data map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Sections[sectionID] = maps.Clone(data)
	s.dirty = true
	return nil
}

// Dirty reports whether there are changes not yet saved.
func (s *FileStore) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Path returns the settings file location.
func (s *FileStore) Path() string {
	return s.path
}
