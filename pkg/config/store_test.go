package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileStore(t *testing.T) {
	t.Run("missing file yields empty store", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		store, err := NewFileStore(path)
		require.NoError(t, err)
		assert.Equal(t, path, store.Path())

		assert.False(t, store.Dirty())
		data, err := store.GetSection("llm")
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("default path under home", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		store, err := NewFileStore("")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, ".browsepilot", "config.json"), store.Path())
	})

	t.Run("invalid JSON fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
		_, err := NewFileStore(path)
		assert.Error(t, err)
	})
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.SetSection("browser", map[string]interface{}{
		"provider":  "remote",
		"headless":  false,
		"max_steps": 12,
	}))
	assert.True(t, store.Dirty())
	require.NoError(t, store.Save())
	assert.False(t, store.Dirty())
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp file left behind")

	reloaded, err := NewFileStore(path)
	require.NoError(t, err)
	data, err := reloaded.GetSection("browser")
	require.NoError(t, err)
	assert.Equal(t, "remote", data["provider"])
	assert.Equal(t, false, data["headless"])
	assert.Equal(t, float64(12), data["max_steps"])
}

func TestFileStoreCopies(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	in := map[string]interface{}{"k": "v"}
	require.NoError(t, store.SetSection("s", in))
	in["k"] = "changed"

	out, err := store.GetSection("s")
	require.NoError(t, err)
	assert.Equal(t, "v", out["k"])
	out["k"] = "changed"

	again, err := store.GetSection("s")
	require.NoError(t, err)
	assert.Equal(t, "v", again["k"])

	empty, err := store.GetSection("missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFileStoreLoadDiscardsUnsaved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"1","sections":{"llm":{"model":"gpt-4o"}}}`), 0600))

	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.SetSection("llm", map[string]interface{}{"model": "other"}))
	require.True(t, store.Dirty())

	require.NoError(t, store.Load())
	assert.False(t, store.Dirty())
	data, err := store.GetSection("llm")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", data["model"])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
