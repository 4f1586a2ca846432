package taskprofile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDirWritesDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profiles")

	m, err := LoadDir(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"chatting", "gaming", "streaming"}, m.Names())
	assert.Equal(t, DefaultName, m.Current().Name)

	// Default files must be on disk and load cleanly a second time.
	again, err := LoadDir(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, m.Names(), again.Names())
}

func TestSetCurrent(t *testing.T) {
	m, err := LoadDir(filepath.Join(t.TempDir(), "profiles"), nil)
	require.NoError(t, err)

	require.NoError(t, m.SetCurrent("gaming"))
	assert.Equal(t, "gaming", m.Current().Name)

	err = m.SetCurrent("cooking")
	require.Error(t, err)
	assert.Equal(t, "gaming", m.Current().Name)
}

func TestInvalidProfileFilesAreSkipped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.json"),
		[]byte(`{"name":"good","description":"works"}`), 0o644))

	m, err := LoadDir(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, m.Names())
	// The default name does not exist, so the only profile becomes current.
	assert.Equal(t, "good", m.Current().Name)
}

func TestPrompt(t *testing.T) {
	m, err := LoadDir(filepath.Join(t.TempDir(), "profiles"), nil)
	require.NoError(t, err)
	require.NoError(t, m.SetCurrent("gaming"))

	prompt := m.Prompt()
	assert.Contains(t, prompt, "Current task: gaming")
	assert.Contains(t, prompt, "competitive")
	assert.Contains(t, prompt, "- react to game events quickly")
}
