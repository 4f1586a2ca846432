package character

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "character.json")

	c, err := Load(path, "Aria", nil)
	require.NoError(t, err)
	assert.Equal(t, "Aria", c.Name())

	// The default card must now exist on disk and load cleanly.
	_, err = os.Stat(path)
	require.NoError(t, err)
	again, err := Load(path, "Other", nil)
	require.NoError(t, err)
	assert.Equal(t, "Aria", again.Name())
}

func TestLoadCorruptFileSelfHeals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "character.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	c, err := Load(path, "Aria", nil)
	require.NoError(t, err)
	assert.Equal(t, "Aria", c.Name())
}

func TestLoadCustomCard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "character.json")
	card := `{
		"name": "Mira",
		"description": "a test persona",
		"personality": ["quiet"],
		"speaking_style": ["formal"]
	}`
	require.NoError(t, os.WriteFile(path, []byte(card), 0o644))

	c, err := Load(path, "Aria", nil)
	require.NoError(t, err)
	assert.Equal(t, "Mira", c.Name())

	prompt := c.Prompt()
	assert.Contains(t, prompt, "You are Mira, a test persona")
	assert.Contains(t, prompt, "- quiet")
	assert.Contains(t, prompt, "Speaking style:")
	assert.NotContains(t, prompt, "Interests:")
}

func TestPromptContainsAllSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "character.json")
	c, err := Load(path, "Aria", nil)
	require.NoError(t, err)

	prompt := c.Prompt()
	for _, want := range []string{"You are Aria", "Background:", "Personality:", "Guidelines:"} {
		assert.Contains(t, prompt, want)
	}
}
