package avatar

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmoteMatch(t *testing.T) {
	m := NewEmoteMap(map[string][]string{
		"smile": {"happy", "yay"},
		"sad":   {"sorry"},
	})

	tests := []struct {
		text string
		want string
	}{
		{"I'm so happy today!", "smile"},
		{"Sorry about that.", "sad"},
		{"nothing emotional here", ""},
		{"YAY we did it", "smile"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.Match(tt.text), "text %q", tt.text)
	}
}

func TestEmoteMatchDeterministicOrder(t *testing.T) {
	// Both hotkeys match; the alphabetically first one wins every time.
	m := NewEmoteMap(map[string][]string{
		"b-hotkey": {"word"},
		"a-hotkey": {"word"},
	})
	for i := 0; i < 10; i++ {
		assert.Equal(t, "a-hotkey", m.Match("word"))
	}
}

func TestLoadEmotesSelfHeals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emotes.json")

	m, err := LoadEmotes(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "smile", m.Match("so happy"))

	// Corrupt file gets replaced with defaults.
	require.NoError(t, os.WriteFile(path, []byte("{bad"), 0o644))
	again, err := LoadEmotes(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "smile", again.Match("so happy"))
}

func TestSetEmotionHintWithoutConnectionDoesNotBlock(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1", NewEmoteMap(map[string][]string{"smile": {"happy"}}), nil)
	// No server behind the URL; the hint must return immediately anyway.
	c.SetEmotionHint("happy days")
	c.SetEmotionHint("nothing matches")
	require.NoError(t, c.Close())
}
