package avatar

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// EmoteMap maps VTube Studio hotkey IDs to the keywords that trigger them.
type EmoteMap struct {
	hotkeys map[string][]string
	order   []string
}

// DefaultEmotes cover the expressions most models ship with.
func DefaultEmotes() map[string][]string {
	return map[string][]string{
		"smile":    {"happy", "glad", "yay", "haha", "great"},
		"sad":      {"sad", "sorry", "unfortunately", "miss"},
		"surprise": {"wow", "what", "really", "no way"},
		"wink":     {"tease", "hehe", "sneaky"},
	}
}

// LoadEmotes reads the emote map at path; a missing or corrupt file is
// replaced with the defaults.
func LoadEmotes(path string, logger *slog.Logger) (*EmoteMap, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var hotkeys map[string][]string
	data, err := os.ReadFile(path)
	if err == nil {
		if jsonErr := json.Unmarshal(data, &hotkeys); jsonErr != nil {
			logger.Warn("emote map unparseable, writing defaults", "path", path)
			hotkeys = nil
		}
	}
	if hotkeys == nil {
		hotkeys = DefaultEmotes()
		out, err := json.MarshalIndent(hotkeys, "", "  ")
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return nil, fmt.Errorf("write default emote map: %w", err)
		}
	}
	return NewEmoteMap(hotkeys), nil
}

// NewEmoteMap builds an emote map. Hotkeys are matched in sorted order so
// selection is deterministic.
func NewEmoteMap(hotkeys map[string][]string) *EmoteMap {
	order := make([]string, 0, len(hotkeys))
	for hotkey := range hotkeys {
		order = append(order, hotkey)
	}
	sort.Strings(order)
	return &EmoteMap{hotkeys: hotkeys, order: order}
}

// Match returns the first hotkey whose keywords appear in the text, or "".
func (m *EmoteMap) Match(text string) string {
	lower := strings.ToLower(text)
	for _, hotkey := range m.order {
		for _, kw := range m.hotkeys[hotkey] {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return hotkey
			}
		}
	}
	return ""
}
