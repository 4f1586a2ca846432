// Package gaming turns the harness into a self-driving game companion: a
// step source feeds periodic prompts instead of stdin, and action phrases
// in the AI output are mapped to game inputs. Actual key injection happens
// outside the harness; this layer resolves and logs the bindings.
package gaming

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Profile describes one game session.
type Profile struct {
	Name            string            `json:"name"`
	StepPrompt      string            `json:"step_prompt"`
	CooldownSeconds int               `json:"cooldown_seconds"`
	// Actions maps an action phrase in AI output to a key binding.
	Actions map[string]string `json:"actions"`
}

// DefaultProfile is written when no game profile exists.
func DefaultProfile() Profile {
	return Profile{
		Name:            "generic",
		StepPrompt:      "You are playing a game. Describe your next move in one short sentence.",
		CooldownSeconds: 30,
		Actions: map[string]string{
			"move forward": "w",
			"move back":    "s",
			"jump":         "space",
			"attack":       "mouse1",
		},
	}
}

// Mode is the active gaming session.
type Mode struct {
	profile Profile
	logger  *slog.Logger

	mu       sync.Mutex
	lastStep time.Time
}

// Load reads the game profile at path, self-healing to the default.
func Load(path string, logger *slog.Logger) (*Mode, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var profile Profile
	data, err := os.ReadFile(path)
	if err == nil && json.Unmarshal(data, &profile) == nil && profile.Name != "" {
		return &Mode{profile: profile, logger: logger}, nil
	}
	if err == nil {
		logger.Warn("game profile invalid, writing default", "path", path)
	}

	profile = DefaultProfile()
	out, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return nil, fmt.Errorf("write default game profile: %w", err)
	}
	return &Mode{profile: profile, logger: logger}, nil
}

// Profile returns the loaded game profile.
func (m *Mode) Profile() Profile { return m.profile }

// Step returns the next step prompt if the cooldown has elapsed as of now.
func (m *Mode) Step(now time.Time) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cooldown := time.Duration(m.profile.CooldownSeconds) * time.Second
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if now.Sub(m.lastStep) < cooldown {
		return "", false
	}
	m.lastStep = now
	return m.profile.StepPrompt, true
}

var actionPhrase = regexp.MustCompile(`\*([^*]+)\*`)

// MessageInputs extracts *action phrases* from AI output and resolves them
// to key bindings. Each resolved binding is logged; unknown phrases are
// ignored.
func (m *Mode) MessageInputs(text string) []string {
	var keys []string
	for _, match := range actionPhrase.FindAllStringSubmatch(text, -1) {
		phrase := strings.ToLower(strings.TrimSpace(match[1]))
		for action, key := range m.profile.Actions {
			if strings.Contains(phrase, strings.ToLower(action)) {
				m.logger.Info("game input resolved", "phrase", phrase, "key", key)
				keys = append(keys, key)
				break
			}
		}
	}
	return keys
}
