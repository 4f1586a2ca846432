// Package taskprofile manages per-activity prompt overlays. Each profile is
// a JSON file in the profiles directory; switching tasks swaps the overlay
// without touching the persona card.
package taskprofile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Profile adjusts the persona for one kind of activity.
type Profile struct {
	Name                 string   `json:"name"`
	Description          string   `json:"description"`
	PersonalityModifiers []string `json:"personality_modifiers"`
	ResponseGuidelines   []string `json:"response_guidelines"`
}

// DefaultName is the profile active after bootstrap.
const DefaultName = "chatting"

// DefaultProfiles are written to the profiles directory when it is empty.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Name:                 "chatting",
			Description:          "Relaxed one-on-one conversation.",
			PersonalityModifiers: []string{"attentive", "warm"},
			ResponseGuidelines:   []string{"keep replies short and personal", "ask follow-up questions sometimes"},
		},
		{
			Name:                 "gaming",
			Description:          "Playing or commentating a video game.",
			PersonalityModifiers: []string{"competitive", "excitable"},
			ResponseGuidelines:   []string{"react to game events quickly", "keep commentary snappy"},
		},
		{
			Name:                 "streaming",
			Description:          "Entertaining a live audience.",
			PersonalityModifiers: []string{"energetic", "audience-aware"},
			ResponseGuidelines:   []string{"address the audience as chat", "avoid long monologues"},
		},
	}
}

// Manager holds the loaded profiles and the currently active one.
type Manager struct {
	mu       sync.RWMutex
	dir      string
	profiles map[string]Profile
	current  string
	logger   *slog.Logger
}

// LoadDir reads every *.json profile in dir, writing the defaults first if
// the directory is empty or missing. Unparseable files are skipped.
func LoadDir(dir string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create profiles dir: %w", err)
	}

	m := &Manager{dir: dir, profiles: make(map[string]Profile), logger: logger}
	if err := m.readAll(); err != nil {
		return nil, err
	}
	if len(m.profiles) == 0 {
		logger.Info("no task profiles found, writing defaults", "dir", dir)
		for _, p := range DefaultProfiles() {
			if err := m.write(p); err != nil {
				return nil, err
			}
			m.profiles[p.Name] = p
		}
	}

	m.current = DefaultName
	if _, ok := m.profiles[m.current]; !ok {
		m.current = m.Names()[0]
	}
	return m, nil
}

func (m *Manager) readAll() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("read profiles dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(m.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			m.logger.Warn("profile unreadable, skipping", "path", path, "error", err)
			continue
		}
		var p Profile
		if err := json.Unmarshal(data, &p); err != nil || p.Name == "" {
			m.logger.Warn("profile invalid, skipping", "path", path, "error", err)
			continue
		}
		m.profiles[p.Name] = p
	}
	return nil
}

func (m *Manager) write(p Profile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(m.dir, p.Name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write profile %s: %w", p.Name, err)
	}
	return nil
}

// Names lists the available profile names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.profiles))
	for name := range m.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Current returns the active profile.
func (m *Manager) Current() Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profiles[m.current]
}

// SetCurrent switches the active profile.
func (m *Manager) SetCurrent(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[name]; !ok {
		return fmt.Errorf("unknown task profile %q", name)
	}
	if name != m.current {
		m.logger.Info("task profile switched", "from", m.current, "to", name)
	}
	m.current = name
	return nil
}

// Prompt renders the task section of the system prompt.
func (m *Manager) Prompt() string {
	p := m.Current()
	if p.Name == "" {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Current task: %s. %s\n", p.Name, p.Description)
	if len(p.PersonalityModifiers) > 0 {
		fmt.Fprintf(&b, "Right now you are %s.\n", strings.Join(p.PersonalityModifiers, ", "))
	}
	for _, g := range p.ResponseGuidelines {
		fmt.Fprintf(&b, "- %s\n", g)
	}
	return strings.TrimRight(b.String(), "\n")
}
