// Package tags detects conversation topics from message text and keeps a
// decaying set of active tags. Detection is a declarative rule table loaded
// from JSON; activations are appended to a history log that is replayed at
// startup so the active set survives restarts.
package tags

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Detection scoring: every keyword hit adds 0.3, every pattern hit 0.4,
// the sum is multiplied by the rule weight and compared to the threshold.
const (
	keywordScore    = 0.3
	patternScore    = 0.4
	detectThreshold = 0.5
)

// Rule declares how one tag is detected and what it contributes.
type Rule struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
	Patterns []string `json:"patterns"`
	Weight   float64  `json:"weight"`
	// Task is the task profile this tag votes for when active.
	Task string `json:"task,omitempty"`
	// Context is injected into the prompt while the tag is active.
	Context string `json:"context,omitempty"`

	compiled []*regexp.Regexp
}

// DefaultRules are written to the rules file when none exists.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "gaming",
			Keywords: []string{"game", "play", "minecraft", "level", "boss"},
			Patterns: []string{`(?i)\blet'?s play\b`},
			Weight:   1.0,
			Task:     "gaming",
			Context:  "The conversation is about video games.",
		},
		{
			Name:     "music",
			Keywords: []string{"song", "sing", "music", "melody"},
			Patterns: []string{`(?i)\bsing (me|us|a)\b`},
			Weight:   1.0,
			Context:  "The conversation is about music.",
		},
		{
			Name:     "emotional",
			Keywords: []string{"sad", "lonely", "upset", "anxious"},
			Patterns: []string{`(?i)\bi feel\b`},
			Weight:   1.0,
			Context:  "The user may need emotional support; be gentle.",
		},
		{
			Name:     "food",
			Keywords: []string{"food", "dinner", "cook", "recipe", "hungry"},
			Weight:   0.8,
			Context:  "The conversation is about food.",
		},
	}
}

// LoadRules reads the rule table at path, writing the defaults first when
// the file is missing or unparseable. Rules with bad regexes are kept with
// the offending pattern dropped.
func LoadRules(path string, logger *slog.Logger) ([]Rule, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil || !json.Valid(data) {
		logger.Info("tag rules missing, writing defaults", "path", path)
		rules := DefaultRules()
		out, err := json.MarshalIndent(rules, "", "  ")
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return nil, fmt.Errorf("write default tag rules: %w", err)
		}
		return compileRules(rules, logger), nil
	}

	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse tag rules: %w", err)
	}
	return compileRules(rules, logger), nil
}

func compileRules(rules []Rule, logger *slog.Logger) []Rule {
	if logger == nil {
		logger = slog.Default()
	}
	for i := range rules {
		if rules[i].Weight == 0 {
			rules[i].Weight = 1.0
		}
		for _, p := range rules[i].Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				logger.Warn("tag pattern invalid, dropping", "tag", rules[i].Name, "pattern", p, "error", err)
				continue
			}
			rules[i].compiled = append(rules[i].compiled, re)
		}
	}
	return rules
}

// event is one line of the append-only history log.
type event struct {
	Tag string    `json:"tag"`
	At  time.Time `json:"at"`
}

// Manager holds the active tag set.
type Manager struct {
	mu          sync.Mutex
	rules       []Rule
	byName      map[string]*Rule
	active      map[string]time.Time // tag -> last activation
	historyPath string
	ttl         time.Duration
	max         int
	logger      *slog.Logger
}

// NewManager builds a manager over the rule table and replays the history
// log so recently active tags survive a restart.
func NewManager(rules []Rule, historyPath string, ttl time.Duration, maxActive int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxActive <= 0 {
		maxActive = 10
	}

	m := &Manager{
		rules:       rules,
		byName:      make(map[string]*Rule, len(rules)),
		active:      make(map[string]time.Time),
		historyPath: historyPath,
		ttl:         ttl,
		max:         maxActive,
		logger:      logger,
	}
	for i := range rules {
		m.byName[rules[i].Name] = &rules[i]
	}
	m.replay()
	return m
}

// replay rebuilds the active set from the history log, keeping only
// activations still inside the TTL.
func (m *Manager) replay() {
	if m.historyPath == "" {
		return
	}
	f, err := os.Open(m.historyPath)
	if err != nil {
		return
	}
	defer f.Close()

	cutoff := time.Now().Add(-m.ttl)
	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		var ev event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil || ev.Tag == "" {
			continue
		}
		if ev.At.After(cutoff) {
			m.active[ev.Tag] = ev.At
			count++
		}
	}
	m.evictLocked()
	if count > 0 {
		m.logger.Info("tag history replayed", "active", len(m.active))
	}
}

// Score computes the detection score of one rule against a text.
func Score(r Rule, text string) float64 {
	lower := strings.ToLower(text)
	var score float64
	for _, kw := range r.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			score += keywordScore
		}
	}
	for _, re := range r.compiled {
		if re.MatchString(text) {
			score += patternScore
		}
	}
	return score * r.Weight
}

// Detect scores every rule against the text and activates the tags that
// clear the threshold. Returns the newly scored tag names.
func (m *Manager) Detect(text string) []string {
	var hits []string
	for i := range m.rules {
		if Score(m.rules[i], text) >= detectThreshold {
			hits = append(hits, m.rules[i].Name)
		}
	}
	for _, tag := range hits {
		m.Add(tag)
	}
	return hits
}

// Add activates a tag (refreshing its TTL) and appends to the history log.
func (m *Manager) Add(tag string) {
	m.mu.Lock()
	now := time.Now()
	m.active[tag] = now
	m.evictLocked()
	m.mu.Unlock()

	m.appendHistory(event{Tag: tag, At: now})
}

// evictLocked drops the oldest activations past the max. Caller holds mu.
func (m *Manager) evictLocked() {
	for len(m.active) > m.max {
		oldest := ""
		var oldestAt time.Time
		for tag, at := range m.active {
			if oldest == "" || at.Before(oldestAt) {
				oldest, oldestAt = tag, at
			}
		}
		delete(m.active, oldest)
	}
}

func (m *Manager) appendHistory(ev event) {
	if m.historyPath == "" {
		return
	}
	f, err := os.OpenFile(m.historyPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		m.logger.Warn("tag history append failed", "error", err)
		return
	}
	defer f.Close()
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		m.logger.Warn("tag history append failed", "error", err)
	}
}

// Decay removes activations older than the TTL as of now.
func (m *Manager) Decay(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(-m.ttl)
	for tag, at := range m.active {
		if at.Before(cutoff) {
			delete(m.active, tag)
		}
	}
}

// Active lists the active tags, most recently activated first.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	type pair struct {
		tag string
		at  time.Time
	}
	pairs := make([]pair, 0, len(m.active))
	for tag, at := range m.active {
		pairs = append(pairs, pair{tag, at})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].at.After(pairs[j].at) })

	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.tag
	}
	return out
}

// RecommendedTask returns the task profile with the highest summed weight
// across active tags, or "" when no active tag votes for a task.
func (m *Manager) RecommendedTask() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	votes := make(map[string]float64)
	for tag := range m.active {
		rule, ok := m.byName[tag]
		if !ok || rule.Task == "" {
			continue
		}
		votes[rule.Task] += rule.Weight
	}

	best, bestWeight := "", 0.0
	for task, weight := range votes {
		if weight > bestWeight || (weight == bestWeight && task < best) {
			best, bestWeight = task, weight
		}
	}
	return best
}

// Context renders the tag section for a prompt, or "" with no active tags.
func (m *Manager) Context() string {
	active := m.Active()
	if len(active) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Active topics: %s\n", strings.Join(active, ", "))
	for _, tag := range active {
		if rule, ok := m.byName[tag]; ok && rule.Context != "" {
			fmt.Fprintf(&b, "- %s\n", rule.Context)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// RunDecay runs the decay loop until ctx is done.
func (m *Manager) RunDecay(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Decay(time.Now())
		}
	}
}
