package tags

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRules(t *testing.T) []Rule {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.json")
	rules, err := LoadRules(path, nil)
	require.NoError(t, err)
	require.NotEmpty(t, rules)
	return rules
}

func newManager(t *testing.T, rules []Rule) *Manager {
	t.Helper()
	return NewManager(rules, filepath.Join(t.TempDir(), "history.jsonl"), time.Hour, 10, nil)
}

func TestScore(t *testing.T) {
	rules := compileRules([]Rule{{
		Name:     "gaming",
		Keywords: []string{"game", "play"},
		Patterns: []string{`(?i)\blet'?s play\b`},
		Weight:   1.0,
	}}, nil)
	rule := rules[0]

	tests := []struct {
		name string
		text string
		want float64
	}{
		{"no hits", "tell me about the weather", 0},
		{"one keyword", "that game was hard", 0.3},
		{"two keywords", "i play that game daily", 0.6},
		{"keywords plus pattern", "let's play a game", 1.0}, // play, game, pattern
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(rule, tt.text), 0.001)
		})
	}
}

func TestScoreAppliesWeight(t *testing.T) {
	rules := compileRules([]Rule{{Name: "w", Keywords: []string{"game", "play"}, Weight: 0.5}}, nil)
	assert.InDelta(t, 0.3, Score(rules[0], "play the game"), 0.001)
}

func TestDetectActivatesAboveThreshold(t *testing.T) {
	m := newManager(t, testRules(t))

	hits := m.Detect("let's play minecraft")
	assert.Contains(t, hits, "gaming")
	assert.Contains(t, m.Active(), "gaming")

	// A single keyword (0.3) stays below the threshold.
	assert.Empty(t, m.Detect("that boss fight was unfair in the movie"))
}

func TestDecayExpiresTags(t *testing.T) {
	m := newManager(t, testRules(t))
	m.Add("gaming")
	require.Contains(t, m.Active(), "gaming")

	m.Decay(time.Now().Add(2 * time.Hour))
	assert.Empty(t, m.Active())
}

func TestMaxActiveEvictsOldest(t *testing.T) {
	m := NewManager(nil, "", time.Hour, 2, nil)
	m.Add("one")
	time.Sleep(2 * time.Millisecond)
	m.Add("two")
	time.Sleep(2 * time.Millisecond)
	m.Add("three")

	active := m.Active()
	assert.Len(t, active, 2)
	assert.NotContains(t, active, "one")
}

func TestHistoryReplay(t *testing.T) {
	history := filepath.Join(t.TempDir(), "history.jsonl")
	rules := testRules(t)

	m := NewManager(rules, history, time.Hour, 10, nil)
	m.Add("gaming")
	m.Add("music")

	// A fresh manager over the same history restores the active set.
	replayed := NewManager(rules, history, time.Hour, 10, nil)
	active := replayed.Active()
	assert.Contains(t, active, "gaming")
	assert.Contains(t, active, "music")

	// With a tiny TTL everything in the log is stale.
	stale := NewManager(rules, history, time.Nanosecond, 10, nil)
	assert.Empty(t, stale.Active())
}

func TestRecommendedTask(t *testing.T) {
	m := newManager(t, testRules(t))
	assert.Empty(t, m.RecommendedTask())

	m.Add("music") // no task vote
	assert.Empty(t, m.RecommendedTask())

	m.Add("gaming")
	assert.Equal(t, "gaming", m.RecommendedTask())
}

func TestContext(t *testing.T) {
	m := newManager(t, testRules(t))
	assert.Empty(t, m.Context())

	m.Add("gaming")
	out := m.Context()
	assert.Contains(t, out, "Active topics: gaming")
	assert.Contains(t, out, "video games")
}

func TestLoadRulesSelfHeals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")

	first, err := LoadRules(path, nil)
	require.NoError(t, err)

	second, err := LoadRules(path, nil)
	require.NoError(t, err)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Name, second[i].Name)
	}
}
