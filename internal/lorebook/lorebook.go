// Package lorebook keeps keyword-triggered world knowledge. Entries score
// against the current message text and the best matches get injected into
// the prompt as background information.
package lorebook

import (
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

// Scoring constants: an exact word hit counts full, a substring hit half.
// Priority adds up to 0.3 on top and the total is capped at 1.
const (
	exactHitScore     = 1.0
	substringHitScore = 0.5
	priorityBoostCap  = 0.3
	scoreThreshold    = 0.3
	maxRelevant       = 5
)

// Entry is one piece of world knowledge. Disabled entries stay in the file
// but never reach the prompt.
type Entry struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
	Content  string   `json:"content"`
	Priority int      `json:"priority"`
	Category string   `json:"category,omitempty"`
	Enabled  bool     `json:"enabled"`
}

// UnmarshalJSON defaults Enabled to true so hand-authored entries without
// the field stay active.
func (e *Entry) UnmarshalJSON(data []byte) error {
	type plain Entry
	tmp := plain{Enabled: true}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*e = Entry(tmp)
	return nil
}

// Metadata describes the lorebook file.
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

type file struct {
	Metadata Metadata `json:"metadata"`
	Entries  []Entry  `json:"entries"`
}

// Scored pairs an entry with its relevance against a text.
type Scored struct {
	Entry
	Relevance float64
}

// Book is a loaded lorebook. All operations are safe for concurrent use.
type Book struct {
	mu      sync.RWMutex
	path    string
	meta    Metadata
	entries []Entry
	logger  *slog.Logger
}

// Load reads the lorebook at path. A missing or corrupt file is replaced
// with an empty book so lore lookups always work.
func Load(path string, logger *slog.Logger) (*Book, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Book{path: path, logger: logger}

	data, err := os.ReadFile(path)
	if err == nil {
		var f file
		if jsonErr := json.Unmarshal(data, &f); jsonErr == nil {
			b.meta = f.Metadata
			b.entries = f.Entries
			return b, nil
		}
		logger.Warn("lorebook unparseable, starting empty", "path", path)
	} else if !os.IsNotExist(err) {
		logger.Warn("lorebook unreadable, starting empty", "path", path, "error", err)
	}

	b.meta = Metadata{Name: "lorebook", Description: "world knowledge entries"}
	if err := b.save(); err != nil {
		return nil, fmt.Errorf("write empty lorebook: %w", err)
	}
	return b, nil
}

// save persists the book. Caller may hold the lock; save takes none.
func (b *Book) save() error {
	b.meta.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(file{Metadata: b.meta, Entries: b.entries}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(b.path, data, 0o644)
}

// Relevance scores an entry against a text: exact word hits weigh 1.0,
// substring hits 0.5, averaged over the keyword count, plus a priority
// boost of priority/10 capped at 0.3. The result is capped at 1.0.
func Relevance(e Entry, text string) float64 {
	if len(e.Keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	words := make(map[string]bool)
	for _, w := range wordSplit.Split(lower, -1) {
		if w != "" {
			words[w] = true
		}
	}

	var hits float64
	for _, kw := range e.Keywords {
		kw = strings.ToLower(kw)
		switch {
		case words[kw]:
			hits += exactHitScore
		case strings.Contains(lower, kw):
			hits += substringHitScore
		}
	}
	score := hits / float64(len(e.Keywords))
	if score == 0 {
		return 0
	}

	boost := float64(e.Priority) / 10
	if boost > priorityBoostCap {
		boost = priorityBoostCap
	}
	score += boost
	if score > 1 {
		score = 1
	}
	return score
}

var wordSplit = regexp.MustCompile(`[^\w]+`)

// Relevant returns up to five enabled entries clearing the relevance
// threshold, highest priority first, relevance breaking ties.
func (b *Book) Relevant(text string) []Scored {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Scored
	for _, e := range b.entries {
		if !e.Enabled {
			continue
		}
		if score := Relevance(e, text); score >= scoreThreshold {
			out = append(out, Scored{Entry: e, Relevance: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Relevance > out[j].Relevance
	})
	if len(out) > maxRelevant {
		out = out[:maxRelevant]
	}
	return out
}

// Context renders the lore section for a prompt, or "" when nothing matches.
func (b *Book) Context(text string) string {
	relevant := b.Relevant(text)
	if len(relevant) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("World information:\n")
	for _, s := range relevant {
		fmt.Fprintf(&sb, "- %s: %s\n", s.Name, s.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Add inserts or replaces an entry by name and persists the book. Added
// entries are always enabled; disabling is a file-level edit.
func (b *Book) Add(e Entry) error {
	if e.Name == "" || e.Content == "" {
		return fmt.Errorf("lorebook entry needs a name and content")
	}
	e.Enabled = true
	b.mu.Lock()
	defer b.mu.Unlock()

	replaced := false
	for i := range b.entries {
		if b.entries[i].Name == e.Name {
			b.entries[i] = e
			replaced = true
			break
		}
	}
	if !replaced {
		b.entries = append(b.entries, e)
	}
	return b.save()
}

// Remove deletes an entry by name and persists the book.
func (b *Book) Remove(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.entries {
		if b.entries[i].Name == name {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return b.save()
		}
	}
	return fmt.Errorf("no lorebook entry named %q", name)
}

// Search returns entries whose name, keywords or content contain the query,
// case-insensitive.
func (b *Book) Search(query string) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	query = strings.ToLower(query)
	var out []Entry
	for _, e := range b.entries {
		if strings.Contains(strings.ToLower(e.Name), query) ||
			strings.Contains(strings.ToLower(e.Content), query) {
			out = append(out, e)
			continue
		}
		for _, kw := range e.Keywords {
			if strings.Contains(strings.ToLower(kw), query) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Entries returns a copy of all entries.
func (b *Book) Entries() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len reports the entry count.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
