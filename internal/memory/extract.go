package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// extractConfidence is assigned to every rule-extracted fact. Pattern
// extraction is heuristic, so nothing gets full confidence.
const extractConfidence = 0.8

// Rule matches a user statement and renders it into a stored fact.
type Rule struct {
	Pattern    *regexp.Regexp
	Kind       string
	Importance float64
	// Render builds the fact content from the regexp submatches.
	Render func(m []string) string
}

// DefaultRules is the built-in extraction table. Preference statements about
// things the user likes rank above dislikes; identity statements rank
// highest of all.
func DefaultRules() []Rule {
	return []Rule{
		{
			Pattern:    regexp.MustCompile(`(?i)\bi (love|like|enjoy|prefer)\s+([^.!?\n]+)`),
			Kind:       KindPreference,
			Importance: 0.8,
			Render:     func(m []string) string { return fmt.Sprintf("User %ss %s", strings.ToLower(m[1]), clip(m[2])) },
		},
		{
			Pattern:    regexp.MustCompile(`(?i)\bi (hate|dislike)\s+([^.!?\n]+)`),
			Kind:       KindPreference,
			Importance: 0.6,
			Render:     func(m []string) string { return fmt.Sprintf("User %ss %s", strings.ToLower(m[1]), clip(m[2])) },
		},
		{
			Pattern:    regexp.MustCompile(`(?i)\bmy favou?rite ([\w ]+?) is ([^.!?\n]+)`),
			Kind:       KindPreference,
			Importance: 0.8,
			Render:     func(m []string) string { return fmt.Sprintf("User's favorite %s is %s", clip(m[1]), clip(m[2])) },
		},
		{
			Pattern:    regexp.MustCompile(`(?i)\bi'?m (into|interested in)\s+([^.!?\n]+)`),
			Kind:       KindPreference,
			Importance: 0.7,
			Render:     func(m []string) string { return fmt.Sprintf("User is %s %s", strings.ToLower(m[1]), clip(m[2])) },
		},
		{
			Pattern:    regexp.MustCompile(`(?i)\bmy name is (\w+)`),
			Kind:       KindFact,
			Importance: 0.9,
			Render:     func(m []string) string { return fmt.Sprintf("User's name is %s", clip(m[1])) },
		},
		{
			Pattern:    regexp.MustCompile(`(?i)\bi am ([^.!?\n]+)`),
			Kind:       KindFact,
			Importance: 0.9,
			Render:     func(m []string) string { return fmt.Sprintf("User is %s", clip(m[1])) },
		},
		{
			Pattern:    regexp.MustCompile(`(?i)\bi work (as|at|on|in)\s+([^.!?\n]+)`),
			Kind:       KindFact,
			Importance: 0.9,
			Render: func(m []string) string {
				return fmt.Sprintf("User works %s %s", strings.ToLower(m[1]), clip(m[2]))
			},
		},
		{
			Pattern:    regexp.MustCompile(`(?i)\bi live (in|near|with)\s+([^.!?\n]+)`),
			Kind:       KindFact,
			Importance: 0.9,
			Render: func(m []string) string {
				return fmt.Sprintf("User lives %s %s", strings.ToLower(m[1]), clip(m[2]))
			},
		},
	}
}

func clip(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}

// extractFacts runs the rule table over the user side of a turn and stores
// every new fact it yields. Duplicates (same user, same content) are skipped.
func (s *Store) extractFacts(ctx context.Context, turn Turn) {
	seen := make(map[string]bool)
	for _, rule := range s.rules {
		for _, m := range rule.Pattern.FindAllStringSubmatch(turn.UserText, -1) {
			content := rule.Render(m)
			if len(content) < 8 || seen[content] {
				continue
			}
			seen[content] = true

			fact := Fact{
				UserID:     turn.UserID,
				Kind:       rule.Kind,
				Content:    content,
				Importance: rule.Importance,
				Confidence: extractConfidence,
				TurnID:     turn.ID,
				CreatedAt:  time.Now().UTC(),
			}
			if s.embedder != nil {
				fact.Embedding = s.embedder.Embed(content)
				fact.Scheme = s.embedder.Scheme()
				if allZero(fact.Embedding) {
					fact.Embedding = nil
					fact.Scheme = ""
				}
			}
			if s.insertFact(ctx, &fact) {
				s.logger.Debug("fact extracted", "kind", fact.Kind, "content", fact.Content)
			}
		}
	}
}

// insertFact stores a fact unless an identical one already exists.
// Reports whether a new fact was written.
func (s *Store) insertFact(ctx context.Context, fact *Fact) bool {
	if s.db != nil {
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM facts WHERE user_id = ? AND content = ?`,
			fact.UserID, fact.Content).Scan(&exists)
		if err == nil && exists > 0 {
			return false
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO facts (user_id, kind, content, importance, confidence, access_count, last_accessed, turn_id, embedding, scheme, created_at)
			 VALUES (?, ?, ?, ?, ?, 0, NULL, ?, ?, ?, ?)`,
			fact.UserID, fact.Kind, fact.Content, fact.Importance, fact.Confidence,
			fact.TurnID, encodeVector(fact.Embedding), fact.Scheme,
			fact.CreatedAt.Format(time.RFC3339Nano))
		if err == nil {
			fact.ID, _ = res.LastInsertId()
			return true
		}
		s.logger.Warn("fact insert failed, keeping in memory", "error", err)
	}

	s.lock()
	defer s.unlock()
	for _, f := range s.memFacts {
		if f.UserID == fact.UserID && f.Content == fact.Content {
			return false
		}
	}
	s.nextMemID--
	fact.ID = s.nextMemID
	cp := *fact
	s.memFacts = append(s.memFacts, &cp)
	return true
}
