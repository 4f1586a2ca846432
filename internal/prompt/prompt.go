// Package prompt assembles the system prompt from its sections. Section
// order is fixed; when the assembled prompt exceeds the character budget,
// sections are dropped from least to most essential, with the persona
// surviving longest.
package prompt

import (
	"fmt"
	"strings"
)

// DefaultBudget caps the assembled prompt in characters.
const DefaultBudget = 8000

// Sections holds the rendered prompt sections. Empty sections are skipped.
type Sections struct {
	Persona      string
	Task         string
	Tags         string
	Lore         string
	Memories     string
	Insights     string
	SimilarTurns string
	History      string
}

// Assembly order, persona first.
var order = []func(*Sections) *string{
	func(s *Sections) *string { return &s.Persona },
	func(s *Sections) *string { return &s.Task },
	func(s *Sections) *string { return &s.Tags },
	func(s *Sections) *string { return &s.Lore },
	func(s *Sections) *string { return &s.Memories },
	func(s *Sections) *string { return &s.Insights },
	func(s *Sections) *string { return &s.SimilarTurns },
	func(s *Sections) *string { return &s.History },
}

// Drop order under budget pressure, least essential first. The persona is
// never dropped, only truncated as the last resort.
var dropOrder = []func(*Sections) *string{
	func(s *Sections) *string { return &s.SimilarTurns },
	func(s *Sections) *string { return &s.Insights },
	func(s *Sections) *string { return &s.Memories },
	func(s *Sections) *string { return &s.Lore },
	func(s *Sections) *string { return &s.Tags },
	func(s *Sections) *string { return &s.Task },
	func(s *Sections) *string { return &s.History },
}

// Build joins the non-empty sections in fixed order. If the result exceeds
// the budget, sections are dropped least-essential-first until it fits; a
// persona alone that still exceeds the budget is hard-truncated.
func Build(s Sections, budget int) string {
	if budget <= 0 {
		budget = DefaultBudget
	}

	assembled := join(&s)
	for _, pick := range dropOrder {
		if len(assembled) <= budget {
			break
		}
		field := pick(&s)
		if *field == "" {
			continue
		}
		*field = ""
		assembled = join(&s)
	}
	if len(assembled) > budget {
		assembled = assembled[:budget]
	}
	return assembled
}

func join(s *Sections) string {
	var parts []string
	for _, pick := range order {
		if section := *pick(s); section != "" {
			parts = append(parts, section)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Exchange is one user/AI pair of the literal conversation history.
type Exchange struct {
	User string
	AI   string
}

// FormatHistory renders the last window exchanges as literal dialogue,
// using the persona name for the AI side.
func FormatHistory(name string, history []Exchange, window int) string {
	if len(history) == 0 {
		return ""
	}
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}

	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, ex := range history {
		fmt.Fprintf(&b, "User: %s\n", ex.User)
		if ex.AI != "" {
			fmt.Fprintf(&b, "%s: %s\n", name, ex.AI)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
