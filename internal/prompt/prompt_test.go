package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func fullSections() Sections {
	return Sections{
		Persona:      "persona section",
		Task:         "task section",
		Tags:         "tags section",
		Lore:         "lore section",
		Memories:     "memories section",
		Insights:     "insights section",
		SimilarTurns: "similar turns section",
		History:      "history section",
	}
}

func TestBuildOrder(t *testing.T) {
	out := Build(fullSections(), 0)

	want := []string{
		"persona section",
		"task section",
		"tags section",
		"lore section",
		"memories section",
		"insights section",
		"similar turns section",
		"history section",
	}
	last := -1
	for _, section := range want {
		idx := strings.Index(out, section)
		assert.Greater(t, idx, last, "section %q out of order", section)
		last = idx
	}
}

func TestBuildSkipsEmptySections(t *testing.T) {
	out := Build(Sections{Persona: "persona", History: "history"}, 0)
	assert.Equal(t, "persona\n\nhistory", out)
}

func TestBuildDropsLeastEssentialFirst(t *testing.T) {
	s := fullSections()
	full := Build(s, 0)

	// A budget just below the full size drops similar turns first.
	out := Build(s, len(full)-1)
	assert.NotContains(t, out, "similar turns section")
	assert.Contains(t, out, "insights section")
	assert.Contains(t, out, "memories section")
	assert.Contains(t, out, "persona section")

	// A very small budget keeps only (truncated) persona.
	tiny := Build(fullSections(), 7)
	assert.Equal(t, "persona", tiny)
}

func TestBuildPersonaSurvives(t *testing.T) {
	out := Build(fullSections(), len("persona section")+2)
	assert.Contains(t, out, "persona section")
	for _, gone := range []string{"task", "tags", "lore", "memories", "similar", "history"} {
		assert.NotContains(t, out, gone)
	}
}

func TestFormatHistory(t *testing.T) {
	history := []Exchange{
		{User: "hello", AI: "hi there"},
		{User: "how are you", AI: "great"},
	}
	out := FormatHistory("Aria", history, 10)
	assert.Contains(t, out, "User: hello")
	assert.Contains(t, out, "Aria: hi there")
	assert.Contains(t, out, "User: how are you")

	// The window keeps only the most recent exchanges.
	windowed := FormatHistory("Aria", history, 1)
	assert.NotContains(t, windowed, "hello")
	assert.Contains(t, windowed, "how are you")

	// A pending exchange without an AI reply renders only the user side.
	pending := FormatHistory("Aria", []Exchange{{User: "anyone there"}}, 10)
	assert.Contains(t, pending, "User: anyone there")
	assert.NotContains(t, pending, "Aria:")

	assert.Empty(t, FormatHistory("Aria", nil, 10))
}
