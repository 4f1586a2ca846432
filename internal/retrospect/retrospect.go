// Package retrospect periodically looks back over recent conversation and
// distills it into stored insights. It reads past a high-water mark so every
// turn is analyzed exactly once, and it degrades silently: a failed pass is
// skipped, never retried in a tight loop.
package retrospect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/seliel/aria/internal/memory"
)

// DefaultInterval between passes.
const DefaultInterval = time.Hour

// minTurns is the smallest batch worth analyzing.
const minTurns = 3

const analysisPrompt = `Review the following recent conversation between a user and their AI companion.
Write up to three short observations about the user's mood, interests or recurring topics.
One observation per line, no numbering, no commentary.`

// Analyzer runs the retrospective loop.
type Analyzer struct {
	model  llms.Model
	store  *memory.Store
	logger *slog.Logger

	lastSeen int64
}

// New creates an analyzer starting from the beginning of the log.
func New(model llms.Model, store *memory.Store, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{model: model, store: store, logger: logger}
}

// Run executes a pass every interval until ctx is done.
func (a *Analyzer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Pass(ctx)
		}
	}
}

// Pass analyzes the turns since the last pass. Failures are logged and the
// high-water mark is left untouched so the turns are retried next pass.
func (a *Analyzer) Pass(ctx context.Context) {
	turns, err := a.store.TurnsSince(ctx, a.lastSeen, 100)
	if err != nil {
		a.logger.Warn("retrospect read failed", "error", err)
		return
	}
	if len(turns) < minTurns {
		return
	}

	insights, err := a.analyze(ctx, turns)
	if err != nil {
		a.logger.Warn("retrospect analysis failed", "error", err)
		return
	}

	for _, insight := range insights {
		a.store.StoreInsight(ctx, insight)
	}
	a.lastSeen = turns[len(turns)-1].ID
	a.logger.Info("retrospect pass complete", "turns", len(turns), "insights", len(insights))
}

func (a *Analyzer) analyze(ctx context.Context, turns []memory.Turn) ([]string, error) {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "User: %s\nAI: %s\n", t.UserText, t.AIText)
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, analysisPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, b.String()),
	}
	resp, err := a.model.GenerateContent(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("analyze turns: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices")
	}

	var insights []string
	for _, line := range strings.Split(resp.Choices[0].Content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*• "))
		if line != "" {
			insights = append(insights, line)
		}
	}
	if len(insights) > 3 {
		insights = insights[:3]
	}
	return insights, nil
}

// Relevant returns stored insights sharing at least one word with the
// query, newest first.
func (a *Analyzer) Relevant(ctx context.Context, query string, limit int) []string {
	if limit <= 0 {
		limit = 3
	}
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) > 3 {
			words[w] = true
		}
	}
	if len(words) == 0 {
		return nil
	}

	var out []string
	for _, insight := range a.store.Insights(ctx, 50) {
		for _, w := range strings.Fields(strings.ToLower(insight.Content)) {
			if words[strings.Trim(w, ".,!?")] {
				out = append(out, insight.Content)
				break
			}
		}
		if len(out) >= limit {
			break
		}
	}
	return out
}
