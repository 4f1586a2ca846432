package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/seliel/aria/internal/embedding"
	"github.com/seliel/aria/internal/metrics"
)

// factScanLimit bounds how many facts a retrieval pass scores. Facts are
// read by importance, so the cap keeps the highest-value memories in play.
const factScanLimit = 50

// SearchSimilarTurns returns up to k past turns whose embedding clears the
// similarity threshold against the query, most similar first with newer
// turns winning ties. Returns nil when the query embeds to zero or on any
// backend failure.
func (s *Store) SearchSimilarTurns(ctx context.Context, query string, k int) []TurnMatch {
	start := time.Now()
	defer func() {
		if s.stats != nil {
			s.stats.RecordTiming(metrics.OpMemorySearch, time.Since(start))
		}
	}()

	if s.embedder == nil || k <= 0 {
		return nil
	}
	queryVec := s.embedder.Embed(query)
	if allZero(queryVec) {
		return nil
	}
	scheme := s.embedder.Scheme()

	var matches []TurnMatch
	for _, turn := range s.candidateTurns(ctx, scheme) {
		sim := embedding.Cosine(queryVec, turn.Embedding)
		if sim >= s.opts.Threshold {
			matches = append(matches, TurnMatch{Turn: turn, Similarity: sim})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID > matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// candidateTurns reads the most recent embedded turns of the active scheme,
// bounded by the search window.
func (s *Store) candidateTurns(ctx context.Context, scheme string) []Turn {
	if s.db == nil {
		s.lock()
		defer s.unlock()
		var out []Turn
		for i := len(s.memTurns) - 1; i >= 0 && len(out) < s.opts.SearchWindow; i-- {
			t := s.memTurns[i]
			if t.Scheme == scheme && len(t.Embedding) > 0 {
				out = append(out, t)
			}
		}
		return out
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, user_text, ai_text, platform, session_id, embedding, scheme, created_at
		 FROM turns WHERE embedding IS NOT NULL AND scheme = ?
		 ORDER BY id DESC LIMIT ?`, scheme, s.opts.SearchWindow)
	if err != nil {
		s.logger.Warn("turn search failed", "error", err)
		return nil
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		s.logger.Warn("turn search failed", "error", err)
		return nil
	}
	return turns
}

// RelevantMemories returns up to k facts for the user ranked by a blend of
// similarity and importance. Returned facts get their access counters
// bumped; retrieval is the only mutation facts ever see.
func (s *Store) RelevantMemories(ctx context.Context, query, userID string, k int) []FactMatch {
	if s.embedder == nil || k <= 0 {
		return nil
	}
	queryVec := s.embedder.Embed(query)
	if allZero(queryVec) {
		return nil
	}
	scheme := s.embedder.Scheme()

	var matches []FactMatch
	for _, fact := range s.candidateFacts(ctx, userID, scheme) {
		sim := embedding.Cosine(queryVec, fact.Embedding)
		if sim < s.opts.Threshold {
			continue
		}
		matches = append(matches, FactMatch{
			Fact:       fact,
			Similarity: sim,
			Score:      0.7*sim + 0.3*fact.Importance,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}

	now := time.Now().UTC()
	for i := range matches {
		matches[i].AccessCount++
		matches[i].LastAccessed = now
		s.touchFact(ctx, matches[i].ID, now)
	}
	return matches
}

func (s *Store) candidateFacts(ctx context.Context, userID, scheme string) []Fact {
	if s.db == nil {
		s.lock()
		defer s.unlock()
		var out []Fact
		for _, f := range s.memFacts {
			if f.UserID == userID && f.Scheme == scheme && len(f.Embedding) > 0 {
				out = append(out, *f)
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
		if len(out) > factScanLimit {
			out = out[:factScanLimit]
		}
		return out
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, kind, content, importance, confidence, access_count, last_accessed, turn_id, embedding, scheme, created_at
		 FROM facts WHERE user_id = ? AND embedding IS NOT NULL AND scheme = ?
		 ORDER BY importance DESC LIMIT ?`, userID, scheme, factScanLimit)
	if err != nil {
		s.logger.Warn("fact search failed", "error", err)
		return nil
	}
	defer rows.Close()
	return scanFacts(rows, s.logger)
}

func (s *Store) touchFact(ctx context.Context, id int64, now time.Time) {
	if s.db != nil && id > 0 {
		_, err := s.db.ExecContext(ctx,
			`UPDATE facts SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
			now.Format(time.RFC3339Nano), id)
		if err != nil {
			s.logger.Warn("fact access bump failed", "id", id, "error", err)
		}
		return
	}
	s.lock()
	defer s.unlock()
	for _, f := range s.memFacts {
		if f.ID == id {
			f.AccessCount++
			f.LastAccessed = now
			return
		}
	}
}

// FactsForUser lists stored facts for a user ordered by importance.
func (s *Store) FactsForUser(ctx context.Context, userID string, limit int) []Fact {
	if limit <= 0 {
		limit = factScanLimit
	}
	if s.db == nil {
		s.lock()
		defer s.unlock()
		var out []Fact
		for _, f := range s.memFacts {
			if f.UserID == userID {
				out = append(out, *f)
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
		if len(out) > limit {
			out = out[:limit]
		}
		return out
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, kind, content, importance, confidence, access_count, last_accessed, turn_id, embedding, scheme, created_at
		 FROM facts WHERE user_id = ? ORDER BY importance DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		s.logger.Warn("fact list failed", "error", err)
		return nil
	}
	defer rows.Close()
	return scanFacts(rows, s.logger)
}

// BuildContext renders the retrieval block for a prompt: relevant facts
// first, then similar past conversations, truncated to the character
// budget. Returns "" when nothing relevant is stored.
func (s *Store) BuildContext(ctx context.Context, query, userID string) string {
	var b strings.Builder
	budget := s.opts.ContextBudget

	writeLine := func(line string) bool {
		if b.Len()+len(line)+1 > budget {
			return false
		}
		b.WriteString(line)
		b.WriteByte('\n')
		return true
	}

	if facts := s.RelevantMemories(ctx, query, userID, 5); len(facts) > 0 {
		writeLine("Relevant memories about the user:")
		for _, f := range facts {
			if !writeLine(fmt.Sprintf("- [%s] %s", f.Kind, f.Content)) {
				break
			}
		}
		writeLine("")
	}

	if turns := s.SearchSimilarTurns(ctx, query, 3); len(turns) > 0 {
		writeLine("Similar past conversations:")
		for _, t := range turns {
			if !writeLine(fmt.Sprintf("- User said: %q and you replied: %q", t.UserText, t.AIText)) {
				break
			}
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func scanFacts(rows *sql.Rows, logger *slog.Logger) []Fact {
	var out []Fact
	for rows.Next() {
		var f Fact
		var lastAccessed, embedded, scheme sql.NullString
		var turnID sql.NullInt64
		var created string
		if err := rows.Scan(&f.ID, &f.UserID, &f.Kind, &f.Content, &f.Importance, &f.Confidence,
			&f.AccessCount, &lastAccessed, &turnID, &embedded, &scheme, &created); err != nil {
			logger.Warn("scan fact failed", "error", err)
			continue
		}
		if lastAccessed.Valid {
			f.LastAccessed, _ = time.Parse(time.RFC3339Nano, lastAccessed.String)
		}
		f.TurnID = turnID.Int64
		f.Embedding = decodeVector(embedded.String)
		f.Scheme = scheme.String
		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, f)
	}
	return out
}
