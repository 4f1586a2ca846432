// Package memory is the conversation log and retrieval store. Turns are
// appended to an embedded SQLite database with monotonically increasing IDs;
// facts extracted from turns and retrospect insights live alongside them.
// Every storage failure degrades: the store falls back to in-memory-only
// mode rather than surfacing errors to the conversation path.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/seliel/aria/internal/embedding"
	"github.com/seliel/aria/internal/metrics"
)

// Fact kinds.
const (
	KindFact       = "fact"
	KindPreference = "preference"
)

// Turn is one completed exchange. Append-only; never mutated after creation.
type Turn struct {
	ID        int64
	UserID    string
	UserText  string
	AIText    string
	Platform  string
	SessionID string
	Embedding []float32
	Scheme    string
	CreatedAt time.Time
}

// Fact is a long-lived memory extracted from a turn. Only access_count and
// last_accessed mutate, and only during retrieval.
type Fact struct {
	ID           int64
	UserID       string
	Kind         string
	Content      string
	Importance   float64
	Confidence   float64
	AccessCount  int
	LastAccessed time.Time
	TurnID       int64
	Embedding    []float32
	Scheme       string
	CreatedAt    time.Time
}

// Insight is a retrospect-generated observation about past conversations.
type Insight struct {
	ID        int64
	Content   string
	CreatedAt time.Time
}

// TurnMatch is a turn with its similarity to a query.
type TurnMatch struct {
	Turn
	Similarity float64
}

// FactMatch is a fact with its similarity and blended ranking score.
type FactMatch struct {
	Fact
	Similarity float64
	Score      float64
}

// Options tunes retrieval behaviour.
type Options struct {
	// Threshold is the minimum cosine similarity for a match.
	Threshold float64
	// SearchWindow bounds how many recent turns a similarity scan visits.
	SearchWindow int
	// RecentCacheSize bounds the in-memory recent-turn cache.
	RecentCacheSize int
	// ContextBudget caps BuildContext output in characters.
	ContextBudget int
}

// DefaultOptions returns the tuning used when a field is zero.
func DefaultOptions() Options {
	return Options{
		Threshold:       0.3,
		SearchWindow:    1000,
		RecentCacheSize: 50,
		ContextBudget:   8000,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Threshold == 0 {
		o.Threshold = def.Threshold
	}
	if o.SearchWindow <= 0 {
		o.SearchWindow = def.SearchWindow
	}
	if o.RecentCacheSize <= 0 {
		o.RecentCacheSize = def.RecentCacheSize
	}
	if o.ContextBudget <= 0 {
		o.ContextBudget = def.ContextBudget
	}
	return o
}

// Store owns the conversation log, fact extraction and similarity search.
type Store struct {
	db       *sql.DB // nil in memory-only mode
	embedder embedding.Embedder
	logger   *slog.Logger
	stats    *metrics.Collector
	opts     Options
	rules    []Rule

	// memory-only fallback state, also used as the recent-turn cache
	mu         sync.Mutex
	recent     []Turn
	memTurns   []Turn
	memFacts   []*Fact
	memInsight []Insight
	nextMemID  int64
}

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	user_text TEXT NOT NULL,
	ai_text TEXT NOT NULL,
	platform TEXT NOT NULL DEFAULT 'local',
	session_id TEXT,
	embedding TEXT,
	scheme TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_user ON turns(user_id, id);

CREATE TABLE IF NOT EXISTS facts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	content TEXT NOT NULL,
	importance REAL NOT NULL,
	confidence REAL NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0,
	last_accessed TEXT,
	turn_id INTEGER,
	embedding TEXT,
	scheme TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_facts_user ON facts(user_id, importance DESC);

CREATE TABLE IF NOT EXISTS insights (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`

// New opens (or creates) the store at path. A failure to open or migrate
// the database is logged and the store starts in memory-only mode; callers
// get a working store either way.
func New(path string, embedder embedding.Embedder, opts Options, logger *slog.Logger, stats *metrics.Collector) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		embedder: embedder,
		logger:   logger,
		stats:    stats,
		opts:     opts.withDefaults(),
		rules:    DefaultRules(),
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logger.Error("open store failed, running memory-only", "path", path, "error", err)
		return s
	}
	if _, err := db.Exec(schema); err != nil {
		logger.Error("migrate store failed, running memory-only", "path", path, "error", err)
		_ = db.Close()
		return s
	}
	s.db = db
	return s
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// MemoryOnly reports whether the store lost (or never had) its database.
func (s *Store) MemoryOnly() bool { return s.db == nil }

func (s *Store) lock()   { s.mu.Lock() }
func (s *Store) unlock() { s.mu.Unlock() }

// TurnInput is the payload for StoreTurn.
type TurnInput struct {
	UserID    string
	UserText  string
	AIText    string
	Platform  string
	SessionID string
}

// StoreTurn embeds and persists one exchange, extracts facts from it and
// refreshes the recent-turn cache. It never fails the caller: embedding
// errors store the turn without a vector, database errors fall back to the
// in-memory log. Returns the turn ID (in-memory IDs are negative).
func (s *Store) StoreTurn(ctx context.Context, in TurnInput) int64 {
	start := time.Now()
	defer func() {
		if s.stats != nil {
			s.stats.RecordTiming(metrics.OpMemoryStore, time.Since(start))
		}
	}()

	if in.Platform == "" {
		in.Platform = "local"
	}

	turn := Turn{
		UserID:    in.UserID,
		UserText:  in.UserText,
		AIText:    in.AIText,
		Platform:  in.Platform,
		SessionID: in.SessionID,
		CreatedAt: time.Now().UTC(),
	}
	if s.embedder != nil {
		turn.Embedding = s.embedder.Embed(in.UserText + " " + in.AIText)
		turn.Scheme = s.embedder.Scheme()
		if allZero(turn.Embedding) {
			// Excluded from similarity search; the turn itself still persists.
			turn.Embedding = nil
			turn.Scheme = ""
		}
	}

	id := s.insertTurn(ctx, &turn)
	turn.ID = id

	s.lock()
	s.recent = append(s.recent, turn)
	if len(s.recent) > s.opts.RecentCacheSize {
		s.recent = s.recent[len(s.recent)-s.opts.RecentCacheSize:]
	}
	s.unlock()

	s.extractFacts(ctx, turn)
	return id
}

func (s *Store) insertTurn(ctx context.Context, turn *Turn) int64 {
	if s.db != nil {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO turns (user_id, user_text, ai_text, platform, session_id, embedding, scheme, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			turn.UserID, turn.UserText, turn.AIText, turn.Platform, turn.SessionID,
			encodeVector(turn.Embedding), turn.Scheme, turn.CreatedAt.Format(time.RFC3339Nano))
		if err == nil {
			id, idErr := res.LastInsertId()
			if idErr == nil {
				return id
			}
			err = idErr
		}
		s.logger.Warn("turn insert failed, keeping in memory", "error", err)
	}

	s.lock()
	defer s.unlock()
	s.nextMemID--
	turn.ID = s.nextMemID
	s.memTurns = append(s.memTurns, *turn)
	return turn.ID
}

// RecentTurns returns up to n turns from the in-memory cache, oldest first.
func (s *Store) RecentTurns(n int) []Turn {
	s.lock()
	defer s.unlock()
	if n <= 0 || n > len(s.recent) {
		n = len(s.recent)
	}
	out := make([]Turn, n)
	copy(out, s.recent[len(s.recent)-n:])
	return out
}

// TurnsSince returns persisted turns with ID greater than afterID, ascending.
// Background analyzers use this as a high-water-mark read.
func (s *Store) TurnsSince(ctx context.Context, afterID int64, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 100
	}
	if s.db == nil {
		s.lock()
		defer s.unlock()
		var out []Turn
		for _, t := range s.memTurns {
			if t.ID > afterID && len(out) < limit {
				out = append(out, t)
			}
		}
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, user_text, ai_text, platform, session_id, embedding, scheme, created_at
		 FROM turns WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("turns since %d: %w", afterID, err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// AllTexts returns user and AI texts of up to limit most recent turns,
// used to fit the TF-IDF vocabulary at startup.
func (s *Store) AllTexts(ctx context.Context, limit int) []string {
	if s.db == nil {
		s.lock()
		defer s.unlock()
		var texts []string
		for _, t := range s.memTurns {
			texts = append(texts, t.UserText, t.AIText)
		}
		return texts
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_text, ai_text FROM turns ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		s.logger.Warn("corpus read failed", "error", err)
		return nil
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var u, a string
		if err := rows.Scan(&u, &a); err != nil {
			continue
		}
		texts = append(texts, u, a)
	}
	return texts
}

// ExportPairs returns the whole log as [user, ai] pairs in insertion order,
// the flat format the legacy log used.
func (s *Store) ExportPairs(ctx context.Context) ([][2]string, error) {
	if s.db == nil {
		s.lock()
		defer s.unlock()
		pairs := make([][2]string, 0, len(s.memTurns))
		for _, t := range s.memTurns {
			pairs = append(pairs, [2]string{t.UserText, t.AIText})
		}
		return pairs, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT user_text, ai_text FROM turns ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("export pairs: %w", err)
	}
	defer rows.Close()

	var pairs [][2]string
	for rows.Next() {
		var u, a string
		if err := rows.Scan(&u, &a); err != nil {
			return nil, fmt.Errorf("export pairs: %w", err)
		}
		pairs = append(pairs, [2]string{u, a})
	}
	return pairs, rows.Err()
}

// ImportPairs appends legacy [user, ai] pairs as turns for userID.
// Returns the number of pairs stored.
func (s *Store) ImportPairs(ctx context.Context, userID string, pairs [][2]string) int {
	count := 0
	for _, p := range pairs {
		if p[0] == "" && p[1] == "" {
			continue
		}
		s.StoreTurn(ctx, TurnInput{UserID: userID, UserText: p[0], AIText: p[1], Platform: "import"})
		count++
	}
	return count
}

// Stats summarises the store contents.
type Stats struct {
	Turns      int64 `json:"turns"`
	Facts      int64 `json:"facts"`
	Insights   int64 `json:"insights"`
	MemoryOnly bool  `json:"memory_only"`
}

// CountStats returns current store counts.
func (s *Store) CountStats(ctx context.Context) Stats {
	st := Stats{MemoryOnly: s.db == nil}
	if s.db == nil {
		s.lock()
		defer s.unlock()
		st.Turns = int64(len(s.memTurns))
		st.Facts = int64(len(s.memFacts))
		st.Insights = int64(len(s.memInsight))
		return st
	}
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns`).Scan(&st.Turns)
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts`).Scan(&st.Facts)
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM insights`).Scan(&st.Insights)
	return st
}

// StoreInsight persists a retrospect observation.
func (s *Store) StoreInsight(ctx context.Context, content string) {
	if content == "" {
		return
	}
	now := time.Now().UTC()
	if s.db != nil {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO insights (content, created_at) VALUES (?, ?)`,
			content, now.Format(time.RFC3339Nano))
		if err == nil {
			return
		}
		s.logger.Warn("insight insert failed, keeping in memory", "error", err)
	}
	s.lock()
	defer s.unlock()
	s.memInsight = append(s.memInsight, Insight{Content: content, CreatedAt: now})
}

// Insights returns up to limit most recent insights, newest first.
func (s *Store) Insights(ctx context.Context, limit int) []Insight {
	if limit <= 0 {
		limit = 20
	}
	if s.db == nil {
		s.lock()
		defer s.unlock()
		var out []Insight
		for i := len(s.memInsight) - 1; i >= 0 && len(out) < limit; i-- {
			out = append(out, s.memInsight[i])
		}
		return out
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, created_at FROM insights ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		s.logger.Warn("insights read failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []Insight
	for rows.Next() {
		var in Insight
		var created string
		if err := rows.Scan(&in.ID, &in.Content, &created); err != nil {
			continue
		}
		in.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, in)
	}
	return out
}

func scanTurns(rows *sql.Rows) ([]Turn, error) {
	var out []Turn
	for rows.Next() {
		var t Turn
		var sessionID, embedded, scheme sql.NullString
		var created string
		if err := rows.Scan(&t.ID, &t.UserID, &t.UserText, &t.AIText, &t.Platform,
			&sessionID, &embedded, &scheme, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.SessionID = sessionID.String
		t.Scheme = scheme.String
		t.Embedding = decodeVector(embedded.String)
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, t)
	}
	return out, rows.Err()
}

func encodeVector(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(data)
}

func decodeVector(s string) []float32 {
	if s == "" {
		return nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
}

func allZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
