// Package store persists the knowledge base behind the rag executor and the
// run history shown by the CLI. Both live in one SQLite database. Documents
// carry optional embedding blobs; similarity search uses vec_distance_cosine,
// provided either by the registered scalar function on the pure-Go driver or
// by the sqlite-vec extension under the sqlite_vec build tag.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"agentmux/internal/logging"
	"agentmux/internal/types"
)

// Store is the SQLite-backed knowledge base and run history.
type Store struct {
	db       *sql.DB
	mu       sync.RWMutex
	dbPath   string
	embedder Embedder // nil disables vector search
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithEmbedder enables embedding-based similarity search. Documents added
// while an embedder is configured are stored with their vectors; queries are
// embedded at search time.
func WithEmbedder(e Embedder) Option {
	return func(s *Store) { s.embedder = e }
}

// Open initializes the SQLite database at path, creating directories and
// tables as needed.
func Open(path string, opts ...Option) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, dbPath: path}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("Store opened at %s (driver=%s, embedder=%v)", path, driverName, s.embedder != nil)
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	documentsTable := `
	CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		source TEXT DEFAULT '',
		embedding BLOB,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_documents_title ON documents(title);
	`

	runsTable := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		task_type TEXT DEFAULT '',
		method TEXT DEFAULT '',
		answer TEXT DEFAULT '',
		confidence REAL DEFAULT 0,
		tools_json TEXT DEFAULT '[]',
		task_count INTEGER DEFAULT 0,
		completed_count INTEGER DEFAULT 0,
		failed_count INTEGER DEFAULT 0,
		duration_ms INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`

	for _, stmt := range []string{documentsTable, runsTable} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	logging.Store("Store closed")
	return err
}

// =============================================================================
// KNOWLEDGE BASE
// =============================================================================

// Document is one knowledge base entry.
type Document struct {
	ID        int64
	Title     string
	Content   string
	Source    string
	CreatedAt time.Time
}

// AddDocument inserts a document, embedding its content when an embedder is
// configured. Embedding failures degrade to a keyword-only document rather
// than rejecting the insert.
func (s *Store) AddDocument(ctx context.Context, title, content, source string) (int64, error) {
	if strings.TrimSpace(content) == "" {
		return 0, fmt.Errorf("add document: empty content")
	}
	if title == "" {
		title = truncate(content, 64)
	}

	var embedding []byte
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, content)
		if err != nil {
			logging.StoreError("Embedding failed for %q, storing without vector: %v", truncate(title, 60), err)
		} else {
			embedding = encodeFloat32Blob(vec)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (title, content, source, embedding) VALUES (?, ?, ?, ?)",
		title, content, source, embedding)
	if err != nil {
		return 0, fmt.Errorf("insert document: %w", err)
	}
	id, _ := res.LastInsertId()
	logging.StoreDebug("Document %d added: %q (%d bytes, embedded=%v)", id, truncate(title, 60), len(content), embedding != nil)
	return id, nil
}

// DocumentCount returns how many documents the knowledge base holds.
func (s *Store) DocumentCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n)
	return n, err
}

// SearchKnowledge returns the documents most relevant to the query as source
// records, scored in [0,1]. Embedding similarity is used when an embedder is
// configured and embedded documents exist; keyword recall covers the rest.
func (s *Store) SearchKnowledge(ctx context.Context, query string, limit int) ([]types.Source, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SearchKnowledge")
	defer timer.Stop()

	if limit <= 0 {
		limit = 5
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	if s.embedder != nil {
		sources, err := s.vectorSearch(ctx, query, limit)
		if err != nil {
			logging.StoreError("Vector search failed, falling back to keywords: %v", err)
		} else if len(sources) > 0 {
			return sources, nil
		}
	}
	return s.keywordSearch(ctx, query, limit)
}

// vectorSearch embeds the query and ranks embedded documents by cosine
// distance.
func (s *Store) vectorSearch(ctx context.Context, query string, limit int) ([]types.Source, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	queryBlob := encodeFloat32Blob(vec)

	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT title, content, source,
		       vec_distance_cosine(embedding, ?) AS distance
		FROM documents
		WHERE embedding IS NOT NULL
		ORDER BY distance ASC
		LIMIT ?`, queryBlob, limit)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	defer rows.Close()

	var sources []types.Source
	for rows.Next() {
		var src types.Source
		var distance float64
		if err := rows.Scan(&src.Title, &src.Content, &src.URL, &distance); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		// Cosine distance is 0 for identical directions, 2 for opposite.
		src.Score = clamp01(1 - distance)
		src.Credibility = 0.8
		src.Snippet = truncate(src.Content, 200)
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	logging.StoreDebug("Vector search %q returned %d document(s)", truncate(query, 60), len(sources))
	return sources, nil
}

// keywordSearch matches query terms against document content with LIKE,
// ranking by how many terms hit.
func (s *Store) keywordSearch(ctx context.Context, query string, limit int) ([]types.Source, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}
	if len(terms) > 8 {
		terms = terms[:8]
	}

	var hits []string
	var args []any
	for _, term := range terms {
		hits = append(hits, "(LOWER(content) LIKE ? OR LOWER(title) LIKE ?)")
		pattern := "%" + term + "%"
		args = append(args, pattern, pattern)
	}
	// Rank: count of matched terms, newest first on ties.
	var rank []string
	for range terms {
		rank = append(rank, "(LOWER(content) LIKE ? OR LOWER(title) LIKE ?)")
	}
	args = append(args, args[:len(terms)*2]...)
	args = append(args, limit)

	stmt := fmt.Sprintf(`
		SELECT title, content, source
		FROM documents
		WHERE %s
		ORDER BY (%s) DESC, created_at DESC
		LIMIT ?`,
		strings.Join(hits, " OR "), strings.Join(rank, " + "))

	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword query: %w", err)
	}
	defer rows.Close()

	var sources []types.Source
	for rows.Next() {
		var src types.Source
		if err := rows.Scan(&src.Title, &src.Content, &src.URL); err != nil {
			return nil, fmt.Errorf("scan keyword row: %w", err)
		}
		src.Score = 0.5
		src.Credibility = 0.6
		src.Snippet = truncate(src.Content, 200)
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	logging.StoreDebug("Keyword search %q returned %d document(s)", truncate(query, 60), len(sources))
	return sources, nil
}

// =============================================================================
// RUN HISTORY
// =============================================================================

// Run records one orchestrated query for the history command.
type Run struct {
	ID         string
	Query      string
	TaskType   string
	Method     string
	Answer     string
	Confidence float64
	ToolsUsed  []string
	TaskCount  int
	Completed  int
	Failed     int
	Duration   time.Duration
	CreatedAt  time.Time
}

// SaveRun persists a finished run.
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("save run: missing id")
	}
	toolsJSON, err := json.Marshal(run.ToolsUsed)
	if err != nil {
		toolsJSON = []byte("[]")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
		(id, query, task_type, method, answer, confidence, tools_json, task_count, completed_count, failed_count, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Query, run.TaskType, run.Method, run.Answer, run.Confidence,
		string(toolsJSON), run.TaskCount, run.Completed, run.Failed, run.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	logging.StoreDebug("Run %s saved (%s, %d task(s))", run.ID, run.TaskType, run.TaskCount)
	return nil
}

// RecentRuns returns the newest runs, most recent first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, task_type, method, answer, confidence, tools_json,
		       task_count, completed_count, failed_count, duration_ms, created_at
		FROM runs
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var toolsJSON string
		var durationMs int64
		if err := rows.Scan(&run.ID, &run.Query, &run.TaskType, &run.Method, &run.Answer,
			&run.Confidence, &toolsJSON, &run.TaskCount, &run.Completed, &run.Failed,
			&durationMs, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Duration = time.Duration(durationMs) * time.Millisecond
		if toolsJSON != "" {
			_ = json.Unmarshal([]byte(toolsJSON), &run.ToolsUsed)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// encodeFloat32Blob encodes a vector as the little-endian blob sqlite-vec
// expects; the scalar-function fallback decodes the same layout.
func encodeFloat32Blob(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}

// decodeFloat32Blob is the inverse of encodeFloat32Blob.
func decodeFloat32Blob(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, &vec); err != nil {
		return nil
	}
	return vec
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
