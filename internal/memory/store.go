// Package memory is the episodic memory subsystem: a SQLite chunk store
// with a triggered FTS5 index and an embeddings table, hybrid BM25 plus
// vector search with temporal decay and MMR re-ranking, the memory-flush
// hook, and the agent-facing memory tools.
package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/haasonsaas/agentos/pkg/models"
)

// ErrChunkNotFound is returned when a chunk ID does not exist.
var ErrChunkNotFound = errors.New("chunk not found")

// ErrDimensionMismatch is returned when an embedding does not match the
// store's configured dimensionality.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// StoreConfig configures the chunk store.
type StoreConfig struct {
	// Path is the database file; empty uses an in-memory database.
	Path string

	// Dimension is the embedding width. <= 0 uses 1536.
	Dimension int

	Logger *slog.Logger
}

// Store persists memory chunks. One write-ahead-logged handle serves
// all writers; SQLite's busy timeout covers concurrent access.
type Store struct {
	db     *sql.DB
	dim    int
	logger *slog.Logger
}

// OpenStore opens (and migrates) the chunk database.
func OpenStore(cfg StoreConfig) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = 1536
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}

	s := &Store{db: db, dim: dim, logger: logger.With("component", "memory_store")}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("pragma: %w", err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			session_id TEXT,
			content TEXT NOT NULL,
			importance REAL NOT NULL DEFAULT 0,
			token_count INTEGER NOT NULL DEFAULT 0,
			source_type TEXT NOT NULL DEFAULT 'conversation',
			chunk_index INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_agent ON chunks(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_session ON chunks(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_created ON chunks(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_importance ON chunks(importance)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source_type)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			content,
			content='chunks',
			content_rowid='rowid'
		)`,
		`CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
			INSERT INTO chunks_fts(rowid, content) VALUES (new.rowid, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
			INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
			INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
			INSERT INTO chunks_fts(rowid, content) VALUES (new.rowid, new.content);
		END`,
		`CREATE TABLE IF NOT EXISTS embeddings (
			chunk_id TEXT PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
			vector BLOB NOT NULL,
			dim INTEGER NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Dimension returns the configured embedding width.
func (s *Store) Dimension() int { return s.dim }

// Upsert writes chunks, clamping importance and validating embedding
// dimensionality. Existing IDs are replaced.
func (s *Store) Upsert(ctx context.Context, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
			(id, agent_id, session_id, content, importance, token_count, source_type, chunk_index, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer chunkStmt.Close()

	embedStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO embeddings (chunk_id, vector, dim) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer embedStmt.Close()

	for _, chunk := range chunks {
		if chunk.ID == "" {
			chunk.ID = models.NewID()
		}
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = time.Now().UTC()
		}
		chunk.ClampImportance()

		var metadata any
		if len(chunk.Metadata) > 0 {
			b, err := json.Marshal(chunk.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
			metadata = string(b)
		}

		if _, err := chunkStmt.ExecContext(ctx,
			chunk.ID, chunk.AgentID, chunk.SessionID, chunk.Content,
			chunk.Importance, chunk.TokenCount, string(chunk.SourceType),
			chunk.ChunkIndex, chunk.CreatedAt, metadata,
		); err != nil {
			return fmt.Errorf("insert chunk %s: %w", chunk.ID, err)
		}

		if len(chunk.Embedding) > 0 {
			if len(chunk.Embedding) != s.dim {
				return fmt.Errorf("%w: chunk %s has %d, store wants %d",
					ErrDimensionMismatch, chunk.ID, len(chunk.Embedding), s.dim)
			}
			if _, err := embedStmt.ExecContext(ctx,
				chunk.ID, encodeVector(chunk.Embedding), s.dim,
			); err != nil {
				return fmt.Errorf("insert embedding %s: %w", chunk.ID, err)
			}
		}
	}
	return tx.Commit()
}

// Get loads one chunk by ID, embedding included when present.
func (s *Store) Get(ctx context.Context, id string) (*models.Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.agent_id, c.session_id, c.content, c.importance,
		       c.token_count, c.source_type, c.chunk_index, c.created_at, c.metadata,
		       e.vector
		FROM chunks c
		LEFT JOIN embeddings e ON e.chunk_id = c.id
		WHERE c.id = ?`, id)
	chunk, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, id)
	}
	return chunk, err
}

// Delete removes a chunk and its embedding.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id)
	return err
}

// Count returns the number of chunks stored for an agent.
func (s *Store) Count(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE agent_id = ?`, agentID).Scan(&n)
	return n, err
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// candidate is an intermediate search hit with a raw score.
type candidate struct {
	chunk *models.Chunk
	score float64
}

// bm25Candidates runs a full-text query. SQLite's bm25() is a rank where
// lower is better, so scores are negated into "higher is better".
func (s *Store) bm25Candidates(ctx context.Context, agentID, query string, limit int) ([]candidate, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.agent_id, c.session_id, c.content, c.importance,
		       c.token_count, c.source_type, c.chunk_index, c.created_at, c.metadata,
		       NULL, bm25(chunks_fts) AS rank
		FROM chunks_fts
		JOIN chunks c ON c.rowid = chunks_fts.rowid
		WHERE chunks_fts MATCH ? AND c.agent_id = ?
		ORDER BY rank
		LIMIT ?`, match, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		chunk, rank, err := scanChunkWithRank(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, candidate{chunk: chunk, score: -rank})
	}
	return out, rows.Err()
}

// vectorCandidates scores every embedded chunk of the agent by cosine
// similarity. The corpus per agent is small enough that a scan beats
// maintaining an ANN structure.
func (s *Store) vectorCandidates(ctx context.Context, agentID string, query []float32, limit int) ([]candidate, error) {
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: query has %d, store wants %d",
			ErrDimensionMismatch, len(query), s.dim)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.agent_id, c.session_id, c.content, c.importance,
		       c.token_count, c.source_type, c.chunk_index, c.created_at, c.metadata,
		       e.vector
		FROM chunks c
		JOIN embeddings e ON e.chunk_id = c.id
		WHERE c.agent_id = ?`, agentID)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, candidate{chunk: chunk, score: cosine(query, chunk.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortCandidates(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*models.Chunk, error) {
	var (
		chunk      models.Chunk
		sessionID  sql.NullString
		sourceType string
		metadata   sql.NullString
		vector     []byte
	)
	err := row.Scan(&chunk.ID, &chunk.AgentID, &sessionID, &chunk.Content,
		&chunk.Importance, &chunk.TokenCount, &sourceType, &chunk.ChunkIndex,
		&chunk.CreatedAt, &metadata, &vector)
	if err != nil {
		return nil, err
	}
	finishChunk(&chunk, sessionID, sourceType, metadata, vector)
	return &chunk, nil
}

func scanChunkWithRank(row rowScanner) (*models.Chunk, float64, error) {
	var (
		chunk      models.Chunk
		sessionID  sql.NullString
		sourceType string
		metadata   sql.NullString
		vector     []byte
		rank       float64
	)
	err := row.Scan(&chunk.ID, &chunk.AgentID, &sessionID, &chunk.Content,
		&chunk.Importance, &chunk.TokenCount, &sourceType, &chunk.ChunkIndex,
		&chunk.CreatedAt, &metadata, &vector, &rank)
	if err != nil {
		return nil, 0, err
	}
	finishChunk(&chunk, sessionID, sourceType, metadata, vector)
	return &chunk, rank, nil
}

func finishChunk(chunk *models.Chunk, sessionID sql.NullString, sourceType string, metadata sql.NullString, vector []byte) {
	chunk.SessionID = sessionID.String
	chunk.SourceType = models.SourceType(sourceType)
	if metadata.Valid && metadata.String != "" {
		_ = json.Unmarshal([]byte(metadata.String), &chunk.Metadata)
	}
	if len(vector) > 0 {
		chunk.Embedding = decodeVector(vector)
	}
}

// ftsQuery turns free text into an OR-of-terms FTS5 match expression,
// stripping characters the query syntax would misread.
func ftsQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_')
	})
	if len(fields) == 0 {
		return ""
	}
	terms := make([]string, len(fields))
	for i, f := range fields {
		terms[i] = `"` + f + `"`
	}
	return strings.Join(terms, " OR ")
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
