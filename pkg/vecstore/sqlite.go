package vecstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/config"
)

// SQLiteStore is a durable VectorStore for single-instance deployments.
// Rows live in SQLite; vectors and chunk metadata are mirrored into an
// in-memory store on open so searches never touch the database. Writes go to
// the database first, then to the mirror, so a crash between the two leaves
// nothing lost after the next open.
//
// The database uses a write-ahead log with periodic passive checkpoints.
type SQLiteStore struct {
	db        *sql.DB
	mem       *MemoryStore
	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once

	insertChunkStmt *sql.Stmt
	insertCaseStmt  *sql.Stmt
}

// NewSQLiteStore opens (or creates) the vector database at the configured
// path and loads all stored vectors into memory.
func NewSQLiteStore(cfg config.VectorSQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, compliance.NewInputError("vector_store.sqlite.path", "must not be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, compliance.NewStorageError("sqlite", "mkdir", err)
	}

	// modernc passes pragmas through the DSN _pragma parameter.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, compliance.NewStorageError("sqlite", "open", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:   db,
		mem:  NewMemoryStore(),
		done: make(chan struct{}),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, compliance.NewStorageError("sqlite", "init schema", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, compliance.NewStorageError("sqlite", "prepare statements", err)
	}
	if err := s.loadAll(); err != nil {
		db.Close()
		return nil, compliance.NewStorageError("sqlite", "load", err)
	}

	go s.checkpointLoop(cfg.CheckpointInterval)

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS policy_chunks (
		chunk_id   TEXT PRIMARY KEY,
		doc_id     TEXT NOT NULL,
		version    INTEGER NOT NULL,
		seq        INTEGER NOT NULL,
		section    TEXT NOT NULL DEFAULT '',
		text       TEXT NOT NULL,
		source     TEXT NOT NULL,
		topic      TEXT NOT NULL,
		is_active  INTEGER NOT NULL,
		embedding  BLOB NOT NULL,
		dimensions INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_doc_version ON policy_chunks(doc_id, version);
	CREATE INDEX IF NOT EXISTS idx_chunks_active ON policy_chunks(is_active);

	CREATE TABLE IF NOT EXISTS case_vectors (
		case_id    TEXT PRIMARY KEY,
		summary    TEXT NOT NULL,
		verdict    TEXT NOT NULL,
		risk_score REAL NOT NULL,
		created_at INTEGER NOT NULL,
		embedding  BLOB NOT NULL,
		dimensions INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.insertChunkStmt, err = s.db.Prepare(`
		INSERT INTO policy_chunks (chunk_id, doc_id, version, seq, section, text, source, topic, is_active, embedding, dimensions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chunk_id) DO UPDATE SET
			section = excluded.section,
			text = excluded.text,
			source = excluded.source,
			topic = excluded.topic,
			is_active = excluded.is_active,
			embedding = excluded.embedding,
			dimensions = excluded.dimensions
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}

	s.insertCaseStmt, err = s.db.Prepare(`
		INSERT INTO case_vectors (case_id, summary, verdict, risk_score, created_at, embedding, dimensions)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (case_id) DO UPDATE SET
			summary = excluded.summary,
			verdict = excluded.verdict,
			risk_score = excluded.risk_score,
			embedding = excluded.embedding,
			dimensions = excluded.dimensions
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare case insert: %w", err)
	}

	return nil
}

func (s *SQLiteStore) loadAll() error {
	rows, err := s.db.Query(`
		SELECT chunk_id, doc_id, version, seq, section, text, source, topic, is_active, embedding, dimensions
		FROM policy_chunks`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ch     compliance.PolicyChunk
			active int
			blob   []byte
			dims   int
		)
		if err := rows.Scan(&ch.ChunkID, &ch.DocID, &ch.Version, &ch.Seq, &ch.Section,
			&ch.Text, &ch.Source, &ch.Topic, &active, &blob, &dims); err != nil {
			return err
		}
		ch.IsActive = active != 0
		s.mem.chunks[ch.ChunkID] = &chunkRecord{chunk: ch, vec: blobToFloat32(blob, dims)}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	caseRows, err := s.db.Query(`
		SELECT case_id, summary, verdict, risk_score, created_at, embedding, dimensions
		FROM case_vectors`)
	if err != nil {
		return err
	}
	defer caseRows.Close()

	for caseRows.Next() {
		var (
			c         compliance.Case
			createdAt int64
			blob      []byte
			dims      int
		)
		if err := caseRows.Scan(&c.CaseID, &c.Summary, &c.Verdict, &c.RiskScore, &createdAt, &blob, &dims); err != nil {
			return err
		}
		c.CreatedAt = time.Unix(createdAt, 0).UTC()
		s.mem.cases[c.CaseID] = &caseRecord{c: c, vec: blobToFloat32(blob, dims)}
	}
	return caseRows.Err()
}

// UpsertChunks writes all chunks in one transaction, then mirrors them.
func (s *SQLiteStore) UpsertChunks(ctx context.Context, chunks []compliance.PolicyChunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return compliance.NewInputError("vectors", "must match chunk count")
	}

	normalized := make([][]float32, len(vectors))
	for i, v := range vectors {
		normalized[i] = normalize(v)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return compliance.NewStorageError("sqlite", "begin", err)
	}
	defer tx.Rollback()

	stmt := tx.Stmt(s.insertChunkStmt)
	for i, ch := range chunks {
		active := 0
		if ch.IsActive {
			active = 1
		}
		if _, err := stmt.ExecContext(ctx, ch.ChunkID, ch.DocID, ch.Version, ch.Seq,
			ch.Section, ch.Text, string(ch.Source), string(ch.Topic), active,
			float32ToBlob(normalized[i]), len(normalized[i])); err != nil {
			return compliance.NewStorageError("sqlite", "insert chunk", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return compliance.NewStorageError("sqlite", "commit", err)
	}

	s.mem.mu.Lock()
	for i, ch := range chunks {
		s.mem.chunks[ch.ChunkID] = &chunkRecord{chunk: ch, vec: normalized[i]}
	}
	s.mem.mu.Unlock()
	return nil
}

// ActivateVersion flips the active flag for a document in a single UPDATE,
// then mirrors the flip. Fails without touching anything if the version has
// no chunks.
func (s *SQLiteStore) ActivateVersion(ctx context.Context, docID string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM policy_chunks WHERE doc_id = ? AND version = ?`,
		docID, version).Scan(&n)
	if err != nil {
		return compliance.NewStorageError("sqlite", "count version chunks", err)
	}
	if n == 0 {
		return compliance.NewNotFoundError("policy_version", compliance.ChunkID(docID, version, 0))
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE policy_chunks SET is_active = (version = ?) WHERE doc_id = ?`,
		version, docID)
	if err != nil {
		return compliance.NewStorageError("sqlite", "activate version", err)
	}

	return s.mem.ActivateVersion(ctx, docID, version)
}

// DeactivateDocument marks every version of a document inactive.
func (s *SQLiteStore) DeactivateDocument(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE policy_chunks SET is_active = 0 WHERE doc_id = ?`, docID)
	if err != nil {
		return compliance.NewStorageError("sqlite", "deactivate document", err)
	}
	return s.mem.DeactivateDocument(ctx, docID)
}

// SearchChunks serves from the in-memory mirror.
func (s *SQLiteStore) SearchChunks(ctx context.Context, vector []float32, filter ChunkFilter, limit int) ([]ChunkHit, error) {
	return s.mem.SearchChunks(ctx, vector, filter, limit)
}

// UpsertCase writes the case row, then mirrors it.
func (s *SQLiteStore) UpsertCase(ctx context.Context, c *compliance.Case, vector []float32) error {
	normalized := normalize(vector)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.insertCaseStmt.ExecContext(ctx, c.CaseID, c.Summary, string(c.Verdict),
		c.RiskScore, c.CreatedAt.Unix(), float32ToBlob(normalized), len(normalized))
	if err != nil {
		return compliance.NewStorageError("sqlite", "insert case", err)
	}

	s.mem.mu.Lock()
	s.mem.cases[c.CaseID] = &caseRecord{c: *c, vec: normalized}
	s.mem.mu.Unlock()
	return nil
}

// SearchCases serves from the in-memory mirror.
func (s *SQLiteStore) SearchCases(ctx context.Context, vector []float32, limit int) ([]CaseHit, error) {
	return s.mem.SearchCases(ctx, vector, limit)
}

// ChunkCount reports the number of stored chunks.
func (s *SQLiteStore) ChunkCount(ctx context.Context) (int, error) {
	return s.mem.ChunkCount(ctx)
}

// CaseCount reports the number of stored cases.
func (s *SQLiteStore) CaseCount(ctx context.Context) (int, error) {
	return s.mem.CaseCount(ctx)
}

// Close stops the checkpoint loop, runs a final truncating checkpoint, and
// closes the database. Safe to call more than once.
func (s *SQLiteStore) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.done)

		if s.insertChunkStmt != nil {
			s.insertChunkStmt.Close()
		}
		if s.insertCaseStmt != nil {
			s.insertCaseStmt.Close()
		}
		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})
	return closeErr
}

func (s *SQLiteStore) checkpointLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}
