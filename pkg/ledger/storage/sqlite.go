package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/config"
)

// SQLiteStorage implements the ledger.Storage interface using SQLite.
//
// All timestamps are stored in UTC so that lexical comparison of the
// TIMESTAMP text matches chronological order.
type SQLiteStorage struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStorage creates a new SQLite ledger storage backend.
// It initializes the database schema and enables WAL mode.
func NewSQLiteStorage(cfg config.LedgerSQLiteConfig) (*SQLiteStorage, error) {
	if cfg.Path == "" {
		return nil, compliance.NewInputError("ledger.sqlite.path", "must not be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "ledger.storage.sqlite")

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, compliance.NewPersistenceError("open", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, compliance.NewPersistenceError("open", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	s := &SQLiteStorage{
		db:     db,
		logger: logger,
	}

	if err := s.initialize(cfg); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("ledger storage initialized",
		"path", cfg.Path,
		"max_open_conns", cfg.MaxOpenConns,
	)

	return s, nil
}

// initialize sets up WAL mode, the schema, and the schema version.
func (s *SQLiteStorage) initialize(cfg config.LedgerSQLiteConfig) error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return compliance.NewPersistenceError("enable_wal", err)
	}

	busyTimeoutMs := cfg.BusyTimeout.Milliseconds()
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeoutMs)); err != nil {
		return compliance.NewPersistenceError("set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return compliance.NewPersistenceError("create_schema", err)
	}

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return compliance.NewPersistenceError("insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return compliance.NewPersistenceError("get_schema_version", err)
	}
	if version != SchemaVersion {
		return compliance.NewPersistenceError("schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	return nil
}

// SaveDecision persists a decision. Saving a trace that already exists is a
// no-op: the INSERT OR IGNORE leaves the original row untouched and the
// citations written with it stay as they were.
func (s *SQLiteStorage) SaveDecision(ctx context.Context, d *compliance.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return compliance.NewPersistenceError("save_decision", err)
	}

	var supersedes interface{}
	if d.Supersedes != "" {
		supersedes = d.Supersedes
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return compliance.NewPersistenceError("save_decision", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO decisions (
			trace_id, transaction_id, verdict, risk_tier, risk_score, confidence,
			synthesis_path, degraded, supersedes, created_at, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.TraceID, d.Transaction.TransactionID, string(d.Verdict), string(d.RiskTier),
		d.RiskScore, d.Confidence, string(d.SynthesisPath), d.Degraded,
		supersedes, d.CreatedAt.UTC(), string(payload),
	)
	if err != nil {
		return compliance.NewPersistenceError("save_decision", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return compliance.NewPersistenceError("save_decision", err)
	}

	if inserted > 0 {
		for _, cit := range d.PolicyCitations {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO decision_citations (trace_id, doc_id, version, section)
				VALUES (?, ?, ?, ?)
			`, d.TraceID, cit.DocID, cit.Version, cit.Section); err != nil {
				return compliance.NewPersistenceError("save_decision", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return compliance.NewPersistenceError("save_decision", err)
	}
	return nil
}

// GetDecision retrieves a decision by trace ID.
func (s *SQLiteStorage) GetDecision(ctx context.Context, traceID string) (*compliance.Decision, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM decisions WHERE trace_id = ?`, traceID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, compliance.NewNotFoundError("decision", traceID)
	}
	if err != nil {
		return nil, compliance.NewPersistenceError("get_decision", err)
	}
	return unmarshalDecision(payload, "get_decision")
}

// LatestDecisionForTransaction returns the most recent decision for a
// transaction.
func (s *SQLiteStorage) LatestDecisionForTransaction(ctx context.Context, transactionID string) (*compliance.Decision, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM decisions
		WHERE transaction_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, transactionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, compliance.NewNotFoundError("decision", transactionID)
	}
	if err != nil {
		return nil, compliance.NewPersistenceError("latest_decision", err)
	}
	return unmarshalDecision(payload, "latest_decision")
}

// ListDecisions returns decisions ordered newest first.
func (s *SQLiteStorage) ListDecisions(ctx context.Context, limit int) ([]*compliance.Decision, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM decisions
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, compliance.NewPersistenceError("list_decisions", err)
	}
	defer rows.Close()

	return scanDecisions(rows, "list_decisions")
}

// DecisionsCiting returns decisions whose citations include the given
// document version, newest first.
func (s *SQLiteStorage) DecisionsCiting(ctx context.Context, docID string, version int) ([]*compliance.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM decisions
		WHERE trace_id IN (
			SELECT DISTINCT trace_id FROM decision_citations
			WHERE doc_id = ? AND version = ?
		)
		ORDER BY created_at DESC, rowid DESC
	`, docID, version)
	if err != nil {
		return nil, compliance.NewPersistenceError("decisions_citing", err)
	}
	defer rows.Close()

	return scanDecisions(rows, "decisions_citing")
}

// CountDecisions returns the total number of stored decisions.
func (s *SQLiteStorage) CountDecisions(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decisions`).Scan(&count)
	if err != nil {
		return 0, compliance.NewPersistenceError("count_decisions", err)
	}
	return count, nil
}

// CountDecisionsByVerdict breaks the decision count down per verdict.
func (s *SQLiteStorage) CountDecisionsByVerdict(ctx context.Context) (map[compliance.Verdict]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT verdict, COUNT(*) FROM decisions GROUP BY verdict`)
	if err != nil {
		return nil, compliance.NewPersistenceError("count_decisions_by_verdict", err)
	}
	defer rows.Close()

	counts := make(map[compliance.Verdict]int64)
	for rows.Next() {
		var verdict string
		var count int64
		if err := rows.Scan(&verdict, &count); err != nil {
			return nil, compliance.NewPersistenceError("count_decisions_by_verdict", err)
		}
		counts[compliance.Verdict(verdict)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, compliance.NewPersistenceError("count_decisions_by_verdict", err)
	}
	return counts, nil
}

// SaveCase persists a case. The INSERT OR IGNORE makes re-saving an existing
// case a no-op; the returned bool reports whether a new case was written.
func (s *SQLiteStorage) SaveCase(ctx context.Context, c *compliance.Case) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO cases (case_id, summary, verdict, risk_score, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.CaseID, c.Summary, string(c.Verdict), c.RiskScore, c.CreatedAt.UTC())
	if err != nil {
		return false, compliance.NewPersistenceError("save_case", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, compliance.NewPersistenceError("save_case", err)
	}
	return inserted > 0, nil
}

// GetCase retrieves a case by ID.
func (s *SQLiteStorage) GetCase(ctx context.Context, caseID string) (*compliance.Case, error) {
	var c compliance.Case
	err := s.db.QueryRowContext(ctx, `
		SELECT case_id, summary, verdict, risk_score, created_at
		FROM cases WHERE case_id = ?
	`, caseID).Scan(&c.CaseID, &c.Summary, &c.Verdict, &c.RiskScore, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, compliance.NewNotFoundError("case", caseID)
	}
	if err != nil {
		return nil, compliance.NewPersistenceError("get_case", err)
	}
	return &c, nil
}

// CountCases returns the total number of stored cases.
func (s *SQLiteStorage) CountCases(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases`).Scan(&count)
	if err != nil {
		return 0, compliance.NewPersistenceError("count_cases", err)
	}
	return count, nil
}

// SaveDocument persists one version of a policy document. Re-saving an
// existing (doc_id, version) replaces the row.
func (s *SQLiteStorage) SaveDocument(ctx context.Context, doc *compliance.PolicyDocument) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO documents (
			doc_id, version, title, source, topic, raw_text, valid_from, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		doc.DocID, doc.Version, doc.Title, string(doc.Source), string(doc.Topic),
		doc.RawText, doc.ValidFrom.UTC(), doc.IsActive,
	)
	if err != nil {
		return compliance.NewPersistenceError("save_document", err)
	}
	return nil
}

// GetDocument retrieves a specific document version.
func (s *SQLiteStorage) GetDocument(ctx context.Context, docID string, version int) (*compliance.PolicyDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, version, title, source, topic, raw_text, valid_from, is_active
		FROM documents WHERE doc_id = ? AND version = ?
	`, docID, version)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, compliance.NewNotFoundError("document", fmt.Sprintf("%s:v%d", docID, version))
	}
	if err != nil {
		return nil, compliance.NewPersistenceError("get_document", err)
	}
	return doc, nil
}

// LatestVersion returns the highest stored version for a document, or 0 when
// the document is unknown.
func (s *SQLiteStorage) LatestVersion(ctx context.Context, docID string) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM documents WHERE doc_id = ?`, docID,
	).Scan(&version)
	if err != nil {
		return 0, compliance.NewPersistenceError("latest_version", err)
	}
	return version, nil
}

// ActiveDocument returns the active version of a document.
func (s *SQLiteStorage) ActiveDocument(ctx context.Context, docID string) (*compliance.PolicyDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, version, title, source, topic, raw_text, valid_from, is_active
		FROM documents WHERE doc_id = ? AND is_active = 1
		LIMIT 1
	`, docID)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, compliance.NewNotFoundError("document", docID)
	}
	if err != nil {
		return nil, compliance.NewPersistenceError("active_document", err)
	}
	return doc, nil
}

// ListDocuments returns the latest version of every document, ordered by
// doc_id.
func (s *SQLiteStorage) ListDocuments(ctx context.Context) ([]*compliance.PolicyDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.doc_id, d.version, d.title, d.source, d.topic, d.raw_text, d.valid_from, d.is_active
		FROM documents d
		JOIN (
			SELECT doc_id, MAX(version) AS version FROM documents GROUP BY doc_id
		) latest ON d.doc_id = latest.doc_id AND d.version = latest.version
		ORDER BY d.doc_id
	`)
	if err != nil {
		return nil, compliance.NewPersistenceError("list_documents", err)
	}
	defer rows.Close()

	docs := []*compliance.PolicyDocument{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, compliance.NewPersistenceError("list_documents", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, compliance.NewPersistenceError("list_documents", err)
	}
	return docs, nil
}

// ActivateDocumentVersion marks one version active and every other version
// of the same document inactive. The flip is a single UPDATE, so readers
// never observe zero or two active versions.
func (s *SQLiteStorage) ActivateDocumentVersion(ctx context.Context, docID string, version int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return compliance.NewPersistenceError("activate_document", err)
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE doc_id = ? AND version = ?`, docID, version,
	).Scan(&count)
	if err != nil {
		return compliance.NewPersistenceError("activate_document", err)
	}
	if count == 0 {
		return compliance.NewNotFoundError("document", fmt.Sprintf("%s:v%d", docID, version))
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET is_active = (version = ?) WHERE doc_id = ?`, version, docID,
	); err != nil {
		return compliance.NewPersistenceError("activate_document", err)
	}

	if err := tx.Commit(); err != nil {
		return compliance.NewPersistenceError("activate_document", err)
	}
	return nil
}

// DeactivateDocument marks every version of a document inactive.
func (s *SQLiteStorage) DeactivateDocument(ctx context.Context, docID string) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE doc_id = ?`, docID,
	).Scan(&count)
	if err != nil {
		return compliance.NewPersistenceError("deactivate_document", err)
	}
	if count == 0 {
		return compliance.NewNotFoundError("document", docID)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE documents SET is_active = 0 WHERE doc_id = ?`, docID,
	); err != nil {
		return compliance.NewPersistenceError("deactivate_document", err)
	}
	return nil
}

// SaveFeedback records reviewer feedback; a later review replaces the
// earlier one.
func (s *SQLiteStorage) SaveFeedback(ctx context.Context, fb *compliance.Feedback) error {
	var override interface{}
	if fb.OverrideVerdict != "" {
		override = string(fb.OverrideVerdict)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO feedback (
			trace_id, reviewed_by, agrees, override_verdict, notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`, fb.TraceID, fb.ReviewedBy, fb.Agrees, override, fb.Notes, fb.CreatedAt.UTC())
	if err != nil {
		return compliance.NewPersistenceError("save_feedback", err)
	}
	return nil
}

// GetFeedback retrieves the feedback recorded for a decision.
func (s *SQLiteStorage) GetFeedback(ctx context.Context, traceID string) (*compliance.Feedback, error) {
	var fb compliance.Feedback
	var override sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT trace_id, reviewed_by, agrees, override_verdict, notes, created_at
		FROM feedback WHERE trace_id = ?
	`, traceID).Scan(&fb.TraceID, &fb.ReviewedBy, &fb.Agrees, &override, &fb.Notes, &fb.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, compliance.NewNotFoundError("feedback", traceID)
	}
	if err != nil {
		return nil, compliance.NewPersistenceError("get_feedback", err)
	}
	if override.Valid {
		fb.OverrideVerdict = compliance.Verdict(override.String)
	}
	return &fb, nil
}

// SaveChangeRecord records a sentinel change classification, replacing any
// previous record for the same version pair.
func (s *SQLiteStorage) SaveChangeRecord(ctx context.Context, rec *compliance.PolicyChangeRecord) error {
	sections, err := json.Marshal(rec.ChangedSections)
	if err != nil {
		return compliance.NewPersistenceError("save_change_record", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO change_records (
			doc_id, from_version, to_version, magnitude, changed_sections, similarity, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.DocID, rec.FromVersion, rec.ToVersion, string(rec.Magnitude),
		string(sections), rec.Similarity, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return compliance.NewPersistenceError("save_change_record", err)
	}
	return nil
}

// ListChangeRecords returns change records ordered newest first.
func (s *SQLiteStorage) ListChangeRecords(ctx context.Context, docID string, limit int) ([]*compliance.PolicyChangeRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT doc_id, from_version, to_version, magnitude, changed_sections, similarity, created_at
		FROM change_records
	`
	args := []interface{}{}
	if docID != "" {
		query += ` WHERE doc_id = ?`
		args = append(args, docID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, compliance.NewPersistenceError("list_change_records", err)
	}
	defer rows.Close()

	records := []*compliance.PolicyChangeRecord{}
	for rows.Next() {
		var rec compliance.PolicyChangeRecord
		var sections string
		if err := rows.Scan(
			&rec.DocID, &rec.FromVersion, &rec.ToVersion, &rec.Magnitude,
			&sections, &rec.Similarity, &rec.CreatedAt,
		); err != nil {
			return nil, compliance.NewPersistenceError("list_change_records", err)
		}
		if err := json.Unmarshal([]byte(sections), &rec.ChangedSections); err != nil {
			return nil, compliance.NewPersistenceError("list_change_records", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, compliance.NewPersistenceError("list_change_records", err)
	}
	return records, nil
}

// ListSupersededBefore returns superseded decisions created before the
// cutoff, oldest first.
func (s *SQLiteStorage) ListSupersededBefore(ctx context.Context, cutoff time.Time) ([]*compliance.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM decisions d
		WHERE d.created_at < ?
		  AND EXISTS (SELECT 1 FROM decisions s WHERE s.supersedes = d.trace_id)
		ORDER BY d.created_at ASC, d.rowid ASC
	`, cutoff.UTC())
	if err != nil {
		return nil, compliance.NewPersistenceError("list_superseded", err)
	}
	defer rows.Close()

	return scanDecisions(rows, "list_superseded")
}

// DeleteSupersededBefore removes superseded decisions created before the
// cutoff, along with their citation index rows. Cases are untouched.
func (s *SQLiteStorage) DeleteSupersededBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, compliance.NewPersistenceError("delete_superseded", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM decision_citations WHERE trace_id IN (
			SELECT trace_id FROM decisions d
			WHERE d.created_at < ?
			  AND EXISTS (SELECT 1 FROM decisions s WHERE s.supersedes = d.trace_id)
		)
	`, cutoff.UTC()); err != nil {
		return 0, compliance.NewPersistenceError("delete_superseded", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM decisions
		WHERE created_at < ?
		  AND EXISTS (SELECT 1 FROM decisions s WHERE s.supersedes = decisions.trace_id)
	`, cutoff.UTC())
	if err != nil {
		return 0, compliance.NewPersistenceError("delete_superseded", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, compliance.NewPersistenceError("delete_superseded", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, compliance.NewPersistenceError("delete_superseded", err)
	}
	return deleted, nil
}

// Close releases resources held by the storage backend.
func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return compliance.NewPersistenceError("close", err)
	}
	s.logger.Info("ledger storage closed")
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanDocument scans one documents row.
func scanDocument(row scanner) (*compliance.PolicyDocument, error) {
	var doc compliance.PolicyDocument
	err := row.Scan(
		&doc.DocID, &doc.Version, &doc.Title, &doc.Source, &doc.Topic,
		&doc.RawText, &doc.ValidFrom, &doc.IsActive,
	)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// scanDecisions drains a payload-only result set into decisions.
func scanDecisions(rows *sql.Rows, op string) ([]*compliance.Decision, error) {
	decisions := []*compliance.Decision{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, compliance.NewPersistenceError(op, err)
		}
		d, err := unmarshalDecision(payload, op)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, compliance.NewPersistenceError(op, err)
	}
	return decisions, nil
}

// unmarshalDecision decodes a stored decision payload.
func unmarshalDecision(payload, op string) (*compliance.Decision, error) {
	var d compliance.Decision
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return nil, compliance.NewPersistenceError(op, err)
	}
	return &d, nil
}
