package storage

// SchemaVersion is the current ledger database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the ledger database schema.
const Schema = `
-- Decisions are append-only; a re-evaluation writes a new row whose
-- supersedes column references the replaced trace. The full decision is kept
-- as JSON in payload; the extracted columns exist for filtering and sorting.
CREATE TABLE IF NOT EXISTS decisions (
    trace_id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    verdict TEXT NOT NULL,
    risk_tier TEXT NOT NULL,
    risk_score REAL NOT NULL,
    confidence REAL NOT NULL,
    synthesis_path TEXT NOT NULL,
    degraded BOOLEAN NOT NULL,
    supersedes TEXT,
    created_at TIMESTAMP NOT NULL,
    payload TEXT NOT NULL
);

-- Reverse index from cited document versions to the decisions citing them.
CREATE TABLE IF NOT EXISTS decision_citations (
    trace_id TEXT NOT NULL,
    doc_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    section TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (trace_id, doc_id, version, section)
);

-- Case audit projection; append-only, never deleted on supersede.
CREATE TABLE IF NOT EXISTS cases (
    case_id TEXT PRIMARY KEY,
    summary TEXT NOT NULL,
    verdict TEXT NOT NULL,
    risk_score REAL NOT NULL,
    created_at TIMESTAMP NOT NULL
);

-- Policy document versions; the raw text feeds the sentinel diff.
CREATE TABLE IF NOT EXISTS documents (
    doc_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    title TEXT NOT NULL,
    source TEXT NOT NULL,
    topic TEXT NOT NULL,
    raw_text TEXT NOT NULL,
    valid_from TIMESTAMP NOT NULL,
    is_active BOOLEAN NOT NULL,
    PRIMARY KEY (doc_id, version)
);

-- Reviewer feedback, one row per trace; a later review replaces the earlier.
CREATE TABLE IF NOT EXISTS feedback (
    trace_id TEXT PRIMARY KEY,
    reviewed_by TEXT NOT NULL,
    agrees BOOLEAN NOT NULL,
    override_verdict TEXT,
    notes TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

-- Sentinel change classifications, one row per version pair.
CREATE TABLE IF NOT EXISTS change_records (
    doc_id TEXT NOT NULL,
    from_version INTEGER NOT NULL,
    to_version INTEGER NOT NULL,
    magnitude TEXT NOT NULL,
    changed_sections TEXT NOT NULL,
    similarity REAL NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (doc_id, from_version, to_version)
);

-- Schema version table
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

-- Indexes for common queries
CREATE INDEX IF NOT EXISTS idx_decisions_transaction ON decisions(transaction_id, created_at);
CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at);
CREATE INDEX IF NOT EXISTS idx_decisions_supersedes ON decisions(supersedes);
CREATE INDEX IF NOT EXISTS idx_citations_doc ON decision_citations(doc_id, version);
CREATE INDEX IF NOT EXISTS idx_documents_active ON documents(doc_id, is_active);
CREATE INDEX IF NOT EXISTS idx_changes_doc ON change_records(doc_id, created_at);
`

// InsertSchemaVersion inserts the schema version into the schema_version table.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version from the database.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`
