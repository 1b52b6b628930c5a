// Package compliance defines the shared domain model for the compliance
// decision engine: policy documents and their chunks, transactions, decisions,
// cases, policy change records, and re-evaluation tasks, together with the
// error taxonomy used across all engine components.
//
// # Domain Model
//
// The engine evaluates financial transactions against a versioned policy
// corpus and records every outcome as an immutable Decision:
//
//   - PolicyDocument - a versioned compliance rule text (at most one active
//     version per doc_id)
//   - PolicyChunk - an embeddable segment of a document version
//   - Transaction - the read-only input under evaluation
//   - Decision - the immutable verdict record (superseded, never mutated)
//   - Case - a Decision projected into the vector store for similarity lookup
//   - PolicyChangeRecord - the sentinel's classification of a version change
//   - ReEvaluationTask - a queued replay of a Decision made stale by a change
//
// # Immutability
//
// Decisions and chunks are append-only. A policy update writes new chunks and
// deactivates the old ones; a re-evaluation writes a new Decision whose
// Supersedes field references the original trace. Nothing in the audit trail
// is ever rewritten.
//
// # Error Taxonomy
//
// Engine failures are classified so callers can choose the right recovery:
//
//   - InputError - malformed transaction or document, rejected up front
//   - RetrievalUnavailableError - vector store down, fallback retrieval used
//   - SynthesisUnavailableError - reasoning service down or unparseable,
//     deterministic rule fallback used
//   - PersistenceError - storage write failed, evaluation surfaced as failed
//   - SentinelDiffError - versions could not be diffed, change recorded as
//     UNKNOWN with no automatic re-evaluation
//
// All types in this package are plain data and safe to copy; none hold
// internal synchronization.
package compliance
