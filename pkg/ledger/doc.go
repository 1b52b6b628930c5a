// Package ledger defines the system of record for compliance evaluations.
// Decisions, their audit-trail cases, policy document versions, reviewer
// feedback, and sentinel change records all live here; the vector store only
// indexes content for retrieval and can be rebuilt from the ledger at any
// time.
//
// # Write Discipline
//
// The ledger is append-only where it matters:
//
//   - Decisions are immutable. A re-evaluation writes a new decision whose
//     supersedes field references the replaced trace; the original row is
//     kept until the retention sweep removes it.
//   - Cases are keyed by the originating trace and are never deleted, not
//     even when their decision is superseded or swept.
//   - Policy documents are versioned. At most one version per doc_id is
//     active, and activating a version atomically deactivates the rest.
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage(cfg.Ledger.SQLite)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	if err := store.SaveDecision(ctx, decision); err != nil {
//	    return err
//	}
//	created, err := store.SaveCase(ctx, compliance.CaseFromDecision(decision))
//
// # Retention
//
// Superseded decisions can be swept after a configurable age:
//
//	sweeper := retention.NewSweeper(store, cfg.Ledger.Retention)
//	sweeper.Start(ctx)
//	defer sweeper.Stop()
//
// The sweep only ever removes decisions that a later decision has replaced;
// the latest decision for every transaction is retained regardless of age.
package ledger
