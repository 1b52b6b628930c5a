// Package storage provides ledger storage backends.
//
// Two implementations of the ledger.Storage interface are available:
//
//   - SQLiteStorage: durable single-node storage with WAL mode. This is the
//     production backend.
//   - MemoryStorage: map-backed storage for tests and ephemeral runs.
//
// Backends are selected through configuration:
//
//	store, err := storage.NewFromConfig(cfg.Ledger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
package storage
