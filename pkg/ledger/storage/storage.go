package storage

import (
	"fmt"

	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/config"
	"arbiter-hq/themis/pkg/ledger"
)

// defaultListLimit caps list results when the caller passes no limit.
const defaultListLimit = 100

// NewFromConfig builds a ledger storage backend from configuration.
func NewFromConfig(cfg config.LedgerConfig) (ledger.Storage, error) {
	switch cfg.Backend {
	case "sqlite":
		return NewSQLiteStorage(cfg.SQLite)
	case "memory", "":
		return NewMemoryStorage(), nil
	default:
		return nil, compliance.NewInputError("ledger.backend",
			fmt.Sprintf("unknown backend %q", cfg.Backend))
	}
}
