package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// The file is unmarshaled over DefaultConfig, so omitted fields keep their
// documented defaults; the result is then validated. The configuration is not
// modified by environment variables; use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	// Read the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	// Parse YAML over the defaults
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	// Fill any fields the file reset to zero
	ApplyDefaults(cfg)

	// Validate
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention THEMIS_SECTION_FIELD (e.g., THEMIS_REASONER_API_KEY).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Start from DefaultConfig
// 2. Unmarshal YAML from file
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	// First load from file (this already applies defaults)
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Re-validate after overrides
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables use the format THEMIS_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Engine overrides
	if val := os.Getenv("THEMIS_ENGINE_EVALUATION_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Engine.EvaluationTimeout = d
		}
	}
	if val := os.Getenv("THEMIS_ENGINE_DEMO_MODE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Engine.DemoMode = b
		}
	}

	// Embedding overrides
	if val := os.Getenv("THEMIS_EMBEDDING_PROVIDER"); val != "" {
		cfg.Embedding.Provider = val
	}
	if val := os.Getenv("THEMIS_EMBEDDING_BASE_URL"); val != "" {
		cfg.Embedding.BaseURL = val
	}
	if val := os.Getenv("THEMIS_EMBEDDING_API_KEY"); val != "" {
		cfg.Embedding.APIKey = val
	}
	if val := os.Getenv("THEMIS_EMBEDDING_MODEL"); val != "" {
		cfg.Embedding.Model = val
	}
	if val := os.Getenv("THEMIS_EMBEDDING_DIMENSIONS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Embedding.Dimensions = i
		}
	}

	// Reasoner overrides
	if val := os.Getenv("THEMIS_REASONER_PROVIDER"); val != "" {
		cfg.Reasoner.Provider = val
	}
	if val := os.Getenv("THEMIS_REASONER_BASE_URL"); val != "" {
		cfg.Reasoner.BaseURL = val
	}
	if val := os.Getenv("THEMIS_REASONER_API_KEY"); val != "" {
		cfg.Reasoner.APIKey = val
	}
	if val := os.Getenv("THEMIS_REASONER_MODEL"); val != "" {
		cfg.Reasoner.Model = val
	}
	if val := os.Getenv("THEMIS_REASONER_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Reasoner.Timeout = d
		}
	}

	// Vector store overrides
	if val := os.Getenv("THEMIS_VECTOR_STORE_BACKEND"); val != "" {
		cfg.VectorStore.Backend = val
	}
	if val := os.Getenv("THEMIS_VECTOR_STORE_SQLITE_PATH"); val != "" {
		cfg.VectorStore.SQLite.Path = val
	}
	if val := os.Getenv("THEMIS_VECTOR_STORE_PGVECTOR_HOST"); val != "" {
		cfg.VectorStore.Pgvector.Host = val
	}
	if val := os.Getenv("THEMIS_VECTOR_STORE_PGVECTOR_PORT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.VectorStore.Pgvector.Port = i
		}
	}
	if val := os.Getenv("THEMIS_VECTOR_STORE_PGVECTOR_DATABASE"); val != "" {
		cfg.VectorStore.Pgvector.Database = val
	}
	if val := os.Getenv("THEMIS_VECTOR_STORE_PGVECTOR_USER"); val != "" {
		cfg.VectorStore.Pgvector.User = val
	}
	if val := os.Getenv("THEMIS_VECTOR_STORE_PGVECTOR_PASSWORD"); val != "" {
		cfg.VectorStore.Pgvector.Password = val
	}
	if val := os.Getenv("THEMIS_VECTOR_STORE_PGVECTOR_SSL_MODE"); val != "" {
		cfg.VectorStore.Pgvector.SSLMode = val
	}

	// Ledger overrides
	if val := os.Getenv("THEMIS_LEDGER_BACKEND"); val != "" {
		cfg.Ledger.Backend = val
	}
	if val := os.Getenv("THEMIS_LEDGER_SQLITE_PATH"); val != "" {
		cfg.Ledger.SQLite.Path = val
	}
	if val := os.Getenv("THEMIS_LEDGER_RETENTION_DAYS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Ledger.Retention.Days = i
		}
	}

	// Queue overrides
	if val := os.Getenv("THEMIS_QUEUE_PATH"); val != "" {
		cfg.Queue.Path = val
	}
	if val := os.Getenv("THEMIS_QUEUE_WORKERS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Queue.Workers = i
		}
	}
	if val := os.Getenv("THEMIS_QUEUE_LEASE_DURATION"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Queue.LeaseDuration = d
		}
	}

	// Sentinel overrides
	if val := os.Getenv("THEMIS_SENTINEL_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Sentinel.Enabled = b
		}
	}

	// Ingest overrides
	if val := os.Getenv("THEMIS_INGEST_WATCH_DIR"); val != "" {
		cfg.Ingest.WatchDir = val
	}

	// Telemetry overrides
	if val := os.Getenv("THEMIS_TELEMETRY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("THEMIS_TELEMETRY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("THEMIS_TELEMETRY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Metrics.Enabled = b
		}
	}
	if val := os.Getenv("THEMIS_TELEMETRY_METRICS_ADDRESS"); val != "" {
		cfg.Telemetry.Metrics.Address = val
	}
}
