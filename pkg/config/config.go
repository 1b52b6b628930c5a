package config

import "time"

// Config is the root configuration structure for Themis.
// It contains all configuration sections for the decision engine, document
// chunking, embedding and reasoning services, vector storage, the decision
// ledger, the re-evaluation queue, the policy sentinel, and telemetry.
type Config struct {
	// Engine contains evaluation-level settings such as timeouts and the
	// degraded-mode confidence ceiling.
	Engine EngineConfig `yaml:"engine"`

	// Chunking contains policy document chunking settings.
	Chunking ChunkingConfig `yaml:"chunking"`

	// Embedding contains configuration for the embedding service adapter.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Reasoner contains configuration for the reasoning service adapter.
	Reasoner ReasonerConfig `yaml:"reasoner"`

	// VectorStore contains configuration for the vector store backend.
	VectorStore VectorStoreConfig `yaml:"vector_store"`

	// Retrieval contains top-K and timeout settings for retrieval calls.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Risk contains risk scoring weights, thresholds, and jurisdiction lists.
	Risk RiskConfig `yaml:"risk"`

	// Ledger contains configuration for the decision ledger storage.
	Ledger LedgerConfig `yaml:"ledger"`

	// Queue contains configuration for the durable re-evaluation queue.
	Queue QueueConfig `yaml:"queue"`

	// Sentinel contains policy change detection settings.
	Sentinel SentinelConfig `yaml:"sentinel"`

	// Ingest contains policy directory watching settings.
	Ingest IngestConfig `yaml:"ingest"`

	// Telemetry contains configuration for logging and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// EngineConfig contains evaluation-level settings.
type EngineConfig struct {
	// EvaluationTimeout bounds one full transaction evaluation, including
	// retrieval and synthesis. On expiry the evaluation is abandoned without
	// writing a partial decision.
	// Default: 60s
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`

	// FallbackConfidenceCeiling caps decision confidence whenever a fallback
	// path was taken with ambiguity present. Decisions produced in degraded
	// mode never report confidence above this value.
	// Default: 0.6
	FallbackConfidenceCeiling float64 `yaml:"fallback_confidence_ceiling"`

	// DemoMode forces the engine to use the built-in reference policy and
	// case sets instead of live retrieval. Intended for demos and tests.
	// Default: false
	DemoMode bool `yaml:"demo_mode"`
}

// ChunkingConfig contains policy document chunking settings.
type ChunkingConfig struct {
	// TargetWords is the target chunk length in words.
	// Default: 600
	TargetWords int `yaml:"target_words"`

	// OverlapWords is the number of words shared between consecutive chunks.
	// Must be strictly less than TargetWords.
	// Default: 100
	OverlapWords int `yaml:"overlap_words"`

	// MinDocumentWords is the minimum document length in words. Shorter
	// documents are rejected as having nothing meaningful to retrieve.
	// Default: 10
	MinDocumentWords int `yaml:"min_document_words"`
}

// EmbeddingConfig contains configuration for the embedding service adapter.
type EmbeddingConfig struct {
	// Provider selects the embedder implementation.
	// Options: "openai" (OpenAI-compatible API), "local" (deterministic
	// hash-based embedder requiring no network, for dev and tests)
	// Default: "local"
	Provider string `yaml:"provider"`

	// BaseURL is the base URL for an OpenAI-compatible embeddings endpoint.
	// Leave empty for the official OpenAI API.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against the embeddings endpoint.
	// This should typically be loaded from an environment variable.
	APIKey string `yaml:"api_key"`

	// Model is the embedding model identifier.
	// Default: "text-embedding-3-small"
	Model string `yaml:"model"`

	// Dimensions is the fixed embedding vector dimension. All stored vectors
	// and all query vectors must match it.
	// Default: 256
	Dimensions int `yaml:"dimensions"`

	// Timeout bounds a single embedding call.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the number of retry attempts for transient failures.
	// Default: 3
	MaxRetries int `yaml:"max_retries"`

	// Breaker configures the circuit breaker guarding the embedding service.
	Breaker BreakerConfig `yaml:"breaker"`
}

// ReasonerConfig contains configuration for the reasoning service adapter.
type ReasonerConfig struct {
	// Provider selects the reasoner implementation.
	// Options: "openai" (OpenAI-compatible chat API), "none" (always use the
	// deterministic rule fallback)
	// Default: "none"
	Provider string `yaml:"provider"`

	// BaseURL is the base URL for an OpenAI-compatible chat endpoint.
	// Leave empty for the official OpenAI API.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against the chat endpoint.
	// This should typically be loaded from an environment variable.
	APIKey string `yaml:"api_key"`

	// Model is the chat model identifier.
	// Default: "gpt-4o-mini"
	Model string `yaml:"model"`

	// Temperature controls sampling randomness. Kept low so repeated
	// evaluations of the same transaction stay consistent.
	// Default: 0.1
	Temperature float32 `yaml:"temperature"`

	// MaxTokens bounds the response length.
	// Default: 2000
	MaxTokens int `yaml:"max_tokens"`

	// Timeout bounds a single reasoning call. On expiry the synthesizer takes
	// the deterministic fallback branch.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the number of retry attempts for transient failures.
	// Default: 2
	MaxRetries int `yaml:"max_retries"`

	// Breaker configures the circuit breaker guarding the reasoning service.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures a circuit breaker around an external service.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the
	// breaker. While open, calls fail fast with an unavailability error.
	// Default: 5
	MaxFailures int `yaml:"max_failures"`

	// OpenTimeout is how long the breaker stays open before allowing a probe.
	// Default: 30s
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// VectorStoreConfig contains configuration for the vector store backend.
type VectorStoreConfig struct {
	// Backend specifies the vector store backend.
	// Options: "sqlite" (embedded), "pgvector" (PostgreSQL), "memory"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains settings for the embedded SQLite-backed store.
	SQLite VectorSQLiteConfig `yaml:"sqlite"`

	// Pgvector contains settings for the PostgreSQL pgvector store.
	Pgvector PgvectorConfig `yaml:"pgvector"`
}

// VectorSQLiteConfig contains settings for the embedded SQLite vector store.
type VectorSQLiteConfig struct {
	// Path is the file path for the SQLite database.
	// Default: "data/vectors.db"
	Path string `yaml:"path"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// PgvectorConfig contains settings for the PostgreSQL pgvector store.
type PgvectorConfig struct {
	// Host is the PostgreSQL server hostname.
	// Default: "localhost"
	Host string `yaml:"host"`

	// Port is the PostgreSQL server port.
	// Default: 5432
	Port int `yaml:"port"`

	// Database is the name of the database to use.
	// Default: "themis"
	Database string `yaml:"database"`

	// User is the PostgreSQL user for authentication.
	User string `yaml:"user"`

	// Password is the PostgreSQL password for authentication.
	// This should typically be loaded from an environment variable.
	Password string `yaml:"password"`

	// SSLMode controls SSL/TLS connection mode.
	// Options: "disable", "require", "verify-ca", "verify-full"
	// Default: "require"
	SSLMode string `yaml:"ssl_mode"`

	// MaxConns is the pgx pool's maximum connection count.
	// Default: 8
	MaxConns int `yaml:"max_conns"`
}

// RetrievalConfig contains top-K and timeout settings for retrieval calls.
type RetrievalConfig struct {
	// PolicyTopK is the number of policy chunks to retrieve per evaluation.
	// Default: 5
	PolicyTopK int `yaml:"policy_top_k"`

	// CaseTopK is the number of similar cases to retrieve per evaluation.
	// Default: 3
	CaseTopK int `yaml:"case_top_k"`

	// Timeout bounds one retrieval round (embedding plus both searches).
	// On expiry the synthesizer takes the fallback branch.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// RiskConfig contains risk scoring weights, thresholds, and jurisdiction
// lists. The four weights should sum to 1.0; the score is clamped to [0,1]
// regardless.
type RiskConfig struct {
	// WeightPolicyMatch weights the mean relevance of retrieved policy chunks.
	// Default: 0.40
	WeightPolicyMatch float64 `yaml:"weight_policy_match"`

	// WeightCaseSimilarity weights the similarity-weighted fraction of
	// retrieved cases that were flagged.
	// Default: 0.30
	WeightCaseSimilarity float64 `yaml:"weight_case_similarity"`

	// WeightAmountFactor weights the saturating transaction amount factor.
	// Default: 0.15
	WeightAmountFactor float64 `yaml:"weight_amount_factor"`

	// WeightCountryRisk weights the jurisdiction risk factor.
	// Default: 0.15
	WeightCountryRisk float64 `yaml:"weight_country_risk"`

	// HighTierCutoff is the score at or above which risk tier is HIGH.
	// Default: 0.75
	HighTierCutoff float64 `yaml:"high_tier_cutoff"`

	// MediumTierCutoff is the score at or above which risk tier is MEDIUM.
	// Default: 0.45
	MediumTierCutoff float64 `yaml:"medium_tier_cutoff"`

	// HighAmountThreshold is the reference amount at which the amount factor
	// saturates, and above which the rule fallback escalates.
	// Default: 50000
	HighAmountThreshold float64 `yaml:"high_amount_threshold"`

	// MediumAmountThreshold is the amount above which the rule fallback
	// requires review.
	// Default: 10000
	MediumAmountThreshold float64 `yaml:"medium_amount_threshold"`

	// VeryHighAmountThreshold is the amount above which the rule fallback
	// escalates further.
	// Default: 100000
	VeryHighAmountThreshold float64 `yaml:"very_high_amount_threshold"`

	// ProhibitedCountries lists jurisdictions that force maximum country risk.
	// Matching is case-insensitive.
	// Default: Iran, North Korea, Syria, Cuba, Myanmar
	ProhibitedCountries []string `yaml:"prohibited_countries"`

	// MonitoredCountries lists jurisdictions that raise country risk to
	// MonitoredCountryRisk. Matching is case-insensitive.
	// Default: Pakistan, Russia, Nigeria, Venezuela, UAE
	MonitoredCountries []string `yaml:"monitored_countries"`

	// MonitoredCountryRisk is the country risk value for monitored
	// jurisdictions (prohibited jurisdictions always score 1.0).
	// Default: 0.5
	MonitoredCountryRisk float64 `yaml:"monitored_country_risk"`

	// PolicyRelevanceBar is the mean policy relevance above which the rule
	// fallback requires review.
	// Default: 0.7
	PolicyRelevanceBar float64 `yaml:"policy_relevance_bar"`
}

// LedgerConfig contains configuration for the decision ledger storage.
type LedgerConfig struct {
	// Backend specifies the ledger storage backend.
	// Options: "sqlite", "memory"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite-specific configuration.
	SQLite LedgerSQLiteConfig `yaml:"sqlite"`

	// Retention contains retention sweep configuration.
	Retention RetentionConfig `yaml:"retention"`
}

// LedgerSQLiteConfig contains SQLite storage configuration for the ledger.
type LedgerSQLiteConfig struct {
	// Path is the file path for the SQLite database.
	// Default: "data/ledger.db"
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open database connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle database connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RetentionConfig contains retention sweep configuration for the ledger.
// Only superseded decisions are ever swept; the latest decision for each
// transaction is always retained.
type RetentionConfig struct {
	// Days is the age in days after which superseded decisions may be swept.
	// 0 means keep everything forever (no sweeping).
	// Default: 0
	Days int `yaml:"days"`

	// SweepSchedule is a cron expression for scheduling the sweep.
	// Default: "0 3 * * *" (daily at 3 AM)
	SweepSchedule string `yaml:"sweep_schedule"`

	// ArchiveBeforeDelete writes swept decisions to an archive file first.
	// Default: false
	ArchiveBeforeDelete bool `yaml:"archive_before_delete"`

	// ArchivePath is the directory for archive files.
	// Default: "data/archives/"
	ArchivePath string `yaml:"archive_path"`
}

// QueueConfig contains configuration for the durable re-evaluation queue.
type QueueConfig struct {
	// Path is the file path for the queue's SQLite database.
	// Default: "data/queue.db"
	Path string `yaml:"path"`

	// LeaseDuration is how long a claimed task stays IN_PROGRESS before the
	// reaper returns it to PENDING. Must exceed the evaluation timeout.
	// Default: 5m
	LeaseDuration time.Duration `yaml:"lease_duration"`

	// ReapSchedule is a cron expression for the orphaned-lease reaper.
	// Default: "@every 1m"
	ReapSchedule string `yaml:"reap_schedule"`

	// MaxAttempts is the number of delivery attempts before a task is FAILED.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// Workers is the number of concurrent queue consumers.
	// Default: 2
	Workers int `yaml:"workers"`

	// PollInterval is how often an idle worker checks for pending tasks.
	// Default: 2s
	PollInterval time.Duration `yaml:"poll_interval"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// SentinelConfig contains policy change detection settings.
type SentinelConfig struct {
	// Enabled controls whether policy changes trigger re-evaluation.
	// When false, changes are still recorded but nothing is enqueued.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// MinorThreshold is the similarity at or above which a change is MINOR.
	// Default: 0.95
	MinorThreshold float64 `yaml:"minor_threshold"`

	// ModerateThreshold is the similarity at or above which a change is
	// MODERATE (below it, MAJOR).
	// Default: 0.80
	ModerateThreshold float64 `yaml:"moderate_threshold"`
}

// IngestConfig contains policy directory watching settings.
type IngestConfig struct {
	// WatchDir is a directory watched for policy YAML files. New or changed
	// files are indexed automatically. Empty disables watching.
	// Default: "" (disabled)
	WatchDir string `yaml:"watch_dir"`

	// DebounceDelay batches rapid file events (editors often write a file
	// several times in quick succession).
	// Default: 500ms
	DebounceDelay time.Duration `yaml:"debounce_delay"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactParties masks transaction party names in log output. Trace and
	// document identifiers are never redacted.
	// Default: true
	RedactParties bool `yaml:"redact_parties"`

	// RedactPatterns contains custom redaction patterns applied to log
	// attribute values.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern defines a custom log redaction pattern.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Address is the listen address for the Prometheus metrics endpoint,
	// served by long-running commands such as the queue worker.
	// Default: "127.0.0.1:9464"
	Address string `yaml:"address"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "themis"
	Namespace string `yaml:"namespace"`
}
