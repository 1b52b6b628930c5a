package config

import "time"

// Default values for configuration fields.
const (
	// Engine defaults
	DefaultEvaluationTimeout         = 60 * time.Second
	DefaultFallbackConfidenceCeiling = 0.6

	// Chunking defaults
	DefaultChunkTargetWords  = 600
	DefaultChunkOverlapWords = 100
	DefaultMinDocumentWords  = 10

	// Embedding defaults
	DefaultEmbeddingProvider   = "local"
	DefaultEmbeddingModel      = "text-embedding-3-small"
	DefaultEmbeddingDimensions = 256
	DefaultEmbeddingTimeout    = 10 * time.Second
	DefaultEmbeddingMaxRetries = 3

	// Reasoner defaults
	DefaultReasonerProvider    = "none"
	DefaultReasonerModel       = "gpt-4o-mini"
	DefaultReasonerTemperature = float32(0.1)
	DefaultReasonerMaxTokens   = 2000
	DefaultReasonerTimeout     = 30 * time.Second
	DefaultReasonerMaxRetries  = 2

	// Breaker defaults
	DefaultBreakerMaxFailures = 5
	DefaultBreakerOpenTimeout = 30 * time.Second

	// Vector store defaults
	DefaultVectorBackend            = "sqlite"
	DefaultVectorSQLitePath         = "data/vectors.db"
	DefaultVectorBusyTimeout        = 5 * time.Second
	DefaultVectorCheckpointInterval = 5 * time.Minute
	DefaultPgvectorHost             = "localhost"
	DefaultPgvectorPort             = 5432
	DefaultPgvectorDatabase         = "themis"
	DefaultPgvectorSSLMode          = "require"
	DefaultPgvectorMaxConns         = 8

	// Retrieval defaults
	DefaultPolicyTopK       = 5
	DefaultCaseTopK         = 3
	DefaultRetrievalTimeout = 10 * time.Second

	// Risk defaults
	DefaultWeightPolicyMatch       = 0.40
	DefaultWeightCaseSimilarity    = 0.30
	DefaultWeightAmountFactor      = 0.15
	DefaultWeightCountryRisk       = 0.15
	DefaultHighTierCutoff          = 0.75
	DefaultMediumTierCutoff        = 0.45
	DefaultHighAmountThreshold     = 50000.0
	DefaultMediumAmountThreshold   = 10000.0
	DefaultVeryHighAmountThreshold = 100000.0
	DefaultMonitoredCountryRisk    = 0.5
	DefaultPolicyRelevanceBar      = 0.7

	// Ledger defaults
	DefaultLedgerBackend            = "sqlite"
	DefaultLedgerSQLitePath         = "data/ledger.db"
	DefaultLedgerMaxOpenConns       = 10
	DefaultLedgerMaxIdleConns       = 5
	DefaultLedgerBusyTimeout        = 5 * time.Second
	DefaultRetentionDays            = 0
	DefaultRetentionSweepSchedule   = "0 3 * * *"
	DefaultRetentionArchivePath     = "data/archives/"

	// Queue defaults
	DefaultQueuePath               = "data/queue.db"
	DefaultQueueLeaseDuration      = 5 * time.Minute
	DefaultQueueReapSchedule       = "@every 1m"
	DefaultQueueMaxAttempts        = 3
	DefaultQueueWorkers            = 2
	DefaultQueuePollInterval       = 2 * time.Second
	DefaultQueueBusyTimeout        = 5 * time.Second
	DefaultQueueCheckpointInterval = 5 * time.Minute

	// Sentinel defaults
	DefaultSentinelMinorThreshold    = 0.95
	DefaultSentinelModerateThreshold = 0.80

	// Ingest defaults
	DefaultIngestDebounceDelay = 500 * time.Millisecond

	// Telemetry defaults
	DefaultLoggingLevel     = "info"
	DefaultLoggingFormat    = "json"
	DefaultMetricsAddress   = "127.0.0.1:9464"
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "themis"
)

// Default jurisdiction lists. These are starting points, not authoritative
// sanctions data; deployments should maintain their own lists.
var (
	// DefaultProhibitedCountries force maximum country risk.
	DefaultProhibitedCountries = []string{"Iran", "North Korea", "Syria", "Cuba", "Myanmar"}

	// DefaultMonitoredCountries raise country risk to the monitored value.
	DefaultMonitoredCountries = []string{"Pakistan", "Russia", "Nigeria", "Venezuela", "UAE"}
)

// DefaultConfig returns a Config with every field set to its documented
// default, including the boolean fields that default to true. LoadConfig
// unmarshals the YAML file over this base so omitted fields keep their
// defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)

	// Booleans that default to true cannot be distinguished from "unset" by
	// ApplyDefaults, so they are set here.
	cfg.Sentinel.Enabled = true
	cfg.Telemetry.Metrics.Enabled = true
	cfg.Telemetry.Logging.RedactParties = true

	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
//
// Boolean fields are left untouched (false is a valid setting); use
// DefaultConfig for a base with the documented boolean defaults.
func ApplyDefaults(cfg *Config) {
	// Engine defaults
	if cfg.Engine.EvaluationTimeout == 0 {
		cfg.Engine.EvaluationTimeout = DefaultEvaluationTimeout
	}
	if cfg.Engine.FallbackConfidenceCeiling == 0 {
		cfg.Engine.FallbackConfidenceCeiling = DefaultFallbackConfidenceCeiling
	}

	// Chunking defaults
	if cfg.Chunking.TargetWords == 0 {
		cfg.Chunking.TargetWords = DefaultChunkTargetWords
	}
	if cfg.Chunking.OverlapWords == 0 {
		cfg.Chunking.OverlapWords = DefaultChunkOverlapWords
	}
	if cfg.Chunking.MinDocumentWords == 0 {
		cfg.Chunking.MinDocumentWords = DefaultMinDocumentWords
	}

	// Embedding defaults
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = DefaultEmbeddingProvider
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = DefaultEmbeddingModel
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = DefaultEmbeddingDimensions
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = DefaultEmbeddingTimeout
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = DefaultEmbeddingMaxRetries
	}
	applyBreakerDefaults(&cfg.Embedding.Breaker)

	// Reasoner defaults
	if cfg.Reasoner.Provider == "" {
		cfg.Reasoner.Provider = DefaultReasonerProvider
	}
	if cfg.Reasoner.Model == "" {
		cfg.Reasoner.Model = DefaultReasonerModel
	}
	if cfg.Reasoner.Temperature == 0 {
		cfg.Reasoner.Temperature = DefaultReasonerTemperature
	}
	if cfg.Reasoner.MaxTokens == 0 {
		cfg.Reasoner.MaxTokens = DefaultReasonerMaxTokens
	}
	if cfg.Reasoner.Timeout == 0 {
		cfg.Reasoner.Timeout = DefaultReasonerTimeout
	}
	if cfg.Reasoner.MaxRetries == 0 {
		cfg.Reasoner.MaxRetries = DefaultReasonerMaxRetries
	}
	applyBreakerDefaults(&cfg.Reasoner.Breaker)

	// Vector store defaults
	if cfg.VectorStore.Backend == "" {
		cfg.VectorStore.Backend = DefaultVectorBackend
	}
	if cfg.VectorStore.SQLite.Path == "" {
		cfg.VectorStore.SQLite.Path = DefaultVectorSQLitePath
	}
	if cfg.VectorStore.SQLite.BusyTimeout == 0 {
		cfg.VectorStore.SQLite.BusyTimeout = DefaultVectorBusyTimeout
	}
	if cfg.VectorStore.SQLite.CheckpointInterval == 0 {
		cfg.VectorStore.SQLite.CheckpointInterval = DefaultVectorCheckpointInterval
	}
	if cfg.VectorStore.Pgvector.Host == "" {
		cfg.VectorStore.Pgvector.Host = DefaultPgvectorHost
	}
	if cfg.VectorStore.Pgvector.Port == 0 {
		cfg.VectorStore.Pgvector.Port = DefaultPgvectorPort
	}
	if cfg.VectorStore.Pgvector.Database == "" {
		cfg.VectorStore.Pgvector.Database = DefaultPgvectorDatabase
	}
	if cfg.VectorStore.Pgvector.SSLMode == "" {
		cfg.VectorStore.Pgvector.SSLMode = DefaultPgvectorSSLMode
	}
	if cfg.VectorStore.Pgvector.MaxConns == 0 {
		cfg.VectorStore.Pgvector.MaxConns = DefaultPgvectorMaxConns
	}

	// Retrieval defaults
	if cfg.Retrieval.PolicyTopK == 0 {
		cfg.Retrieval.PolicyTopK = DefaultPolicyTopK
	}
	if cfg.Retrieval.CaseTopK == 0 {
		cfg.Retrieval.CaseTopK = DefaultCaseTopK
	}
	if cfg.Retrieval.Timeout == 0 {
		cfg.Retrieval.Timeout = DefaultRetrievalTimeout
	}

	// Risk defaults
	if cfg.Risk.WeightPolicyMatch == 0 {
		cfg.Risk.WeightPolicyMatch = DefaultWeightPolicyMatch
	}
	if cfg.Risk.WeightCaseSimilarity == 0 {
		cfg.Risk.WeightCaseSimilarity = DefaultWeightCaseSimilarity
	}
	if cfg.Risk.WeightAmountFactor == 0 {
		cfg.Risk.WeightAmountFactor = DefaultWeightAmountFactor
	}
	if cfg.Risk.WeightCountryRisk == 0 {
		cfg.Risk.WeightCountryRisk = DefaultWeightCountryRisk
	}
	if cfg.Risk.HighTierCutoff == 0 {
		cfg.Risk.HighTierCutoff = DefaultHighTierCutoff
	}
	if cfg.Risk.MediumTierCutoff == 0 {
		cfg.Risk.MediumTierCutoff = DefaultMediumTierCutoff
	}
	if cfg.Risk.HighAmountThreshold == 0 {
		cfg.Risk.HighAmountThreshold = DefaultHighAmountThreshold
	}
	if cfg.Risk.MediumAmountThreshold == 0 {
		cfg.Risk.MediumAmountThreshold = DefaultMediumAmountThreshold
	}
	if cfg.Risk.VeryHighAmountThreshold == 0 {
		cfg.Risk.VeryHighAmountThreshold = DefaultVeryHighAmountThreshold
	}
	if cfg.Risk.ProhibitedCountries == nil {
		cfg.Risk.ProhibitedCountries = append([]string(nil), DefaultProhibitedCountries...)
	}
	if cfg.Risk.MonitoredCountries == nil {
		cfg.Risk.MonitoredCountries = append([]string(nil), DefaultMonitoredCountries...)
	}
	if cfg.Risk.MonitoredCountryRisk == 0 {
		cfg.Risk.MonitoredCountryRisk = DefaultMonitoredCountryRisk
	}
	if cfg.Risk.PolicyRelevanceBar == 0 {
		cfg.Risk.PolicyRelevanceBar = DefaultPolicyRelevanceBar
	}

	// Ledger defaults
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = DefaultLedgerBackend
	}
	if cfg.Ledger.SQLite.Path == "" {
		cfg.Ledger.SQLite.Path = DefaultLedgerSQLitePath
	}
	if cfg.Ledger.SQLite.MaxOpenConns == 0 {
		cfg.Ledger.SQLite.MaxOpenConns = DefaultLedgerMaxOpenConns
	}
	if cfg.Ledger.SQLite.MaxIdleConns == 0 {
		cfg.Ledger.SQLite.MaxIdleConns = DefaultLedgerMaxIdleConns
	}
	if cfg.Ledger.SQLite.BusyTimeout == 0 {
		cfg.Ledger.SQLite.BusyTimeout = DefaultLedgerBusyTimeout
	}
	if cfg.Ledger.Retention.SweepSchedule == "" {
		cfg.Ledger.Retention.SweepSchedule = DefaultRetentionSweepSchedule
	}
	if cfg.Ledger.Retention.ArchivePath == "" {
		cfg.Ledger.Retention.ArchivePath = DefaultRetentionArchivePath
	}

	// Queue defaults
	if cfg.Queue.Path == "" {
		cfg.Queue.Path = DefaultQueuePath
	}
	if cfg.Queue.LeaseDuration == 0 {
		cfg.Queue.LeaseDuration = DefaultQueueLeaseDuration
	}
	if cfg.Queue.ReapSchedule == "" {
		cfg.Queue.ReapSchedule = DefaultQueueReapSchedule
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = DefaultQueueMaxAttempts
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = DefaultQueueWorkers
	}
	if cfg.Queue.PollInterval == 0 {
		cfg.Queue.PollInterval = DefaultQueuePollInterval
	}
	if cfg.Queue.BusyTimeout == 0 {
		cfg.Queue.BusyTimeout = DefaultQueueBusyTimeout
	}
	if cfg.Queue.CheckpointInterval == 0 {
		cfg.Queue.CheckpointInterval = DefaultQueueCheckpointInterval
	}

	// Sentinel defaults
	if cfg.Sentinel.MinorThreshold == 0 {
		cfg.Sentinel.MinorThreshold = DefaultSentinelMinorThreshold
	}
	if cfg.Sentinel.ModerateThreshold == 0 {
		cfg.Sentinel.ModerateThreshold = DefaultSentinelModerateThreshold
	}

	// Ingest defaults
	if cfg.Ingest.DebounceDelay == 0 {
		cfg.Ingest.DebounceDelay = DefaultIngestDebounceDelay
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Address == "" {
		cfg.Telemetry.Metrics.Address = DefaultMetricsAddress
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
}

// applyBreakerDefaults applies defaults to a breaker section.
func applyBreakerDefaults(cfg *BreakerConfig) {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = DefaultBreakerMaxFailures
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = DefaultBreakerOpenTimeout
	}
}
