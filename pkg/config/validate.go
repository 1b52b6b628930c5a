package config

import (
	"fmt"
	"net/url"
	"strings"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "risk.high_tier_cutoff").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateEngine(&cfg.Engine)...)
	errs = append(errs, validateChunking(&cfg.Chunking)...)
	errs = append(errs, validateEmbedding(&cfg.Embedding)...)
	errs = append(errs, validateReasoner(&cfg.Reasoner)...)
	errs = append(errs, validateVectorStore(&cfg.VectorStore)...)
	errs = append(errs, validateRetrieval(&cfg.Retrieval)...)
	errs = append(errs, validateRisk(&cfg.Risk)...)
	errs = append(errs, validateLedger(&cfg.Ledger)...)
	errs = append(errs, validateQueue(&cfg.Queue)...)
	errs = append(errs, validateSentinel(&cfg.Sentinel)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateEngine validates engine configuration.
func validateEngine(cfg *EngineConfig) []FieldError {
	var errs []FieldError

	if cfg.EvaluationTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "engine.evaluation_timeout",
			Message: "evaluation timeout must be positive",
		})
	}
	if cfg.FallbackConfidenceCeiling <= 0 || cfg.FallbackConfidenceCeiling > 1 {
		errs = append(errs, FieldError{
			Field:   "engine.fallback_confidence_ceiling",
			Message: "fallback confidence ceiling must be in (0, 1]",
		})
	}

	return errs
}

// validateChunking validates chunking configuration.
func validateChunking(cfg *ChunkingConfig) []FieldError {
	var errs []FieldError

	if cfg.TargetWords <= 0 {
		errs = append(errs, FieldError{
			Field:   "chunking.target_words",
			Message: "target words must be positive",
		})
	}
	if cfg.OverlapWords < 0 {
		errs = append(errs, FieldError{
			Field:   "chunking.overlap_words",
			Message: "overlap words must be non-negative",
		})
	}
	// Overlap must be strictly below chunk length or chunking never advances.
	if cfg.TargetWords > 0 && cfg.OverlapWords >= cfg.TargetWords {
		errs = append(errs, FieldError{
			Field:   "chunking.overlap_words",
			Message: fmt.Sprintf("overlap words (%d) must be strictly less than target words (%d)", cfg.OverlapWords, cfg.TargetWords),
		})
	}
	if cfg.MinDocumentWords < 0 {
		errs = append(errs, FieldError{
			Field:   "chunking.min_document_words",
			Message: "minimum document words must be non-negative",
		})
	}

	return errs
}

// validateEmbedding validates embedding configuration.
func validateEmbedding(cfg *EmbeddingConfig) []FieldError {
	var errs []FieldError

	switch cfg.Provider {
	case "openai", "local":
	default:
		errs = append(errs, FieldError{
			Field:   "embedding.provider",
			Message: fmt.Sprintf("unknown provider %q (expected \"openai\" or \"local\")", cfg.Provider),
		})
	}
	if cfg.Provider == "openai" && cfg.APIKey == "" {
		errs = append(errs, FieldError{
			Field:   "embedding.api_key",
			Message: "api key is required for the openai provider",
		})
	}
	if cfg.BaseURL != "" {
		if _, err := url.Parse(cfg.BaseURL); err != nil {
			errs = append(errs, FieldError{
				Field:   "embedding.base_url",
				Message: fmt.Sprintf("invalid URL: %v", err),
			})
		}
	}
	if cfg.Dimensions <= 0 {
		errs = append(errs, FieldError{
			Field:   "embedding.dimensions",
			Message: "dimensions must be positive",
		})
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "embedding.timeout",
			Message: "timeout must be positive",
		})
	}
	errs = append(errs, validateBreaker("embedding.breaker", &cfg.Breaker)...)

	return errs
}

// validateReasoner validates reasoner configuration.
func validateReasoner(cfg *ReasonerConfig) []FieldError {
	var errs []FieldError

	switch cfg.Provider {
	case "openai", "none":
	default:
		errs = append(errs, FieldError{
			Field:   "reasoner.provider",
			Message: fmt.Sprintf("unknown provider %q (expected \"openai\" or \"none\")", cfg.Provider),
		})
	}
	if cfg.Provider == "openai" && cfg.APIKey == "" {
		errs = append(errs, FieldError{
			Field:   "reasoner.api_key",
			Message: "api key is required for the openai provider",
		})
	}
	if cfg.BaseURL != "" {
		if _, err := url.Parse(cfg.BaseURL); err != nil {
			errs = append(errs, FieldError{
				Field:   "reasoner.base_url",
				Message: fmt.Sprintf("invalid URL: %v", err),
			})
		}
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		errs = append(errs, FieldError{
			Field:   "reasoner.temperature",
			Message: "temperature must be in [0, 2]",
		})
	}
	if cfg.MaxTokens <= 0 {
		errs = append(errs, FieldError{
			Field:   "reasoner.max_tokens",
			Message: "max tokens must be positive",
		})
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "reasoner.timeout",
			Message: "timeout must be positive",
		})
	}
	errs = append(errs, validateBreaker("reasoner.breaker", &cfg.Breaker)...)

	return errs
}

// validateBreaker validates a circuit breaker section.
func validateBreaker(prefix string, cfg *BreakerConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxFailures <= 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".max_failures",
			Message: "max failures must be positive",
		})
	}
	if cfg.OpenTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".open_timeout",
			Message: "open timeout must be positive",
		})
	}

	return errs
}

// validateVectorStore validates vector store configuration.
func validateVectorStore(cfg *VectorStoreConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "vector_store.sqlite.path",
				Message: "path is required for the sqlite backend",
			})
		}
	case "pgvector":
		if cfg.Pgvector.Host == "" {
			errs = append(errs, FieldError{
				Field:   "vector_store.pgvector.host",
				Message: "host is required for the pgvector backend",
			})
		}
		if cfg.Pgvector.Database == "" {
			errs = append(errs, FieldError{
				Field:   "vector_store.pgvector.database",
				Message: "database is required for the pgvector backend",
			})
		}
		if cfg.Pgvector.User == "" {
			errs = append(errs, FieldError{
				Field:   "vector_store.pgvector.user",
				Message: "user is required for the pgvector backend",
			})
		}
		switch cfg.Pgvector.SSLMode {
		case "disable", "require", "verify-ca", "verify-full":
		default:
			errs = append(errs, FieldError{
				Field:   "vector_store.pgvector.ssl_mode",
				Message: fmt.Sprintf("unknown ssl mode %q", cfg.Pgvector.SSLMode),
			})
		}
	case "memory":
	default:
		errs = append(errs, FieldError{
			Field:   "vector_store.backend",
			Message: fmt.Sprintf("unknown backend %q (expected \"sqlite\", \"pgvector\", or \"memory\")", cfg.Backend),
		})
	}

	return errs
}

// validateRetrieval validates retrieval configuration.
func validateRetrieval(cfg *RetrievalConfig) []FieldError {
	var errs []FieldError

	if cfg.PolicyTopK <= 0 {
		errs = append(errs, FieldError{
			Field:   "retrieval.policy_top_k",
			Message: "policy top K must be positive",
		})
	}
	if cfg.CaseTopK <= 0 {
		errs = append(errs, FieldError{
			Field:   "retrieval.case_top_k",
			Message: "case top K must be positive",
		})
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "retrieval.timeout",
			Message: "timeout must be positive",
		})
	}

	return errs
}

// validateRisk validates risk scoring configuration.
func validateRisk(cfg *RiskConfig) []FieldError {
	var errs []FieldError

	weights := []struct {
		field string
		value float64
	}{
		{"risk.weight_policy_match", cfg.WeightPolicyMatch},
		{"risk.weight_case_similarity", cfg.WeightCaseSimilarity},
		{"risk.weight_amount_factor", cfg.WeightAmountFactor},
		{"risk.weight_country_risk", cfg.WeightCountryRisk},
	}
	for _, w := range weights {
		if w.value < 0 || w.value > 1 {
			errs = append(errs, FieldError{
				Field:   w.field,
				Message: "weight must be in [0, 1]",
			})
		}
	}

	if cfg.HighTierCutoff <= 0 || cfg.HighTierCutoff > 1 {
		errs = append(errs, FieldError{
			Field:   "risk.high_tier_cutoff",
			Message: "high tier cutoff must be in (0, 1]",
		})
	}
	if cfg.MediumTierCutoff <= 0 || cfg.MediumTierCutoff >= cfg.HighTierCutoff {
		errs = append(errs, FieldError{
			Field:   "risk.medium_tier_cutoff",
			Message: "medium tier cutoff must be positive and below the high tier cutoff",
		})
	}

	if cfg.HighAmountThreshold <= 0 {
		errs = append(errs, FieldError{
			Field:   "risk.high_amount_threshold",
			Message: "high amount threshold must be positive",
		})
	}
	if cfg.MediumAmountThreshold <= 0 || cfg.MediumAmountThreshold >= cfg.HighAmountThreshold {
		errs = append(errs, FieldError{
			Field:   "risk.medium_amount_threshold",
			Message: "medium amount threshold must be positive and below the high amount threshold",
		})
	}
	if cfg.VeryHighAmountThreshold <= cfg.HighAmountThreshold {
		errs = append(errs, FieldError{
			Field:   "risk.very_high_amount_threshold",
			Message: "very high amount threshold must exceed the high amount threshold",
		})
	}

	if cfg.MonitoredCountryRisk < 0 || cfg.MonitoredCountryRisk > 1 {
		errs = append(errs, FieldError{
			Field:   "risk.monitored_country_risk",
			Message: "monitored country risk must be in [0, 1]",
		})
	}
	if cfg.PolicyRelevanceBar < 0 || cfg.PolicyRelevanceBar > 1 {
		errs = append(errs, FieldError{
			Field:   "risk.policy_relevance_bar",
			Message: "policy relevance bar must be in [0, 1]",
		})
	}

	return errs
}

// validateLedger validates ledger configuration.
func validateLedger(cfg *LedgerConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "ledger.sqlite.path",
				Message: "path is required for the sqlite backend",
			})
		}
	case "memory":
	default:
		errs = append(errs, FieldError{
			Field:   "ledger.backend",
			Message: fmt.Sprintf("unknown backend %q (expected \"sqlite\" or \"memory\")", cfg.Backend),
		})
	}

	if cfg.Retention.Days < 0 {
		errs = append(errs, FieldError{
			Field:   "ledger.retention.days",
			Message: "retention days must be non-negative (0 keeps everything)",
		})
	}
	if cfg.Retention.Days > 0 && cfg.Retention.SweepSchedule == "" {
		errs = append(errs, FieldError{
			Field:   "ledger.retention.sweep_schedule",
			Message: "sweep schedule is required when retention is enabled",
		})
	}

	return errs
}

// validateQueue validates queue configuration.
func validateQueue(cfg *QueueConfig) []FieldError {
	var errs []FieldError

	if cfg.Path == "" {
		errs = append(errs, FieldError{
			Field:   "queue.path",
			Message: "path is required",
		})
	}
	if cfg.LeaseDuration <= 0 {
		errs = append(errs, FieldError{
			Field:   "queue.lease_duration",
			Message: "lease duration must be positive",
		})
	}
	if cfg.MaxAttempts < 1 {
		errs = append(errs, FieldError{
			Field:   "queue.max_attempts",
			Message: "max attempts must be at least 1",
		})
	}
	if cfg.Workers < 1 {
		errs = append(errs, FieldError{
			Field:   "queue.workers",
			Message: "workers must be at least 1",
		})
	}
	if cfg.PollInterval <= 0 {
		errs = append(errs, FieldError{
			Field:   "queue.poll_interval",
			Message: "poll interval must be positive",
		})
	}

	return errs
}

// validateSentinel validates sentinel configuration.
func validateSentinel(cfg *SentinelConfig) []FieldError {
	var errs []FieldError

	if cfg.MinorThreshold <= 0 || cfg.MinorThreshold > 1 {
		errs = append(errs, FieldError{
			Field:   "sentinel.minor_threshold",
			Message: "minor threshold must be in (0, 1]",
		})
	}
	if cfg.ModerateThreshold <= 0 || cfg.ModerateThreshold >= cfg.MinorThreshold {
		errs = append(errs, FieldError{
			Field:   "sentinel.moderate_threshold",
			Message: "moderate threshold must be positive and below the minor threshold",
		})
	}

	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("unknown log level %q", cfg.Logging.Level),
		})
	}

	switch cfg.Logging.Format {
	case "json", "text", "console":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("unknown log format %q", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Address == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.address",
			Message: "address is required when metrics are enabled",
		})
	}

	return errs
}
