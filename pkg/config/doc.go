// Package config provides configuration loading, validation, and defaults for
// the Themis compliance decision engine.
//
// Configuration is defined in YAML and organized into sections mirroring the
// engine's components: chunking, embedding, reasoner, vector store, retrieval,
// risk scoring, ledger, queue, sentinel, ingest, and telemetry.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("config.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention THEMIS_SECTION_FIELD.
// For example:
//
//   - THEMIS_REASONER_API_KEY overrides reasoner.api_key
//   - THEMIS_VECTOR_STORE_BACKEND overrides vector_store.backend
//   - THEMIS_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// Environment variables always take precedence over file-based configuration.
//
// # Defaults and Validation
//
// Every field has a documented default applied by ApplyDefaults. Validation
// collects all problems before returning, so a broken file reports every
// offending field at once:
//
//	var cfg config.Config
//	config.ApplyDefaults(&cfg)
//	if err := config.Validate(&cfg); err != nil {
//	    // err is a ValidationError listing each bad field
//	}
//
// # Tunable Scoring Parameters
//
// The risk weights, tier cutoffs, amount thresholds, and jurisdiction lists
// that drive scoring all live here so deployments can tune them without code
// changes; the shipped defaults reproduce the documented scoring behavior.
package config
