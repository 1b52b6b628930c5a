package config

import "time"

// ConfigBuilder provides a fluent API for building Config instances in tests.
// It starts with the documented defaults and allows selective overrides.
type ConfigBuilder struct {
	cfg Config
}

// NewTestConfig creates a new ConfigBuilder with sensible defaults for testing.
// The resulting configuration is valid and can be used immediately.
func NewTestConfig() *ConfigBuilder {
	return &ConfigBuilder{cfg: *DefaultConfig()}
}

// Build returns the built Config instance.
func (b *ConfigBuilder) Build() *Config {
	return &b.cfg
}

// WithVectorBackend sets the vector store backend.
func (b *ConfigBuilder) WithVectorBackend(backend string) *ConfigBuilder {
	b.cfg.VectorStore.Backend = backend
	return b
}

// WithLedgerBackend sets the ledger storage backend.
func (b *ConfigBuilder) WithLedgerBackend(backend string) *ConfigBuilder {
	b.cfg.Ledger.Backend = backend
	return b
}

// WithEvaluationTimeout sets the engine evaluation timeout.
func (b *ConfigBuilder) WithEvaluationTimeout(d time.Duration) *ConfigBuilder {
	b.cfg.Engine.EvaluationTimeout = d
	return b
}

// WithRiskWeights sets the four risk scoring weights.
func (b *ConfigBuilder) WithRiskWeights(policy, cases, amount, country float64) *ConfigBuilder {
	b.cfg.Risk.WeightPolicyMatch = policy
	b.cfg.Risk.WeightCaseSimilarity = cases
	b.cfg.Risk.WeightAmountFactor = amount
	b.cfg.Risk.WeightCountryRisk = country
	return b
}

// WithProhibitedCountries replaces the prohibited jurisdiction list.
func (b *ConfigBuilder) WithProhibitedCountries(countries ...string) *ConfigBuilder {
	b.cfg.Risk.ProhibitedCountries = countries
	return b
}

// WithSentinelEnabled toggles automatic re-evaluation enqueueing.
func (b *ConfigBuilder) WithSentinelEnabled(enabled bool) *ConfigBuilder {
	b.cfg.Sentinel.Enabled = enabled
	return b
}
