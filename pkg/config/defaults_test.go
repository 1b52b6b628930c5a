package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)

	if cfg.Engine.EvaluationTimeout != DefaultEvaluationTimeout {
		t.Errorf("evaluation timeout = %v, want %v", cfg.Engine.EvaluationTimeout, DefaultEvaluationTimeout)
	}
	if cfg.Chunking.TargetWords != DefaultChunkTargetWords {
		t.Errorf("target words = %d, want %d", cfg.Chunking.TargetWords, DefaultChunkTargetWords)
	}
	if cfg.Chunking.OverlapWords != DefaultChunkOverlapWords {
		t.Errorf("overlap words = %d, want %d", cfg.Chunking.OverlapWords, DefaultChunkOverlapWords)
	}
	if cfg.Embedding.Provider != DefaultEmbeddingProvider {
		t.Errorf("embedding provider = %q, want %q", cfg.Embedding.Provider, DefaultEmbeddingProvider)
	}
	if cfg.Embedding.Dimensions != DefaultEmbeddingDimensions {
		t.Errorf("embedding dimensions = %d, want %d", cfg.Embedding.Dimensions, DefaultEmbeddingDimensions)
	}
	if cfg.Reasoner.MaxTokens != DefaultReasonerMaxTokens {
		t.Errorf("reasoner max tokens = %d, want %d", cfg.Reasoner.MaxTokens, DefaultReasonerMaxTokens)
	}
	if cfg.VectorStore.Backend != DefaultVectorBackend {
		t.Errorf("vector backend = %q, want %q", cfg.VectorStore.Backend, DefaultVectorBackend)
	}
	if cfg.Retrieval.PolicyTopK != DefaultPolicyTopK {
		t.Errorf("policy top K = %d, want %d", cfg.Retrieval.PolicyTopK, DefaultPolicyTopK)
	}
	if cfg.Queue.LeaseDuration != DefaultQueueLeaseDuration {
		t.Errorf("lease duration = %v, want %v", cfg.Queue.LeaseDuration, DefaultQueueLeaseDuration)
	}
	if cfg.Sentinel.MinorThreshold != DefaultSentinelMinorThreshold {
		t.Errorf("minor threshold = %v, want %v", cfg.Sentinel.MinorThreshold, DefaultSentinelMinorThreshold)
	}
}

func TestApplyDefaults_RiskWeights(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)

	sum := cfg.Risk.WeightPolicyMatch + cfg.Risk.WeightCaseSimilarity +
		cfg.Risk.WeightAmountFactor + cfg.Risk.WeightCountryRisk
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("default risk weights sum to %v, want 1.0", sum)
	}
	if cfg.Risk.HighTierCutoff != 0.75 {
		t.Errorf("high tier cutoff = %v, want 0.75", cfg.Risk.HighTierCutoff)
	}
	if cfg.Risk.MediumTierCutoff != 0.45 {
		t.Errorf("medium tier cutoff = %v, want 0.45", cfg.Risk.MediumTierCutoff)
	}
	if len(cfg.Risk.ProhibitedCountries) == 0 {
		t.Error("default prohibited country list should not be empty")
	}
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)
	first := cfg

	ApplyDefaults(&cfg)
	if cfg.Engine.EvaluationTimeout != first.Engine.EvaluationTimeout ||
		cfg.Chunking.TargetWords != first.Chunking.TargetWords ||
		cfg.Risk.HighTierCutoff != first.Risk.HighTierCutoff {
		t.Error("ApplyDefaults is not idempotent")
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := Config{}
	cfg.Engine.EvaluationTimeout = 5 * time.Second
	cfg.Chunking.TargetWords = 300
	cfg.Risk.ProhibitedCountries = []string{"Atlantis"}

	ApplyDefaults(&cfg)

	if cfg.Engine.EvaluationTimeout != 5*time.Second {
		t.Errorf("explicit timeout overwritten: %v", cfg.Engine.EvaluationTimeout)
	}
	if cfg.Chunking.TargetWords != 300 {
		t.Errorf("explicit target words overwritten: %d", cfg.Chunking.TargetWords)
	}
	if len(cfg.Risk.ProhibitedCountries) != 1 || cfg.Risk.ProhibitedCountries[0] != "Atlantis" {
		t.Errorf("explicit country list overwritten: %v", cfg.Risk.ProhibitedCountries)
	}
}

func TestDefaultConfig_BoolDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Sentinel.Enabled {
		t.Error("sentinel should be enabled by default")
	}
	if !cfg.Telemetry.Metrics.Enabled {
		t.Error("metrics should be enabled by default")
	}
	if !cfg.Telemetry.Logging.RedactParties {
		t.Error("party redaction should be enabled by default")
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Errorf("default configuration should validate cleanly, got: %v", err)
	}
}
