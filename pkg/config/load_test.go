package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "chunking: [not a mapping")
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadConfig_DefaultsForOmittedFields(t *testing.T) {
	path := writeConfigFile(t, `
chunking:
  target_words: 200
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Chunking.TargetWords != 200 {
		t.Errorf("target words = %d, want 200", cfg.Chunking.TargetWords)
	}
	if cfg.Chunking.OverlapWords != DefaultChunkOverlapWords {
		t.Errorf("omitted overlap should default: got %d", cfg.Chunking.OverlapWords)
	}
	if cfg.VectorStore.Backend != DefaultVectorBackend {
		t.Errorf("omitted backend should default: got %q", cfg.VectorStore.Backend)
	}
	if !cfg.Sentinel.Enabled {
		t.Error("omitted sentinel.enabled should default to true")
	}
}

func TestLoadConfig_ExplicitFalseSurvives(t *testing.T) {
	path := writeConfigFile(t, `
sentinel:
  enabled: false
telemetry:
  metrics:
    enabled: false
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Sentinel.Enabled {
		t.Error("explicit sentinel.enabled=false was overridden")
	}
	if cfg.Telemetry.Metrics.Enabled {
		t.Error("explicit metrics.enabled=false was overridden")
	}
}

func TestLoadConfig_FullSections(t *testing.T) {
	path := writeConfigFile(t, `
engine:
  evaluation_timeout: 45s
  fallback_confidence_ceiling: 0.5
embedding:
  provider: openai
  api_key: test-key
  model: text-embedding-3-large
  dimensions: 1024
reasoner:
  provider: openai
  api_key: test-key
  model: gpt-4o
  temperature: 0.2
risk:
  prohibited_countries: ["Iran", "Syria"]
  monitored_countries: ["Pakistan"]
queue:
  lease_duration: 10m
  workers: 4
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Engine.EvaluationTimeout != 45*time.Second {
		t.Errorf("evaluation timeout = %v", cfg.Engine.EvaluationTimeout)
	}
	if cfg.Engine.FallbackConfidenceCeiling != 0.5 {
		t.Errorf("confidence ceiling = %v", cfg.Engine.FallbackConfidenceCeiling)
	}
	if cfg.Embedding.Model != "text-embedding-3-large" || cfg.Embedding.Dimensions != 1024 {
		t.Errorf("embedding section not applied: %+v", cfg.Embedding)
	}
	if cfg.Reasoner.Model != "gpt-4o" {
		t.Errorf("reasoner model = %q", cfg.Reasoner.Model)
	}
	if len(cfg.Risk.ProhibitedCountries) != 2 {
		t.Errorf("prohibited countries = %v", cfg.Risk.ProhibitedCountries)
	}
	if cfg.Queue.LeaseDuration != 10*time.Minute || cfg.Queue.Workers != 4 {
		t.Errorf("queue section not applied: %+v", cfg.Queue)
	}
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	path := writeConfigFile(t, `
chunking:
  target_words: 100
  overlap_words: 150
`)
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected validation failure for overlap >= target")
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
reasoner:
  provider: openai
  api_key: file-key
`)

	t.Setenv("THEMIS_REASONER_API_KEY", "env-key")
	t.Setenv("THEMIS_VECTOR_STORE_BACKEND", "memory")
	t.Setenv("THEMIS_QUEUE_WORKERS", "7")
	t.Setenv("THEMIS_SENTINEL_ENABLED", "false")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides: %v", err)
	}

	if cfg.Reasoner.APIKey != "env-key" {
		t.Errorf("env override should win: got %q", cfg.Reasoner.APIKey)
	}
	if cfg.VectorStore.Backend != "memory" {
		t.Errorf("backend = %q, want memory", cfg.VectorStore.Backend)
	}
	if cfg.Queue.Workers != 7 {
		t.Errorf("workers = %d, want 7", cfg.Queue.Workers)
	}
	if cfg.Sentinel.Enabled {
		t.Error("sentinel should be disabled via env")
	}
}
