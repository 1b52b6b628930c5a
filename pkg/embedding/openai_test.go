package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"arbiter-hq/themis/pkg/config"
)

func testEmbeddingConfig(baseURL string) config.EmbeddingConfig {
	return config.EmbeddingConfig{
		Provider:   "openai",
		BaseURL:    baseURL,
		APIKey:     "test-key",
		Model:      "text-embedding-3-small",
		Dimensions: 4,
		Timeout:    5 * time.Second,
		MaxRetries: 1,
		Breaker: config.BreakerConfig{
			MaxFailures: 10,
			OpenTimeout: time.Minute,
		},
	}
}

// embeddingsHandler answers the OpenAI embeddings wire format with one
// constant vector per input.
func embeddingsHandler(attempts *int32, failFirst int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddInt32(attempts, 1)
		if count <= failFirst {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error": {"message": "upstream overloaded"}}`))
			return
		}

		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		data := make([]map[string]interface{}, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{0.1, 0.2, 0.3, float32(i)},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"model":  "text-embedding-3-small",
			"usage":  map[string]int{"prompt_tokens": 5, "total_tokens": 5},
		})
	}
}

func TestOpenAIEmbedder_Success(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(embeddingsHandler(&attempts, 0))
	defer server.Close()

	e, err := NewOpenAIEmbedder(testEmbeddingConfig(server.URL + "/v1"))
	if err != nil {
		t.Fatalf("NewOpenAIEmbedder failed: %v", err)
	}

	vectors, err := e.Embed(context.Background(), []string{"first text", "second text"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}
	if vectors[0][3] != 0 || vectors[1][3] != 1 {
		t.Errorf("vectors not in input order: %v, %v", vectors[0], vectors[1])
	}
}

func TestOpenAIEmbedder_RetryOn5xx(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(embeddingsHandler(&attempts, 1))
	defer server.Close()

	e, err := NewOpenAIEmbedder(testEmbeddingConfig(server.URL + "/v1"))
	if err != nil {
		t.Fatalf("NewOpenAIEmbedder failed: %v", err)
	}

	vectors, err := e.Embed(context.Background(), []string{"some text"})
	if err != nil {
		t.Fatalf("expected success after retry, got: %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("got %d vectors, want 1", len(vectors))
	}
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("expected 2 attempts (1 failure + 1 success), got %d", got)
	}
}

func TestOpenAIEmbedder_BreakerOpensAfterSustainedFailures(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "down"}}`))
	}))
	defer server.Close()

	cfg := testEmbeddingConfig(server.URL + "/v1")
	cfg.MaxRetries = 0
	cfg.Breaker.MaxFailures = 2

	e, err := NewOpenAIEmbedder(cfg)
	if err != nil {
		t.Fatalf("NewOpenAIEmbedder failed: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := e.Embed(ctx, []string{"text"}); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}

	before := atomic.LoadInt32(&attempts)
	_, err = e.Embed(ctx, []string{"text"})
	if err == nil {
		t.Fatal("expected breaker-open failure")
	}
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected gobreaker.ErrOpenState, got: %v", err)
	}
	if after := atomic.LoadInt32(&attempts); after != before {
		t.Errorf("open breaker still reached the server: %d -> %d attempts", before, after)
	}
}

func TestOpenAIEmbedder_RequiresAPIKey(t *testing.T) {
	cfg := testEmbeddingConfig("http://localhost:1")
	cfg.APIKey = ""
	if _, err := NewOpenAIEmbedder(cfg); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestOpenAIEmbedder_EmptyInput(t *testing.T) {
	e, err := NewOpenAIEmbedder(testEmbeddingConfig("http://localhost:1"))
	if err != nil {
		t.Fatalf("NewOpenAIEmbedder failed: %v", err)
	}
	if _, err := e.Embed(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestNewFromConfig_ProviderSelection(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		wantErr  bool
	}{
		{"local", "local", false},
		{"openai", "openai", false},
		{"unknown", "milvus", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testEmbeddingConfig("http://localhost:1")
			cfg.Provider = tt.provider

			e, err := NewFromConfig(cfg)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for provider %q", tt.provider)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewFromConfig failed: %v", err)
			}
			if e.Dimensions() != cfg.Dimensions {
				t.Errorf("Dimensions() = %d, want %d", e.Dimensions(), cfg.Dimensions)
			}
		})
	}
}
