// Package embedding produces dense vector representations of text for
// similarity search. Two providers are available: an OpenAI-compatible API
// client, and a deterministic in-process feature hasher used in demo mode
// and in environments with no embedding service.
package embedding

import (
	"context"
	"fmt"

	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/config"
)

// Embedder converts texts into fixed-dimension vectors. Implementations must
// return one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// NewFromConfig builds the Embedder named by the configuration.
func NewFromConfig(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbedder(cfg)
	case "local":
		return NewHashEmbedder(cfg.Dimensions), nil
	default:
		return nil, compliance.NewInputError("embedding.provider",
			fmt.Sprintf("unknown provider %q", cfg.Provider))
	}
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 vector, got %d", len(vectors))
	}
	return vectors[0], nil
}
