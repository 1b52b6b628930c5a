package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/config"
)

// OpenAIEmbedder calls an OpenAI-compatible embeddings API. Transient
// failures are retried with exponential backoff; sustained failures open a
// circuit breaker so callers fail fast instead of queueing behind a dead
// endpoint.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dims       int
	timeout    time.Duration
	maxRetries int
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewOpenAIEmbedder creates an embedder for the configured API endpoint.
func NewOpenAIEmbedder(cfg config.EmbeddingConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, compliance.NewInputError("embedding.api_key", "required for the openai provider")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	logger := slog.Default().With("component", "embedding.openai")

	settings := gobreaker.Settings{
		Name:    "embedding",
		Timeout: cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.Breaker.MaxFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	}

	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dims:       cfg.Dimensions,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		breaker:    gobreaker.NewCircuitBreaker(settings),
		logger:     logger,
	}, nil
}

// Dimensions returns the configured vector width.
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// Embed requests embeddings for all texts in a single batch. The call is
// bounded by the configured timeout regardless of retries.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, compliance.NewInputError("texts", "must not be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var vectors [][]float32
	operation := func() error {
		result, err := e.breaker.Execute(func() (interface{}, error) {
			return e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
				Input:      texts,
				Model:      e.model,
				Dimensions: e.dims,
			})
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			return err
		}

		resp := result.(openai.EmbeddingResponse)
		if len(resp.Data) != len(texts) {
			return backoff.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
		}

		vectors = make([][]float32, len(texts))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(vectors) {
				return backoff.Permanent(fmt.Errorf("embedding index %d out of range", d.Index))
			}
			vectors[d.Index] = d.Embedding
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(e.maxRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}

	return vectors, nil
}
