// Package retrieval answers similarity queries over the active policy corpus
// and the historical case collection. A failed or timed-out retrieval is
// reported as an explicit unavailable error, never as an empty result, so
// callers can tell "no matches" apart from "service down".
package retrieval

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/config"
	"arbiter-hq/themis/pkg/embedding"
	"arbiter-hq/themis/pkg/vecstore"
)

// Evidence bundles what one retrieval round produced for an evaluation.
// Both slices are present and possibly empty, never nil.
type Evidence struct {
	Policies []vecstore.ChunkHit
	Cases    []vecstore.CaseHit
}

// Retriever embeds query text and searches the vector store. Scores are
// clamped to [0,1] so downstream risk math can treat them as relevance.
type Retriever struct {
	embedder embedding.Embedder
	vectors  vecstore.VectorStore
	cfg      config.RetrievalConfig
	logger   *slog.Logger
}

// NewRetriever wires a Retriever from its collaborators.
func NewRetriever(emb embedding.Embedder, vs vecstore.VectorStore, cfg config.RetrievalConfig) *Retriever {
	if cfg.PolicyTopK <= 0 {
		cfg.PolicyTopK = 5
	}
	if cfg.CaseTopK <= 0 {
		cfg.CaseTopK = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Retriever{
		embedder: emb,
		vectors:  vs,
		cfg:      cfg,
		logger:   slog.Default().With("component", "retrieval"),
	}
}

// Retrieve runs one full retrieval round for an evaluation: the query text
// is embedded once, then active policy chunks and similar cases are searched
// in parallel under a single deadline. Any failure inside the round is
// mapped to a RetrievalUnavailableError.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, topic compliance.Topic) (*Evidence, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	vector, err := embedding.EmbedOne(ctx, r.embedder, queryText)
	if err != nil {
		return nil, compliance.NewRetrievalUnavailableError("embedding", err)
	}

	ev := &Evidence{
		Policies: []vecstore.ChunkHit{},
		Cases:    []vecstore.CaseHit{},
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := r.vectors.SearchChunks(ctx, vector, vecstore.ChunkFilter{
			ActiveOnly: true,
			Topic:      topic,
		}, r.cfg.PolicyTopK)
		if err != nil {
			return err
		}
		ev.Policies = clampChunkScores(hits)
		return nil
	})
	g.Go(func() error {
		hits, err := r.vectors.SearchCases(ctx, vector, r.cfg.CaseTopK)
		if err != nil {
			return err
		}
		ev.Cases = clampCaseScores(hits)
		return nil
	})
	if err := g.Wait(); err != nil {
		r.logger.Warn("retrieval round failed", "topic", topic, "error", err)
		return nil, compliance.NewRetrievalUnavailableError("vecstore", err)
	}

	r.logger.Debug("retrieval round complete",
		"topic", topic,
		"policies", len(ev.Policies),
		"cases", len(ev.Cases))
	return ev, nil
}

// Policies searches active policy chunks only. Used by compliance query
// answering and the CLI, where case history is not wanted.
func (r *Retriever) Policies(ctx context.Context, queryText string, topic compliance.Topic, topK int) ([]vecstore.ChunkHit, error) {
	if topK <= 0 {
		topK = r.cfg.PolicyTopK
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	vector, err := embedding.EmbedOne(ctx, r.embedder, queryText)
	if err != nil {
		return nil, compliance.NewRetrievalUnavailableError("embedding", err)
	}
	hits, err := r.vectors.SearchChunks(ctx, vector, vecstore.ChunkFilter{
		ActiveOnly: true,
		Topic:      topic,
	}, topK)
	if err != nil {
		return nil, compliance.NewRetrievalUnavailableError("vecstore", err)
	}
	return clampChunkScores(hits), nil
}

// SimilarCases searches the case collection.
func (r *Retriever) SimilarCases(ctx context.Context, queryText string, topK int) ([]vecstore.CaseHit, error) {
	if topK <= 0 {
		topK = r.cfg.CaseTopK
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	vector, err := embedding.EmbedOne(ctx, r.embedder, queryText)
	if err != nil {
		return nil, compliance.NewRetrievalUnavailableError("embedding", err)
	}
	hits, err := r.vectors.SearchCases(ctx, vector, topK)
	if err != nil {
		return nil, compliance.NewRetrievalUnavailableError("vecstore", err)
	}
	return clampCaseScores(hits), nil
}

func clampChunkScores(hits []vecstore.ChunkHit) []vecstore.ChunkHit {
	out := make([]vecstore.ChunkHit, len(hits))
	for i, h := range hits {
		h.Score = clamp01(h.Score)
		out[i] = h
	}
	return out
}

func clampCaseScores(hits []vecstore.CaseHit) []vecstore.CaseHit {
	out := make([]vecstore.CaseHit, len(hits))
	for i, h := range hits {
		h.Score = clamp01(h.Score)
		out[i] = h
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
