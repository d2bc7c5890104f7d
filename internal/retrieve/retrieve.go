// Package retrieve selects the corpus passages most relevant to a user
// query. Retrieval is best-effort: any failure along the path (no index,
// embedding outage, search error) degrades to an empty result so the
// conversation can continue without grounding context.
package retrieve

import (
	"context"
	"errors"
	"log/slog"

	"github.com/officebrain/officebrain/internal/vecindex"
)

// IndexProvider supplies the current vector index.
type IndexProvider interface {
	Index(ctx context.Context) (*vecindex.Index, error)
}

// Embedder turns a query into a vector in the index's embedding space.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config carries the dependencies for a Retriever.
type Config struct {
	Provider IndexProvider
	Embedder Embedder
	TopK     int
	Logger   *slog.Logger
}

// Retriever answers "which passages are relevant to this query".
type Retriever struct {
	provider IndexProvider
	embedder Embedder
	topK     int
	logger   *slog.Logger
}

func New(cfg Config) (*Retriever, error) {
	if cfg.Provider == nil {
		return nil, errors.New("index provider is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if cfg.TopK <= 0 {
		return nil, errors.New("top-k must be positive")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Retriever{
		provider: cfg.Provider,
		embedder: cfg.Embedder,
		topK:     cfg.TopK,
		logger:   cfg.Logger,
	}, nil
}

// Retrieve returns the texts of the passages most similar to query, ordered
// by descending relevance, at most top-k of them. Failures are logged and
// reported as an empty result, never as an error.
func (r *Retriever) Retrieve(ctx context.Context, query string) []string {
	idx, err := r.provider.Index(ctx)
	if err != nil {
		if errors.Is(err, vecindex.ErrIndexUnavailable) {
			r.logger.Debug("retrieval skipped, no index available")
		} else {
			r.logger.Warn("retrieval skipped, index error", "error", err)
		}
		return nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("retrieval skipped, query embedding failed", "error", err)
		return nil
	}

	hits, err := idx.Search(vec, r.topK)
	if err != nil {
		r.logger.Warn("retrieval skipped, search failed", "error", err)
		return nil
	}

	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Passage.Text
	}
	return texts
}
