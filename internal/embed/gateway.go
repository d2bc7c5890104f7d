// Package embed adapts the external embedding service to the rest of the
// application. The gateway is a pure interface adapter: callers see text in,
// fixed-dimension vectors out, and a single sentinel error for every failure
// mode of the underlying service.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// ErrEmbeddingService indicates the embedding service failed (transport,
// quota, timeout). Index builds treat this as a hard failure; the chat path
// degrades retrieval to empty instead.
var ErrEmbeddingService = errors.New("embedding service error")

// maxBatchSize caps the number of documents per embedding request. The
// provider rejects oversized batches, so EmbedBatch splits its input.
const maxBatchSize = 100

// Config contains the parameters for a Gateway.
type Config struct {
	Embedder  ai.Embedder
	Dimension int32         // requested output dimensionality, constant per index
	Timeout   time.Duration // per-request bound; zero means 30s
	Limiter   *rate.Limiter // nil = default 5 req/s, burst 10
	Logger    *slog.Logger  // nil = slog.Default()
}

// Gateway maps text to embedding vectors via the configured ai.Embedder.
// It batches, rate-limits, and bounds every request with a timeout.
//
// Gateway is stateless from the caller's perspective and safe for concurrent use.
type Gateway struct {
	embedder ai.Embedder
	dim      int32
	timeout  time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewGateway creates a Gateway.
func NewGateway(cfg Config) (*Gateway, error) {
	if cfg.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", cfg.Dimension)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(5, 10)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		embedder: cfg.Embedder,
		dim:      cfg.Dimension,
		timeout:  timeout,
		limiter:  limiter,
		logger:   logger,
	}, nil
}

// Dimension returns the vector dimension produced by this gateway.
func (g *Gateway) Dimension() int { return int(g.dim) }

// Embed maps a single text to its embedding vector.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch maps texts to embedding vectors, one per input, in input order.
// Inputs are split into provider-sized requests. Any failure aborts the whole
// batch: a partially embedded result is never returned.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := min(start+maxBatchSize, len(texts))
		batch, err := g.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// embedOnce issues one embedding request for up to maxBatchSize texts.
func (g *Gateway) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", ErrEmbeddingService, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	dim := g.dim
	resp, err := g.embedder.Embed(reqCtx, &ai.EmbedRequest{
		Input:   docs,
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timeout after %v", ErrEmbeddingService, g.timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingService, err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingService, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) != int(g.dim) {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d", ErrEmbeddingService, i, len(e.Embedding), g.dim)
		}
		vectors[i] = e.Embedding
	}

	g.logger.Debug("embedded batch", "texts", len(texts))
	return vectors, nil
}
