// Package vecindex implements the semantic index over corpus passages:
// an ordered collection of (passage, embedding vector) pairs with
// nearest-neighbor search and durable snapshot persistence.
//
// Similarity metric: cosine similarity, computed as the inner product of
// unit-normalized vectors. Vectors are normalized once at insertion and
// queries are normalized at search time, which matches the embedding
// model's training objective and keeps scores in [-1, 1].
package vecindex

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/officebrain/officebrain/internal/corpus"
)

// ErrIndexUnavailable indicates no index exists: neither a persisted artifact
// nor a corpus to build one from. This is an expected steady state when the
// deployment carries no knowledge base, not a crash condition.
var ErrIndexUnavailable = errors.New("vector index unavailable")

// snapshotVersion tags the persisted format so a future layout change can
// reject (and rebuild from) stale artifacts instead of misreading them.
const snapshotVersion = 1

// Embedder is the subset of the embedding gateway the index needs.
// Defined here, by the consumer.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Hit is one search result: a passage and its cosine similarity to the query.
type Hit struct {
	Passage corpus.Passage
	Score   float32
}

// Index holds passages and their unit-normalized embedding vectors in
// insertion order. An Index is immutable after construction; rebuilding
// produces a new Index value.
type Index struct {
	dim      int
	passages []corpus.Passage
	vectors  [][]float32
}

// Build embeds every passage (batched) and constructs the index.
// Construction is all-or-nothing: any embedding failure aborts the build
// and no Index is returned.
func Build(ctx context.Context, embedder Embedder, passages []corpus.Passage) (*Index, error) {
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}

	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %d passages: %w", len(passages), err)
	}
	if len(vectors) != len(passages) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d passages", len(vectors), len(passages))
	}

	idx := &Index{}
	for i, vec := range vectors {
		if idx.dim == 0 {
			idx.dim = len(vec)
		} else if len(vec) != idx.dim {
			return nil, fmt.Errorf("vector %d has dimension %d, index dimension is %d", i, len(vec), idx.dim)
		}
		idx.vectors = append(idx.vectors, normalize(vec))
	}
	idx.passages = append(idx.passages, passages...)
	return idx, nil
}

// Len returns the number of passages in the index.
func (idx *Index) Len() int { return len(idx.passages) }

// Dimension returns the vector dimension, or 0 for an empty index.
func (idx *Index) Dimension() int { return idx.dim }

// Search returns the k passages most similar to the query vector, ordered by
// descending similarity. Ties are broken by insertion order (stable). k larger
// than the index returns everything; an empty index returns nothing.
func (idx *Index) Search(query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if idx.Len() == 0 {
		return nil, nil
	}
	if len(query) != idx.dim {
		return nil, fmt.Errorf("query has dimension %d, index dimension is %d", len(query), idx.dim)
	}

	q := normalize(query)
	hits := make([]Hit, idx.Len())
	for i, vec := range idx.vectors {
		hits[i] = Hit{Passage: idx.passages[i], Score: dot(vec, q)}
	}

	// SliceStable keeps insertion order among equal scores.
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Score > hits[b].Score
	})

	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// snapshot is the gob-encoded durable form of an Index.
type snapshot struct {
	Version  int
	Dim      int
	Passages []corpus.Passage
	Vectors  [][]float32
}

// Save writes the index to path atomically: the snapshot goes to a temp file
// in the same directory and is renamed into place, so readers never observe a
// half-written artifact.
func (idx *Index) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp index file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name()) // no-op after successful rename
	}()

	snap := snapshot{
		Version:  snapshotVersion,
		Dim:      idx.dim,
		Passages: idx.passages,
		Vectors:  idx.vectors,
	}
	if err := gob.NewEncoder(tmp).Encode(snap); err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing index: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publishing index: %w", err)
	}
	return nil
}

// Load reads a persisted index. Returns ErrIndexUnavailable if no artifact
// exists at path.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no artifact at %s", ErrIndexUnavailable, path)
		}
		return nil, fmt.Errorf("opening index %s: %w", path, err)
	}
	defer f.Close()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decoding index %s: %w", path, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("index %s has snapshot version %d, want %d", path, snap.Version, snapshotVersion)
	}
	if len(snap.Passages) != len(snap.Vectors) {
		return nil, fmt.Errorf("index %s is corrupt: %d passages, %d vectors", path, len(snap.Passages), len(snap.Vectors))
	}

	return &Index{dim: snap.Dim, passages: snap.Passages, vectors: snap.Vectors}, nil
}

// normalize returns v scaled to unit length. The zero vector is returned
// unchanged (it has no direction; it scores 0 against everything).
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		out := make([]float32, len(v))
		return out
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
