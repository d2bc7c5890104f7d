package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officebrain/officebrain/internal/corpus"
	"github.com/officebrain/officebrain/internal/vecindex"
)

type stubProvider struct {
	idx *vecindex.Index
	err error
}

func (p *stubProvider) Index(context.Context) (*vecindex.Index, error) { return p.idx, p.err }

type stubEmbedder struct {
	vocab map[string][]float32
	err   error
}

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vocab[text]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("no vector for %q", text)
}

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// officeIndex builds a small index where each fact lives on its own axis.
func officeIndex(t *testing.T) (*vecindex.Index, *stubEmbedder) {
	t.Helper()
	facts := []string{
		"The printer is on floor 2, next to the kitchen.",
		"Expense reports are due on the last Friday of the month.",
		"Guest wifi password rotates every Monday morning.",
	}
	emb := &stubEmbedder{vocab: map[string][]float32{}}
	passages := make([]corpus.Passage, len(facts))
	for i, f := range facts {
		v := make([]float32, len(facts))
		v[i] = 1
		emb.vocab[f] = v
		passages[i] = corpus.Passage{Text: f}
	}
	// Queries map onto the axis of the fact they ask about.
	emb.vocab["Where is the printer?"] = []float32{1, 0.1, 0}
	emb.vocab["When are expenses due?"] = []float32{0.1, 1, 0}

	idx, err := vecindex.Build(context.Background(), emb, passages)
	require.NoError(t, err)
	return idx, emb
}

func newRetriever(t *testing.T, p IndexProvider, e Embedder, k int) *Retriever {
	t.Helper()
	r, err := New(Config{Provider: p, Embedder: e, TopK: k, Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)
	return r
}

func TestNew_Validation(t *testing.T) {
	p := &stubProvider{}
	e := &stubEmbedder{}
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing provider", Config{Embedder: e, TopK: 4}},
		{"missing embedder", Config{Provider: p, TopK: 4}},
		{"zero top-k", Config{Provider: p, Embedder: e}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestRetrieve_RanksRelevantFactFirst(t *testing.T) {
	idx, emb := officeIndex(t)
	r := newRetriever(t, &stubProvider{idx: idx}, emb, 2)

	got := r.Retrieve(context.Background(), "Where is the printer?")
	require.NotEmpty(t, got)
	assert.Equal(t, "The printer is on floor 2, next to the kitchen.", got[0])
	assert.Len(t, got, 2)

	got = r.Retrieve(context.Background(), "When are expenses due?")
	require.NotEmpty(t, got)
	assert.Equal(t, "Expense reports are due on the last Friday of the month.", got[0])
}

func TestRetrieve_TopKBoundsResults(t *testing.T) {
	idx, emb := officeIndex(t)
	r := newRetriever(t, &stubProvider{idx: idx}, emb, 4)

	got := r.Retrieve(context.Background(), "Where is the printer?")
	assert.Len(t, got, 3, "k beyond index size returns everything")
}

func TestRetrieve_NoIndexDegradesToEmpty(t *testing.T) {
	p := &stubProvider{err: fmt.Errorf("startup: %w", vecindex.ErrIndexUnavailable)}
	r := newRetriever(t, p, &stubEmbedder{}, 4)

	assert.Empty(t, r.Retrieve(context.Background(), "Where is the printer?"))
}

func TestRetrieve_IndexErrorDegradesToEmpty(t *testing.T) {
	p := &stubProvider{err: errors.New("artifact corrupt")}
	r := newRetriever(t, p, &stubEmbedder{}, 4)

	assert.Empty(t, r.Retrieve(context.Background(), "anything"))
}

func TestRetrieve_EmbeddingFailureDegradesToEmpty(t *testing.T) {
	idx, _ := officeIndex(t)
	emb := &stubEmbedder{err: errors.New("quota exceeded")}
	r := newRetriever(t, &stubProvider{idx: idx}, emb, 4)

	assert.Empty(t, r.Retrieve(context.Background(), "Where is the printer?"))
}
