// Package corpus loads the knowledge base text and splits it into overlapping
// passages for indexing.
//
// Splitting is deterministic: the same text and parameters always produce the
// same passage sequence. This is required for reproducible indices.
package corpus

import (
	"errors"
	"fmt"
	"os"
)

// ErrCorpusNotFound indicates the knowledge corpus file does not exist.
// This is non-fatal: the caller degrades to operating without retrieval.
var ErrCorpusNotFound = errors.New("corpus not found")

// Passage is a contiguous chunk of corpus text. Offset is the rune offset of
// the passage within the source text.
type Passage struct {
	Text   string
	Offset int
}

// Chunker splits text into fixed-size passages with overlap between
// consecutive passages, so context spanning a boundary survives in at least
// one passage.
type Chunker struct {
	size    int // passage size in runes
	overlap int // runes shared between consecutive passages
}

// NewChunker creates a Chunker. size must be positive and overlap must be in
// [0, size); an overlap equal to the size would never advance.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split divides text into passages. Every passage is at most size runes and
// consecutive passages share exactly overlap runes, except possibly the last.
// Text shorter than one chunk yields a single passage containing all of it.
// Empty text yields no passages.
func (c *Chunker) Split(text string) []Passage {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := c.size - c.overlap
	passages := make([]Passage, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := min(start+c.size, len(runes))
		passages = append(passages, Passage{
			Text:   string(runes[start:end]),
			Offset: start,
		})
		if end == len(runes) {
			break
		}
	}
	return passages
}

// LoadFile reads the corpus from a UTF-8 text file.
// Returns ErrCorpusNotFound if the file does not exist.
func LoadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrCorpusNotFound, path)
		}
		return "", fmt.Errorf("reading corpus %s: %w", path, err)
	}
	return string(data), nil
}
