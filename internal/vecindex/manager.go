package vecindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/officebrain/officebrain/internal/corpus"
)

const buildLockTimeout = 2 * time.Minute

// ManagerConfig carries the dependencies for a Manager.
type ManagerConfig struct {
	IndexPath  string
	CorpusPath string
	Chunker    *corpus.Chunker
	Embedder   Embedder
	Logger     *slog.Logger
}

// Manager owns the process-wide index lifecycle: it loads a persisted
// artifact if one exists, builds from the corpus otherwise, and caches the
// result so the expensive path runs at most once. A file lock on the artifact
// serializes builds across processes sharing the same path.
type Manager struct {
	mu     sync.Mutex
	idx    *Index
	cached bool

	indexPath  string
	corpusPath string
	chunker    *corpus.Chunker
	embedder   Embedder
	logger     *slog.Logger
}

// NewManager validates cfg and returns a Manager. No I/O happens until the
// first call to Index or Rebuild.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.IndexPath == "" {
		return nil, errors.New("index path is required")
	}
	if cfg.Chunker == nil {
		return nil, errors.New("chunker is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		indexPath:  cfg.IndexPath,
		corpusPath: cfg.CorpusPath,
		chunker:    cfg.Chunker,
		embedder:   cfg.Embedder,
		logger:     cfg.Logger,
	}, nil
}

// Index returns the process-wide index, loading or building it on first use.
// Concurrent callers block until the first caller finishes; they then share
// the same *Index. Returns ErrIndexUnavailable when there is neither a
// persisted artifact nor a corpus file.
func (m *Manager) Index(ctx context.Context) (*Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached {
		if m.idx == nil {
			return nil, ErrIndexUnavailable
		}
		return m.idx, nil
	}

	idx, err := m.loadOrBuild(ctx)
	if err != nil {
		if errors.Is(err, ErrIndexUnavailable) {
			// Cache the absence too: retrying every request would
			// re-stat the same missing files for nothing.
			m.cached = true
		}
		return nil, err
	}

	m.idx = idx
	m.cached = true
	return idx, nil
}

// Rebuild discards any cached index, rebuilds from the corpus, persists the
// new artifact, and caches the result.
func (m *Manager) Rebuild(ctx context.Context) (*Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.build(ctx, true)
	if err != nil {
		return nil, err
	}
	m.idx = idx
	m.cached = true
	return idx, nil
}

func (m *Manager) loadOrBuild(ctx context.Context) (*Index, error) {
	idx, err := Load(m.indexPath)
	if err == nil {
		m.logger.Info("loaded vector index",
			"path", m.indexPath,
			"passages", idx.Len(),
			"dimension", idx.Dimension())
		return idx, nil
	}
	if !errors.Is(err, ErrIndexUnavailable) {
		return nil, err
	}

	return m.build(ctx, false)
}

// build constructs the index from the corpus and persists it. When force is
// false an artifact published by another process while we waited on the lock
// is used instead of rebuilding.
func (m *Manager) build(ctx context.Context, force bool) (*Index, error) {
	text, err := corpus.LoadFile(m.corpusPath)
	if err != nil {
		if errors.Is(err, corpus.ErrCorpusNotFound) {
			return nil, fmt.Errorf("%w: no corpus at %s", ErrIndexUnavailable, m.corpusPath)
		}
		return nil, err
	}

	// Serialize builds across processes sharing the artifact path. The
	// in-process mutex is already held; this guards against a second
	// process building concurrently and racing the rename.
	lock := flock.New(m.indexPath + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, buildLockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquiring index build lock: %w", err)
	}
	if !locked {
		return nil, errors.New("index build lock held by another process")
	}
	defer lock.Unlock()

	if !force {
		// Another process may have finished a build while we waited.
		if idx, err := Load(m.indexPath); err == nil {
			return idx, nil
		}
	}

	passages := m.chunker.Split(text)
	m.logger.Info("building vector index",
		"corpus", m.corpusPath,
		"passages", len(passages))

	start := time.Now()
	idx, err := Build(ctx, m.embedder, passages)
	if err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}
	if err := idx.Save(m.indexPath); err != nil {
		return nil, err
	}

	m.logger.Info("built vector index",
		"path", m.indexPath,
		"passages", idx.Len(),
		"dimension", idx.Dimension(),
		"elapsed", time.Since(start))
	return idx, nil
}
