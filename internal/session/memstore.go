package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemStore keeps sessions in memory only. It backs anonymous guest use,
// where conversations are intentionally discarded at exit.
type MemStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Session
}

func NewMemStore() *MemStore {
	return &MemStore{records: make(map[uuid.UUID]*Session)}
}

func (ms *MemStore) Sessions(ctx context.Context) ([]Meta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	metas := make([]Meta, 0, len(ms.records))
	for id, s := range ms.records {
		metas = append(metas, Meta{ID: id, Title: s.Title, UpdatedAt: s.UpdatedAt})
	}
	sort.Slice(metas, func(a, b int) bool {
		if !metas[a].UpdatedAt.Equal(metas[b].UpdatedAt) {
			return metas[a].UpdatedAt.After(metas[b].UpdatedAt)
		}
		return metas[a].ID.String() < metas[b].ID.String()
	})
	return metas, nil
}

func (ms *MemStore) Session(ctx context.Context, id uuid.UUID) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	s, ok := ms.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.Clone(), nil
}

func (ms *MemStore) Upsert(ctx context.Context, s *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.records[s.ID] = s.Clone()
	return nil
}

func (ms *MemStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.records, id)
	return nil
}
