package session

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileStore(t *testing.T, dir string) Store {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(dir, "history_alice.json"), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return fs
}

// storeUnderTest runs the same contract against both implementations.
func storeUnderTest(t *testing.T, name string) Store {
	t.Helper()
	if name == "file" {
		return newFileStore(t, t.TempDir())
	}
	return NewMemStore()
}

func TestStore_Contract(t *testing.T) {
	for _, impl := range []string{"file", "mem"} {
		t.Run(impl, func(t *testing.T) {
			ctx := context.Background()
			store := storeUnderTest(t, impl)

			t.Run("empty store lists nothing", func(t *testing.T) {
				metas, err := store.Sessions(ctx)
				require.NoError(t, err)
				assert.Empty(t, metas)
			})

			s := New()
			s.Title = "Where is the printer?..."
			s.Append(RoleUser, "Where is the printer?")
			s.Append(RoleAssistant, "On floor 2, next to the kitchen.")

			t.Run("upsert then read back", func(t *testing.T) {
				require.NoError(t, store.Upsert(ctx, s))

				got, err := store.Session(ctx, s.ID)
				require.NoError(t, err)
				assert.Equal(t, s.Title, got.Title)
				require.Len(t, got.Messages, 2)
				assert.Equal(t, RoleUser, got.Messages[0].Role)
				assert.Equal(t, "Where is the printer?", got.Messages[0].Content)
			})

			t.Run("unknown id is not found", func(t *testing.T) {
				_, err := store.Session(ctx, uuid.New())
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("delete is idempotent", func(t *testing.T) {
				require.NoError(t, store.Delete(ctx, s.ID))
				_, err := store.Session(ctx, s.ID)
				assert.ErrorIs(t, err, ErrNotFound)

				assert.NoError(t, store.Delete(ctx, s.ID), "second delete must succeed")
				assert.NoError(t, store.Delete(ctx, uuid.New()), "deleting an absent id must succeed")
			})
		})
	}
}

func TestStore_ListsMostRecentFirst(t *testing.T) {
	for _, impl := range []string{"file", "mem"} {
		t.Run(impl, func(t *testing.T) {
			ctx := context.Background()
			store := storeUnderTest(t, impl)

			base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
			titles := []string{"oldest", "middle", "newest"}
			for i, title := range titles {
				s := New()
				s.Title = title
				s.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
				require.NoError(t, store.Upsert(ctx, s))
			}

			metas, err := store.Sessions(ctx)
			require.NoError(t, err)
			require.Len(t, metas, 3)
			assert.Equal(t, "newest", metas[0].Title)
			assert.Equal(t, "middle", metas[1].Title)
			assert.Equal(t, "oldest", metas[2].Title)
		})
	}
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := New()
	s.Title = "Expense policy..."
	s.Append(RoleUser, "When are expense reports due?")

	first := newFileStore(t, dir)
	require.NoError(t, first.Upsert(ctx, s))

	// A fresh store over the same artifact sees the session.
	second := newFileStore(t, dir)
	got, err := second.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Expense policy...", got.Title)
	require.Len(t, got.Messages, 1)
}

func TestFileStore_IdentityIsolation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := slog.New(slog.DiscardHandler)

	alice, err := NewFileStore(filepath.Join(dir, "history_alice.json"), logger)
	require.NoError(t, err)
	bob, err := NewFileStore(filepath.Join(dir, "history_bob.json"), logger)
	require.NoError(t, err)

	s := New()
	s.Append(RoleUser, "secret question")
	require.NoError(t, alice.Upsert(ctx, s))

	metas, err := bob.Sessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, metas, "one identity's sessions must not leak into another's")

	_, err = bob.Session(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_QuarantinesMalformedArtifact(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "history_alice.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	fs, err := NewFileStore(path, slog.New(slog.DiscardHandler))
	require.NoError(t, err, "a malformed artifact must not prevent startup")

	metas, err := fs.Sessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, metas)

	// The broken file was moved aside, not destroyed.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var quarantined bool
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "history_alice.json.corrupt-") {
			quarantined = true
		}
	}
	assert.True(t, quarantined, "malformed artifact should be quarantined")

	// The store is writable again.
	s := New()
	s.Append(RoleUser, "hello")
	require.NoError(t, fs.Upsert(ctx, s))
}

func TestFileStore_ArtifactShape(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs := newFileStore(t, dir)

	s := New()
	s.Title = "Parking..."
	s.Append(RoleUser, "Where can visitors park?")
	require.NoError(t, fs.Upsert(ctx, s))

	data, err := os.ReadFile(filepath.Join(dir, "history_alice.json"))
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, s.ID.String())
	assert.Contains(t, text, `"title"`)
	assert.Contains(t, text, `"messages"`)
	assert.Contains(t, text, `"timestamp"`)
	assert.Contains(t, text, `"role": "user"`)
}

func TestMemStore_CloneIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	s := New()
	s.Append(RoleUser, "original")
	require.NoError(t, store.Upsert(ctx, s))

	// Mutating the caller's copy after upsert must not affect the store.
	s.Messages[0].Content = "mutated"
	got, err := store.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Messages[0].Content)

	// Mutating a read copy must not affect the store either.
	got.Messages[0].Content = "also mutated"
	again, err := store.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", again.Messages[0].Content)
}

func TestSession_Clone(t *testing.T) {
	s := New()
	s.Append(RoleUser, "one")

	c := s.Clone()
	c.Append(RoleAssistant, "two")

	assert.Len(t, s.Messages, 1)
	assert.Len(t, c.Messages, 2)
}
