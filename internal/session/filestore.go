package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const lockTimeout = 5 * time.Second

// fileSession is the on-disk shape of one session inside the history
// artifact, which maps session id to this record.
type fileSession struct {
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	Timestamp time.Time `json:"timestamp"`
}

// FileStore persists sessions for one identity in a single JSON artifact,
// written through on every mutation. Writes are atomic (temp file plus
// rename) and guarded by a file lock so concurrent processes sharing the
// artifact cannot interleave partial writes.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore opens the history artifact at path, creating the parent
// directory if needed. A malformed artifact is quarantined (renamed aside)
// rather than deleted, and the store starts empty.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("%w: creating history directory: %v", ErrStore, err)
	}

	fs := &FileStore{path: path, logger: logger}
	if _, err := fs.load(); err != nil {
		// load already quarantined the artifact; nothing else to do.
		logger.Warn("history artifact quarantined", "path", path, "error", err)
	}
	return fs, nil
}

// Path returns the artifact location.
func (fs *FileStore) Path() string { return fs.path }

func (fs *FileStore) Sessions(ctx context.Context) ([]Meta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := fs.load()
	if err != nil {
		return nil, err
	}

	metas := make([]Meta, 0, len(records))
	for id, rec := range records {
		metas = append(metas, Meta{ID: id, Title: rec.Title, UpdatedAt: rec.Timestamp})
	}
	sort.Slice(metas, func(a, b int) bool {
		if !metas[a].UpdatedAt.Equal(metas[b].UpdatedAt) {
			return metas[a].UpdatedAt.After(metas[b].UpdatedAt)
		}
		return metas[a].ID.String() < metas[b].ID.String()
	})
	return metas, nil
}

func (fs *FileStore) Session(ctx context.Context, id uuid.UUID) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := fs.load()
	if err != nil {
		return nil, err
	}
	rec, ok := records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &Session{ID: id, Title: rec.Title, Messages: rec.Messages, UpdatedAt: rec.Timestamp}, nil
}

func (fs *FileStore) Upsert(ctx context.Context, s *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fs.mutate(func(records map[uuid.UUID]fileSession) {
		records[s.ID] = fileSession{
			Title:     s.Title,
			Messages:  s.Messages,
			Timestamp: s.UpdatedAt,
		}
	})
}

func (fs *FileStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fs.mutate(func(records map[uuid.UUID]fileSession) {
		delete(records, id)
	})
}

// mutate applies fn to the full record set and writes it back atomically,
// holding the artifact lock across the read-modify-write.
func (fs *FileStore) mutate(fn func(map[uuid.UUID]fileSession)) error {
	lock := flock.New(fs.path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return fmt.Errorf("%w: acquiring history lock: %v", ErrStore, err)
	}
	defer lock.Unlock()

	records, err := fs.load()
	if err != nil {
		return err
	}
	fn(records)
	return fs.save(records)
}

// load reads the artifact. Missing file means an empty store. A file that
// fails to parse is quarantined and reported; subsequent loads see an empty
// store.
func (fs *FileStore) load() (map[uuid.UUID]fileSession, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[uuid.UUID]fileSession{}, nil
		}
		return nil, fmt.Errorf("%w: reading history: %v", ErrStore, err)
	}

	var raw map[string]fileSession
	if err := json.Unmarshal(data, &raw); err != nil {
		fs.quarantine()
		return map[uuid.UUID]fileSession{}, fmt.Errorf("%w: malformed history artifact: %v", ErrStore, err)
	}

	records := make(map[uuid.UUID]fileSession, len(raw))
	for key, rec := range raw {
		id, err := uuid.Parse(key)
		if err != nil {
			fs.quarantine()
			return map[uuid.UUID]fileSession{}, fmt.Errorf("%w: invalid session id %q in history", ErrStore, key)
		}
		records[id] = rec
	}
	return records, nil
}

func (fs *FileStore) save(records map[uuid.UUID]fileSession) error {
	raw := make(map[string]fileSession, len(records))
	for id, rec := range records {
		raw[id.String()] = rec
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding history: %v", ErrStore, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fs.path), filepath.Base(fs.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp history file: %v", ErrStore, err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("%w: writing history: %v", ErrStore, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: syncing history: %v", ErrStore, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing history: %v", ErrStore, err)
	}
	if err := os.Rename(tmp.Name(), fs.path); err != nil {
		return fmt.Errorf("%w: publishing history: %v", ErrStore, err)
	}
	return nil
}

// quarantine moves a malformed artifact aside so the next write starts
// clean without destroying evidence.
func (fs *FileStore) quarantine() {
	dst := fmt.Sprintf("%s.corrupt-%d", fs.path, time.Now().UTC().Unix())
	if err := os.Rename(fs.path, dst); err != nil {
		fs.logger.Error("failed to quarantine history artifact", "path", fs.path, "error", err)
		return
	}
	fs.logger.Warn("quarantined malformed history artifact", "from", fs.path, "to", dst)
}
