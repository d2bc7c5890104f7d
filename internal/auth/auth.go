// Package auth manages user credentials for the assistant: a small JSON
// store of bcrypt password hashes, plus the anonymous guest identity.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/crypto/bcrypt"
)

// Guest is the reserved anonymous identity. Guests chat without an account
// and their conversations are never persisted.
const Guest = "Guest"

const (
	minPasswordLen  = 4
	maxUsernameLen  = 64
	authLockTimeout = 5 * time.Second
)

var (
	// ErrUserExists indicates the username is already registered.
	ErrUserExists = errors.New("user already exists")

	// ErrInvalidCredentials covers both unknown users and wrong
	// passwords, so a login probe cannot distinguish the two.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrInvalidUsername indicates the username fails validation.
	ErrInvalidUsername = errors.New("invalid username")

	// ErrInvalidPassword indicates the password fails validation.
	ErrInvalidPassword = errors.New("invalid password")
)

// Store persists username to bcrypt-hash pairs in a single JSON file.
// Writes are atomic and guarded by a file lock.
type Store struct {
	path   string
	logger *slog.Logger
}

func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating credential directory: %w", err)
	}
	return &Store{path: path, logger: logger}, nil
}

// Register creates a new account. The username becomes the identity key for
// conversation history, so it is validated strictly.
func (s *Store) Register(ctx context.Context, username, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateUsername(username); err != nil {
		return err
	}
	if len(password) < minPasswordLen {
		return fmt.Errorf("%w: must be at least %d characters", ErrInvalidPassword, minPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	lock := flock.New(s.path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, authLockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil || !locked {
		return fmt.Errorf("acquiring credential lock: %w", err)
	}
	defer lock.Unlock()

	users, err := s.load()
	if err != nil {
		return err
	}
	if _, exists := users[username]; exists {
		return fmt.Errorf("%w: %s", ErrUserExists, username)
	}
	users[username] = string(hash)

	if err := s.save(users); err != nil {
		return err
	}
	s.logger.Info("registered user", "username", username)
	return nil
}

// Authenticate verifies a username and password pair.
func (s *Store) Authenticate(ctx context.Context, username, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	users, err := s.load()
	if err != nil {
		return err
	}
	hash, ok := users[username]
	if !ok {
		// Burn a comparison anyway so unknown users cost the same as
		// wrong passwords.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(password))
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (s *Store) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading credential store: %w", err)
	}
	users := map[string]string{}
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("malformed credential store %s: %w", s.path, err)
	}
	return users, nil
}

func (s *Store) save(users map[string]string) error {
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credential store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp credential file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing credential store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing credential store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing credential store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("publishing credential store: %w", err)
	}
	return nil
}

func validateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUsername)
	}
	if len(username) > maxUsernameLen {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidUsername, maxUsernameLen)
	}
	if strings.EqualFold(username, Guest) {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidUsername, Guest)
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return fmt.Errorf("%w: only letters, digits, '-' and '_' are allowed", ErrInvalidUsername)
		}
	}
	return nil
}
