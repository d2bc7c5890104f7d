// Package session holds conversation state: ordered message transcripts
// grouped into titled sessions, persisted per identity.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Message roles. The transcript alternates between the two but the store
// does not enforce that; the orchestrator owns turn structure.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrNotFound indicates the requested session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrStore wraps persistence failures (unwritable directory, failed
	// rename, lock contention). The in-memory transcript is still valid
	// when a write fails; only durability is lost.
	ErrStore = errors.New("session store failure")
)

// Message is one utterance in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is a titled conversation transcript.
type Session struct {
	ID        uuid.UUID
	Title     string
	Messages  []Message
	UpdatedAt time.Time
}

// New returns an empty session with a fresh identifier.
func New() *Session {
	return &Session{
		ID:        uuid.New(),
		Title:     "New Chat",
		UpdatedAt: time.Now().UTC(),
	}
}

// Append adds a message and bumps the modification time.
func (s *Session) Append(role, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
	s.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy, so callers can mutate a working copy and
// discard it if the turn fails.
func (s *Session) Clone() *Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return &out
}

// Meta is the listing view of a session.
type Meta struct {
	ID        uuid.UUID
	Title     string
	UpdatedAt time.Time
}

// Store persists sessions for one identity.
type Store interface {
	// Sessions lists all sessions, most recently updated first.
	Sessions(ctx context.Context) ([]Meta, error)

	// Session returns the full transcript for id, or ErrNotFound.
	Session(ctx context.Context, id uuid.UUID) (*Session, error)

	// Upsert writes the session through to durable storage.
	Upsert(ctx context.Context, s *Session) error

	// Delete removes the session. Deleting an absent session is a no-op.
	Delete(ctx context.Context, id uuid.UUID) error
}
