// Package chat orchestrates a conversation turn: retrieve grounding context,
// call the language model with the transcript, and persist the updated
// session.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/officebrain/officebrain/internal/session"
)

const (
	// preamble anchors every completion to the assistant's role and the
	// retrieved context.
	preamble = "You are a helpful and friendly Office Assistant AI. " +
		"Answer questions based ONLY on the provided context below. " +
		"Keep answers short and professional."

	// noContextNotice replaces the context block when retrieval returned
	// nothing, so the model does not hallucinate grounding.
	noContextNotice = "No relevant context was found for this question."

	// titleRuneLimit bounds how much of the first user message becomes
	// the session title.
	titleRuneLimit = 30

	// defaultTitle names a session with no user messages yet.
	defaultTitle = "New Chat"
)

// Sentinel errors for conversation turns.
var (
	// ErrCompletionService indicates the language model call failed.
	ErrCompletionService = errors.New("completion service failure")

	// ErrRateLimited is a refinement of ErrCompletionService for quota
	// exhaustion, so callers can show a friendlier message.
	ErrRateLimited = fmt.Errorf("%w: rate limited", ErrCompletionService)
)

// Completer produces the assistant's reply. The transcript ends with the
// new user message; system carries the role preamble and retrieved context.
type Completer interface {
	Complete(ctx context.Context, system string, transcript []session.Message) (string, error)
}

// Retriever supplies grounding passages for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) []string
}

// Config carries the dependencies for an Orchestrator.
type Config struct {
	Completer Completer
	Retriever Retriever
	Store     session.Store
	Logger    *slog.Logger
}

func (cfg Config) validate() error {
	if cfg.Completer == nil {
		return errors.New("completer is required")
	}
	if cfg.Retriever == nil {
		return errors.New("retriever is required")
	}
	if cfg.Store == nil {
		return errors.New("session store is required")
	}
	return nil
}

// Orchestrator runs conversation turns against one identity's session store.
type Orchestrator struct {
	completer Completer
	retriever Retriever
	store     session.Store
	logger    *slog.Logger
}

func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		completer: cfg.Completer,
		retriever: cfg.Retriever,
		store:     cfg.Store,
		logger:    cfg.Logger,
	}, nil
}

// Ask runs one turn of conversation. On success the session gains the user
// message and the assistant reply, its title is refreshed, and it is written
// through to the store.
//
// A completion failure leaves the session untouched, so the failed turn can
// simply be retried. A persistence failure after a successful completion
// still updates the in-memory session and returns the reply alongside the
// wrapped store error; the caller decides whether lost durability matters.
func (o *Orchestrator) Ask(ctx context.Context, sess *session.Session, input string) (string, error) {
	passages := o.retriever.Retrieve(ctx, input)
	system := buildSystemPrompt(passages)

	// Work on a copy so a failed completion discards the turn.
	working := sess.Clone()
	working.Append(session.RoleUser, input)

	reply, err := o.completer.Complete(ctx, system, working.Messages)
	if err != nil {
		return "", err
	}

	working.Append(session.RoleAssistant, reply)
	working.Title = DeriveTitle(working.Messages)
	*sess = *working

	if err := o.store.Upsert(ctx, sess); err != nil {
		o.logger.Error("failed to persist session", "session_id", sess.ID, "error", err)
		return reply, fmt.Errorf("persisting session %s: %w", sess.ID, err)
	}
	return reply, nil
}

// buildSystemPrompt combines the role preamble with the retrieved passages.
func buildSystemPrompt(passages []string) string {
	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n\nContext:\n")
	if len(passages) == 0 {
		b.WriteString(noContextNotice)
		return b.String()
	}
	for i, p := range passages {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString(p)
	}
	return b.String()
}

// DeriveTitle computes the session title from its transcript: the first
// user message truncated to a rune limit with a trailing ellipsis, or a
// default for transcripts with no user message. The function is pure, so
// recomputing it every turn is idempotent.
func DeriveTitle(messages []session.Message) string {
	for _, m := range messages {
		if m.Role != session.RoleUser {
			continue
		}
		runes := []rune(m.Content)
		if len(runes) > titleRuneLimit {
			runes = runes[:titleRuneLimit]
		}
		return string(runes) + "..."
	}
	return defaultTitle
}
