package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officebrain/officebrain/internal/session"
)

// echoCompleter replies with a canned transform of the last user message,
// recording what it was asked.
type echoCompleter struct {
	lastSystem     string
	lastTranscript []session.Message
	err            error
}

func (c *echoCompleter) Complete(_ context.Context, system string, transcript []session.Message) (string, error) {
	c.lastSystem = system
	c.lastTranscript = transcript
	if c.err != nil {
		return "", c.err
	}
	last := transcript[len(transcript)-1]
	return "echo: " + last.Content, nil
}

// fixedRetriever returns the same passages for every query.
type fixedRetriever struct {
	passages []string
	queries  []string
}

func (r *fixedRetriever) Retrieve(_ context.Context, query string) []string {
	r.queries = append(r.queries, query)
	return r.passages
}

// failingStore rejects every write.
type failingStore struct {
	session.Store
}

func (failingStore) Upsert(context.Context, *session.Session) error {
	return fmt.Errorf("%w: disk full", session.ErrStore)
}

func newOrchestrator(t *testing.T, c Completer, r Retriever, st session.Store) *Orchestrator {
	t.Helper()
	o, err := New(Config{Completer: c, Retriever: r, Store: st})
	require.NoError(t, err)
	return o
}

func TestNew_Validation(t *testing.T) {
	c := &echoCompleter{}
	r := &fixedRetriever{}
	st := session.NewMemStore()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing completer", Config{Retriever: r, Store: st}},
		{"missing retriever", Config{Completer: c, Store: st}},
		{"missing store", Config{Completer: c, Retriever: r}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestAsk_FullTurn(t *testing.T) {
	ctx := context.Background()
	completer := &echoCompleter{}
	retriever := &fixedRetriever{passages: []string{"The printer is on floor 2."}}
	store := session.NewMemStore()
	o := newOrchestrator(t, completer, retriever, store)

	sess := session.New()
	reply, err := o.Ask(ctx, sess, "Where is the printer?")
	require.NoError(t, err)
	assert.Equal(t, "echo: Where is the printer?", reply)

	// The session gained both sides of the turn and a derived title.
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, session.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, session.RoleAssistant, sess.Messages[1].Role)
	assert.Equal(t, "Where is the printer?...", sess.Title)

	// The turn was written through.
	persisted, err := store.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, persisted.Messages, 2)
	assert.Equal(t, "Where is the printer?...", persisted.Title)

	// Retrieval was queried with the raw input, and the context made it
	// into the system prompt.
	assert.Equal(t, []string{"Where is the printer?"}, retriever.queries)
	assert.Contains(t, completer.lastSystem, "Office Assistant AI")
	assert.Contains(t, completer.lastSystem, "The printer is on floor 2.")
}

func TestAsk_EmptyRetrievalStillAnswers(t *testing.T) {
	ctx := context.Background()
	completer := &echoCompleter{}
	o := newOrchestrator(t, completer, &fixedRetriever{}, session.NewMemStore())

	sess := session.New()
	reply, err := o.Ask(ctx, sess, "Anything at all?")
	require.NoError(t, err)
	assert.NotEmpty(t, reply)
	assert.Contains(t, completer.lastSystem, noContextNotice)
}

func TestAsk_CompletionFailureDiscardsTurn(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemStore()
	completer := &echoCompleter{err: fmt.Errorf("%w: boom", ErrCompletionService)}
	o := newOrchestrator(t, completer, &fixedRetriever{}, store)

	sess := session.New()
	sess.Append(session.RoleUser, "earlier question")
	sess.Append(session.RoleAssistant, "earlier answer")
	require.NoError(t, store.Upsert(ctx, sess))

	_, err := o.Ask(ctx, sess, "doomed question")
	require.ErrorIs(t, err, ErrCompletionService)

	// The failed turn left no trace, so it can be retried cleanly.
	assert.Len(t, sess.Messages, 2)
	persisted, err := store.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, persisted.Messages, 2)
}

func TestAsk_PersistFailureStillReturnsReply(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t, &echoCompleter{}, &fixedRetriever{}, failingStore{})

	sess := session.New()
	reply, err := o.Ask(ctx, sess, "hello")
	require.ErrorIs(t, err, session.ErrStore)
	assert.Equal(t, "echo: hello", reply, "the reply survives a durability failure")
	assert.Len(t, sess.Messages, 2, "the in-memory transcript keeps the turn")
}

func TestAsk_TitleStableAcrossTurns(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t, &echoCompleter{}, &fixedRetriever{}, session.NewMemStore())

	sess := session.New()
	_, err := o.Ask(ctx, sess, "Where is the printer?")
	require.NoError(t, err)
	require.Equal(t, "Where is the printer?...", sess.Title)

	_, err = o.Ask(ctx, sess, "And the scanner?")
	require.NoError(t, err)
	assert.Equal(t, "Where is the printer?...", sess.Title,
		"later turns must not change the title")
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name     string
		messages []session.Message
		want     string
	}{
		{
			"no messages",
			nil,
			"New Chat",
		},
		{
			"assistant only",
			[]session.Message{{Role: session.RoleAssistant, Content: "hi"}},
			"New Chat",
		},
		{
			"short question keeps full text",
			[]session.Message{{Role: session.RoleUser, Content: "Where is the printer?"}},
			"Where is the printer?...",
		},
		{
			"long question truncated at rune boundary",
			[]session.Message{{Role: session.RoleUser, Content: strings.Repeat("a", 80)}},
			strings.Repeat("a", 30) + "...",
		},
		{
			"multibyte runes counted as runes",
			[]session.Message{{Role: session.RoleUser, Content: strings.Repeat("日", 40)}},
			strings.Repeat("日", 30) + "...",
		},
		{
			"first user message wins",
			[]session.Message{
				{Role: session.RoleUser, Content: "first"},
				{Role: session.RoleAssistant, Content: "reply"},
				{Role: session.RoleUser, Content: "second"},
			},
			"first...",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTitle(tt.messages))
		})
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	t.Run("joins passages with separators", func(t *testing.T) {
		got := buildSystemPrompt([]string{"fact one", "fact two"})
		assert.Contains(t, got, preamble)
		assert.Contains(t, got, "fact one\n---\nfact two")
	})
	t.Run("empty retrieval notes the absence", func(t *testing.T) {
		got := buildSystemPrompt(nil)
		assert.Contains(t, got, noContextNotice)
	})
}

func TestErrRateLimited_IsCompletionFailure(t *testing.T) {
	err := fmt.Errorf("%w: details", ErrRateLimited)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.ErrorIs(t, err, ErrCompletionService)
	assert.False(t, errors.Is(ErrCompletionService, ErrRateLimited))
}
