package cmd

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"

	"github.com/officebrain/officebrain/internal/app"
	"github.com/officebrain/officebrain/internal/auth"
	"github.com/officebrain/officebrain/internal/chat"
	"github.com/officebrain/officebrain/internal/config"
	"github.com/officebrain/officebrain/internal/session"
	"github.com/officebrain/officebrain/internal/vecindex"
)

// rateLimitMessage is shown instead of an error dump when the model quota
// runs out mid-conversation.
const rateLimitMessage = "Too many requests! Please wait a moment."

// executeChat runs the interactive loop. Without -user it runs as the
// anonymous guest, whose history is discarded at exit.
func executeChat(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	user := fs.String("user", "", "registered username (empty = guest)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := checkRequiredEnv(cfg); err != nil {
		return err
	}

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to set up application: %w", err)
	}

	identity := auth.Guest
	if *user != "" {
		if err := login(ctx, a.Users, *user); err != nil {
			return err
		}
		identity = *user
	}

	store, err := a.SessionStoreFor(identity)
	if err != nil {
		return fmt.Errorf("opening conversation history: %w", err)
	}
	orch, err := a.Orchestrator(store)
	if err != nil {
		return err
	}

	repl := &chatLoop{
		in:       bufio.NewScanner(os.Stdin),
		out:      os.Stdout,
		store:    store,
		orch:     orch,
		render:   newRenderer(),
		identity: identity,
		current:  session.New(),
	}
	return repl.run(ctx)
}

// login prompts for a password and authenticates against the user store.
func login(ctx context.Context, users *auth.Store, username string) error {
	fmt.Printf("Password for %s: ", username)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return errors.New("no password entered")
	}
	if err := users.Authenticate(ctx, username, scanner.Text()); err != nil {
		return err
	}
	fmt.Printf("Welcome back, %s!\n", username)
	return nil
}

// renderer converts assistant markdown to styled terminal output, falling
// back to plain text when the terminal cannot be styled.
type renderer struct {
	term *glamour.TermRenderer
}

func newRenderer() *renderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return &renderer{}
	}
	return &renderer{term: r}
}

func (r *renderer) render(markdown string) string {
	if r.term == nil {
		return markdown
	}
	out, err := r.term.Render(markdown)
	if err != nil {
		return markdown
	}
	return out
}

// chatLoop holds the interactive session state.
type chatLoop struct {
	in       *bufio.Scanner
	out      io.Writer
	store    session.Store
	orch     *chat.Orchestrator
	render   *renderer
	identity string
	current  *session.Session

	// listing maps the last printed session numbers to ids, so /open and
	// /delete can take a short number instead of a UUID.
	listing []uuid.UUID
}

func (l *chatLoop) run(ctx context.Context) error {
	fmt.Fprintf(l.out, "officebrain v%s (chatting as %s)\n", AppVersion, l.identity)
	fmt.Fprintln(l.out, `Type your question, or /help for commands.`)

	for {
		fmt.Fprint(l.out, "\n> ")
		if !l.in.Scan() {
			fmt.Fprintln(l.out, "\nGoodbye!")
			return l.in.Err()
		}
		input := strings.TrimSpace(l.in.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			done, err := l.command(ctx, input)
			if err != nil {
				fmt.Fprintf(l.out, "Error: %v\n", err)
			}
			if done {
				return nil
			}
			continue
		}

		l.ask(ctx, input)
	}
}

// ask runs one conversational turn and prints the reply.
func (l *chatLoop) ask(ctx context.Context, input string) {
	reply, err := l.orch.Ask(ctx, l.current, input)
	switch {
	case errors.Is(err, chat.ErrRateLimited):
		fmt.Fprintln(l.out, rateLimitMessage)
		return
	case errors.Is(err, chat.ErrCompletionService):
		fmt.Fprintf(l.out, "Sorry, I couldn't reach the model: %v\n", err)
		return
	case errors.Is(err, session.ErrStore):
		// The reply is good even though saving it failed.
		fmt.Fprint(l.out, l.render.render(reply))
		fmt.Fprintln(l.out, "(warning: failed to save this conversation)")
		return
	case err != nil:
		fmt.Fprintf(l.out, "Error: %v\n", err)
		return
	}
	fmt.Fprint(l.out, l.render.render(reply))
}

// command dispatches a slash command. It returns true when the loop should
// exit.
func (l *chatLoop) command(ctx context.Context, input string) (bool, error) {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/exit", "/quit":
		fmt.Fprintln(l.out, "Goodbye!")
		return true, nil

	case "/help":
		fmt.Fprintln(l.out, `Commands:
  /new           Start a new conversation
  /sessions      List saved conversations
  /open N        Resume conversation N from the list
  /delete N      Delete conversation N from the list
  /exit          Leave the chat`)
		return false, nil

	case "/new":
		l.current = session.New()
		fmt.Fprintln(l.out, "Started a new conversation.")
		return false, nil

	case "/sessions":
		return false, l.listSessions(ctx)

	case "/open":
		if len(fields) < 2 {
			return false, errors.New("usage: /open N (run /sessions first)")
		}
		return false, l.openSession(ctx, fields[1])

	case "/delete":
		if len(fields) < 2 {
			return false, errors.New("usage: /delete N (run /sessions first)")
		}
		return false, l.deleteSession(ctx, fields[1])

	default:
		return false, fmt.Errorf("unknown command %q, try /help", fields[0])
	}
}

func (l *chatLoop) listSessions(ctx context.Context) error {
	metas, err := l.store.Sessions(ctx)
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Fprintln(l.out, "No saved conversations.")
		l.listing = nil
		return nil
	}

	l.listing = make([]uuid.UUID, len(metas))
	for i, m := range metas {
		l.listing[i] = m.ID
		fmt.Fprintf(l.out, "%3d. %-35s %s\n", i+1, m.Title, m.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func (l *chatLoop) resolve(arg string) (uuid.UUID, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(l.listing) {
		return uuid.Nil, fmt.Errorf("no conversation %q in the last /sessions listing", arg)
	}
	return l.listing[n-1], nil
}

func (l *chatLoop) openSession(ctx context.Context, arg string) error {
	id, err := l.resolve(arg)
	if err != nil {
		return err
	}
	sess, err := l.store.Session(ctx, id)
	if err != nil {
		return err
	}
	l.current = sess
	fmt.Fprintf(l.out, "Resumed %q (%d messages).\n", sess.Title, len(sess.Messages))
	for _, m := range sess.Messages {
		if m.Role == session.RoleUser {
			fmt.Fprintf(l.out, "\n> %s\n", m.Content)
			continue
		}
		fmt.Fprint(l.out, l.render.render(m.Content))
	}
	return nil
}

func (l *chatLoop) deleteSession(ctx context.Context, arg string) error {
	id, err := l.resolve(arg)
	if err != nil {
		return err
	}
	if err := l.store.Delete(ctx, id); err != nil {
		return err
	}
	if l.current.ID == id {
		l.current = session.New()
	}
	fmt.Fprintln(l.out, "Deleted.")
	return nil
}

// executeIndex rebuilds the knowledge index from the corpus file.
func executeIndex(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := checkRequiredEnv(cfg); err != nil {
		return err
	}

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to set up application: %w", err)
	}

	idx, err := a.Manager.Rebuild(ctx)
	if err != nil {
		if errors.Is(err, vecindex.ErrIndexUnavailable) {
			return fmt.Errorf("no corpus file at %s; create it and retry", cfg.CorpusPath)
		}
		return err
	}

	fmt.Printf("Indexed %d passages (dimension %d) into %s\n",
		idx.Len(), idx.Dimension(), cfg.IndexPath)
	return nil
}
