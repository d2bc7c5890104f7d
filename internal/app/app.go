// Package app assembles the assistant from its parts: Genkit and the
// Gemini plugin, the embedding gateway, the vector index manager, the
// retriever, the completer, and the credential store.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/officebrain/officebrain/internal/auth"
	"github.com/officebrain/officebrain/internal/chat"
	"github.com/officebrain/officebrain/internal/config"
	"github.com/officebrain/officebrain/internal/corpus"
	"github.com/officebrain/officebrain/internal/embed"
	"github.com/officebrain/officebrain/internal/retrieve"
	"github.com/officebrain/officebrain/internal/session"
	"github.com/officebrain/officebrain/internal/vecindex"
)

// App holds the wired application components.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Genkit    *genkit.Genkit
	Gateway   *embed.Gateway
	Manager   *vecindex.Manager
	Retriever *retrieve.Retriever
	Completer chat.Completer
	Users     *auth.Store
}

// Setup initializes every component. It fails fast on a missing API key or
// invalid configuration; no network calls are made until the first request.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.CheckAPIKey(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger}

	g, err := provideGenkit(ctx)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	gateway, err := provideGateway(g, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Gateway = gateway

	manager, err := provideIndexManager(cfg, gateway, logger)
	if err != nil {
		return nil, err
	}
	a.Manager = manager

	retriever, err := retrieve.New(retrieve.Config{
		Provider: manager,
		Embedder: gateway,
		TopK:     cfg.RetrievalTopK,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	a.Retriever = retriever

	completer, err := chat.NewGenkitCompleter(chat.GenkitCompleterConfig{
		Genkit:          g,
		ModelName:       "googleai/" + cfg.ModelName,
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		TopK:            cfg.TopK,
		MaxOutputTokens: cfg.MaxOutputTokens,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	a.Completer = completer

	users, err := auth.NewStore(cfg.UsersPath(), logger)
	if err != nil {
		return nil, err
	}
	a.Users = users

	return a, nil
}

// SessionStoreFor returns the conversation store for an identity. Guests get
// an in-memory store; registered users get the durable file-backed one.
func (a *App) SessionStoreFor(identity string) (session.Store, error) {
	if identity == auth.Guest {
		return session.NewMemStore(), nil
	}
	return session.NewFileStore(a.Config.HistoryPath(identity), a.Logger)
}

// Orchestrator builds a chat orchestrator bound to one identity's store.
func (a *App) Orchestrator(store session.Store) (*chat.Orchestrator, error) {
	return chat.New(chat.Config{
		Completer: a.Completer,
		Retriever: a.Retriever,
		Store:     store,
		Logger:    a.Logger,
	})
}

func provideGenkit(ctx context.Context) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, fmt.Errorf("failed to initialize Genkit")
	}
	return g, nil
}

func provideGateway(g *genkit.Genkit, cfg *config.Config, logger *slog.Logger) (*embed.Gateway, error) {
	var embedder ai.Embedder = googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	return embed.NewGateway(embed.Config{
		Embedder:  embedder,
		Dimension: cfg.EmbeddingDimension,
		Timeout:   cfg.RequestTimeout,
		Logger:    logger,
	})
}

func provideIndexManager(cfg *config.Config, gateway *embed.Gateway, logger *slog.Logger) (*vecindex.Manager, error) {
	chunker, err := corpus.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	return vecindex.NewManager(vecindex.ManagerConfig{
		IndexPath:  cfg.IndexPath,
		CorpusPath: cfg.CorpusPath,
		Chunker:    chunker,
		Embedder:   gateway,
		Logger:     logger,
	})
}
