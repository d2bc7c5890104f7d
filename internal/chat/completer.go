package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/officebrain/officebrain/internal/session"
)

// GenkitCompleterConfig carries the dependencies for a GenkitCompleter.
type GenkitCompleterConfig struct {
	Genkit    *genkit.Genkit
	ModelName string // provider-qualified, e.g. "googleai/gemini-flash-latest"

	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int32

	Retry   RetryConfig   // zero value uses defaults
	Limiter *rate.Limiter // nil uses a conservative default
	Logger  *slog.Logger
}

// GenkitCompleter calls the Gemini model through Genkit, with per-attempt
// rate limiting and exponential backoff on transient failures. Quota
// exhaustion surfaces as ErrRateLimited, everything else as
// ErrCompletionService.
type GenkitCompleter struct {
	g         *genkit.Genkit
	modelName string
	genConfig *genai.GenerateContentConfig
	retry     RetryConfig
	limiter   *rate.Limiter
	logger    *slog.Logger
}

func NewGenkitCompleter(cfg GenkitCompleterConfig) (*GenkitCompleter, error) {
	if cfg.Genkit == nil {
		return nil, errors.New("genkit instance is required")
	}
	if cfg.ModelName == "" {
		return nil, errors.New("model name is required")
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = rate.NewLimiter(rate.Limit(2), 4)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &GenkitCompleter{
		g:         cfg.Genkit,
		modelName: cfg.ModelName,
		genConfig: &genai.GenerateContentConfig{
			Temperature:     genai.Ptr(cfg.Temperature),
			TopP:            genai.Ptr(cfg.TopP),
			TopK:            genai.Ptr(cfg.TopK),
			MaxOutputTokens: cfg.MaxOutputTokens,
		},
		retry:   cfg.Retry,
		limiter: cfg.Limiter,
		logger:  cfg.Logger,
	}, nil
}

func (c *GenkitCompleter) Complete(ctx context.Context, system string, transcript []session.Message) (string, error) {
	messages := make([]*ai.Message, 0, len(transcript))
	for _, m := range transcript {
		switch m.Role {
		case session.RoleAssistant:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(m.Content)))
		default:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(m.Content)))
		}
	}

	resp, err := withRetry(ctx, c.retry, c.limiter.Wait,
		func(ctx context.Context) (*ai.ModelResponse, error) {
			return genkit.Generate(ctx, c.g,
				ai.WithModelName(c.modelName),
				ai.WithSystem(system),
				ai.WithMessages(messages...),
				ai.WithConfig(c.genConfig),
			)
		})
	if err != nil {
		if rateLimited(err) {
			return "", fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return "", fmt.Errorf("%w: %v", ErrCompletionService, err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: model returned an empty response", ErrCompletionService)
	}
	return text, nil
}
