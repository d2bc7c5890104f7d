package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RetryConfig configures retry behavior for model calls.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns sensible defaults for LLM API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// rateLimitPatterns identify quota exhaustion. Matched case-insensitively
// against err.Error(); the provider SDK does not expose typed errors for
// these, so string matching is the only handle available.
var rateLimitPatterns = []string{
	"rate limit", "quota exceeded", "resource_exhausted", "429",
}

// transientPatterns identify failures worth retrying beyond rate limits.
var transientPatterns = []string{
	"500", "502", "503", "504", "unavailable",
	"connection reset", "timeout", "temporary",
}

// rateLimited reports whether err looks like quota exhaustion.
func rateLimited(err error) bool {
	return err != nil && containsAny(err.Error(), rateLimitPatterns...)
}

// retryableError reports whether err is transient and worth another attempt.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	return rateLimited(err) || containsAny(err.Error(), transientPatterns...)
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// withRetry runs fn with exponential backoff, rate limiting each attempt
// through wait (nil disables limiting).
func withRetry[T any](
	ctx context.Context,
	cfg RetryConfig,
	wait func(context.Context) error,
	fn func(context.Context) (T, error),
) (T, error) {
	var zero T
	var lastErr error
	delay := cfg.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if wait != nil {
			if err := wait(ctx); err != nil {
				return zero, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !retryableError(err) {
			return zero, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, cfg.MaxInterval)
		}
	}

	return zero, fmt.Errorf("after %d retries (elapsed: %v): %w",
		cfg.MaxRetries, time.Since(start), lastErr)
}
