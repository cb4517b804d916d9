package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"shopbot/internal/domain"
)

const defaultCompletionTimeout = 20 * time.Second

// Completion turns a chat Provider into the single-shot domain.Completer the
// classifier, idea generator and assistant use. Every call is bounded by a
// timeout and throttled by a token bucket.
type Completion struct {
	provider domain.Provider
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *slog.Logger
	observe  func(provider string, d time.Duration, err error)
}

type CompletionConfig struct {
	Provider        domain.Provider
	RateLimitPerMin int // 0 disables throttling
	Timeout         time.Duration
	Logger          *slog.Logger
	// Observe, when set, is called after every completion with its latency and outcome.
	Observe func(provider string, d time.Duration, err error)
}

func NewCompletion(cfg CompletionConfig) *Completion {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCompletionTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Completion{
		provider: cfg.Provider,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		observe:  cfg.Observe,
	}
	if cfg.RateLimitPerMin > 0 {
		burst := cfg.RateLimitPerMin / 10
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMin)/60.0), burst)
	}
	return c
}

func (c *Completion) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	out, err := c.complete(ctx, req)
	if c.observe != nil {
		c.observe(c.provider.Name(), time.Since(start), err)
	}
	if err != nil {
		c.logger.Warn("completion failed", "provider", c.provider.Name(), "elapsed", time.Since(start), "error", err)
		return "", err
	}
	c.logger.Debug("completion done", "provider", c.provider.Name(), "elapsed", time.Since(start), "chars", len(out))
	return out, nil
}

func (c *Completion) complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	msgs := make([]domain.Message, 0, 2)
	if req.System != "" {
		msgs = append(msgs, domain.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, domain.Message{Role: "user", Content: req.User})

	resp, err := c.provider.Chat(ctx, domain.ChatRequest{
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		JSONMode:    req.JSON,
	})
	if err != nil {
		return "", err
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "", fmt.Errorf("%s returned an empty completion", c.provider.Name())
	}
	return content, nil
}

// Provider returns the wrapped provider.
func (c *Completion) Provider() domain.Provider { return c.provider }
