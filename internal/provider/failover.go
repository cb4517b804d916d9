package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"shopbot/internal/domain"
)

const defaultCooldown = 30 * time.Second

// FailoverProvider tries providers in order. A provider that fails is benched
// for a cooldown so later turns go straight to the next one; when every
// provider is benched the whole chain is tried again.
type FailoverProvider struct {
	providers []domain.Provider
	logger    *slog.Logger
	cooldown  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	benched map[string]time.Time
}

func NewFailoverProvider(providers []domain.Provider, logger *slog.Logger) *FailoverProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverProvider{
		providers: providers,
		logger:    logger,
		cooldown:  defaultCooldown,
		now:       time.Now,
		benched:   make(map[string]time.Time),
	}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (fp *FailoverProvider) Models() []string {
	var all []string
	seen := make(map[string]bool)
	for _, p := range fp.providers {
		for _, m := range p.Models() {
			if !seen[m] {
				seen[m] = true
				all = append(all, m)
			}
		}
	}
	return all
}

func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	for _, p := range fp.providers {
		if err := p.Healthy(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no healthy provider in failover chain")
}

// Chat returns the first successful response. A cancelled context stops the
// chain.
func (fp *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if len(fp.providers) == 0 {
		return nil, fmt.Errorf("failover chain is empty")
	}
	var errs []error
	for i, p := range fp.order() {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			fp.setBenched(p.Name(), time.Time{})
			if i > 0 {
				fp.logger.Info("failover: used fallback provider", "provider", p.Name(), "attempt", i+1)
			}
			return resp, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			return nil, fmt.Errorf("failover aborted: %w", ctx.Err())
		}
		fp.setBenched(p.Name(), fp.now().Add(fp.cooldown))
		fp.logger.Warn("failover: provider failed, benching",
			"provider", p.Name(),
			"cooldown", fp.cooldown,
			"error", err,
		)
	}
	return nil, fmt.Errorf("all providers in failover chain failed: %w", errors.Join(errs...))
}

// order lists providers that are not benched, keeping chain order. If all are
// benched it returns the full chain.
func (fp *FailoverProvider) order() []domain.Provider {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	now := fp.now()
	ready := make([]domain.Provider, 0, len(fp.providers))
	for _, p := range fp.providers {
		if until, ok := fp.benched[p.Name()]; ok && now.Before(until) {
			continue
		}
		ready = append(ready, p)
	}
	if len(ready) == 0 {
		return fp.providers
	}
	return ready
}

func (fp *FailoverProvider) setBenched(name string, until time.Time) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if until.IsZero() {
		delete(fp.benched, name)
		return
	}
	fp.benched[name] = until
}
