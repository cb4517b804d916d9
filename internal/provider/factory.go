package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"shopbot/internal/config"
	"shopbot/internal/domain"
)

// ProviderConstructor creates a provider from a config entry.
type ProviderConstructor func(pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error)

// Factory creates and caches LLM providers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	cache        map[string]domain.Provider
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.Provider),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by kind.
func (f *Factory) RegisterConstructor(kind string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["ollama"] = func(pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
		return NewOllama(OllamaConfig{APIBase: pc.APIBase, DefaultModel: pc.DefaultModel, Logger: logger}), nil
	}

	f.constructors["openai"] = func(pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
		return NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger}), nil
	}

	f.constructors["claude"] = func(pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
		return NewClaude(ClaudeConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger}), nil
	}

	f.constructors["langchain"] = func(pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
		return NewLangChain(LangChainConfig{Backend: "openai", APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger})
	}

	f.constructors["langchain-ollama"] = func(pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
		return NewLangChain(LangChainConfig{Backend: "ollama", APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger})
	}
}

// Get returns the provider with the given name, or the default if name is empty.
// Created providers are cached so the same instance is reused across calls.
// Uses double-check locking to avoid TOCTOU races.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}

	// Fast path: read lock.
	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	// Slow path: write lock with double-check.
	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	kind := pc.KindOr(name)
	ctor, found := f.constructors[kind]

	var p domain.Provider
	switch {
	case found:
		var err error
		p, err = ctor(pc, f.logger.With("provider", name))
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
	case pc.APIBase != "":
		// Unknown kinds with an endpoint are treated as OpenAI-compatible.
		p = NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: f.logger})
	default:
		return nil, fmt.Errorf("provider %s: no constructor for kind %q and no apiBase configured", name, kind)
	}

	f.cache[name] = p
	return p, nil
}

// DefaultProvider returns the configured default provider.
func (f *Factory) DefaultProvider() (domain.Provider, error) {
	return f.Get("")
}

// Chain returns the default provider, wrapped in a FailoverProvider when
// general.failoverChain names more than one usable provider.
func (f *Factory) Chain() (domain.Provider, error) {
	names := f.cfg.General.FailoverChain
	if len(names) == 0 {
		return f.DefaultProvider()
	}

	var providers []domain.Provider
	for _, name := range names {
		p, err := f.Get(name)
		if err != nil {
			f.logger.Warn("failover chain: skipping provider", "provider", name, "error", err)
			continue
		}
		providers = append(providers, p)
	}
	switch len(providers) {
	case 0:
		return nil, fmt.Errorf("no usable provider in failover chain %v", names)
	case 1:
		return providers[0], nil
	default:
		return NewFailoverProvider(providers, f.logger), nil
	}
}

// HealthyProvider returns the first enabled provider (by name) that passes a health check, or nil.
func (f *Factory) HealthyProvider(ctx context.Context) domain.Provider {
	names := make([]string, 0, len(f.cfg.Providers))
	for name := range f.cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p, err := f.Get(name)
		if err != nil || p == nil {
			continue
		}
		if p.Healthy(ctx) == nil {
			return p
		}
	}
	return nil
}
