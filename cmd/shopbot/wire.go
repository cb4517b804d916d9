package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"shopbot/internal/agent"
	"shopbot/internal/assistant"
	"shopbot/internal/bus"
	"shopbot/internal/catalog"
	"shopbot/internal/channel"
	"shopbot/internal/config"
	"shopbot/internal/dedup"
	"shopbot/internal/domain"
	"shopbot/internal/embedding"
	"shopbot/internal/intent"
	"shopbot/internal/ideas"
	"shopbot/internal/kapso"
	"shopbot/internal/memory"
	"shopbot/internal/metrics"
	"shopbot/internal/notify"
	"shopbot/internal/provider"
	"shopbot/internal/retrieval"
	vectormem "shopbot/internal/vectorstore/memory"
	"shopbot/internal/vectorstore/qdrant"
	"shopbot/internal/workflow"
)

// appOptions overrides parts of the graph, mainly for tests.
type appOptions struct {
	Completer domain.Completer   // replaces the provider chain
	Store     domain.VectorStore // replaces the configured vector store
	NoHistory bool               // skip the history store (one-shot commands)
}

// app is the wired component graph shared by every command.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	bus        *bus.EventBus
	recorder   *metrics.Recorder
	completer  domain.Completer
	embedder   domain.Embedder
	store      domain.VectorStore
	history    domain.HistoryStore
	engine     *retrieval.Engine
	dispatcher *notify.Dispatcher
	workflow   *workflow.Orchestrator
	assistant  *assistant.Assistant
	kapso      *kapso.Client
	dedup      *dedup.Cache
	pool       *agent.BackgroundPool
	service    *agent.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		bus:      bus.NewEventBus(logger),
		recorder: metrics.Default,
	}
	if cfg.Metrics.Enabled {
		a.recorder.Subscribe(a.bus)
	}

	a.completer = opts.Completer
	if a.completer == nil {
		c, err := buildCompletion(cfg, logger, a.recorder)
		if err != nil {
			logger.Warn("no completion service, classification will use fallbacks", "error", err)
		} else {
			a.completer = c
		}
	}

	emb, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	a.embedder = emb

	a.store = opts.Store
	if a.store == nil {
		if a.store, err = buildVectorStore(ctx, cfg, emb, logger); err != nil {
			return nil, err
		}
	}

	if !opts.NoHistory {
		if a.history, err = memory.New(ctx, cfg.Storage, logger); err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
		if a.history != nil {
			memory.NewTurnLog(a.history, logger).Subscribe(a.bus)
		}
	}

	if cfg.Kapso.Enabled {
		a.kapso, err = kapso.NewClient(kapso.ClientConfig{
			BaseURL: cfg.Kapso.BaseURL,
			APIKey:  cfg.Kapso.APIKey,
			Timeout: time.Duration(cfg.Kapso.TimeoutSeconds) * time.Second,
			Logger:  logger.With("component", "kapso"),
		})
		if err != nil {
			logger.Warn("kapso disabled", "error", err)
		}
	}

	tracerName := cfg.Telemetry.ServiceName
	a.engine = retrieval.New(retrieval.Config{
		Embedder:   emb,
		Store:      a.store,
		MaxQueries: cfg.Retrieval.MaxQueries,
		PerQuery:   cfg.Retrieval.PerQuery,
		MaxResults: cfg.Retrieval.MaxResults,
		Timeout:    time.Duration(cfg.VectorStore.TimeoutSeconds) * time.Second,
		Tracer:     otel.Tracer(tracerName + "/retrieval"),
		Logger:     logger.With("component", "retrieval"),
		Observe:    a.recorder.Retrieval,
	})

	if cfg.Notify.Enabled {
		var sender notify.MessageSender
		if a.kapso != nil {
			sender = a.kapso
		}
		a.dispatcher = notify.NewDispatcher(notify.DispatcherConfig{
			Sinks:   notify.BuildSinks(cfg.Notify, sender, logger),
			Timeout: time.Duration(cfg.Notify.TimeoutSeconds) * time.Second,
			Logger:  logger.With("component", "notify"),
			Observe: a.notificationObserved,
			Record:  a.recordNotification,
		})
	}

	completionTimeout := time.Duration(cfg.Completion.TimeoutSeconds) * time.Second
	wcfg := workflow.Config{
		Classifier: intent.New(intent.Config{
			Completer:   a.completer,
			Categories:  cfg.Catalog.Categories,
			Timeout:     completionTimeout,
			Temperature: cfg.Completion.ClassifyTemperature,
			MaxTokens:   cfg.Completion.MaxTokens,
			Logger:      logger.With("component", "intent"),
		}),
		Ideas: ideas.New(ideas.Config{
			Completer:   a.completer,
			Categories:  cfg.Catalog.Categories,
			Timeout:     completionTimeout,
			Temperature: cfg.Completion.IdeasTemperature,
			MaxTokens:   cfg.Completion.MaxTokens,
			Logger:      logger.With("component", "ideas"),
		}),
		Retriever:     a.engine,
		MinConfidence: cfg.Notify.MinConfidence,
		Bus:           a.bus,
		Tracer:        otel.Tracer(tracerName + "/workflow"),
		Logger:        logger.With("component", "workflow"),
	}
	if a.dispatcher != nil {
		wcfg.Dispatcher = a.dispatcher
	}
	a.workflow = workflow.New(wcfg)

	a.assistant = assistant.New(assistant.Config{
		Completer:   a.completer,
		Searcher:    a.engine,
		Timeout:     completionTimeout,
		Temperature: cfg.Completion.AskTemperature,
		Logger:      logger.With("component", "assistant"),
	})

	a.dedup = dedup.New(dedup.Config{
		TTL:    time.Duration(cfg.Dedup.TTLSeconds) * time.Second,
		Logger: logger.With("component", "dedup"),
	})
	a.pool = agent.NewBackgroundPool(agent.PoolConfig{
		Workers: cfg.Agent.ReadMarkWorkers,
		Logger:  logger.With("component", "background"),
	})

	scfg := agent.ServiceConfig{
		Workflow:           a.workflow,
		Dedup:              a.dedup,
		HistoryFromAPI:     cfg.Kapso.HistoryFromAPI,
		HistoryLimit:       cfg.Storage.HistoryLimit,
		Reply:              cfg.Kapso.Reply,
		MarkAsRead:         cfg.Kapso.MarkAsRead,
		Pool:               a.pool,
		Bus:                a.bus,
		MaxConcurrentTurns: cfg.Agent.MaxConcurrentTurns,
		TurnTimeout:        time.Duration(cfg.Agent.TurnTimeoutSeconds) * time.Second,
		InFlight:           a.recorder.InFlight(),
		Logger:             logger.With("component", "agent"),
	}
	if a.history != nil {
		scfg.History = a.history
	}
	if a.kapso != nil {
		scfg.Kapso = a.kapso
		if cfg.Kapso.HistoryFromAPI {
			scfg.HistoryLimit = cfg.Kapso.HistoryLimit
		}
	}
	a.service = agent.NewService(scfg)

	return a, nil
}

func buildCompletion(cfg *config.Config, logger *slog.Logger, rec *metrics.Recorder) (*provider.Completion, error) {
	factory := provider.NewFactory(cfg, logger)
	p, err := factory.Chain()
	if err != nil {
		return nil, err
	}
	return provider.NewCompletion(provider.CompletionConfig{
		Provider:        p,
		RateLimitPerMin: cfg.Providers[cfg.General.DefaultProvider].RateLimitPerMin,
		Timeout:         time.Duration(cfg.Completion.TimeoutSeconds) * time.Second,
		Logger:          logger.With("component", "completion"),
		Observe:         rec.Completion,
	}), nil
}

// buildVectorStore opens the configured index. The in-memory store is seeded
// from the catalog fixture since it starts empty.
func buildVectorStore(ctx context.Context, cfg *config.Config, emb domain.Embedder, logger *slog.Logger) (domain.VectorStore, error) {
	vc := cfg.VectorStore
	switch vc.Kind {
	case "qdrant":
		s, err := qdrant.New(qdrant.Config{
			URL:        vc.URL,
			APIKey:     vc.APIKey,
			Collection: vc.Collection,
			VectorName: vc.VectorName,
			Timeout:    time.Duration(vc.TimeoutSeconds) * time.Second,
			Logger:     logger.With("component", "qdrant"),
		})
		if err != nil {
			return nil, fmt.Errorf("vector store: %w", err)
		}
		return s, nil
	case "memory", "":
		s := vectormem.New()
		products, err := catalog.Load(vc.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		n, err := catalog.Seed(ctx, catalog.SeedConfig{Embedder: emb, Store: s, Logger: logger}, products)
		if err != nil {
			return nil, fmt.Errorf("seed memory store: %w", err)
		}
		logger.Info("in-memory catalog ready", "products", n)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown vector store kind: %s", vc.Kind)
	}
}

func (a *app) notificationObserved(sink string, err error) {
	evt := bus.Event{
		Type:      bus.EventNotificationSent,
		Source:    "notify",
		Payload:   map[string]any{"sink": sink},
		Timestamp: time.Now(),
	}
	if err != nil {
		evt.Type = bus.EventNotificationFailed
		evt.Payload = map[string]any{"sink": sink, "error": err.Error()}
	}
	a.bus.Emit(evt)
}

func (a *app) recordNotification(ctx context.Context, rec domain.NotificationRecord) {
	if a.history == nil {
		return
	}
	if err := a.history.RecordNotification(ctx, rec); err != nil {
		a.logger.Warn("notification record failed", "turn_id", rec.TurnID, "error", err)
	}
}

// server builds the HTTP front door over the graph.
func (a *app) server() *channel.Server {
	scfg := channel.ServerConfig{
		Host:     a.cfg.Server.Host,
		Port:     a.cfg.Server.Port,
		APIKey:   a.cfg.Server.APIKey,
		Search:   a.engine,
		Ask:      a.assistant,
		Workflow: a.workflow,
		Dedup:    a.dedup,
		Logger:   a.logger.With("component", "http"),
	}
	if a.cfg.Kapso.Enabled {
		scfg.Webhook = a.service
		scfg.WebhookPath = a.cfg.Kapso.WebhookPath
		scfg.WebhookSecret = a.cfg.Kapso.WebhookSecret
	}
	if a.cfg.Metrics.Enabled {
		scfg.Metrics = a.recorder
		scfg.MetricsPath = a.cfg.Metrics.Endpoint
	}
	return channel.NewServer(scfg)
}

// pruneHistory drops turns older than the retention window.
func (a *app) pruneHistory(ctx context.Context) {
	if a.history == nil || a.cfg.Storage.RetentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -a.cfg.Storage.RetentionDays)
	if _, err := a.history.Prune(ctx, cutoff); err != nil {
		a.logger.Warn("history prune failed", "error", err)
	}
}

// Close drains background work and releases the history store.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if err := a.pool.Stop(ctx); err != nil && !errors.Is(err, agent.ErrPoolStopped) {
		errs = append(errs, fmt.Errorf("background pool: %w", err))
	}
	if a.dispatcher != nil {
		if err := a.dispatcher.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("notifications: %w", err))
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history store: %w", err))
		}
	}
	return errors.Join(errs...)
}
