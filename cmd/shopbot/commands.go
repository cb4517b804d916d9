package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"shopbot/internal/catalog"
	"shopbot/internal/config"
	"shopbot/internal/domain"
	"shopbot/internal/embedding"
	"shopbot/internal/memory"
	"shopbot/internal/provider"
	"shopbot/internal/vectorstore/qdrant"
	"shopbot/internal/workflow"
)

func askCmd() *cobra.Command {
	var (
		prior        []string
		conversation string
	)
	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Run one workflow turn and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, appOptions{NoHistory: conversation == ""})
			if err != nil {
				return err
			}
			defer closeApp(a)

			if conversation != "" && len(prior) == 0 && a.history != nil {
				if prior, err = a.history.RecentQueries(ctx, conversation, cfg.Storage.HistoryLimit); err != nil {
					logger.Warn("history unavailable", "error", err)
				}
			}
			res := a.workflow.Run(ctx, workflow.Turn{
				Query:          args[0],
				Prior:          prior,
				At:             time.Now(),
				ConversationID: conversation,
				Destination:    domain.Destination{ConversationID: conversation},
				Source:         "cli",
			})
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringArrayVar(&prior, "prior", nil, "a previous query, oldest first (repeatable)")
	cmd.Flags().StringVar(&conversation, "conversation", "", "conversation id for history and turn logging")
	return cmd
}

func searchCmd() *cobra.Command {
	var (
		k                            int
		category, brand, color, size string
		priceMin, priceMax           float64
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a single-pass catalog search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger, appOptions{NoHistory: true})
			if err != nil {
				return err
			}
			defer closeApp(a)

			c := domain.Constraints{
				Category: domain.Str(category),
				Brand:    domain.Str(brand),
				Color:    domain.Str(color),
				Size:     domain.Str(size),
			}
			if cmd.Flags().Changed("min") {
				c.PriceMin = domain.Float(priceMin)
			}
			if cmd.Flags().Changed("max") {
				c.PriceMax = domain.Float(priceMax)
			}
			items, err := a.engine.Search(ctx, args[0], c, k)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			if items == nil {
				items = []domain.ProductCard{}
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"items": items})
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 8, "number of results (1-50)")
	cmd.Flags().StringVar(&category, "category", "", "exact category")
	cmd.Flags().StringVar(&brand, "brand", "", "exact brand")
	cmd.Flags().StringVar(&color, "color", "", "exact color")
	cmd.Flags().StringVar(&size, "size", "", "exact size")
	cmd.Flags().Float64Var(&priceMin, "min", 0, "minimum price")
	cmd.Flags().Float64Var(&priceMax, "max", 0, "maximum price")
	return cmd
}

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the Qdrant collection and payload indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			emb, store, err := openIndex(cfg)
			if err != nil {
				return err
			}
			if err := store.EnsureCollection(cmd.Context(), emb.Dimension()); err != nil {
				return fmt.Errorf("setup: %w", err)
			}
			logger.Info("collection ready", "store", store.Name(), "dimension", emb.Dimension())
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Embed the catalog fixture and upsert it into Qdrant",
		Long:  "Loads a YAML catalog (the built-in demo catalog when no file is given), embeds every product and upserts it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if file == "" {
				file = cfg.VectorStore.SeedFile
			}
			products, err := catalog.Load(config.ExpandPath(file))
			if err != nil {
				return err
			}
			emb, store, err := openIndex(cfg)
			if err != nil {
				return err
			}
			n, err := catalog.Seed(cmd.Context(), catalog.SeedConfig{Embedder: emb, Store: store, Logger: logger}, products)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			logger.Info("catalog seeded", "products", n, "store", store.Name())
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "catalog YAML file")
	return cmd
}

// openIndex builds the embedder and the Qdrant store without seeding.
func openIndex(cfg *config.Config) (domain.Embedder, domain.VectorStore, error) {
	if cfg.VectorStore.Kind != "qdrant" {
		return nil, nil, errors.New("vectorStore.kind is not qdrant; the in-memory store is seeded at startup")
	}
	emb, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("embedder: %w", err)
	}
	store, err := qdrant.New(qdrant.Config{
		URL:        cfg.VectorStore.URL,
		APIKey:     cfg.VectorStore.APIKey,
		Collection: cfg.VectorStore.Collection,
		VectorName: cfg.VectorStore.VectorName,
		Timeout:    time.Duration(cfg.VectorStore.TimeoutSeconds) * time.Second,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return emb, store, nil
}

func statusCmd() *cobra.Command {
	var turns int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show provider health and recent turns",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
				config.ResolveEnv(cfg)
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			if prov := provider.NewFactory(cfg, logger).HealthyProvider(ctx); prov != nil {
				logger.Info("provider", "name", prov.Name(), "healthy", true)
			} else {
				logger.Info("provider", "healthy", false)
			}
			logger.Info("vector store", "kind", cfg.VectorStore.Kind, "collection", cfg.VectorStore.Collection)
			logger.Info("kapso", "enabled", cfg.Kapso.Enabled, "reply", cfg.Kapso.Reply, "history_from_api", cfg.Kapso.HistoryFromAPI)

			store, err := memory.New(ctx, cfg.Storage, logger)
			if err != nil {
				logger.Info("history store", "available", false, "error", err)
				return nil
			}
			if store == nil {
				logger.Info("history store", "enabled", false)
				return nil
			}
			defer store.Close()
			recent, err := store.ListTurns(ctx, "", turns)
			if err != nil {
				return fmt.Errorf("list turns: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), recent)
		},
	}
	cmd.Flags().IntVarP(&turns, "turns", "n", 5, "recent turns to show")
	return cmd
}

func closeApp(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
}
