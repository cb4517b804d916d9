package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"shopbot/internal/config"
	"shopbot/internal/domain"
	"shopbot/internal/embedding"
	"shopbot/internal/memory"
	"shopbot/internal/provider"
)

// checks tallies doctor results.
type checks struct {
	out                    io.Writer
	passed, warned, failed int
}

func (c *checks) pass(check, detail string) {
	fmt.Fprintf(c.out, "  [PASS] %-20s %s\n", check, detail)
	c.passed++
}

func (c *checks) fail(check, detail string) {
	fmt.Fprintf(c.out, "  [FAIL] %-20s %s\n", check, detail)
	c.failed++
}

func (c *checks) warn(check, detail string) {
	fmt.Fprintf(c.out, "  [WARN] %-20s %s\n", check, detail)
	c.warned++
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the shopbot installation",
		Long: `Verifies the configuration, completion provider, embedder, vector store,
history database and HTTP port. Reports pass/warn/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			c := &checks{out: out}
			cfgPath := config.ExpandPath(resolveConfigPath())
			fmt.Fprintf(out, "Shopbot Doctor v%s\n\n", version)

			if _, err := os.Stat(cfgPath); err != nil {
				c.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Fprintf(out, "\nRun 'shopbot init' to create a default configuration.\n")
				return nil
			}
			c.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				c.fail("Config validation", err.Error())
				fmt.Fprintf(out, "\n%d passed, %d failed\n", c.passed, c.failed)
				return fmt.Errorf("invalid config")
			}
			c.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(cmd.Context(), 20*time.Second)
			defer cancel()

			checkProvider(ctx, c, cfg)
			checkEmbedder(ctx, c, cfg)
			checkVectorStore(ctx, c, cfg)
			checkHistory(ctx, c, cfg)
			checkKapso(c, cfg)

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				c.warn("HTTP port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
			} else {
				c.pass("HTTP port", fmt.Sprintf(":%d available", cfg.Server.Port))
			}

			fmt.Fprintf(out, "\nResults: %d passed, %d warnings, %d failed\n", c.passed, c.warned, c.failed)
			if c.failed > 0 {
				return fmt.Errorf("%d check(s) failed", c.failed)
			}
			return nil
		},
	}
}

func checkProvider(ctx context.Context, c *checks, cfg *config.Config) {
	p, err := provider.NewFactory(cfg, logger).Chain()
	if err != nil {
		c.warn("Completion", fmt.Sprintf("%v (classification will use fallbacks)", err))
		return
	}
	if err := p.Healthy(ctx); err != nil {
		c.warn("Completion", fmt.Sprintf("%s unhealthy: %v", p.Name(), err))
		return
	}
	c.pass("Completion", p.Name())
}

func checkEmbedder(ctx context.Context, c *checks, cfg *config.Config) {
	emb, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		c.fail("Embedder", err.Error())
		return
	}
	v, err := emb.Embed(ctx, "black cotton shirt")
	if err != nil {
		c.fail("Embedder", fmt.Sprintf("%s: %v", emb.Name(), err))
		return
	}
	c.pass("Embedder", fmt.Sprintf("%s (%d dims)", emb.Name(), len(v)))
}

func checkVectorStore(ctx context.Context, c *checks, cfg *config.Config) {
	if cfg.VectorStore.Kind != "qdrant" {
		c.warn("Vector store", "in-memory store; the catalog is re-seeded on every start")
		return
	}
	emb, store, err := openIndex(cfg)
	if err != nil {
		c.fail("Vector store", err.Error())
		return
	}
	vec, err := emb.Embed(ctx, "doctor")
	if err != nil {
		c.warn("Vector store", "skipped: embedder unavailable")
		return
	}
	if _, err := store.Search(ctx, domain.SearchRequest{Vector: vec, Limit: 1}); err != nil {
		c.fail("Vector store", fmt.Sprintf("%s: %v (run 'shopbot setup' and 'shopbot seed')", store.Name(), err))
		return
	}
	c.pass("Vector store", store.Name())
}

func checkHistory(ctx context.Context, c *checks, cfg *config.Config) {
	store, err := memory.New(ctx, cfg.Storage, logger)
	if err != nil {
		c.fail("History store", err.Error())
		return
	}
	if store == nil {
		c.warn("History store", "disabled; turns are not recorded")
		return
	}
	defer store.Close()
	if _, err := store.ListTurns(ctx, "", 1); err != nil {
		c.fail("History store", err.Error())
		return
	}
	target := cfg.Storage.DBPath
	if cfg.Storage.Driver == "postgres" {
		target = "postgres"
	}
	c.pass("History store", target)
}

func checkKapso(c *checks, cfg *config.Config) {
	k := cfg.Kapso
	switch {
	case !k.Enabled:
		c.warn("Kapso", "disabled; the webhook route is not served")
	case k.APIKey == "" || k.APIKey == "${KAPSO_API_KEY}":
		c.fail("Kapso", "enabled but no API key (set KAPSO_API_KEY)")
	case k.WebhookSecret == "":
		c.warn("Kapso", "no webhook secret; signatures are not verified")
	default:
		c.pass("Kapso", k.BaseURL)
	}
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
