// Package catalog loads product fixtures and indexes them into a vector store.
package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"shopbot/internal/domain"
)

//go:embed products.yaml
var defaultFixture []byte

// Product is one catalog row as written in a YAML fixture.
type Product struct {
	ID          string   `yaml:"product_id"`
	Title       string   `yaml:"title"`
	Brand       string   `yaml:"brand,omitempty"`
	Category    string   `yaml:"category,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Price       float64  `yaml:"price"`
	Colors      []string `yaml:"colors,omitempty"`
	Sizes       []string `yaml:"sizes,omitempty"`
	ImageURL    string   `yaml:"image_url,omitempty"`
	InStock     bool     `yaml:"in_stock"`
}

type fixture struct {
	Products []Product `yaml:"products"`
}

// Load reads a fixture file. An empty path loads the built-in demo catalog.
func Load(path string) ([]Product, error) {
	data := defaultFixture
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		data = b
	}
	return Parse(data)
}

// Parse decodes a fixture and rejects rows without an id or title.
func Parse(data []byte) ([]Product, error) {
	var f fixture
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	var errs []string
	seen := make(map[string]bool, len(f.Products))
	for i, p := range f.Products {
		switch {
		case strings.TrimSpace(p.ID) == "":
			errs = append(errs, fmt.Sprintf("products[%d]: product_id is required", i))
		case strings.TrimSpace(p.Title) == "":
			errs = append(errs, fmt.Sprintf("products[%d]: title is required", i))
		case seen[p.ID]:
			errs = append(errs, fmt.Sprintf("products[%d]: duplicate product_id %q", i, p.ID))
		case p.Price < 0:
			errs = append(errs, fmt.Sprintf("products[%d]: negative price", i))
		}
		seen[p.ID] = true
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid catalog:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return f.Products, nil
}

// Document is the text embedded for a product.
func (p Product) Document() string {
	parts := make([]string, 0, 6)
	for _, s := range []string{p.Title, p.Brand, p.Category, p.Description} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	parts = append(parts, "Colors: "+joinOrNone(p.Colors), "Sizes: "+joinOrNone(p.Sizes))
	return strings.Join(parts, ". ")
}

func joinOrNone(vals []string) string {
	if len(vals) == 0 {
		return "none"
	}
	return strings.Join(vals, ", ")
}

// Payload is the filterable record stored next to the vector. Empty optional
// fields are written as nil.
func (p Product) Payload() map[string]any {
	return map[string]any{
		"product_id":  p.ID,
		"title":       p.Title,
		"brand":       nilIfEmpty(p.Brand),
		"category":    nilIfEmpty(p.Category),
		"price":       p.Price,
		"colors":      nonNil(p.Colors),
		"sizes":       nonNil(p.Sizes),
		"image_url":   nilIfEmpty(p.ImageURL),
		"description": nilIfEmpty(p.Description),
		"in_stock":    p.InStock,
	}
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

const defaultBatchSize = 100

type SeedConfig struct {
	Embedder  domain.Embedder
	Store     domain.VectorStore
	BatchSize int
	Logger    *slog.Logger
}

// Seed embeds every product and upserts it in batches. It returns how many
// products were written.
func Seed(ctx context.Context, cfg SeedConfig, products []Product) (int, error) {
	if cfg.Embedder == nil || cfg.Store == nil {
		return 0, errors.New("seed: embedder and store are required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(products) == 0 {
		return 0, nil
	}

	first, err := cfg.Embedder.Embed(ctx, products[0].Document())
	if err != nil {
		return 0, fmt.Errorf("embed %s: %w", products[0].ID, err)
	}
	if err := cfg.Store.EnsureCollection(ctx, len(first)); err != nil {
		return 0, fmt.Errorf("ensure collection: %w", err)
	}

	written := 0
	batch := make([]domain.Point, 0, cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := cfg.Store.Upsert(ctx, batch); err != nil {
			return err
		}
		written += len(batch)
		cfg.Logger.Info("catalog batch upserted", "written", written, "total", len(products))
		batch = batch[:0]
		return nil
	}

	for i, p := range products {
		vec := first
		if i > 0 {
			if vec, err = cfg.Embedder.Embed(ctx, p.Document()); err != nil {
				return written, fmt.Errorf("embed %s: %w", p.ID, err)
			}
		}
		batch = append(batch, domain.Point{ID: p.ID, Vector: vec, Payload: p.Payload()})
		if len(batch) == cfg.BatchSize {
			if err := flush(); err != nil {
				return written, fmt.Errorf("upsert: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		return written, fmt.Errorf("upsert: %w", err)
	}
	return written, nil
}
