// Package ideas expands a contextual shopping need into concrete catalog
// search queries.
package ideas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"shopbot/internal/domain"
	"shopbot/internal/llmjson"
)

const (
	MaxQueries      = 4
	FallbackType    = "general"
	FallbackContext = "General product search"

	defaultTimeout     = 20 * time.Second
	defaultTemperature = 0.7
	defaultMaxTokens   = 400
)

// ErrNoQueries is returned by Parse when the model produced no usable query.
var ErrNoQueries = errors.New("idea generation produced no search queries")

// Result carries a plan that is always usable; Err is set when the plan is the fallback.
type Result struct {
	Plan domain.SearchPlan
	Err  error
}

func (r Result) OK() bool { return r.Err == nil }

type Config struct {
	Completer   domain.Completer
	Categories  []string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	Logger      *slog.Logger
}

type Generator struct {
	completer   domain.Completer
	categories  []string
	timeout     time.Duration
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

func New(cfg Config) *Generator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Generator{
		completer:   cfg.Completer,
		categories:  cfg.Categories,
		timeout:     cfg.Timeout,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      cfg.Logger,
	}
}

// Fallback is a single-pass plan over the raw query.
func Fallback(query string) domain.SearchPlan {
	return domain.SearchPlan{
		Entries:     []domain.PlanEntry{{Query: query, ProductType: FallbackType}},
		UserContext: FallbackContext,
	}
}

func (g *Generator) Generate(ctx context.Context, query string, prior []string, in domain.Intent) Result {
	if g.completer == nil {
		return Result{Plan: Fallback(query), Err: errors.New("no completion service configured")}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.completer.Complete(ctx, domain.CompletionRequest{
		System:      systemPrompt(g.categories),
		User:        userPrompt(query, prior, in),
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		JSON:        true,
	})
	if err != nil {
		g.logger.Warn("idea generation failed", "error", err)
		return Result{Plan: Fallback(query), Err: fmt.Errorf("generate ideas: %w", err)}
	}

	plan, err := Parse(out)
	if err != nil {
		g.logger.Warn("unparsable idea generation", "error", err)
		return Result{Plan: Fallback(query), Err: fmt.Errorf("generate ideas: %w", err)}
	}
	g.logger.Debug("ideas generated", "queries", plan.Queries(), "user_context", plan.UserContext)
	return Result{Plan: plan}
}

type ideas struct {
	ProductTypes  []string `json:"product_types"`
	SearchQueries []string `json:"search_queries"`
	UserContext   string   `json:"user_context"`
}

// Parse decodes {product_types, search_queries, user_context}. Queries are
// trimmed, de-duplicated case-insensitively and capped at MaxQueries. Product
// types pair with queries by position in the model's list.
func Parse(completion string) (domain.SearchPlan, error) {
	var raw ideas
	if err := llmjson.Decode(completion, &raw); err != nil {
		return domain.SearchPlan{}, err
	}

	plan := domain.SearchPlan{UserContext: strings.TrimSpace(raw.UserContext)}
	seen := make(map[string]bool, len(raw.SearchQueries))
	for i, q := range raw.SearchQueries {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true

		var pt string
		if i < len(raw.ProductTypes) {
			pt = strings.TrimSpace(raw.ProductTypes[i])
		}
		plan.Entries = append(plan.Entries, domain.PlanEntry{Query: q, ProductType: pt})
		if len(plan.Entries) == MaxQueries {
			break
		}
	}
	if len(plan.Entries) == 0 {
		return domain.SearchPlan{}, ErrNoQueries
	}
	if plan.UserContext == "" {
		plan.UserContext = FallbackContext
	}
	return plan, nil
}
