// Package retrieval runs a search plan against the vector store and merges
// the passes into one explained, de-duplicated result list.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"shopbot/internal/domain"
)

const (
	DefaultMaxQueries = 3
	DefaultPerQuery   = 4
	DefaultMaxResults = 8
	MaxK              = 50

	defaultTimeout = 10 * time.Second
)

// Outcome is the merged result of a plan. Failed lists the queries whose
// pass errored and was skipped.
type Outcome struct {
	Items  []domain.ProductCard
	Failed []string
}

type Config struct {
	Embedder   domain.Embedder
	Store      domain.VectorStore
	MaxQueries int
	PerQuery   int
	MaxResults int
	Timeout    time.Duration // per embed+search pass
	Tracer     trace.Tracer
	Logger     *slog.Logger
	// Observe, when set, receives the latency of every Retrieve call.
	Observe func(d time.Duration)
}

type Engine struct {
	embedder   domain.Embedder
	store      domain.VectorStore
	maxQueries int
	perQuery   int
	maxResults int
	timeout    time.Duration
	tracer     trace.Tracer
	logger     *slog.Logger
	observe    func(d time.Duration)
}

func New(cfg Config) *Engine {
	if cfg.MaxQueries <= 0 {
		cfg.MaxQueries = DefaultMaxQueries
	}
	if cfg.PerQuery <= 0 {
		cfg.PerQuery = DefaultPerQuery
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("shopbot/retrieval")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		embedder:   cfg.Embedder,
		store:      cfg.Store,
		maxQueries: cfg.MaxQueries,
		perQuery:   cfg.PerQuery,
		maxResults: cfg.MaxResults,
		timeout:    cfg.Timeout,
		tracer:     cfg.Tracer,
		logger:     cfg.Logger,
		observe:    cfg.Observe,
	}
}

// Retrieve runs the first MaxQueries plan entries concurrently and merges
// their hits in plan order. The first query to return a product owns its
// card; merging stops at MaxResults. A failed pass never fails the call.
func (e *Engine) Retrieve(ctx context.Context, plan domain.SearchPlan, c domain.Constraints) Outcome {
	start := time.Now()
	defer func() {
		if e.observe != nil {
			e.observe(time.Since(start))
		}
	}()

	entries := plan.Entries
	if len(entries) > e.maxQueries {
		entries = entries[:e.maxQueries]
	}
	filter := BuildFilter(c)

	perEntry := make([][]domain.Hit, len(entries))
	errs := make([]error, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxQueries)
	for i, entry := range entries {
		g.Go(func() error {
			// Pass errors are kept per entry so one failure does not cancel the others.
			perEntry[i], errs[i] = e.pass(gctx, entry, filter)
			return nil
		})
	}
	_ = g.Wait()

	var out Outcome
	seen := make(map[string]bool)
merge:
	for i, hits := range perEntry {
		if errs[i] != nil {
			e.logger.Warn("retrieval pass failed", "query", entries[i].Query, "error", errs[i])
			out.Failed = append(out.Failed, entries[i].Query)
			continue
		}
		for _, h := range hits {
			card := cardFromHit(h, c)
			if seen[card.ProductID] {
				continue
			}
			seen[card.ProductID] = true
			out.Items = append(out.Items, card)
			if len(out.Items) >= e.maxResults {
				break merge
			}
		}
	}

	e.logger.Debug("retrieval done", "queries", len(entries), "items", len(out.Items), "failed", len(out.Failed),
		"elapsed", time.Since(start))
	return out
}

func (e *Engine) pass(ctx context.Context, entry domain.PlanEntry, filter domain.Filter) ([]domain.Hit, error) {
	ctx, span := e.tracer.Start(ctx, "retrieval.pass", trace.WithAttributes(
		attribute.String("query", entry.Query),
		attribute.String("product_type", entry.ProductType),
	))
	defer span.End()

	hits, err := e.search(ctx, entry.Query, filter, e.perQuery)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("hits", len(hits)))
	return hits, nil
}

func (e *Engine) search(ctx context.Context, query string, filter domain.Filter, limit int) ([]domain.Hit, error) {
	if e.embedder == nil || e.store == nil {
		return nil, errors.New("retrieval: embedder and store are required")
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed %q: %w", query, err)
	}
	hits, err := e.store.Search(ctx, domain.SearchRequest{Vector: vec, Filter: filter, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return hits, nil
}

// Search is a single pass returning up to k cards (1..50, default 8).
func (e *Engine) Search(ctx context.Context, query string, c domain.Constraints, k int) ([]domain.ProductCard, error) {
	if k <= 0 {
		k = DefaultMaxResults
	}
	if k > MaxK {
		k = MaxK
	}
	ctx, span := e.tracer.Start(ctx, "retrieval.search", trace.WithAttributes(attribute.Int("k", k)))
	defer span.End()

	hits, err := e.search(ctx, query, BuildFilter(c), k)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	cards := make([]domain.ProductCard, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		card := cardFromHit(h, c)
		if seen[card.ProductID] {
			continue
		}
		seen[card.ProductID] = true
		cards = append(cards, card)
	}
	return cards, nil
}
