// Package assistant answers a single free-form shopping question: the model
// turns it into a search query plus filters and a friendly reply, and the
// retrieval engine supplies the products.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"shopbot/internal/domain"
	"shopbot/internal/llmjson"
)

const (
	MaxItems = 6

	DefaultResponse   = "Here are some products I think you'll love!"
	ParseFallback     = "Let me find some great products for you!"
	SearchFallback    = "Here are some products I found for you!"
	FallbackRationale = "Matches your search"
	NoResultsSuffix   = " Unfortunately, I couldn't find products matching those exact criteria. Try browsing our catalog or adjusting your preferences!"

	defaultTimeout     = 20 * time.Second
	defaultTemperature = 0.7
	defaultMaxTokens   = 300
)

// Searcher is the single-pass product search the assistant runs.
type Searcher interface {
	Search(ctx context.Context, query string, c domain.Constraints, k int) ([]domain.ProductCard, error)
}

// Reply is the answer to one question. Err records the degraded step, if any;
// a Reply is always usable.
type Reply struct {
	Response string               `json:"response"`
	Items    []domain.ProductCard `json:"items"`
	Err      error                `json:"-"`
}

type Config struct {
	Completer   domain.Completer
	Searcher    Searcher
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	Logger      *slog.Logger
}

type Assistant struct {
	completer   domain.Completer
	searcher    Searcher
	timeout     time.Duration
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

func New(cfg Config) *Assistant {
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
	return &Assistant{
		completer:   cfg.Completer,
		searcher:    cfg.Searcher,
		timeout:     cfg.Timeout,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      cfg.Logger,
	}
}

// Extraction is what the model produced for one question.
type Extraction struct {
	SearchQuery string
	Constraints domain.Constraints
	Response    string
}

// Ask answers query. A failed completion or search degrades to an in-stock
// search over the raw query.
func (a *Assistant) Ask(ctx context.Context, query string) Reply {
	ext, err := a.extract(ctx, query)
	if err != nil {
		a.logger.Warn("assistant extraction failed", "error", err)
		return a.fallback(ctx, query, err)
	}

	items, err := a.searcher.Search(ctx, ext.SearchQuery, ext.Constraints, MaxItems)
	if err != nil {
		a.logger.Warn("assistant search failed", "search_query", ext.SearchQuery, "error", err)
		return a.fallback(ctx, query, err)
	}

	resp := ext.Response
	if len(items) == 0 {
		resp += NoResultsSuffix
	}
	a.logger.Debug("assistant answered", "search_query", ext.SearchQuery, "items", len(items))
	return Reply{Response: resp, Items: nonNil(items)}
}

func (a *Assistant) extract(ctx context.Context, query string) (Extraction, error) {
	if a.completer == nil {
		return Extraction{}, errors.New("no completion service configured")
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, err := a.completer.Complete(ctx, domain.CompletionRequest{
		System:      systemPrompt,
		User:        query,
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
		JSON:        true,
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("ask: %w", err)
	}

	ext, err := Parse(out, query)
	if err != nil {
		a.logger.Warn("unparsable assistant output, searching raw query", "error", err)
		return Extraction{SearchQuery: query, Response: ParseFallback}, nil
	}
	return ext, nil
}

func (a *Assistant) fallback(ctx context.Context, query string, cause error) Reply {
	items, err := a.searcher.Search(ctx, query, domain.Constraints{}, MaxItems)
	if err != nil {
		a.logger.Error("assistant fallback search failed", "error", err)
		return Reply{Response: SearchFallback, Items: []domain.ProductCard{}, Err: errors.Join(cause, err)}
	}
	for i := range items {
		items[i].Rationale = FallbackRationale
	}
	return Reply{Response: SearchFallback, Items: nonNil(items), Err: cause}
}

type extraction struct {
	SearchQuery string         `json:"search_query"`
	Filters     map[string]any `json:"filters"`
	Response    string         `json:"conversational_response"`
}

// Parse decodes the model output. Missing fields default to the raw query
// and DefaultResponse.
func Parse(completion, query string) (Extraction, error) {
	var raw extraction
	if err := llmjson.Decode(completion, &raw); err != nil {
		return Extraction{}, err
	}

	ext := Extraction{
		SearchQuery: strings.TrimSpace(raw.SearchQuery),
		Response:    strings.TrimSpace(raw.Response),
		Constraints: domain.Constraints{
			Category: domain.Str(filterString(raw.Filters["category"])),
			Brand:    domain.Str(filterString(raw.Filters["brand"])),
			Color:    domain.Str(filterString(raw.Filters["color"])),
			Size:     domain.Str(filterString(raw.Filters["size"])),
			PriceMin: filterFloat(raw.Filters["price_min"]),
			PriceMax: filterFloat(raw.Filters["price_max"]),
		},
	}
	if ext.SearchQuery == "" {
		ext.SearchQuery = query
	}
	if ext.Response == "" {
		ext.Response = DefaultResponse
	}
	return ext, nil
}

func filterString(v any) string {
	switch t := v.(type) {
	case string:
		if strings.EqualFold(strings.TrimSpace(t), "null") {
			return ""
		}
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func filterFloat(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(t), "$"), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if f < 0 {
		return nil
	}
	return &f
}

func nonNil(items []domain.ProductCard) []domain.ProductCard {
	if items == nil {
		return []domain.ProductCard{}
	}
	return items
}
