// Package intent classifies a shopping query into direct search, contextual
// need or off-topic using the completion service.
package intent

import (
	"bytes"
	"context"
	"encoding/json"
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
	FallbackConfidence = 0.5
	FallbackReasoning  = "Fallback classification due to error"

	defaultTimeout     = 20 * time.Second
	defaultTemperature = 0.3
	defaultMaxTokens   = 500
)

// DefaultCategories is used when no catalog categories are configured.
var DefaultCategories = []string{"Clothing", "Footwear", "Accessories", "Electronics", "Home"}

// ErrMissingField marks a completion that parsed but lacks a required key.
var ErrMissingField = errors.New("classification missing required field")

// Result is the outcome of one classification. Intent is always usable;
// Err is set when it is the fallback.
type Result struct {
	Intent domain.Intent
	Err    error
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

type Classifier struct {
	completer   domain.Completer
	system      string
	timeout     time.Duration
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

func New(cfg Config) *Classifier {
	if len(cfg.Categories) == 0 {
		cfg.Categories = DefaultCategories
	}
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
	return &Classifier{
		completer:   cfg.Completer,
		system:      systemPrompt(cfg.Categories),
		timeout:     cfg.Timeout,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      cfg.Logger,
	}
}

// Fallback is the deterministic intent used whenever classification fails.
func Fallback(query string) domain.Intent {
	return domain.Intent{
		Type:       domain.IntentDirectSearch,
		Confidence: FallbackConfidence,
		Reasoning:  FallbackReasoning,
		Keywords:   []string{query},
	}
}

// Classify never returns an error: failures produce the fallback intent
// with Result.Err describing what went wrong.
func (c *Classifier) Classify(ctx context.Context, query string, prior []string, at time.Time) Result {
	if c.completer == nil {
		return Result{Intent: Fallback(query), Err: errors.New("no completion service configured")}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.completer.Complete(ctx, domain.CompletionRequest{
		System:      c.system,
		User:        userPrompt(query, prior, at),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		JSON:        true,
	})
	if err != nil {
		c.logger.Warn("intent classification failed", "error", err)
		return Result{Intent: Fallback(query), Err: fmt.Errorf("classify: %w", err)}
	}

	in, err := Parse(out)
	if err != nil {
		c.logger.Warn("unparsable intent classification", "error", err, "output", truncate(out, 200))
		return Result{Intent: Fallback(query), Err: fmt.Errorf("classify: %w", err)}
	}
	c.logger.Debug("intent classified", "intent", in.Type, "confidence", in.Confidence, "keywords", in.Keywords)
	return Result{Intent: in}
}

type classification struct {
	IntentType  string         `json:"intent_type"`
	Confidence  flexFloat      `json:"confidence"`
	Reasoning   string         `json:"reasoning"`
	Keywords    []string       `json:"extracted_keywords"`
	Constraints rawConstraints `json:"inferred_constraints"`
}

type rawConstraints struct {
	Category flexString `json:"category"`
	Brand    flexString `json:"brand"`
	Color    flexString `json:"color"`
	Size     flexString `json:"size"`
	PriceMin flexFloat  `json:"price_min"`
	PriceMax flexFloat  `json:"price_max"`
	Notes    flexString `json:"notes"`
}

// Parse decodes a model completion into an Intent. intent_type and
// confidence are required.
func Parse(completion string) (domain.Intent, error) {
	fields, err := llmjson.Fields(completion)
	if err != nil {
		return domain.Intent{}, err
	}
	for _, key := range []string{"intent_type", "confidence"} {
		if v, ok := fields[key]; !ok || isNull(v) {
			return domain.Intent{}, fmt.Errorf("%w: %s", ErrMissingField, key)
		}
	}

	var c classification
	if err := llmjson.Decode(completion, &c); err != nil {
		return domain.Intent{}, err
	}
	if c.Confidence.ptr == nil {
		return domain.Intent{}, fmt.Errorf("%w: confidence is not a number", ErrMissingField)
	}

	keywords := make([]string, 0, len(c.Keywords))
	for _, k := range c.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}

	return domain.Intent{
		Type:       domain.ParseIntentType(c.IntentType),
		Confidence: clamp01(*c.Confidence.ptr),
		Reasoning:  strings.TrimSpace(c.Reasoning),
		Keywords:   keywords,
		Constraints: domain.Constraints{
			Category: domain.Str(string(c.Constraints.Category)),
			Brand:    domain.Str(string(c.Constraints.Brand)),
			Color:    domain.Str(string(c.Constraints.Color)),
			Size:     domain.Str(string(c.Constraints.Size)),
			PriceMin: nonNegative(c.Constraints.PriceMin.ptr),
			PriceMax: nonNegative(c.Constraints.PriceMax.ptr),
			Notes:    strings.TrimSpace(string(c.Constraints.Notes)),
		},
	}, nil
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

func nonNegative(f *float64) *float64 {
	if f == nil || *f < 0 {
		return nil
	}
	return f
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// flexFloat accepts a JSON number or a numeric string; anything else is absent.
type flexFloat struct{ ptr *float64 }

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	if isNull(b) {
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		f.ptr = &n
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		s = strings.TrimPrefix(strings.TrimSpace(s), "$")
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			f.ptr = &v
		}
	}
	return nil
}

// flexString accepts a string or a number; null, objects and arrays decode as "".
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if strings.EqualFold(strings.TrimSpace(s), "null") {
			s = ""
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexString(n.String())
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
