package domain

import "context"

// Embedder turns text into a fixed-length, L2-normalized vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Name() string
}

// VectorStore is a nearest-neighbor index over catalog items.
type VectorStore interface {
	Search(ctx context.Context, req SearchRequest) ([]Hit, error)
	Upsert(ctx context.Context, points []Point) error
	EnsureCollection(ctx context.Context, dimension int) error
	Name() string
}

// SearchRequest is one nearest-neighbor query.
type SearchRequest struct {
	Vector []float32
	Filter Filter
	Limit  int
}

// Hit is one search result. Payload values are whatever the store returned
// (strings, float64, bool, []any) and must be decoded leniently.
type Hit struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Point is one item written to the index.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Filter is a conjunction of payload conditions.
type Filter struct {
	Must []Condition `json:"must"`
}

// Condition is either an equality match or a numeric range on one payload key.
type Condition struct {
	Key   string `json:"key"`
	Match any    `json:"match,omitempty"` // string or bool
	Range *Range `json:"range,omitempty"`
}

// Range bounds are inclusive; nil means unbounded on that side.
type Range struct {
	Gte *float64 `json:"gte,omitempty"`
	Lte *float64 `json:"lte,omitempty"`
}

// Find returns the first condition on key.
func (f Filter) Find(key string) (Condition, bool) {
	for _, c := range f.Must {
		if c.Key == key {
			return c, true
		}
	}
	return Condition{}, false
}
