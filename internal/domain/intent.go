package domain

import "strings"

// IntentType discriminates the workflow branch taken after classification.
type IntentType string

const (
	IntentDirectSearch IntentType = "direct_search"
	IntentContextual   IntentType = "contextual"
	IntentOffTopic     IntentType = "off_topic"
)

// ParseIntentType accepts both the canonical names and the labels the
// classifier prompt asks the model for. Anything unrecognized is off-topic.
func ParseIntentType(s string) IntentType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct_search", "direct_product_search":
		return IntentDirectSearch
	case "contextual", "contextual_use_case":
		return IntentContextual
	default:
		return IntentOffTopic
	}
}

// Intent is the classified shopping relevance of one turn.
type Intent struct {
	Type        IntentType  `json:"type"`
	Confidence  float64     `json:"confidence"`
	Reasoning   string      `json:"reasoning"`
	Keywords    []string    `json:"keywords"`
	Constraints Constraints `json:"constraints"`
}

// Constraints are structured filters inferred from a query. Nil means absent.
// PriceMin > PriceMax is kept as-is and yields an always-empty range.
type Constraints struct {
	Category *string  `json:"category,omitempty"`
	Brand    *string  `json:"brand,omitempty"`
	Color    *string  `json:"color,omitempty"`
	Size     *string  `json:"size,omitempty"`
	PriceMin *float64 `json:"price_min,omitempty"`
	PriceMax *float64 `json:"price_max,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

// IsZero reports whether no constraint is set.
func (c Constraints) IsZero() bool {
	return c.Category == nil && c.Brand == nil && c.Color == nil && c.Size == nil &&
		c.PriceMin == nil && c.PriceMax == nil
}

// Str returns a pointer to a trimmed copy of s, or nil when s is blank.
func Str(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }
