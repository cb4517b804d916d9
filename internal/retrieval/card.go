package retrieval

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"shopbot/internal/domain"
)

const unknownTitle = "Unknown Product"

// cardFromHit decodes a hit payload leniently. Missing or mistyped fields
// fall back to zero values rather than dropping the hit.
func cardFromHit(h domain.Hit, c domain.Constraints) domain.ProductCard {
	p := h.Payload
	card := domain.ProductCard{
		ProductID: stringField(p, "product_id"),
		Title:     stringField(p, "title"),
		Brand:     domain.Str(stringField(p, "brand")),
		Category:  domain.Str(stringField(p, "category")),
		Price:     priceField(p["price"]),
		Colors:    listField(p["colors"]),
		Sizes:     listField(p["sizes"]),
		ImageURL:  domain.Str(stringField(p, "image_url")),
		Score:     h.Score,
	}
	if card.ProductID == "" {
		card.ProductID = h.ID
	}
	if card.Title == "" {
		card.Title = unknownTitle
	}
	card.Rationale = Rationale(card, c)
	return card
}

func stringField(p map[string]any, key string) string {
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func priceField(v any) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		f, _ = strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	if f < 0 {
		return 0
	}
	return f
}

// listField accepts a ";" or ","-joined string, []any or []string and returns
// the trimmed values in first-seen order without duplicates.
func listField(v any) []string {
	var raw []string
	switch x := v.(type) {
	case string:
		raw = strings.FieldsFunc(x, func(r rune) bool { return r == ';' || r == ',' })
	case []string:
		raw = x
	case []any:
		for _, e := range x {
			if s, ok := e.(string); ok {
				raw = append(raw, s)
			} else if e != nil {
				raw = append(raw, fmt.Sprint(e))
			}
		}
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// Rationale explains why a card matched the constraints.
func Rationale(card domain.ProductCard, c domain.Constraints) string {
	var why []string
	if c.Category != nil && card.Category != nil && strings.EqualFold(*card.Category, *c.Category) {
		why = append(why, "Matches "+*c.Category)
	}
	if c.Color != nil && slices.Contains(card.Colors, *c.Color) {
		why = append(why, "Available in "+*c.Color)
	}
	if c.Size != nil && slices.Contains(card.Sizes, *c.Size) {
		why = append(why, "Offered in size "+*c.Size)
	}
	if c.PriceMax != nil && card.Price <= *c.PriceMax {
		why = append(why, fmt.Sprintf("Within budget ($%s)", strconv.FormatFloat(*c.PriceMax, 'f', -1, 64)))
	}
	if len(why) == 0 {
		return "Relevant to your search"
	}
	return strings.Join(why, "; ")
}
