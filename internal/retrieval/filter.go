package retrieval

import "shopbot/internal/domain"

// BuildFilter turns constraints into a payload filter. in_stock is always
// required. Price bounds are copied as given, so an inverted range matches nothing.
func BuildFilter(c domain.Constraints) domain.Filter {
	must := []domain.Condition{{Key: "in_stock", Match: true}}
	if c.Category != nil {
		must = append(must, domain.Condition{Key: "category", Match: *c.Category})
	}
	if c.Brand != nil {
		must = append(must, domain.Condition{Key: "brand", Match: *c.Brand})
	}
	if c.Color != nil {
		must = append(must, domain.Condition{Key: "colors", Match: *c.Color})
	}
	if c.Size != nil {
		must = append(must, domain.Condition{Key: "sizes", Match: *c.Size})
	}
	if c.PriceMin != nil || c.PriceMax != nil {
		must = append(must, domain.Condition{Key: "price", Range: &domain.Range{Gte: c.PriceMin, Lte: c.PriceMax}})
	}
	return domain.Filter{Must: must}
}
