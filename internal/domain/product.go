package domain

// PlanEntry is one retrieval pass: a query and the product type it targets.
type PlanEntry struct {
	Query       string `json:"query"`
	ProductType string `json:"product_type,omitempty"`
}

// SearchPlan is the ordered set of retrieval passes for a turn (1-4 entries).
type SearchPlan struct {
	Entries     []PlanEntry `json:"entries"`
	UserContext string      `json:"user_context,omitempty"`
}

// Queries returns the query strings in plan order.
func (p SearchPlan) Queries() []string {
	out := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		out[i] = e.Query
	}
	return out
}

// ProductCard is one catalog item returned to the user.
type ProductCard struct {
	ProductID string   `json:"product_id"`
	Title     string   `json:"title"`
	Brand     *string  `json:"brand,omitempty"`
	Category  *string  `json:"category,omitempty"`
	Price     float64  `json:"price"`
	Colors    []string `json:"colors"`
	Sizes     []string `json:"sizes"`
	ImageURL  *string  `json:"image_url,omitempty"`
	Rationale string   `json:"why"`
	Score     float64  `json:"score,omitempty"`
}

// WorkflowResult is the terminal artifact of one orchestrator run.
type WorkflowResult struct {
	ResponseText string        `json:"response"`
	Items        []ProductCard `json:"items"`
	Intent       Intent        `json:"intent"`
	Notified     bool          `json:"notification_sent"`
	Plan         *SearchPlan   `json:"plan,omitempty"`
	Fallbacks    []string      `json:"fallbacks,omitempty"`
}
