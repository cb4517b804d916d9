package ideas

import (
	"fmt"
	"strings"

	"shopbot/internal/domain"
)

const promptBody = `
YOUR JOB:
1. Map the user's situation and search pattern to specific product types we carry.
2. Generate 2-4 search queries that will find relevant products.
3. Prioritize products that match the inferred need.

Use BROAD, GENERIC terms that match many catalog products. Prefer "jacket" or "coat" over "raincoat".

Output ONLY a valid JSON object:
{
  "product_types": ["type1", "type2", "type3"],
  "search_queries": ["query1", "query2", "query3"],
  "user_context": "short summary of the shopping need"
}

EXAMPLES:
Input: "is it going to rain in november" + "vacation in rainy place"
Output: {"product_types": ["jackets", "boots", "waterproof clothing"], "search_queries": ["jacket", "boots", "waterproof", "coat"], "user_context": "Planning a vacation in a rainy climate and needs rain gear"}

Input: "beach vacation next month" + "sunscreen recommendations"
Output: {"product_types": ["swimwear", "sunglasses", "bags", "sandals"], "search_queries": ["dress", "sunglasses", "sandals", "bag"], "user_context": "Preparing for a beach vacation and needs summer attire"}

Input: "started going to gym" + "workout tips"
Output: {"product_types": ["activewear", "sports shoes", "bags"], "search_queries": ["sports", "shoes", "bag", "fitness"], "user_context": "Starting a fitness routine and needs workout gear"}`

func systemPrompt(categories []string) string {
	var b strings.Builder
	b.WriteString("You are a creative product recommendation agent for an e-commerce platform.\n")
	b.WriteString("Analyze the user's search pattern and current situation and recommend products from our inventory.\n")
	if len(categories) > 0 {
		b.WriteString("\nOUR PRODUCT CATEGORIES: ")
		b.WriteString(strings.Join(categories, ", "))
		b.WriteByte('\n')
	}
	b.WriteString(promptBody)
	return b.String()
}

func userPrompt(query string, prior []string, in domain.Intent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User's situation: %s\n", query)
	fmt.Fprintf(&b, "Intent classification: %s\n", in.Reasoning)
	fmt.Fprintf(&b, "Confidence: %.2f\n", in.Confidence)
	fmt.Fprintf(&b, "Keywords identified: %s\n", strings.Join(in.Keywords, ", "))
	if len(prior) > 0 {
		b.WriteString("\nSearch pattern (chronological):\n")
		for i, q := range prior {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
		fmt.Fprintf(&b, "\nCurrent query: %s\n", query)
	}
	return b.String()
}
