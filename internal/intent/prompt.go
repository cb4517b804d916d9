package intent

import (
	"fmt"
	"strings"
	"time"
)

const systemPromptHead = `You are an intent classification agent for an e-commerce platform.

Analyze the current query together with the user's recent searches and decide whether there is a shopping opportunity, even when the query itself is not a product search.

CLASSIFICATION RULES:
1. direct_product_search: the user explicitly searches for products ("red shoes", "laptop under $1000").
2. contextual_use_case: a shopping need can be inferred from the context and the PATTERN of searches, not just the current query:
   - Life events: "vacation in rainy place" -> rain gear
   - Weather or season: "is it going to rain" -> raincoats, boots
   - Activities: "going to a wedding" -> formal wear
   - Situations: "started gym" -> activewear
3. off_topic: nothing we carry fits, for example auto parts, services (plumber, dentist), food and restaurants, or pure information seeking with no shopping context.
`

const systemPromptTail = `
EXAMPLES:
"new tires toyota tacoma" -> off_topic (auto parts, not in our inventory)
"is it going to rain in november" + "vacation in rainy place" -> contextual_use_case (rain gear)
"started running" + "best running shoes" -> direct_product_search
"beach vacation" -> contextual_use_case (swimwear, sunglasses, beach accessories)

Output ONLY a valid JSON object:
{
  "intent_type": "direct_product_search" | "contextual_use_case" | "off_topic",
  "confidence": 0.0-1.0,
  "reasoning": "why, considering the search history",
  "extracted_keywords": ["keyword1", "keyword2"],
  "inferred_constraints": {
    "category": "one of the categories above or null",
    "price_min": null,
    "price_max": null,
    "color": null,
    "size": null,
    "brand": null
  }
}`

func systemPrompt(categories []string) string {
	var b strings.Builder
	b.WriteString(systemPromptHead)
	b.WriteString("\nPRODUCT CATEGORIES WE CARRY:\n")
	for _, c := range categories {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteByte('\n')
	}
	b.WriteString(systemPromptTail)
	return b.String()
}

// userPrompt renders the turn: the query, its timestamp and the numbered
// history, oldest first.
func userPrompt(query string, prior []string, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current query: %q\n", query)
	if !at.IsZero() {
		fmt.Fprintf(&b, "Timestamp: %s\n", at.UTC().Format(time.RFC3339))
	}
	if len(prior) > 0 {
		b.WriteString("\nUser's recent search history (chronological):\n")
		for i, q := range prior {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
	}
	return b.String()
}
