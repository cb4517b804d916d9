// Package notify decides whether a turn deserves an outbound notification,
// composes it, and delivers it to the configured sinks.
package notify

import (
	"fmt"
	"strconv"
	"strings"

	"shopbot/internal/domain"
)

const (
	DefaultMinConfidence = 0.6
	Subject              = "We Found Perfect Products For You!"
	maxListed            = 6
)

// ShouldNotify is the default gate: something was found, the query is on
// topic and the classifier is confident enough.
func ShouldNotify(items int, in domain.Intent) bool {
	return ShouldNotifyAt(items, in, DefaultMinConfidence)
}

// ShouldNotifyAt is ShouldNotify with a configurable confidence threshold.
func ShouldNotifyAt(items int, in domain.Intent, minConfidence float64) bool {
	return items > 0 && in.Type != domain.IntentOffTopic && in.Confidence >= minConfidence
}

// Compose renders the notification for a finished turn. The context line
// uses the idea generator's summary when the turn went through it.
func Compose(res domain.WorkflowResult, query string) domain.Notification {
	context := "your search for " + query
	if res.Intent.Type == domain.IntentContextual && res.Plan != nil && res.Plan.UserContext != "" {
		context = res.Plan.UserContext
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi there!\n\nBased on %s, we thought you might be interested in these products:\n\n", context)
	b.WriteString(res.ResponseText)
	b.WriteString("\n\nRECOMMENDED PRODUCTS:\n")

	items := res.Items
	if len(items) > maxListed {
		items = items[:maxListed]
	}
	for i, p := range items {
		fmt.Fprintf(&b, "\n%d. %s\n   Price: $%s\n", i+1, p.Title, formatPrice(p.Price))
		why := p.Rationale
		if why == "" {
			why = "Perfect for your needs"
		}
		fmt.Fprintf(&b, "   %s\n", why)
		if p.Brand != nil {
			fmt.Fprintf(&b, "   Brand: %s\n", *p.Brand)
		}
		if p.ImageURL != nil {
			fmt.Fprintf(&b, "   View: %s\n", *p.ImageURL)
		}
	}
	b.WriteString("\nHappy shopping!\n")

	return domain.Notification{Subject: Subject, Body: b.String(), Items: len(items)}
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}
