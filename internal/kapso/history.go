package kapso

import (
	"context"
	"sort"
	"strings"
)

// ConversationReader pages through a conversation's messages. *Client implements it.
type ConversationReader interface {
	ConversationMessages(ctx context.Context, conversationID string, page, perPage int) ([]ConversationMessage, error)
}

// HistorySource reads a conversation's earlier inbound text messages from
// the Kapso API. It satisfies domain.HistorySource.
type HistorySource struct {
	Client ConversationReader
	// Exclude drops a message text equal to the current query so it is not
	// counted as its own history.
	Exclude string
}

func (h HistorySource) RecentQueries(ctx context.Context, conversationID string, limit int) ([]string, error) {
	if conversationID == "" || limit <= 0 {
		return nil, nil
	}
	msgs, err := h.Client.ConversationMessages(ctx, conversationID, 1, limit+1)
	if err != nil {
		return nil, err
	}
	return InboundQueries(msgs, h.Exclude, limit), nil
}

// InboundQueries keeps inbound text messages, oldest first, and returns at
// most the last limit of them.
func InboundQueries(msgs []ConversationMessage, exclude string, limit int) []string {
	inbound := make([]ConversationMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Direction != "inbound" {
			continue
		}
		if m.MessageType != "" && m.MessageType != "text" {
			continue
		}
		if strings.TrimSpace(m.Text()) == "" {
			continue
		}
		inbound = append(inbound, m)
	}
	// RFC3339 timestamps sort lexically.
	sort.SliceStable(inbound, func(i, j int) bool { return inbound[i].CreatedAt < inbound[j].CreatedAt })

	excluded := false
	out := make([]string, 0, len(inbound))
	for i := len(inbound) - 1; i >= 0; i-- {
		text := strings.TrimSpace(inbound[i].Text())
		if !excluded && exclude != "" && text == strings.TrimSpace(exclude) {
			excluded = true
			continue
		}
		out = append(out, text)
	}
	// out is newest first; flip to oldest first and trim to the newest limit.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
