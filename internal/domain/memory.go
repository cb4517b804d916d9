package domain

import (
	"context"
	"time"
)

// HistorySource returns a conversation's earlier queries, oldest first.
type HistorySource interface {
	RecentQueries(ctx context.Context, conversationID string, limit int) ([]string, error)
}

// HistoryStore persists queries, turns and notification attempts.
type HistoryStore interface {
	HistorySource
	AppendQuery(ctx context.Context, conversationID, query string) error
	RecordTurn(ctx context.Context, turn TurnRecord) error
	RecordNotification(ctx context.Context, rec NotificationRecord) error
	ListTurns(ctx context.Context, conversationID string, limit int) ([]TurnRecord, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}

// TurnRecord is the persisted summary of one orchestrator run.
type TurnRecord struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Source         string     `json:"source"` // api | webhook | cli
	Query          string     `json:"query"`
	IntentType     IntentType `json:"intent_type"`
	Confidence     float64    `json:"confidence"`
	Items          int        `json:"items"`
	Notified       bool       `json:"notified"`
	Fallbacks      string     `json:"fallbacks,omitempty"`
	LatencyMs      int64      `json:"latency_ms"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NotificationRecord is one delivery attempt to one sink.
type NotificationRecord struct {
	TurnID    string    `json:"turn_id"`
	Sink      string    `json:"sink"`
	Subject   string    `json:"subject"`
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
