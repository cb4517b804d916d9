package memory

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"shopbot/internal/bus"
	"shopbot/internal/domain"
)

const turnLogTimeout = 5 * time.Second

// TurnLog persists every completed turn and appends its query to the
// conversation history.
type TurnLog struct {
	store  domain.HistoryStore
	logger *slog.Logger
}

func NewTurnLog(store domain.HistoryStore, logger *slog.Logger) *TurnLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnLog{store: store, logger: logger}
}

// Subscribe registers the log on turn.completed and returns the handler id.
func (l *TurnLog) Subscribe(b *bus.EventBus) string {
	return b.On(bus.EventTurnCompleted, func(e bus.Event) {
		if tc, ok := e.Payload.(*bus.TurnCompleted); ok {
			l.Record(tc)
		}
	})
}

// Record writes one turn. Storage errors are logged, never returned.
func (l *TurnLog) Record(tc *bus.TurnCompleted) {
	ctx, cancel := context.WithTimeout(context.Background(), turnLogTimeout)
	defer cancel()

	res := tc.Result
	rec := domain.TurnRecord{
		ID:             tc.TurnID,
		ConversationID: tc.ConversationID,
		Source:         tc.Source,
		Query:          tc.Query,
		IntentType:     res.Intent.Type,
		Confidence:     res.Intent.Confidence,
		Items:          len(res.Items),
		Notified:       res.Notified,
		Fallbacks:      strings.Join(res.Fallbacks, ","),
		LatencyMs:      tc.Latency.Milliseconds(),
		CreatedAt:      time.Now(),
	}
	if err := l.store.RecordTurn(ctx, rec); err != nil {
		l.logger.Warn("turn log write failed", "turn_id", tc.TurnID, "error", err)
	}
	if tc.ConversationID == "" {
		return
	}
	if err := l.store.AppendQuery(ctx, tc.ConversationID, tc.Query); err != nil {
		l.logger.Warn("history append failed", "conversation_id", tc.ConversationID, "error", err)
	}
}
