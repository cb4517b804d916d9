package memory

import (
	"context"
	"testing"
	"time"

	"shopbot/internal/bus"
	"shopbot/internal/domain"
)

func TestTurnLog_RecordsTurnAndHistory(t *testing.T) {
	store := testStore(t)
	b := bus.NewEventBus(testLogger())
	NewTurnLog(store, testLogger()).Subscribe(b)

	b.Emit(bus.Event{Type: bus.EventTurnCompleted, Payload: &bus.TurnCompleted{
		TurnID:         "t-1",
		ConversationID: "conv-1",
		Source:         "webhook",
		Query:          "going to Seattle next week",
		Result: domain.WorkflowResult{
			Intent:    domain.Intent{Type: domain.IntentContextual, Confidence: 0.85},
			Items:     []domain.ProductCard{{ProductID: "p-1"}, {ProductID: "p-2"}},
			Notified:  true,
			Fallbacks: []string{"retrieve:umbrella", "retrieve:boots"},
		},
		Latency: 1500 * time.Millisecond,
	}})

	turns, err := store.ListTurns(context.Background(), "conv-1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	got := turns[0]
	if got.Items != 2 || !got.Notified || got.LatencyMs != 1500 || got.Source != "webhook" {
		t.Errorf("unexpected turn record: %+v", got)
	}
	if got.Fallbacks != "retrieve:umbrella,retrieve:boots" {
		t.Errorf("fallbacks = %q", got.Fallbacks)
	}

	prior, _ := store.RecentQueries(context.Background(), "conv-1", 5)
	if len(prior) != 1 || prior[0] != "going to Seattle next week" {
		t.Errorf("expected the query in history, got %v", prior)
	}
}

func TestTurnLog_AnonymousTurnKeepsNoHistory(t *testing.T) {
	store := testStore(t)
	log := NewTurnLog(store, nil)

	log.Record(&bus.TurnCompleted{TurnID: "t-2", Query: "headphones", Result: domain.WorkflowResult{
		Intent: domain.Intent{Type: domain.IntentDirectSearch},
	}})

	turns, _ := store.ListTurns(context.Background(), "", 5)
	if len(turns) != 1 {
		t.Fatalf("expected the turn to be logged, got %d", len(turns))
	}
	var n int
	store.db.QueryRow("SELECT COUNT(*) FROM queries").Scan(&n)
	if n != 0 {
		t.Errorf("anonymous turns should not write history, got %d rows", n)
	}
}
