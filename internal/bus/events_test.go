package bus

import (
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"shopbot/internal/domain"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var got *TurnCompleted
	eb.On(EventTurnCompleted, func(e Event) {
		got, _ = e.Payload.(*TurnCompleted)
	})

	eb.Emit(Event{Type: EventTurnCompleted, Payload: &TurnCompleted{
		TurnID: "t1",
		Result: domain.WorkflowResult{Intent: domain.Intent{Type: domain.IntentDirectSearch}},
	}})

	if got == nil || got.TurnID != "t1" {
		t.Fatalf("expected turn payload, got %+v", got)
	}
	if got.Result.Intent.Type != domain.IntentDirectSearch {
		t.Errorf("payload intent lost: %v", got.Result.Intent.Type)
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	eb.On("*", func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: EventWebhookReceived})
	eb.Emit(Event{Type: EventWebhookDuplicate})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	id := eb.On("test.event", func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: "test.event"})
	eb.Off("test.event", id)
	eb.Emit(Event{Type: "test.event"})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", count)
	}
}

func TestEventBus_OffKeepsOtherHandlers(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var a, b int32
	idA := eb.On("x", func(Event) { atomic.AddInt32(&a, 1) })
	eb.On("x", func(Event) { atomic.AddInt32(&b, 1) })
	eb.Off("x", idA)
	// A new registration after Off must not reuse a live ID.
	idC := eb.On("x", func(Event) {})
	if idC == idA {
		t.Fatalf("handler id reused: %s", idC)
	}

	eb.Emit(Event{Type: "x"})
	if a != 0 || b != 1 {
		t.Errorf("expected a=0 b=1, got a=%d b=%d", a, b)
	}
}

func TestEventBus_Replay(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	eb.Emit(Event{Type: "a"})
	eb.Emit(Event{Type: "b"})
	eb.Emit(Event{Type: "a"})

	events := eb.Replay("a", time.Time{})
	if len(events) != 2 {
		t.Errorf("expected 2 'a' events, got %d", len(events))
	}

	allEvents := eb.Replay("*", time.Time{})
	if len(allEvents) != 3 {
		t.Errorf("expected 3 total events, got %d", len(allEvents))
	}
}

func TestEventBus_ReplaySince(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	eb.Emit(Event{Type: "old", Timestamp: time.Now().Add(-time.Hour)})
	threshold := time.Now()
	eb.Emit(Event{Type: "new"})

	events := eb.Replay("*", threshold)
	if len(events) != 1 {
		t.Errorf("expected 1 event since threshold, got %d", len(events))
	}
}

func TestEventBus_HistoryLimit(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	eb.maxHistory = 5

	for i := 0; i < 10; i++ {
		eb.Emit(Event{Type: "test"})
	}

	if eb.HistoryLen() != 5 {
		t.Errorf("expected 5, got %d", eb.HistoryLen())
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var after int32
	eb.On("panic", func(e Event) {
		panic("test panic")
	})
	eb.On("panic", func(e Event) { atomic.AddInt32(&after, 1) })

	eb.Emit(Event{Type: "panic"})
	if atomic.LoadInt32(&after) != 1 {
		t.Error("handler after the panicking one did not run")
	}
}

func TestEventBus_EmitAsync(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	done := make(chan struct{})
	eb.On("async", func(e Event) { close(done) })

	eb.EmitAsync(Event{Type: "async"})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async event not delivered")
	}
}

func TestEventBus_TimestampAutoSet(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	before := time.Now()
	eb.Emit(Event{Type: "test"})

	events := eb.Replay("test", before.Add(-time.Second))
	if len(events) == 0 {
		t.Fatal("expected at least 1 event")
	}
	if events[0].Timestamp.IsZero() {
		t.Error("timestamp should be auto-set")
	}
}
