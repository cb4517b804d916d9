// Package bus is the in-process event bus that decouples turn processing
// from its observers (metrics, the turn log, notifications bookkeeping).
package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"shopbot/internal/domain"
)

const defaultMaxHistory = 256

// Well-known event types.
const (
	EventTurnCompleted      = "turn.completed"
	EventWebhookReceived    = "webhook.received"
	EventWebhookDuplicate   = "webhook.duplicate"
	EventNotificationSent   = "notification.sent"
	EventNotificationFailed = "notification.failed"
	EventReadMarkFailed     = "readmark.failed"
)

// Event represents a system event for internal pub/sub.
type Event struct {
	Type      string
	Source    string // originating component: workflow | agent | notify
	Payload   any    // *TurnCompleted for turn.completed, map[string]any otherwise
	Timestamp time.Time
}

// TurnCompleted is the payload of turn.completed.
type TurnCompleted struct {
	TurnID         string
	ConversationID string
	Source         string // api | webhook | cli
	Query          string
	Result         domain.WorkflowResult
	Latency        time.Duration
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is a topic-based publish/subscribe bus with a bounded replay
// history. Handlers run synchronously in registration order.
type EventBus struct {
	handlers   map[string][]namedHandler
	mu         sync.RWMutex
	logger     *slog.Logger
	history    []Event
	maxHistory int
	seq        atomic.Int64
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		logger:     logger,
		maxHistory: defaultMaxHistory,
	}
}

// On registers a handler for the given event type. Use "*" to listen to
// all events. Returns the handler ID for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	id := eventType + "-" + strconv.FormatInt(eb.seq.Add(1), 10)
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its ID.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit publishes an event to the type's handlers, then the wildcard ones.
// A panicking handler is logged and does not stop the others.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)
	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// EmitAsync publishes an event on a new goroutine.
func (eb *EventBus) EmitAsync(event Event) {
	go eb.Emit(event)
}

// Replay returns historical events of the given type ("*" for all) at or after since.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}
