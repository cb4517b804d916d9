package metrics

import (
	"errors"
	"strings"
	"time"

	"shopbot/internal/bus"
)

var (
	latencyBuckets    = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}
	completionBuckets = []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30}
	retrievalBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10}
)

// Recorder names every shopbot metric on top of a collector.
type Recorder struct {
	c *MetricsCollector
}

// Default records into the process-wide Collector.
var Default = NewRecorder(Collector)

func NewRecorder(c *MetricsCollector) *Recorder {
	return &Recorder{c: c}
}

// Collector returns the underlying collector, for rendering.
func (r *Recorder) Collector() *MetricsCollector { return r.c }

func (r *Recorder) Turn(intent string, items int, notified bool, d time.Duration) {
	r.c.Counter("shopbot_turns_total", "Workflow turns by classified intent", Labels("intent", intent)).Inc()
	if items == 0 {
		r.c.Counter("shopbot_turns_empty_total", "Turns that returned no products", "").Inc()
	}
	if notified {
		r.c.Counter("shopbot_turns_notified_total", "Turns that dispatched a notification", "").Inc()
	}
	r.c.Histogram("shopbot_turn_latency_seconds", "End-to-end workflow latency in seconds", "", latencyBuckets).
		Observe(d.Seconds())
}

// Fallback counts one degraded stage. "retrieve:rain jacket" is counted as stage "retrieve".
func (r *Recorder) Fallback(marker string) {
	stage, _, _ := strings.Cut(marker, ":")
	r.c.Counter("shopbot_fallbacks_total", "Workflow stages that fell back to a default", Labels("stage", stage)).Inc()
}

func (r *Recorder) Completion(provider string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.c.Counter("shopbot_completions_total", "LLM completions by provider and outcome",
		Labels("provider", provider, "outcome", outcome)).Inc()
	r.c.Histogram("shopbot_completion_latency_seconds", "LLM completion latency in seconds",
		Labels("provider", provider), completionBuckets).Observe(d.Seconds())
}

func (r *Recorder) Retrieval(d time.Duration) {
	r.c.Histogram("shopbot_retrieval_latency_seconds", "Retrieval fan-out latency in seconds", "", retrievalBuckets).
		Observe(d.Seconds())
}

func (r *Recorder) Notification(sink string, err error) {
	if err != nil {
		r.c.Counter("shopbot_notifications_failed_total", "Failed notification deliveries", Labels("sink", sink)).Inc()
		return
	}
	r.c.Counter("shopbot_notifications_sent_total", "Delivered notifications", Labels("sink", sink)).Inc()
}

func (r *Recorder) WebhookEvent(eventType string) {
	if eventType == "" {
		eventType = "unknown"
	}
	r.c.Counter("shopbot_webhook_events_total", "Webhook deliveries by event type", Labels("type", eventType)).Inc()
}

func (r *Recorder) Duplicate() {
	r.c.Counter("shopbot_webhook_duplicates_total", "Webhook messages skipped as already processed", "").Inc()
}

func (r *Recorder) ReadMarkFailed() {
	r.c.Counter("shopbot_readmark_failures_total", "Failed mark-as-read calls", "").Inc()
}

func (r *Recorder) DedupEntries(n int) {
	r.c.Gauge("shopbot_dedup_entries", "Live entries in the webhook dedup cache", "").Set(int64(n))
}

// InFlight returns the gauge of turns currently being processed.
func (r *Recorder) InFlight() *Gauge {
	return r.c.Gauge("shopbot_turns_in_flight", "Workflow turns currently running", "")
}

// Subscribe wires the recorder to bus events and returns the handler ids.
func (r *Recorder) Subscribe(b *bus.EventBus) []string {
	return []string{
		b.On(bus.EventTurnCompleted, func(e bus.Event) {
			tc, ok := e.Payload.(*bus.TurnCompleted)
			if !ok {
				return
			}
			res := tc.Result
			r.Turn(string(res.Intent.Type), len(res.Items), res.Notified, tc.Latency)
			for _, f := range res.Fallbacks {
				r.Fallback(f)
			}
		}),
		b.On(bus.EventWebhookReceived, func(e bus.Event) {
			r.WebhookEvent(payloadString(e, "type"))
		}),
		b.On(bus.EventWebhookDuplicate, func(bus.Event) { r.Duplicate() }),
		b.On(bus.EventNotificationSent, func(e bus.Event) {
			r.Notification(payloadString(e, "sink"), nil)
		}),
		b.On(bus.EventNotificationFailed, func(e bus.Event) {
			r.Notification(payloadString(e, "sink"), errNotification)
		}),
		b.On(bus.EventReadMarkFailed, func(bus.Event) { r.ReadMarkFailed() }),
	}
}

var errNotification = errors.New("notification failed")

func payloadString(e bus.Event, key string) string {
	m, ok := e.Payload.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
