package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shopbot/internal/bus"
	"shopbot/internal/domain"
)

func TestLabels(t *testing.T) {
	if got := Labels("sink", "slack", "outcome", "ok"); got != `sink="slack",outcome="ok"` {
		t.Errorf("unexpected labels %q", got)
	}
	if got := Labels("q", `say "hi"`); got != `q="say \"hi\""` {
		t.Errorf("quotes not escaped: %q", got)
	}
	if got := Labels("dangling"); got != "" {
		t.Errorf("odd pair count should be ignored, got %q", got)
	}
}

func TestCollector_SameKeyReturnsSameMetric(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("x_total", "x", `k="v"`)
	b := c.Counter("x_total", "x", `k="v"`)
	a.Inc()
	b.Add(2)
	if a != b || a.Value() != 3 {
		t.Errorf("expected a shared counter at 3, got %d", a.Value())
	}

	g := c.Gauge("g", "g", "")
	g.Set(5)
	g.Dec()
	if g.Value() != 4 {
		t.Errorf("expected 4, got %d", g.Value())
	}
}

func TestHistogram_CumulativeBucketsWithInf(t *testing.T) {
	c := NewMetricsCollector()
	h := c.Histogram("lat_seconds", "latency", "", []float64{1, 0.1})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(7)

	out := c.Render()
	for _, want := range []string{
		`lat_seconds_bucket{le="0.1"} 1`,
		`lat_seconds_bucket{le="1"} 2`,
		`lat_seconds_bucket{le="+Inf"} 3`,
		"lat_seconds_count 3",
		"# TYPE lat_seconds histogram",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q\n%s", want, out)
		}
	}
}

func TestHandler_ContentType(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("hits_total", "hits", "").Inc()

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "hits_total 1") {
		t.Errorf("body missing counter:\n%s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "shopbot_uptime_seconds") {
		t.Error("body missing uptime")
	}
}

// --- Recorder ---

func TestRecorder_SubscribeTurnCompleted(t *testing.T) {
	c := NewMetricsCollector()
	r := NewRecorder(c)
	b := bus.NewEventBus(nil)
	ids := r.Subscribe(b)
	if len(ids) != 6 {
		t.Fatalf("expected 6 subscriptions, got %d", len(ids))
	}

	b.Emit(bus.Event{Type: bus.EventTurnCompleted, Payload: &bus.TurnCompleted{
		TurnID: "t-1",
		Result: domain.WorkflowResult{
			Intent:    domain.Intent{Type: domain.IntentContextual},
			Items:     []domain.ProductCard{{ProductID: "p-1"}},
			Notified:  true,
			Fallbacks: []string{"ideas", "retrieve:rain jacket", "retrieve:umbrella"},
		},
		Latency: 300 * time.Millisecond,
	}})

	if v := c.Counter("shopbot_turns_total", "", Labels("intent", "contextual")).Value(); v != 1 {
		t.Errorf("turns_total = %d", v)
	}
	if v := c.Counter("shopbot_turns_notified_total", "", "").Value(); v != 1 {
		t.Errorf("turns_notified_total = %d", v)
	}
	if v := c.Counter("shopbot_fallbacks_total", "", Labels("stage", "retrieve")).Value(); v != 2 {
		t.Errorf("retrieve fallbacks = %d", v)
	}
	if v := c.Histogram("shopbot_turn_latency_seconds", "", "", latencyBuckets).Count(); v != 1 {
		t.Errorf("turn latency count = %d", v)
	}
}

func TestRecorder_SubscribeWebhookAndNotificationEvents(t *testing.T) {
	c := NewMetricsCollector()
	r := NewRecorder(c)
	b := bus.NewEventBus(nil)
	r.Subscribe(b)

	b.Emit(bus.Event{Type: bus.EventWebhookReceived, Payload: map[string]any{"type": "whatsapp.message.received"}})
	b.Emit(bus.Event{Type: bus.EventWebhookReceived})
	b.Emit(bus.Event{Type: bus.EventWebhookDuplicate})
	b.Emit(bus.Event{Type: bus.EventNotificationSent, Payload: map[string]any{"sink": "slack"}})
	b.Emit(bus.Event{Type: bus.EventNotificationFailed, Payload: map[string]any{"sink": "discord"}})
	b.Emit(bus.Event{Type: bus.EventReadMarkFailed})

	checks := []struct {
		name, labels string
		want         int64
	}{
		{"shopbot_webhook_events_total", Labels("type", "whatsapp.message.received"), 1},
		{"shopbot_webhook_events_total", Labels("type", "unknown"), 1},
		{"shopbot_webhook_duplicates_total", "", 1},
		{"shopbot_notifications_sent_total", Labels("sink", "slack"), 1},
		{"shopbot_notifications_failed_total", Labels("sink", "discord"), 1},
		{"shopbot_readmark_failures_total", "", 1},
	}
	for _, tc := range checks {
		if v := c.Counter(tc.name, "", tc.labels).Value(); v != tc.want {
			t.Errorf("%s{%s} = %d, want %d", tc.name, tc.labels, v, tc.want)
		}
	}
}

func TestRecorder_DirectObservations(t *testing.T) {
	c := NewMetricsCollector()
	r := NewRecorder(c)

	r.Completion("openai", time.Second, nil)
	r.Completion("openai", time.Second, errors.New("boom"))
	r.Retrieval(20 * time.Millisecond)
	r.DedupEntries(42)
	r.InFlight().Inc()

	out := c.Render()
	for _, want := range []string{
		`shopbot_completions_total{provider="openai",outcome="error"} 1`,
		`shopbot_completions_total{provider="openai",outcome="ok"} 1`,
		`shopbot_completion_latency_seconds_count{provider="openai"} 2`,
		"shopbot_retrieval_latency_seconds_count 1",
		"shopbot_dedup_entries 42",
		"shopbot_turns_in_flight 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q", want)
		}
	}
}
