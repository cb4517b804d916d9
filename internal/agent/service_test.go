package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shopbot/internal/bus"
	"shopbot/internal/dedup"
	"shopbot/internal/domain"
	"shopbot/internal/kapso"
	"shopbot/internal/workflow"
)

type fakeRunner struct {
	mu      sync.Mutex
	turns   []workflow.Turn
	result  domain.WorkflowResult
	delay   time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (f *fakeRunner) Run(ctx context.Context, t workflow.Turn) domain.WorkflowResult {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.turns = append(f.turns, t)
	f.mu.Unlock()
	return f.result
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.turns)
}

type fakeMessenger struct {
	mu       sync.Mutex
	sent     map[string][]string
	readIDs  []string
	typing   bool
	history  []kapso.ConversationMessage
	sendErr  error
	readFail bool
}

func (f *fakeMessenger) SendMessage(_ context.Context, conversationID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.sent == nil {
		f.sent = make(map[string][]string)
	}
	f.sent[conversationID] = append(f.sent[conversationID], text)
	return nil
}

func (f *fakeMessenger) MarkMessagesRead(_ context.Context, ids []string, typingOnLast bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readIDs = append(f.readIDs, ids...)
	f.typing = typingOnLast
	if f.readFail {
		return 0
	}
	return len(ids)
}

func (f *fakeMessenger) ConversationMessages(_ context.Context, _ string, _, _ int) ([]kapso.ConversationMessage, error) {
	return f.history, nil
}

type staticHistory []string

func (h staticHistory) RecentQueries(context.Context, string, int) ([]string, error) {
	return h, nil
}

type brokenHistory struct{}

func (brokenHistory) RecentQueries(context.Context, string, int) ([]string, error) {
	return nil, errors.New("db locked")
}

func textWebhook(msgID, wamid, conv, content string) []byte {
	return []byte(fmt.Sprintf(`{
		"type": "whatsapp.message.received",
		"data": [{
			"message": {
				"id": %q,
				"whatsapp_message_id": %q,
				"message_type": "text",
				"content": %q,
				"created_at": "2025-11-02T10:00:00Z"
			},
			"conversation": {"id": %q, "whatsapp_config_id": "cfg-1"}
		}]
	}`, msgID, wamid, content, conv))
}

func blackShirtResult() domain.WorkflowResult {
	return domain.WorkflowResult{
		ResponseText: "I found 2 products matching your search!",
		Items: []domain.ProductCard{
			{ProductID: "p-001", Title: "Classic Black Tee", Price: 19.99},
			{ProductID: "p-002", Title: "Black Oxford Shirt", Price: 49.5},
		},
		Intent: domain.Intent{Type: domain.IntentDirectSearch, Confidence: 0.9},
	}
}

func newTestService(runner Runner, m *fakeMessenger, mutate func(*ServiceConfig)) *Service {
	cfg := ServiceConfig{
		Workflow: runner,
		Dedup:    dedup.New(dedup.Config{Logger: testLogger()}),
		Reply:    true,
		Logger:   testLogger(),
	}
	if m != nil {
		cfg.Kapso = m
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewService(cfg)
}

// --- Gate and dedup ---

func TestHandleWebhook_RedeliveryShortCircuits(t *testing.T) {
	runner := &fakeRunner{result: blackShirtResult()}
	m := &fakeMessenger{}
	b := bus.NewEventBus(testLogger())
	var duplicates atomic.Int32
	b.On(bus.EventWebhookDuplicate, func(bus.Event) { duplicates.Add(1) })
	svc := newTestService(runner, m, func(c *ServiceConfig) { c.Bus = b })

	raw := textWebhook("msg-1", "wamid.1", "conv-1", "black shirt")
	first := svc.HandleWebhook(context.Background(), raw)
	second := svc.HandleWebhook(context.Background(), raw)

	if !first.Processed || first.Duplicate {
		t.Errorf("first delivery should be processed: %+v", first)
	}
	if second.Processed || !second.Duplicate || second.Status != "success" {
		t.Errorf("redelivery should short-circuit: %+v", second)
	}
	if len(second.MessageIDs) != 1 || second.MessageIDs[0] != "msg-1" {
		t.Errorf("expected message ids [msg-1], got %v", second.MessageIDs)
	}
	if runner.count() != 1 {
		t.Errorf("expected exactly one turn, got %d", runner.count())
	}
	if len(m.sent["conv-1"]) != 1 {
		t.Errorf("expected exactly one reply, got %d", len(m.sent["conv-1"]))
	}
	if duplicates.Load() != 1 {
		t.Errorf("expected one duplicate event, got %d", duplicates.Load())
	}
}

func TestHandleWebhook_SameWhatsAppIDDifferentKapsoID(t *testing.T) {
	runner := &fakeRunner{result: blackShirtResult()}
	svc := newTestService(runner, nil, nil)

	svc.HandleWebhook(context.Background(), textWebhook("msg-1", "wamid.1", "conv-1", "black shirt"))
	out := svc.HandleWebhook(context.Background(), textWebhook("msg-9", "wamid.1", "conv-1", "black shirt"))

	if !out.Duplicate {
		t.Errorf("a shared whatsapp id is a duplicate: %+v", out)
	}
	if runner.count() != 1 {
		t.Errorf("expected one turn, got %d", runner.count())
	}
}

func TestHandleWebhook_UnrecognizedType(t *testing.T) {
	runner := &fakeRunner{}
	svc := newTestService(runner, nil, nil)

	out := svc.HandleWebhook(context.Background(), []byte(`{"type":"whatsapp.message.delivered","data":[{}]}`))

	if out.Status != "success" || out.Processed || out.AgentResponse {
		t.Errorf("unexpected outcome %+v", out)
	}
	if out.Note != "unrecognized webhook type" {
		t.Errorf("note = %q", out.Note)
	}
	if runner.count() != 0 {
		t.Error("no turn should run")
	}
}

func TestHandleWebhook_NoData(t *testing.T) {
	svc := newTestService(&fakeRunner{}, nil, nil)

	for _, raw := range []string{
		`{"type":"whatsapp.message.received","data":[]}`,
		`{"type":"whatsapp.message.received"}`,
	} {
		out := svc.HandleWebhook(context.Background(), []byte(raw))
		if out.Processed || out.Message != "Webhook has no valid data" {
			t.Errorf("%s: unexpected outcome %+v", raw, out)
		}
	}
}

func TestHandleWebhook_NonTextMessageIsAcknowledged(t *testing.T) {
	runner := &fakeRunner{}
	svc := newTestService(runner, nil, nil)

	raw := []byte(`{"type":"whatsapp.message.received","data":[{
		"message":{"id":"img-1","message_type":"image","content":""},
		"conversation":{"id":"conv-1"}}]}`)
	out := svc.HandleWebhook(context.Background(), raw)

	if out.Processed || out.Message != "No text messages to process" {
		t.Errorf("unexpected outcome %+v", out)
	}
	if runner.count() != 0 {
		t.Error("no turn should run for an image")
	}
}

// --- Turn ---

func TestHandleWebhook_RunsTurnAndReplies(t *testing.T) {
	runner := &fakeRunner{result: blackShirtResult()}
	m := &fakeMessenger{}
	svc := newTestService(runner, m, func(c *ServiceConfig) {
		c.History = staticHistory{"t-shirts", "polo shirts"}
	})

	out := svc.HandleWebhook(context.Background(), textWebhook("msg-1", "wamid.1", "conv-1", "black shirt"))

	if !out.Processed || !out.AgentResponse || out.Turns != 1 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	turn := runner.turns[0]
	if turn.Query != "black shirt" || turn.ConversationID != "conv-1" || turn.Source != "webhook" {
		t.Errorf("unexpected turn %+v", turn)
	}
	if turn.Destination.ConversationID != "conv-1" {
		t.Errorf("destination = %+v", turn.Destination)
	}
	if len(turn.Prior) != 2 || turn.Prior[0] != "t-shirts" {
		t.Errorf("prior = %v", turn.Prior)
	}
	if !turn.At.Equal(time.Date(2025, 11, 2, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("at = %v", turn.At)
	}

	reply := m.sent["conv-1"][0]
	if !strings.HasPrefix(reply, "I found 2 products matching your search!") {
		t.Errorf("reply = %q", reply)
	}
	if !strings.Contains(reply, "1. Classic Black Tee - $19.99") {
		t.Errorf("reply missing item list: %q", reply)
	}
}

func TestHandleWebhook_ReplyFailureStillProcessed(t *testing.T) {
	m := &fakeMessenger{sendErr: errors.New("kapso 500")}
	svc := newTestService(&fakeRunner{result: blackShirtResult()}, m, nil)

	out := svc.HandleWebhook(context.Background(), textWebhook("msg-1", "wamid.1", "conv-1", "black shirt"))

	if !out.Processed || out.AgentResponse {
		t.Errorf("expected processed without agent response: %+v", out)
	}
}

func TestHandleWebhook_HistoryErrorDoesNotBlockTurn(t *testing.T) {
	runner := &fakeRunner{result: blackShirtResult()}
	svc := newTestService(runner, nil, func(c *ServiceConfig) { c.History = brokenHistory{} })

	out := svc.HandleWebhook(context.Background(), textWebhook("msg-1", "wamid.1", "conv-1", "black shirt"))

	if !out.Processed || len(runner.turns[0].Prior) != 0 {
		t.Errorf("expected a turn with no prior queries: %+v", out)
	}
}

func TestHandleWebhook_HistoryFromAPI(t *testing.T) {
	runner := &fakeRunner{result: blackShirtResult()}
	m := &fakeMessenger{history: []kapso.ConversationMessage{
		{ID: "a", Direction: "inbound", MessageType: "text", Content: "going to Seattle", CreatedAt: "2025-11-01T09:00:00Z"},
		{ID: "b", Direction: "outbound", MessageType: "text", Content: "Here you go", CreatedAt: "2025-11-01T09:00:05Z"},
		{ID: "c", Direction: "inbound", MessageType: "text", Content: "black shirt", CreatedAt: "2025-11-02T10:00:00Z"},
	}}
	svc := newTestService(runner, m, func(c *ServiceConfig) {
		c.HistoryFromAPI = true
		c.History = staticHistory{"should not be used"}
	})

	svc.HandleWebhook(context.Background(), textWebhook("msg-1", "wamid.1", "conv-1", "black shirt"))

	prior := runner.turns[0].Prior
	if len(prior) != 1 || prior[0] != "going to Seattle" {
		t.Errorf("expected only the earlier inbound query, got %v", prior)
	}
}

func TestHandleWebhook_MarksReadInBackground(t *testing.T) {
	m := &fakeMessenger{readFail: true}
	pool := NewBackgroundPool(PoolConfig{Workers: 1, Logger: testLogger()})
	b := bus.NewEventBus(testLogger())
	var readFailures atomic.Int32
	b.On(bus.EventReadMarkFailed, func(bus.Event) { readFailures.Add(1) })
	svc := newTestService(&fakeRunner{result: blackShirtResult()}, m, func(c *ServiceConfig) {
		c.MarkAsRead = true
		c.Pool = pool
		c.Bus = b
	})

	out := svc.HandleWebhook(context.Background(), textWebhook("msg-7", "wamid.7", "conv-1", "black shirt"))
	pool.Stop(context.Background())

	if !out.Processed {
		t.Error("a read-receipt failure must not affect the turn")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.readIDs) != 1 || m.readIDs[0] != "msg-7" || !m.typing {
		t.Errorf("unexpected read receipts %v typing=%v", m.readIDs, m.typing)
	}
	if readFailures.Load() != 1 {
		t.Errorf("expected a readmark.failed event, got %d", readFailures.Load())
	}
}

func TestHandleWebhook_BoundsConcurrentTurns(t *testing.T) {
	runner := &fakeRunner{result: blackShirtResult(), delay: 30 * time.Millisecond}
	svc := newTestService(runner, nil, func(c *ServiceConfig) { c.MaxConcurrentTurns = 1 })

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("msg-%d", i)
			svc.HandleWebhook(context.Background(), textWebhook(id, "wamid."+id, "conv-1", "black shirt"))
		}(i)
	}
	wg.Wait()

	if runner.count() != 4 {
		t.Errorf("expected 4 turns, got %d", runner.count())
	}
	if runner.maxSeen.Load() != 1 {
		t.Errorf("expected at most 1 concurrent turn, saw %d", runner.maxSeen.Load())
	}
}

// --- Reply text ---

func TestReplyText(t *testing.T) {
	res := domain.WorkflowResult{ResponseText: "Here you go!"}
	if got := ReplyText(res); got != "Here you go!" {
		t.Errorf("no items: %q", got)
	}

	for i := 0; i < 5; i++ {
		res.Items = append(res.Items, domain.ProductCard{Title: fmt.Sprintf("Item %d", i+1), Price: 10})
	}
	got := ReplyText(res)
	want := "Here you go!\n\n1. Item 1 - $10.00\n2. Item 2 - $10.00\n3. Item 3 - $10.00"
	if got != want {
		t.Errorf("ReplyText() = %q, want %q", got, want)
	}
}
