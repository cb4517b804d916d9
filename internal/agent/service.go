// Package agent hosts the webhook path: it gates, normalizes and
// de-duplicates Kapso deliveries, runs one workflow turn per text message
// and replies into the conversation.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"shopbot/internal/bus"
	"shopbot/internal/dedup"
	"shopbot/internal/domain"
	"shopbot/internal/kapso"
	"shopbot/internal/workflow"
)

// MessageReceived is the only webhook type that starts a turn.
const MessageReceived = "whatsapp.message.received"

const (
	defaultMaxConcurrentTurns = 5
	defaultTurnTimeout        = 60 * time.Second
	defaultHistoryLimit       = 10
	replyItems                = 3
)

// WebhookOutcome is the JSON acknowledgement of one webhook delivery.
type WebhookOutcome struct {
	Status        string   `json:"status"`
	Message       string   `json:"message"`
	Processed     bool     `json:"processed"`
	AgentResponse bool     `json:"agent_response"`
	Duplicate     bool     `json:"duplicate,omitempty"`
	MessageIDs    []string `json:"message_ids,omitempty"`
	Note          string   `json:"note,omitempty"`
	Turns         int      `json:"turns,omitempty"`
}

// Runner executes one workflow turn.
type Runner interface {
	Run(ctx context.Context, t workflow.Turn) domain.WorkflowResult
}

// Messenger is the part of the Kapso API the webhook path talks to.
type Messenger interface {
	SendMessage(ctx context.Context, conversationID, text string) error
	MarkMessagesRead(ctx context.Context, ids []string, typingOnLast bool) int
	kapso.ConversationReader
}

// Gauge tracks in-flight turns.
type Gauge interface {
	Inc()
	Dec()
}

type ServiceConfig struct {
	Workflow Runner
	Dedup    *dedup.Cache
	// History supplies prior queries. Ignored when HistoryFromAPI is set.
	History        domain.HistorySource
	HistoryFromAPI bool
	HistoryLimit   int
	Kapso          Messenger // nil disables replies and read receipts
	Reply          bool
	MarkAsRead     bool
	Pool           *BackgroundPool
	Bus            *bus.EventBus

	MaxConcurrentTurns int
	TurnTimeout        time.Duration
	InFlight           Gauge
	Logger             *slog.Logger
}

type Service struct {
	workflow       Runner
	dedup          *dedup.Cache
	history        domain.HistorySource
	historyFromAPI bool
	historyLimit   int
	kapso          Messenger
	reply          bool
	markAsRead     bool
	pool           *BackgroundPool
	bus            *bus.EventBus
	turns          *semaphore.Weighted
	turnTimeout    time.Duration
	inFlight       Gauge
	logger         *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.MaxConcurrentTurns <= 0 {
		cfg.MaxConcurrentTurns = defaultMaxConcurrentTurns
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = defaultTurnTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Dedup == nil {
		cfg.Dedup = dedup.New(dedup.Config{Logger: cfg.Logger})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		workflow:       cfg.Workflow,
		dedup:          cfg.Dedup,
		history:        cfg.History,
		historyFromAPI: cfg.HistoryFromAPI,
		historyLimit:   cfg.HistoryLimit,
		kapso:          cfg.Kapso,
		reply:          cfg.Reply,
		markAsRead:     cfg.MarkAsRead,
		pool:           cfg.Pool,
		bus:            cfg.Bus,
		turns:          semaphore.NewWeighted(int64(cfg.MaxConcurrentTurns)),
		turnTimeout:    cfg.TurnTimeout,
		inFlight:       cfg.InFlight,
		logger:         cfg.Logger,
	}
}

// Dedup exposes the cache for the stats endpoint.
func (s *Service) Dedup() *dedup.Cache { return s.dedup }

// HandleWebhook processes one raw Kapso delivery. It never fails: problems
// are reported in the outcome and the logs.
func (s *Service) HandleWebhook(ctx context.Context, raw []byte) WebhookOutcome {
	eventType := kapso.EventType(raw)
	s.emit(bus.EventWebhookReceived, map[string]any{"type": eventType})
	s.logger.Info("webhook received", "type", eventType, "bytes", len(raw))

	if eventType != MessageReceived {
		s.logger.Warn("unrecognized webhook type", "type", eventType)
		return WebhookOutcome{
			Status:  "success",
			Message: "Webhook not processed",
			Note:    "unrecognized webhook type",
		}
	}

	msgs := kapso.Normalize(raw, s.logger)
	if len(msgs) == 0 {
		s.logger.Warn("webhook carried no usable messages")
		return WebhookOutcome{Status: "success", Message: "Webhook has no valid data"}
	}

	ids := kapso.MessageIDs(raw)
	keys := dedupKeys(s.dedup.ExtractKeys(raw), msgs)
	if !s.dedup.CheckAndMark(keys) {
		s.logger.Warn("duplicate webhook discarded", "message_ids", ids)
		s.emit(bus.EventWebhookDuplicate, map[string]any{"message_ids": ids})
		return WebhookOutcome{
			Status:     "success",
			Message:    "Duplicate webhook, messages already processed",
			Duplicate:  true,
			MessageIDs: ids,
		}
	}

	s.markRead(ids)

	out := WebhookOutcome{Status: "success", Message: "Webhook processed", MessageIDs: ids}
	for _, msg := range msgs {
		if !msg.IsText() {
			s.logger.Info("skipping non-text message", "message_id", msg.ID, "type", msg.Type)
			continue
		}
		replied, err := s.handleMessage(ctx, msg)
		if err != nil {
			s.logger.Error("turn not run", "message_id", msg.ID, "error", err)
			continue
		}
		out.Turns++
		out.AgentResponse = out.AgentResponse || replied
	}
	out.Processed = out.Turns > 0
	if !out.Processed {
		out.Message = "No text messages to process"
	}
	return out
}

func (s *Service) handleMessage(ctx context.Context, msg domain.InboundMessage) (bool, error) {
	if err := s.turns.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("wait for turn slot: %w", err)
	}
	defer s.turns.Release(1)
	if s.inFlight != nil {
		s.inFlight.Inc()
		defer s.inFlight.Dec()
	}

	ctx, cancel := context.WithTimeout(ctx, s.turnTimeout)
	defer cancel()

	prior := s.priorQueries(ctx, msg)
	res := s.workflow.Run(ctx, workflow.Turn{
		Query:          msg.Content,
		Prior:          prior,
		At:             msg.ReceivedAt,
		ConversationID: msg.ConversationID,
		Destination:    domain.Destination{ConversationID: msg.ConversationID},
		Source:         "webhook",
	})
	s.logger.Info("turn completed",
		"conversation_id", msg.ConversationID,
		"intent", res.Intent.Type,
		"items", len(res.Items),
		"notified", res.Notified,
	)

	if !s.reply || s.kapso == nil || msg.ConversationID == "" {
		return false, nil
	}
	if err := s.kapso.SendMessage(ctx, msg.ConversationID, ReplyText(res)); err != nil {
		s.logger.Warn("reply failed", "conversation_id", msg.ConversationID, "error", err)
		return false, nil
	}
	return true, nil
}

func (s *Service) priorQueries(ctx context.Context, msg domain.InboundMessage) []string {
	if msg.ConversationID == "" {
		return nil
	}
	var src domain.HistorySource = s.history
	if s.historyFromAPI && s.kapso != nil {
		src = kapso.HistorySource{Client: s.kapso, Exclude: msg.Content}
	}
	if src == nil {
		return nil
	}
	prior, err := src.RecentQueries(ctx, msg.ConversationID, s.historyLimit)
	if err != nil {
		s.logger.Warn("history unavailable, continuing without it", "conversation_id", msg.ConversationID, "error", err)
		return nil
	}
	return prior
}

func (s *Service) markRead(ids []string) {
	if !s.markAsRead || s.kapso == nil || s.pool == nil || len(ids) == 0 {
		return
	}
	s.pool.Submit(BackgroundTask{
		Name: "mark_as_read",
		Fn: func(ctx context.Context) error {
			if n := s.kapso.MarkMessagesRead(ctx, ids, true); n < len(ids) {
				s.emit(bus.EventReadMarkFailed, map[string]any{"message_ids": ids, "ok": n})
				return fmt.Errorf("marked %d of %d messages as read", n, len(ids))
			}
			return nil
		},
	})
}

func (s *Service) emit(eventType string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(bus.Event{Type: eventType, Source: "agent", Payload: payload, Timestamp: time.Now()})
}

// dedupKeys merges the raw-payload keys with the normalized messages' keys.
func dedupKeys(raw []string, msgs []domain.InboundMessage) []string {
	seen := make(map[string]bool, len(raw))
	var keys []string
	add := func(k string) {
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, k := range raw {
		add(k)
	}
	for _, m := range msgs {
		for _, k := range m.DedupKeys() {
			add(k)
		}
	}
	return keys
}

// ReplyText is the chat reply for a turn: the response plus the top items.
func ReplyText(res domain.WorkflowResult) string {
	var sb strings.Builder
	sb.WriteString(res.ResponseText)
	for i, item := range res.Items {
		if i == replyItems {
			break
		}
		if i == 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "\n%d. %s - $%.2f", i+1, item.Title, item.Price)
	}
	return sb.String()
}
