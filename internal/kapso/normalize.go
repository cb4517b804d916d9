// Package kapso speaks the Kapso WhatsApp platform: webhook payload
// normalization and the REST client used for replies, read receipts and history.
package kapso

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"shopbot/internal/domain"
)

// EventMessageReceived is the only webhook type routed into a turn.
const EventMessageReceived = "whatsapp.message.received"

// Event is the webhook envelope. Items are decoded one by one so a single
// bad item cannot poison the batch.
type Event struct {
	Type string            `json:"type"`
	Data []json.RawMessage `json:"data"`
}

type shape int

const (
	shapeUnknown shape = iota
	shapeLegacy        // flat message{message_type, content} + conversation{...}
	shapeBatched       // batch_info.conversation_id carries the conversation
	shapeRaw           // Cloud API message{type, text.body}
)

func (s shape) String() string {
	switch s {
	case shapeLegacy:
		return "legacy"
	case shapeBatched:
		return "batched"
	case shapeRaw:
		return "raw"
	default:
		return "unknown"
	}
}

type eventItem struct {
	Message           json.RawMessage `json:"message"`
	Conversation      json.RawMessage `json:"conversation"`
	WhatsAppConfig    json.RawMessage `json:"whatsapp_config"`
	BatchInfo         json.RawMessage `json:"batch_info"`
	PhoneNumberID     flexString      `json:"phone_number_id"`
	IsNewConversation bool            `json:"is_new_conversation"`
}

type itemMessage struct {
	ID                flexString      `json:"id"`
	WhatsAppMessageID flexString      `json:"whatsapp_message_id"`
	MessageType       *string         `json:"message_type"`
	Type              *string         `json:"type"`
	Content           *string         `json:"content"`
	Text              json.RawMessage `json:"text"`
	Timestamp         json.RawMessage `json:"timestamp"`
	CreatedAt         json.RawMessage `json:"created_at"`
}

type itemConversation struct {
	ID               flexString `json:"id"`
	WhatsAppConfigID flexString `json:"whatsapp_config_id"`
	PhoneNumberID    flexString `json:"phone_number_id"`
}

type itemBatchInfo struct {
	ConversationID flexString `json:"conversation_id"`
}

type itemConfig struct {
	ID flexString `json:"id"`
}

// flexString accepts a JSON string or number; anything else decodes as empty.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] == 'n' {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		*f = ""
		return nil
	}
	*f = flexString(n.String())
	return nil
}

// Normalizer converts Kapso webhook payloads into canonical messages.
type Normalizer struct {
	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger
}

// Normalize runs a Normalizer with the default clock and ID source.
func Normalize(raw []byte, logger *slog.Logger) []domain.InboundMessage {
	return (&Normalizer{Logger: logger}).Normalize(raw)
}

// Normalize never fails: an undecodable root yields an empty list and a bad
// item is skipped with a warning.
func (n *Normalizer) Normalize(raw []byte) []domain.InboundMessage {
	logger := n.logger()

	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		logger.Warn("kapso: webhook root is not an object", "error", err)
		return nil
	}
	if len(ev.Data) == 0 {
		logger.Warn("kapso: webhook has no data", "type", ev.Type)
		return nil
	}

	out := make([]domain.InboundMessage, 0, len(ev.Data))
	for i, rawItem := range ev.Data {
		var item eventItem
		if err := json.Unmarshal(rawItem, &item); err != nil {
			logger.Warn("kapso: skipping malformed item", "index", i, "error", err)
			continue
		}
		msg, sh := n.normalizeItem(item)
		logger.Debug("kapso: item normalized",
			"index", i, "shape", sh.String(), "message_id", msg.ID, "type", msg.Type)
		out = append(out, msg)
	}

	logger.Info("kapso: webhook normalized", "type", ev.Type, "messages", len(out))
	return out
}

func (n *Normalizer) normalizeItem(item eventItem) (domain.InboundMessage, shape) {
	var (
		msg   itemMessage
		conv  itemConversation
		batch itemBatchInfo
		wcfg  itemConfig
	)
	decodeOptional(item.Message, &msg)
	decodeOptional(item.Conversation, &conv)
	decodeOptional(item.BatchInfo, &batch)
	decodeOptional(item.WhatsAppConfig, &wcfg)

	sh := classifyShape(item, msg)

	// message_type: explicit field, then the raw "type".
	var msgType domain.MessageType
	switch {
	case msg.MessageType != nil:
		msgType = domain.ParseMessageType(*msg.MessageType)
	case msg.Type != nil:
		msgType = domain.ParseMessageType(*msg.Type)
	default:
		msgType = domain.MessageOther
	}

	content := ""
	if msg.Content != nil {
		content = *msg.Content
	} else if msgType == domain.MessageText {
		content = textBody(msg.Text)
	}

	conversationID := string(conv.ID)
	if conversationID == "" {
		conversationID = string(batch.ConversationID)
	}

	configID := string(conv.WhatsAppConfigID)
	if configID == "" {
		configID = string(item.PhoneNumberID)
	}
	if configID == "" {
		configID = string(conv.PhoneNumberID)
	}
	if configID == "" {
		configID = string(wcfg.ID)
	}
	if configID == "" {
		configID = domain.UnknownConfigID
	}

	out := domain.InboundMessage{
		ID:              string(msg.ID),
		ExternalID:      string(msg.WhatsAppMessageID),
		Type:            msgType,
		Content:         strings.TrimSpace(content),
		ConversationID:  conversationID,
		ConfigID:        configID,
		NewConversation: item.IsNewConversation,
	}
	if out.ID == "" {
		out.ID = n.newID()
		out.GeneratedID = true
	}

	if t, ok := parseTimestamp(msg.Timestamp); ok {
		out.ReceivedAt = t
	} else if t, ok := parseTimestamp(msg.CreatedAt); ok {
		out.ReceivedAt = t
	} else {
		out.ReceivedAt = n.now()
	}

	return out, sh
}

func classifyShape(item eventItem, msg itemMessage) shape {
	switch {
	case isObject(item.BatchInfo):
		return shapeBatched
	case msg.MessageType != nil || msg.Content != nil:
		return shapeLegacy
	case msg.Type != nil:
		return shapeRaw
	default:
		return shapeUnknown
	}
}

// MessageIDs returns the Kapso message ids in a webhook, in payload order.
// These are the ids read receipts are sent for.
func MessageIDs(raw []byte) []string {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil
	}
	var ids []string
	for _, rawItem := range ev.Data {
		var item eventItem
		if err := json.Unmarshal(rawItem, &item); err != nil {
			continue
		}
		var msg itemMessage
		decodeOptional(item.Message, &msg)
		if msg.ID != "" {
			ids = append(ids, string(msg.ID))
		}
	}
	return ids
}

// EventType returns the webhook's type discriminator, or "unknown".
func EventType(raw []byte) string {
	var ev struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Type == "" {
		return "unknown"
	}
	return ev.Type
}

func textBody(raw json.RawMessage) string {
	var text struct {
		Body string `json:"body"`
	}
	if !isObject(raw) {
		return ""
	}
	if err := json.Unmarshal(raw, &text); err != nil {
		return ""
	}
	return text.Body
}

// decodeOptional fills v from raw when raw is a JSON object; other values
// (absent, null, wrong type) leave v at its zero value.
func decodeOptional(raw json.RawMessage, v any) {
	if !isObject(raw) {
		return
	}
	_ = json.Unmarshal(raw, v)
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// parseTimestamp accepts unix seconds (number or numeric string) or RFC3339.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == 'n' {
		return time.Time{}, false
	}
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, false
		}
	} else {
		s = string(raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil && secs > 0 {
		return time.Unix(int64(secs), 0).UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

func (n *Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now().UTC()
}

func (n *Normalizer) newID() string {
	if n.NewID != nil {
		return n.NewID()
	}
	return uuid.NewString()
}

func (n *Normalizer) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}
