package domain

import "time"

// MessageType is the kind of an inbound chat message.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageReaction MessageType = "reaction"
	MessageSticker  MessageType = "sticker"
	MessageOther    MessageType = "other"
)

// ParseMessageType maps a provider type string to a MessageType. Unknown and
// empty values become MessageOther so a normalized message never has an empty type.
func ParseMessageType(s string) MessageType {
	switch MessageType(s) {
	case MessageText, MessageImage, MessageReaction, MessageSticker:
		return MessageType(s)
	default:
		return MessageOther
	}
}

// UnknownConfigID is the sentinel used when no WhatsApp config identity is present.
const UnknownConfigID = "unknown"

// InboundMessage is the canonical shape of one message delivered by a webhook.
type InboundMessage struct {
	ID              string      `json:"id"`
	ExternalID      string      `json:"external_id,omitempty"` // provider-native id (WhatsApp wamid)
	Type            MessageType `json:"type"`
	Content         string      `json:"content"`
	ConversationID  string      `json:"conversation_id,omitempty"` // empty = anonymous
	ConfigID        string      `json:"config_id"`
	ReceivedAt      time.Time   `json:"received_at"`
	NewConversation bool        `json:"new_conversation,omitempty"`
	GeneratedID     bool        `json:"-"` // ID was synthesized by the normalizer; never a dedup key
}

// DedupKeys returns the identifiers under which this message is deduplicated.
// The provider-native id is the stronger key; the internal id is added when it came from the payload.
func (m InboundMessage) DedupKeys() []string {
	var keys []string
	if m.ExternalID != "" {
		keys = append(keys, "wa:"+m.ExternalID)
	}
	if m.ID != "" && !m.GeneratedID {
		keys = append(keys, "kapso:"+m.ID)
	}
	return keys
}

// IsText reports whether the message carries text the workflow can act on.
func (m InboundMessage) IsText() bool {
	return m.Type == MessageText && m.Content != ""
}
