package kapso

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopbot/internal/domain"
)

var fixedNow = time.Date(2025, 11, 3, 9, 30, 0, 0, time.UTC)

func testNormalizer() *Normalizer {
	seq := 0
	return &Normalizer{
		Now: func() time.Time { return fixedNow },
		NewID: func() string {
			seq++
			return fmt.Sprintf("gen-%d", seq)
		},
	}
}

// --- Shapes ---

func TestNormalize_LegacyShape(t *testing.T) {
	raw := []byte(`{
		"type": "whatsapp.message.received",
		"data": [{
			"message": {
				"id": "msg-1",
				"whatsapp_message_id": "wamid.111",
				"message_type": "text",
				"content": "  black shirt  ",
				"created_at": "2025-11-02T10:00:00Z"
			},
			"conversation": {"id": "conv-1", "whatsapp_config_id": "cfg-9"},
			"is_new_conversation": true
		}]
	}`)

	got := testNormalizer().Normalize(raw)
	want := []domain.InboundMessage{{
		ID:              "msg-1",
		ExternalID:      "wamid.111",
		Type:            domain.MessageText,
		Content:         "black shirt",
		ConversationID:  "conv-1",
		ConfigID:        "cfg-9",
		ReceivedAt:      time.Date(2025, 11, 2, 10, 0, 0, 0, time.UTC),
		NewConversation: true,
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_BatchedShape(t *testing.T) {
	raw := []byte(`{
		"type": "whatsapp.message.received",
		"data": [{
			"message": {"id": "msg-2", "message_type": "text", "content": "rain jacket"},
			"conversation": {"phone_number_id": "555"},
			"batch_info": {"conversation_id": "conv-batch"}
		}]
	}`)

	got := testNormalizer().Normalize(raw)
	want := []domain.InboundMessage{{
		ID:             "msg-2",
		Type:           domain.MessageText,
		Content:        "rain jacket",
		ConversationID: "conv-batch",
		ConfigID:       "555",
		ReceivedAt:     fixedNow,
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_RawShape(t *testing.T) {
	raw := []byte(`{
		"type": "whatsapp.message.received",
		"data": [{
			"message": {
				"id": "msg-3",
				"whatsapp_message_id": "wamid.333",
				"type": "text",
				"text": {"body": "running shoes size 42"},
				"timestamp": "1762160000"
			},
			"phone_number_id": 1234567890,
			"batch_info": null
		}]
	}`)

	got := testNormalizer().Normalize(raw)
	want := []domain.InboundMessage{{
		ID:         "msg-3",
		ExternalID: "wamid.333",
		Type:       domain.MessageText,
		Content:    "running shoes size 42",
		ConfigID:   "1234567890",
		ReceivedAt: time.Unix(1762160000, 0).UTC(),
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_UnknownShape(t *testing.T) {
	raw := []byte(`{"type":"whatsapp.message.received","data":[{"something":"else"}]}`)

	got := testNormalizer().Normalize(raw)
	want := []domain.InboundMessage{{
		ID:          "gen-1",
		Type:        domain.MessageOther,
		ConfigID:    domain.UnknownConfigID,
		ReceivedAt:  fixedNow,
		GeneratedID: true,
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, got[0].DedupKeys(), "generated ids must never become dedup keys")
}

func TestClassifyShape(t *testing.T) {
	tests := []struct {
		name string
		item string
		want shape
	}{
		{"legacy", `{"message":{"message_type":"text","content":"x"}}`, shapeLegacy},
		{"batched", `{"message":{"message_type":"text"},"batch_info":{"conversation_id":"c"}}`, shapeBatched},
		{"raw", `{"message":{"type":"text","text":{"body":"x"}}}`, shapeRaw},
		{"unknown", `{"message":{"id":"1"}}`, shapeUnknown},
		{"no message", `{}`, shapeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var item eventItem
			require.NoError(t, json.Unmarshal([]byte(tt.item), &item))
			var msg itemMessage
			decodeOptional(item.Message, &msg)
			assert.Equal(t, tt.want, classifyShape(item, msg))
		})
	}
}

// --- Derivation rules ---

func TestNormalize_ExplicitFieldsWin(t *testing.T) {
	raw := []byte(`{"data":[{
		"message": {"id": "m", "message_type": "image", "type": "text", "content": "caption", "text": {"body": "ignored"}},
		"conversation": {"id": "c", "whatsapp_config_id": "explicit", "phone_number_id": "nested"},
		"batch_info": {"conversation_id": "batch"},
		"phone_number_id": "root"
	}]}`)

	got := testNormalizer().Normalize(raw)
	require.Len(t, got, 1)
	assert.Equal(t, domain.MessageImage, got[0].Type)
	assert.Equal(t, "caption", got[0].Content)
	assert.Equal(t, "c", got[0].ConversationID)
	assert.Equal(t, "explicit", got[0].ConfigID)
}

func TestNormalize_ConfigFallbackChain(t *testing.T) {
	tests := []struct {
		name string
		item string
		want string
	}{
		{"root phone number id", `{"message":{"id":"m"},"phone_number_id":"root","conversation":{"phone_number_id":"nested"}}`, "root"},
		{"nested phone number id", `{"message":{"id":"m"},"conversation":{"phone_number_id":"nested"}}`, "nested"},
		{"whatsapp config id", `{"message":{"id":"m"},"whatsapp_config":{"id":"wc"}}`, "wc"},
		{"sentinel", `{"message":{"id":"m"}}`, domain.UnknownConfigID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := testNormalizer().Normalize([]byte(`{"data":[` + tt.item + `]}`))
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].ConfigID)
		})
	}
}

func TestNormalize_ContentOnlyFromTextBodyForText(t *testing.T) {
	raw := []byte(`{"data":[{"message":{"id":"m","type":"image","text":{"body":"not used"}}}]}`)
	got := testNormalizer().Normalize(raw)
	require.Len(t, got, 1)
	assert.Equal(t, domain.MessageImage, got[0].Type)
	assert.Equal(t, "", got[0].Content)
}

func TestNormalize_UnknownTypeIsOther(t *testing.T) {
	raw := []byte(`{"data":[{"message":{"id":"m","message_type":"location"}}]}`)
	got := testNormalizer().Normalize(raw)
	require.Len(t, got, 1)
	assert.Equal(t, domain.MessageOther, got[0].Type)
}

// --- Failure handling ---

func TestNormalize_SkipsMalformedItems(t *testing.T) {
	raw := []byte(`{"data":[
		"just a string",
		42,
		{"message":{"id":"ok","message_type":"text","content":"hi"}},
		{"message":{"id":"bad"},"is_new_conversation":"yes"}
	]}`)

	got := testNormalizer().Normalize(raw)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].ID)
}

func TestNormalize_NeverFailsOnBadRoots(t *testing.T) {
	for _, raw := range []string{``, `null`, `[]`, `"x"`, `{not json`, `{"type":"x"}`, `{"data":[]}`, `{"data":{}}`} {
		got := testNormalizer().Normalize([]byte(raw))
		assert.Empty(t, got, "input %q", raw)
	}
}

func TestNormalize_MessageNotObject(t *testing.T) {
	raw := []byte(`{"data":[{"message":"oops","batch_info":{"conversation_id":"c"}}]}`)
	got := testNormalizer().Normalize(raw)
	require.Len(t, got, 1)
	assert.Equal(t, domain.MessageOther, got[0].Type)
	assert.Equal(t, "c", got[0].ConversationID)
	assert.True(t, got[0].GeneratedID)
}

// --- Helpers ---

func TestMessageIDs(t *testing.T) {
	raw := []byte(`{"data":[{"message":{"id":"a"}},{"message":{}},{"message":{"id":7}},"bad"]}`)
	assert.Equal(t, []string{"a", "7"}, MessageIDs(raw))
	assert.Empty(t, MessageIDs([]byte(`nope`)))
}

func TestEventType(t *testing.T) {
	assert.Equal(t, EventMessageReceived, EventType([]byte(`{"type":"whatsapp.message.received"}`)))
	assert.Equal(t, "unknown", EventType([]byte(`{}`)))
	assert.Equal(t, "unknown", EventType([]byte(`garbage`)))
}

func TestParseTimestamp(t *testing.T) {
	ts, ok := parseTimestamp(json.RawMessage(`1700000000`))
	require.True(t, ok)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), ts)

	ts, ok = parseTimestamp(json.RawMessage(`"2024-01-02T03:04:05Z"`))
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), ts)

	_, ok = parseTimestamp(json.RawMessage(`"yesterday"`))
	assert.False(t, ok)
	_, ok = parseTimestamp(nil)
	assert.False(t, ok)
}
