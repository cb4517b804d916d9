package kapso

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"shopbot/internal/provider"
)

const (
	defaultTimeout     = 15 * time.Second
	markAsReadTimeout  = 10 * time.Second
	typingTimeout      = 5 * time.Second
	defaultHistoryPage = 100
)

// Client is a minimal Kapso REST client.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("kapso: base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("kapso: API key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  provider.SharedHTTPClient(cfg.Timeout),
		logger:  cfg.Logger,
	}, nil
}

// ConversationMessage is one entry of a conversation's message list.
type ConversationMessage struct {
	ID              string          `json:"id"`
	Direction       string          `json:"direction"` // inbound | outbound
	Content         string          `json:"content"`
	MessageType     string          `json:"message_type"`
	MessageTypeData json.RawMessage `json:"message_type_data,omitempty"`
	CreatedAt       string          `json:"created_at"`
}

// Text returns the message text, falling back to message_type_data.text.
func (m ConversationMessage) Text() string {
	if m.Content != "" {
		return m.Content
	}
	if !isObject(m.MessageTypeData) {
		return ""
	}
	var data struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(m.MessageTypeData, &data)
	return data.Text
}

// SendMessage posts a text message into a conversation. It is not retried:
// a 5xx after the message was accepted would send it twice.
func (c *Client) SendMessage(ctx context.Context, conversationID, text string) error {
	if conversationID == "" {
		return fmt.Errorf("kapso: send message: conversation id is required")
	}
	body, err := json.Marshal(map[string]any{
		"message": map[string]string{
			"content":      text,
			"message_type": "text",
		},
	})
	if err != nil {
		return fmt.Errorf("kapso: marshal message: %w", err)
	}

	path := "/whatsapp_conversations/" + url.PathEscape(conversationID) + "/whatsapp_messages"
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kapso: send message: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK, http.StatusCreated); err != nil {
		return fmt.Errorf("kapso: send message: %w", err)
	}
	c.logger.Debug("kapso: message sent", "conversation_id", conversationID, "chars", len(text))
	return nil
}

// MarkAsRead marks one message as read, optionally showing the typing indicator.
func (c *Client) MarkAsRead(ctx context.Context, messageID string, typing bool) error {
	ctx, cancel := context.WithTimeout(ctx, markAsReadTimeout)
	defer cancel()

	path := "/whatsapp_messages/" + url.PathEscape(messageID) + "/mark_as_read"
	query := url.Values{"typing_indicator": {strconv.FormatBool(typing)}}
	resp, err := provider.DoWithRetry(ctx, c.client, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPatch, path, query, nil)
	}, c.logger)
	if err != nil {
		return fmt.Errorf("kapso: mark %s as read: %w", messageID, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK, http.StatusNoContent); err != nil {
		return fmt.Errorf("kapso: mark %s as read: %w", messageID, err)
	}
	return nil
}

// MarkMessagesRead marks every id as read concurrently and returns how many
// succeeded. Only the last message gets the typing indicator when typingOnLast is set.
func (c *Client) MarkMessagesRead(ctx context.Context, ids []string, typingOnLast bool) int {
	var valid []string
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return 0
	}

	var ok atomic.Int32
	var g errgroup.Group
	for i, id := range valid {
		typing := typingOnLast && i == len(valid)-1
		g.Go(func() error {
			if err := c.MarkAsRead(ctx, id, typing); err != nil {
				c.logger.Warn("kapso: mark as read failed", "message_id", id, "error", err)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info("kapso: messages marked as read", "ok", ok.Load(), "total", len(valid))
	return int(ok.Load())
}

// ConversationMessages returns one page of a conversation's messages.
func (c *Client) ConversationMessages(ctx context.Context, conversationID string, page, perPage int) ([]ConversationMessage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultHistoryPage
	}
	path := "/whatsapp_conversations/" + url.PathEscape(conversationID) + "/whatsapp_messages"
	query := url.Values{
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(perPage)},
	}

	resp, err := provider.DoWithRetry(ctx, c.client, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, path, query, nil)
	}, c.logger)
	if err != nil {
		return nil, fmt.Errorf("kapso: list messages: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, fmt.Errorf("kapso: list messages: %w", err)
	}

	var out struct {
		Data []ConversationMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("kapso: decode messages: %w", err)
	}
	return out.Data, nil
}

// DisableTypingIndicator turns the typing indicator off. Not every account
// exposes this endpoint, so callers treat failure as informational.
func (c *Client) DisableTypingIndicator(ctx context.Context, conversationID string) error {
	ctx, cancel := context.WithTimeout(ctx, typingTimeout)
	defer cancel()

	body := []byte(`{"typing":false}`)
	path := "/whatsapp_conversations/" + url.PathEscape(conversationID) + "/typing"
	req, err := c.newRequest(ctx, http.MethodPatch, path, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kapso: disable typing: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK, http.StatusNoContent)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("kapso: new request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func checkStatus(resp *http.Response, ok ...int) error {
	for _, code := range ok {
		if resp.StatusCode == code {
			return nil
		}
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
