package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"shopbot/internal/domain"
)

const (
	claudeAPIBase      = "https://api.anthropic.com/v1"
	claudeAPIVersion   = "2023-06-01"
	claudeDefaultModel = "claude-3-5-haiku-latest"
	claudeMaxTokens    = 1024
)

// Claude implements domain.Provider for the Anthropic Messages API.
type Claude struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type ClaudeConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewClaude(cfg ClaudeConfig) *Claude {
	if cfg.APIBase == "" {
		cfg.APIBase = claudeAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = claudeDefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Claude{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		model:   cfg.Model,
		client:  SharedHTTPClient(cfg.Timeout),
		logger:  cfg.Logger,
	}
}

func (c *Claude) Name() string { return "claude" }
func (c *Claude) Models() []string {
	return []string{"claude-3-5-haiku-latest", "claude-sonnet-4-5", "claude-opus-4-1"}
}

// Healthy only checks configuration; the Messages API has no free probe.
func (c *Claude) Healthy(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("claude: no API key configured")
	}
	return nil
}

type claudeRequest struct {
	Model       string      `json:"model"`
	MaxTokens   int         `json:"max_tokens"`
	System      string      `json:"system,omitempty"`
	Messages    []claudeMsg `json:"messages"`
	Temperature *float64    `json:"temperature,omitempty"`
}

type claudeMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *Claude) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	body := claudeRequest{Model: req.Model, MaxTokens: req.MaxTokens}
	if body.Model == "" {
		body.Model = c.model
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = claudeMaxTokens
	}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}

	var system []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		body.Messages = append(body.Messages, claudeMsg{Role: m.Role, Content: m.Content})
	}
	body.System = strings.Join(system, "\n\n")

	// There is no JSON response format: prefill the assistant turn with "{"
	// and put it back on the reply.
	prefill := ""
	if req.JSONMode {
		prefill = "{"
		body.Messages = append(body.Messages, claudeMsg{Role: "assistant", Content: prefill})
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	start := time.Now()
	resp, err := DoWithRetry(ctx, c.client, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.apiBase+"/messages", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", claudeAPIVersion)
		return httpReq, nil
	}, c.logger)
	if err != nil {
		return nil, fmt.Errorf("claude request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("claude %d: %s", resp.StatusCode, string(respBody))
	}

	var cr claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	var text strings.Builder
	text.WriteString(prefill)
	for _, block := range cr.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	finish := "stop"
	if cr.StopReason == "max_tokens" {
		finish = "length"
	}
	return &domain.ChatResponse{
		Content:      text.String(),
		FinishReason: finish,
		LatencyMs:    time.Since(start).Milliseconds(),
		Usage: domain.Usage{
			PromptTokens:     cr.Usage.InputTokens,
			CompletionTokens: cr.Usage.OutputTokens,
			TotalTokens:      cr.Usage.InputTokens + cr.Usage.OutputTokens,
		},
	}, nil
}
