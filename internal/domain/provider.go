package domain

import "context"

// Provider is the interface all LLM chat backends implement.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Models() []string
	Healthy(ctx context.Context) error
}

// Completer is the completion service consumed by the classifier, the idea
// generator and the assistant: a system prompt and user text in, raw text out.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest is a single-shot prompt.
type CompletionRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	JSON        bool // ask the backend for a JSON object response when it supports it
}

type ChatRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
	JSONMode    bool
}

type ChatResponse struct {
	Content      string
	FinishReason string // stop | length
	Usage        Usage
	LatencyMs    int64
}

type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
