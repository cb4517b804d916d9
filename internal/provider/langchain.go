package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"shopbot/internal/domain"
)

// LangChain adapts a langchaingo llms.Model to domain.Provider.
type LangChain struct {
	llm     llms.Model
	backend string
	model   string
	logger  *slog.Logger
}

type LangChainConfig struct {
	Backend string // "openai" | "ollama"
	APIKey  string
	APIBase string
	Model   string
	Logger  *slog.Logger
}

func NewLangChain(cfg LangChainConfig) (*LangChain, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var (
		llm llms.Model
		err error
	)
	switch cfg.Backend {
	case "", "openai":
		cfg.Backend = "openai"
		opts := []openai.Option{openai.WithToken(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.APIBase != "" {
			opts = append(opts, openai.WithBaseURL(cfg.APIBase))
		}
		llm, err = openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.APIBase != "" {
			opts = append(opts, ollama.WithServerURL(cfg.APIBase))
		}
		llm, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("langchain: unsupported backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("langchain %s: %w", cfg.Backend, err)
	}
	return newLangChainWithModel(llm, cfg.Backend, cfg.Model, cfg.Logger), nil
}

func newLangChainWithModel(llm llms.Model, backend, model string, logger *slog.Logger) *LangChain {
	return &LangChain{llm: llm, backend: backend, model: model, logger: logger}
}

func (l *LangChain) Name() string { return "langchain-" + l.backend }

func (l *LangChain) Models() []string {
	if l.model == "" {
		return nil
	}
	return []string{l.model}
}

// Healthy issues a one-token generation, the same probe the connector tests use.
func (l *LangChain) Healthy(ctx context.Context) error {
	_, err := llms.GenerateFromSinglePrompt(ctx, l.llm, "ping", llms.WithMaxTokens(1))
	if err != nil {
		return fmt.Errorf("%s: %w", l.Name(), err)
	}
	return nil
}

func (l *LangChain) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	content := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		content = append(content, llms.TextParts(chatMessageType(m.Role), m.Content))
	}

	var opts []llms.CallOption
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.JSONMode {
		opts = append(opts, llms.WithJSONMode())
	}

	start := time.Now()
	resp, err := l.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s generate: %w", l.Name(), err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty response", l.Name())
	}

	choice := resp.Choices[0]
	return &domain.ChatResponse{
		Content:      choice.Content,
		FinishReason: choice.StopReason,
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

func chatMessageType(role string) llms.ChatMessageType {
	switch role {
	case "system":
		return llms.ChatMessageTypeSystem
	case "assistant":
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
