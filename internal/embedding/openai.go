package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"shopbot/internal/provider"
)

// OpenAI calls an OpenAI-compatible /embeddings endpoint. With Kind "ollama"
// it calls /api/embeddings and reads Ollama's {"embedding": [...]} shape.
type OpenAI struct {
	kind    string
	apiBase string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger

	mu  sync.RWMutex
	dim int
}

type OpenAIConfig struct {
	Kind      string // "openai" | "ollama"
	APIBase   string
	APIKey    string
	Model     string
	Dimension int // 0 = learn from the first response
	Timeout   time.Duration
	Logger    *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Kind == "" {
		cfg.Kind = "openai"
	}
	if cfg.APIBase == "" {
		if cfg.Kind == "ollama" {
			cfg.APIBase = "http://localhost:11434"
		} else {
			cfg.APIBase = "https://api.openai.com/v1"
		}
	}
	if cfg.Model == "" {
		if cfg.Kind == "ollama" {
			cfg.Model = "all-minilm"
		} else {
			cfg.Model = "text-embedding-3-small"
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		kind:    cfg.Kind,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  provider.SharedHTTPClient(cfg.Timeout),
		logger:  cfg.Logger,
		dim:     cfg.Dimension,
	}
}

func (o *OpenAI) Name() string { return o.kind + ":" + o.model }

func (o *OpenAI) Dimension() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.dim
}

type embedRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Embedding []float32 `json:"embedding"` // Ollama-native shape
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	body := embedRequest{Model: o.model}
	endpoint := o.apiBase + "/embeddings"
	if o.kind == "ollama" {
		body.Prompt = text
		endpoint = o.apiBase + "/api/embeddings"
	} else {
		body.Input = text
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	resp, err := provider.DoWithRetry(ctx, o.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if o.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+o.apiKey)
		}
		return req, nil
	}, o.logger)
	if err != nil {
		return nil, fmt.Errorf("%s embed: %w", o.kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s embed: HTTP %d: %s", o.kind, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s embed: decode: %w", o.kind, err)
	}
	v := out.Embedding
	if len(out.Data) > 0 {
		v = out.Data[0].Embedding
	}

	o.mu.Lock()
	if o.dim == 0 {
		o.dim = len(v)
	}
	want := o.dim
	o.mu.Unlock()

	if err := checkDimension(o.Name(), want, v); err != nil {
		return nil, err
	}
	return Normalize(v), nil
}
