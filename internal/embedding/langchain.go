package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChain embeds through langchaingo's embeddings package.
type LangChain struct {
	embedder embeddings.Embedder
	model    string
	dim      int
}

type LangChainConfig struct {
	APIBase   string
	APIKey    string
	Model     string
	Dimension int
}

func NewLangChain(cfg LangChainConfig) (*LangChain, error) {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.APIBase != "" {
		opts = append(opts, openai.WithBaseURL(cfg.APIBase))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("langchain embedder: %w", err)
	}
	return newLangChainWithClient(llm, cfg.Model, cfg.Dimension)
}

func newLangChainWithClient(client embeddings.EmbedderClient, model string, dim int) (*LangChain, error) {
	e, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("langchain embedder: %w", err)
	}
	return &LangChain{embedder: e, model: model, dim: dim}, nil
}

func (l *LangChain) Name() string   { return "langchain:" + l.model }
func (l *LangChain) Dimension() int { return l.dim }

func (l *LangChain) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := l.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.Name(), err)
	}
	if err := checkDimension(l.Name(), l.dim, v); err != nil {
		return nil, err
	}
	return Normalize(v), nil
}
