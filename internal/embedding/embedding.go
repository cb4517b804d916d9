// Package embedding provides the text-to-vector functions used to index and
// query the catalog. Every implementation returns L2-normalized vectors.
package embedding

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"shopbot/internal/config"
	"shopbot/internal/domain"
)

// New builds the embedder selected by cfg.Kind.
func New(cfg config.EmbeddingConfig, logger *slog.Logger) (domain.Embedder, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	switch cfg.Kind {
	case "hashing", "":
		return NewHashing(cfg.Dimension), nil
	case "openai", "ollama":
		return NewOpenAI(OpenAIConfig{
			Kind:      cfg.Kind,
			APIBase:   cfg.APIBase,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			Timeout:   timeout,
			Logger:    logger,
		}), nil
	case "langchain":
		return NewLangChain(LangChainConfig{
			APIBase:   cfg.APIBase,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		})
	default:
		return nil, fmt.Errorf("unknown embedding kind: %s", cfg.Kind)
	}
}

// Normalize scales v to unit length in place and returns it. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// Cosine returns the dot product of two vectors, which is their cosine
// similarity when both are normalized.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func checkDimension(name string, want int, v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%s: empty embedding", name)
	}
	if want > 0 && len(v) != want {
		return fmt.Errorf("%s: embedding has %d dimensions, configured %d", name, len(v), want)
	}
	return nil
}
