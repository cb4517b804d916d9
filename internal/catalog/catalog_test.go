package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopbot/internal/domain"
	"shopbot/internal/embedding"
	"shopbot/internal/vectorstore/memory"
)

func TestLoad_Default(t *testing.T) {
	products, err := Load("")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(products), 10)
	assert.Equal(t, "p-001", products[0].ID)
	assert.Contains(t, products[0].Colors, "Black")
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("products:\n  - product_id: x\n    title: Thing\n    price: 3\n    in_stock: true\n"), 0o644))

	products, err := Load(path)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, 3.0, products[0].Price)
	assert.True(t, products[0].InStock)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no id", "products:\n  - title: A\n", "product_id is required"},
		{"no title", "products:\n  - product_id: a\n", "title is required"},
		{"duplicate", "products:\n  - {product_id: a, title: A}\n  - {product_id: a, title: B}\n", "duplicate"},
		{"negative price", "products:\n  - {product_id: a, title: A, price: -1}\n", "negative price"},
		{"unknown field", "products:\n  - {product_id: a, title: A, colour: red}\n", "colour"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.in))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestDocumentAndPayload(t *testing.T) {
	p := Product{ID: "a", Title: "Rain Jacket", Category: "Clothing", Colors: []string{"Navy"}, Price: 10}
	assert.Equal(t, "Rain Jacket. Clothing. Colors: Navy. Sizes: none", p.Document())

	payload := p.Payload()
	assert.Nil(t, payload["brand"])
	assert.Equal(t, "Clothing", payload["category"])
	assert.Equal(t, []string{}, payload["sizes"])
	assert.Equal(t, false, payload["in_stock"])
}

type failingEmbedder struct{ domain.Embedder }

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("model offline")
}

func TestSeed(t *testing.T) {
	products, err := Load("")
	require.NoError(t, err)

	store := memory.New()
	n, err := Seed(context.Background(), SeedConfig{
		Embedder:  embedding.NewHashing(64),
		Store:     store,
		BatchSize: 5,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, products)
	require.NoError(t, err)
	assert.Equal(t, len(products), n)
	assert.Equal(t, len(products), store.Len())
}

func TestSeed_EmbedError(t *testing.T) {
	_, err := Seed(context.Background(), SeedConfig{Embedder: failingEmbedder{}, Store: memory.New()}, []Product{{ID: "a", Title: "A"}})
	assert.ErrorContains(t, err, "model offline")
}

func TestSeed_RequiresDeps(t *testing.T) {
	_, err := Seed(context.Background(), SeedConfig{}, nil)
	assert.Error(t, err)
}
