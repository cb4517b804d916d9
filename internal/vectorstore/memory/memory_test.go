package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopbot/internal/domain"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := New()
	require.NoError(t, s.EnsureCollection(context.Background(), 2))
	require.NoError(t, s.Upsert(context.Background(), []domain.Point{
		{ID: "a", Vector: []float32{1, 0}, Payload: map[string]any{"category": "Clothing", "colors": []any{"Black", "White"}, "price": 20.0, "in_stock": true}},
		{ID: "b", Vector: []float32{0.8, 0.6}, Payload: map[string]any{"category": "Clothing", "colors": []string{"Red"}, "price": 60.0, "in_stock": true}},
		{ID: "c", Vector: []float32{0, 1}, Payload: map[string]any{"category": "Footwear", "colors": "Black", "price": "35.5", "in_stock": false}},
	}))
	return s
}

func ids(hits []domain.Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func TestSearch_RanksByCosine(t *testing.T) {
	s := seeded(t)
	hits, err := s.Search(context.Background(), domain.SearchRequest{Vector: []float32{1, 0}, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(hits))
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestSearch_Limit(t *testing.T) {
	s := seeded(t)
	hits, err := s.Search(context.Background(), domain.SearchRequest{Vector: []float32{1, 0}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(hits))
}

func TestSearch_Filters(t *testing.T) {
	s := seeded(t)
	lo, hi := 30.0, 100.0

	tests := []struct {
		name   string
		filter domain.Filter
		want   []string
	}{
		{"in stock", domain.Filter{Must: []domain.Condition{{Key: "in_stock", Match: true}}}, []string{"a", "b"}},
		{"list contains", domain.Filter{Must: []domain.Condition{{Key: "colors", Match: "Black"}}}, []string{"a", "c"}},
		{"exact case", domain.Filter{Must: []domain.Condition{{Key: "colors", Match: "black"}}}, []string{}},
		{"price range", domain.Filter{Must: []domain.Condition{{Key: "price", Range: &domain.Range{Gte: &lo, Lte: &hi}}}}, []string{"b", "c"}},
		{"inverted range", domain.Filter{Must: []domain.Condition{{Key: "price", Range: &domain.Range{Gte: &hi, Lte: &lo}}}}, []string{}},
		{"missing key", domain.Filter{Must: []domain.Condition{{Key: "brand", Match: "Acme"}}}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := s.Search(context.Background(), domain.SearchRequest{Vector: []float32{1, 0}, Filter: tt.filter, Limit: 10})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(hits))
		})
	}
}

func TestUpsert_ReplacesAndKeepsOrder(t *testing.T) {
	s := seeded(t)
	require.NoError(t, s.Upsert(context.Background(), []domain.Point{{ID: "a", Vector: []float32{0, 1}}}))
	assert.Equal(t, 3, s.Len())

	hits, err := s.Search(context.Background(), domain.SearchRequest{Vector: []float32{0, 1}, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(hits))
}

func TestDimensionMismatch(t *testing.T) {
	s := seeded(t)
	assert.Error(t, s.Upsert(context.Background(), []domain.Point{{ID: "x", Vector: []float32{1, 2, 3}}}))
	_, err := s.Search(context.Background(), domain.SearchRequest{Vector: []float32{1}})
	assert.Error(t, err)
}

func TestEnsureCollection_InvalidDimension(t *testing.T) {
	assert.Error(t, New().EnsureCollection(context.Background(), -1))
}
