package ideas

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopbot/internal/domain"
)

type fakeCompleter struct {
	out  string
	err  error
	last domain.CompletionRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req domain.CompletionRequest) (string, error) {
	f.last = req
	return f.out, f.err
}

func newGenerator(c domain.Completer) *Generator {
	return New(Config{Completer: c, Categories: []string{"Clothing", "Footwear"}, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func TestGenerate_SeattleRain(t *testing.T) {
	fc := &fakeCompleter{out: `{"product_types":["jackets","boots","waterproof clothing"],
		"search_queries":["jacket","boots","waterproof","coat"],
		"user_context":"Planning a trip to rainy Seattle"}`}
	in := domain.Intent{Type: domain.IntentContextual, Confidence: 0.85, Reasoning: "rain pattern", Keywords: []string{"rain", "seattle"}}

	res := newGenerator(fc).Generate(context.Background(), "is it going to rain in november", []string{"flights to seattle"}, in)

	require.True(t, res.OK())
	want := domain.SearchPlan{
		Entries: []domain.PlanEntry{
			{Query: "jacket", ProductType: "jackets"},
			{Query: "boots", ProductType: "boots"},
			{Query: "waterproof", ProductType: "waterproof clothing"},
			{Query: "coat"},
		},
		UserContext: "Planning a trip to rainy Seattle",
	}
	if diff := cmp.Diff(want, res.Plan); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 0.7, fc.last.Temperature)
	assert.Contains(t, fc.last.System, "Clothing, Footwear")
	assert.Contains(t, fc.last.User, "1. flights to seattle")
	assert.Contains(t, fc.last.User, "Keywords identified: rain, seattle")
}

func TestParse_DedupAndCap(t *testing.T) {
	plan, err := Parse(`{"product_types":["a"],"search_queries":[" Dress ","dress","","hat","bag","shoes","belt"],"user_context":""}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Dress", "hat", "bag", "shoes"}, plan.Queries())
	assert.Equal(t, "a", plan.Entries[0].ProductType)
	assert.Equal(t, FallbackContext, plan.UserContext)
}

func TestGenerate_Fallbacks(t *testing.T) {
	tests := []struct {
		name string
		fc   *fakeCompleter
	}{
		{"call error", &fakeCompleter{err: errors.New("timeout")}},
		{"garbage", &fakeCompleter{out: "no json here"}},
		{"no queries", &fakeCompleter{out: `{"product_types":["x"],"search_queries":[],"user_context":"c"}`}},
		{"blank queries", &fakeCompleter{out: `{"search_queries":["  "]}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newGenerator(tt.fc).Generate(context.Background(), "beach trip", nil, domain.Intent{})
			assert.False(t, res.OK())
			assert.Equal(t, Fallback("beach trip"), res.Plan)
			assert.Equal(t, "general", res.Plan.Entries[0].ProductType)
			assert.Equal(t, "General product search", res.Plan.UserContext)
		})
	}
}

func TestGenerate_NoCompleter(t *testing.T) {
	res := New(Config{}).Generate(context.Background(), "q", nil, domain.Intent{})
	assert.Error(t, res.Err)
	assert.Equal(t, Fallback("q"), res.Plan)
}
