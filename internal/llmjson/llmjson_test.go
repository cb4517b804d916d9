package llmjson

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Tags  []string `json:"tags"`
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"prose around", "Sure! Here you go: {\"a\":1} hope that helps", `{"a":1}`},
		{"code fence", "```json\n{\"a\":{\"b\":2}}\n```", `{"a":{"b":2}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_NoObject(t *testing.T) {
	for _, input := range []string{"", "no json here", "} backwards {"} {
		_, err := Extract(input)
		assert.True(t, errors.Is(err, ErrNoObject), "input %q", input)
	}
}

func TestDecode_Valid(t *testing.T) {
	var s sample
	require.NoError(t, Decode(`answer: {"name":"x","count":2,"tags":["a","b"]}`, &s))
	assert.Equal(t, sample{Name: "x", Count: 2, Tags: []string{"a", "b"}}, s)
}

func TestDecode_RepairsTrailingComma(t *testing.T) {
	var s sample
	require.NoError(t, Decode(`{"name":"x","count":3,}`, &s))
	assert.Equal(t, "x", s.Name)
	assert.Equal(t, 3, s.Count)
}

func TestDecode_RepairsSingleQuotes(t *testing.T) {
	var s sample
	require.NoError(t, Decode(`{'name': 'y', 'tags': ['z']}`, &s))
	assert.Equal(t, "y", s.Name)
	assert.Equal(t, []string{"z"}, s.Tags)
}

func TestDecode_NoObject(t *testing.T) {
	var s sample
	err := Decode("I cannot help with that.", &s)
	assert.ErrorIs(t, err, ErrNoObject)
}

func TestFields(t *testing.T) {
	m, err := Fields(`{"intent_type":"contextual","confidence":0.8}`)
	require.NoError(t, err)
	assert.Contains(t, m, "intent_type")
	assert.Contains(t, m, "confidence")
	assert.NotContains(t, m, "keywords")
}
