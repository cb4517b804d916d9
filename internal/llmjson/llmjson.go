// Package llmjson extracts and decodes the JSON object a language model
// was asked to return. Models wrap their answer in prose or code fences and
// occasionally emit trailing commas or unquoted keys; Decode tolerates both.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNoObject is returned when the text contains no {...} span at all.
var ErrNoObject = errors.New("no JSON object in completion")

// Extract returns the outermost {...} span of s.
func Extract(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", ErrNoObject
	}
	return s[start : end+1], nil
}

// Decode extracts the JSON object from a completion and unmarshals it into v.
// Invalid JSON is passed through jsonrepair once before giving up.
func Decode(completion string, v any) error {
	raw, err := Extract(completion)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return fmt.Errorf("repair completion json: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("decode completion json: %w", err)
	}
	return nil
}

// Fields decodes the completion into a generic map so callers can check
// which keys the model actually produced.
func Fields(completion string) (map[string]json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := Decode(completion, &m); err != nil {
		return nil, err
	}
	return m, nil
}
