package embedding

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
)

const DefaultDimension = 384

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Hashing is a deterministic bag-of-words embedder: each token is hashed
// into one of Dimension buckets with a hash-derived sign. It needs no model
// or network and is used for development, seeding and tests.
type Hashing struct {
	dim int
}

func NewHashing(dimension int) *Hashing {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Hashing{dim: dimension}
}

func (h *Hashing) Name() string   { return "hashing" }
func (h *Hashing) Dimension() int { return h.dim }

func (h *Hashing) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := make([]float32, h.dim)
	for _, tok := range Tokenize(text) {
		hasher := fnv.New64a()
		_, _ = hasher.Write([]byte(tok))
		sum := hasher.Sum64()
		idx := int(sum % uint64(h.dim))
		if sum>>63 == 1 {
			v[idx] -= 1
		} else {
			v[idx] += 1
		}
	}
	return Normalize(v), nil
}

// Tokenize lowercases text, splits on non-alphanumerics and folds simple
// English plurals ("jackets" -> "jacket", "dresses" -> "dress").
func Tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		out = append(out, singular(tok))
	}
	return out
}

func singular(tok string) string {
	switch {
	case len(tok) > 4 && strings.HasSuffix(tok, "sses"):
		return tok[:len(tok)-2]
	case len(tok) > 4 && strings.HasSuffix(tok, "ies"):
		return tok[:len(tok)-3] + "y"
	case len(tok) > 3 && strings.HasSuffix(tok, "s") && !strings.HasSuffix(tok, "ss") && !strings.HasSuffix(tok, "us"):
		return tok[:len(tok)-1]
	default:
		return tok
	}
}
