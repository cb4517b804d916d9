// Package memory is an in-process vector store for development and tests.
// It evaluates the same filters as Qdrant over a brute-force cosine scan.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"shopbot/internal/domain"
)

type Store struct {
	mu     sync.RWMutex
	dim    int
	ids    []string
	points map[string]domain.Point
}

func New() *Store {
	return &Store{points: make(map[string]domain.Point)}
}

func (s *Store) Name() string { return "memory" }

func (s *Store) EnsureCollection(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("memory: invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim == 0 {
		s.dim = dimension
	}
	return nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

func (s *Store) Upsert(_ context.Context, points []domain.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		if s.dim == 0 {
			s.dim = len(p.Vector)
		}
		if len(p.Vector) != s.dim {
			return fmt.Errorf("memory: point %s has %d dimensions, want %d", p.ID, len(p.Vector), s.dim)
		}
		if _, ok := s.points[p.ID]; !ok {
			s.ids = append(s.ids, p.ID)
		}
		s.points[p.ID] = p
	}
	return nil
}

func (s *Store) Search(ctx context.Context, req domain.SearchRequest) ([]domain.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 4
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dim != 0 && len(req.Vector) != s.dim {
		return nil, fmt.Errorf("memory: query has %d dimensions, want %d", len(req.Vector), s.dim)
	}

	hits := make([]domain.Hit, 0, len(s.ids))
	for _, id := range s.ids {
		p := s.points[id]
		if !Matches(req.Filter, p.Payload) {
			continue
		}
		hits = append(hits, domain.Hit{ID: id, Score: dot(req.Vector, p.Vector), Payload: p.Payload})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Matches evaluates a filter against a payload. A match condition on a list
// field succeeds when any element equals the value, as in Qdrant.
func Matches(f domain.Filter, payload map[string]any) bool {
	for _, c := range f.Must {
		v, ok := payload[c.Key]
		if !ok {
			return false
		}
		if c.Range != nil && !inRange(v, c.Range) {
			return false
		}
		if c.Match != nil && !matchValue(v, c.Match) {
			return false
		}
	}
	return true
}

func matchValue(v, want any) bool {
	switch x := v.(type) {
	case []any:
		for _, e := range x {
			if matchValue(e, want) {
				return true
			}
		}
		return false
	case []string:
		for _, e := range x {
			if e == want {
				return true
			}
		}
		return false
	case string:
		w, ok := want.(string)
		return ok && x == w
	case bool:
		w, ok := want.(bool)
		return ok && x == w
	default:
		return fmt.Sprint(v) == fmt.Sprint(want)
	}
}

func inRange(v any, r *domain.Range) bool {
	f, ok := toFloat(v)
	if !ok {
		return false
	}
	if r.Gte != nil && f < *r.Gte {
		return false
	}
	if r.Lte != nil && f > *r.Lte {
		return false
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		var f float64
		_, err := fmt.Sscan(strings.TrimSpace(x), &f)
		return f, err == nil
	default:
		return 0, false
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
