// Package qdrant is a minimal REST client for the Qdrant vector database.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"shopbot/internal/domain"
	"shopbot/internal/provider"
)

// PayloadIndexes are the catalog payload fields indexed for filtering.
var PayloadIndexes = map[string]string{
	"category": "keyword",
	"brand":    "keyword",
	"colors":   "keyword",
	"sizes":    "keyword",
	"in_stock": "bool",
	"price":    "float",
}

// Store talks to one Qdrant collection holding a single named cosine vector.
type Store struct {
	url        string
	apiKey     string
	collection string
	vectorName string
	client     *http.Client
	logger     *slog.Logger
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	VectorName string
	Timeout    time.Duration
	Logger     *slog.Logger
}

func New(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("qdrant: url is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "products"
	}
	if cfg.VectorName == "" {
		cfg.VectorName = "text"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		vectorName: cfg.VectorName,
		client:     provider.SharedHTTPClient(cfg.Timeout),
		logger:     cfg.Logger,
	}, nil
}

func (s *Store) Name() string { return "qdrant:" + s.collection }

// EnsureCollection creates the collection and its payload indexes when the
// collection does not exist yet. An existing collection is left untouched.
func (s *Store) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("qdrant: invalid dimension")
	}
	exists, err := s.collectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		s.logger.Debug("qdrant collection exists", "collection", s.collection)
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			s.vectorName: map[string]any{"size": dimension, "distance": "Cosine"},
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	for field, schema := range PayloadIndexes {
		idx := map[string]any{"field_name": field, "field_schema": schema}
		if err := s.do(ctx, http.MethodPut, s.collectionURL("/index?wait=true"), idx, nil); err != nil {
			return fmt.Errorf("create index %s: %w", field, err)
		}
	}
	s.logger.Info("qdrant collection created", "collection", s.collection, "dimension", dimension)
	return nil
}

func (s *Store) collectionExists(ctx context.Context) (bool, error) {
	resp, err := provider.DoWithRetry(ctx, s.client, func() (*http.Request, error) {
		return s.newRequest(ctx, http.MethodGet, s.collectionURL(""), nil)
	}, s.logger)
	if err != nil {
		return false, fmt.Errorf("qdrant get collection: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 300:
		return false, statusError(http.MethodGet, resp)
	default:
		return true, nil
	}
}

// PointID maps a catalog product id to a Qdrant point id. Qdrant only
// accepts integers and UUIDs, so other ids are hashed into a stable UUID.
func PointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("shopbot:product:"+id)).String()
}

func (s *Store) Upsert(ctx context.Context, points []domain.Point) error {
	if len(points) == 0 {
		return nil
	}
	out := make([]map[string]any, len(points))
	for i, p := range points {
		payload := make(map[string]any, len(p.Payload)+1)
		for k, v := range p.Payload {
			payload[k] = v
		}
		if _, ok := payload["product_id"]; !ok {
			payload["product_id"] = p.ID
		}
		out[i] = map[string]any{
			"id":      PointID(p.ID),
			"vector":  map[string]any{s.vectorName: p.Vector},
			"payload": payload,
		}
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), map[string]any{"points": out}, nil); err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

type searchResponse struct {
	Result []struct {
		ID      any            `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

func (s *Store) Search(ctx context.Context, req domain.SearchRequest) ([]domain.Hit, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 4
	}
	body := map[string]any{
		"vector":       map[string]any{"name": s.vectorName, "vector": req.Vector},
		"limit":        limit,
		"with_payload": true,
	}
	if f := translateFilter(req.Filter); f != nil {
		body["filter"] = f
	}

	var resp searchResponse
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), body, &resp); err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	hits := make([]domain.Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, domain.Hit{ID: fmt.Sprint(r.ID), Score: r.Score, Payload: r.Payload})
	}
	return hits, nil
}

func translateFilter(f domain.Filter) map[string]any {
	if len(f.Must) == 0 {
		return nil
	}
	must := make([]map[string]any, 0, len(f.Must))
	for _, c := range f.Must {
		switch {
		case c.Range != nil:
			r := map[string]any{}
			if c.Range.Gte != nil {
				r["gte"] = *c.Range.Gte
			}
			if c.Range.Lte != nil {
				r["lte"] = *c.Range.Lte
			}
			must = append(must, map[string]any{"key": c.Key, "range": r})
		case c.Match != nil:
			must = append(must, map[string]any{"key": c.Key, "match": map[string]any{"value": c.Match}})
		}
	}
	return map[string]any{"must": must}
}

func (s *Store) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

func (s *Store) newRequest(ctx context.Context, method, url string, data []byte) (*http.Request, error) {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	return req, nil
}

// do sends a JSON request. Writes in this client are idempotent upserts, so
// every call goes through the retrying transport.
func (s *Store) do(ctx context.Context, method, url string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	resp, err := provider.DoWithRetry(ctx, s.client, func() (*http.Request, error) {
		return s.newRequest(ctx, method, url, data)
	}, s.logger)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(method, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func statusError(method string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("qdrant %s %s: HTTP %d: %s", method, resp.Request.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
}
