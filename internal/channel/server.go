// Package channel serves the HTTP surface: the search, ask and workflow API
// and the Kapso webhook.
package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shopbot/internal/agent"
	"shopbot/internal/assistant"
	"shopbot/internal/dedup"
	"shopbot/internal/domain"
	"shopbot/internal/metrics"
	"shopbot/internal/retrieval"
	"shopbot/internal/workflow"
)

const (
	maxBodySize     = 1 << 20 // 1MB
	shutdownTimeout = 10 * time.Second
	signatureHeader = "X-Webhook-Signature"
)

// Searcher runs a single-pass product search.
type Searcher interface {
	Search(ctx context.Context, query string, c domain.Constraints, k int) ([]domain.ProductCard, error)
}

// Asker answers a free-form shopping question.
type Asker interface {
	Ask(ctx context.Context, query string) assistant.Reply
}

// Runner executes one workflow turn.
type Runner interface {
	Run(ctx context.Context, t workflow.Turn) domain.WorkflowResult
}

// WebhookHandler processes one raw Kapso delivery.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, raw []byte) agent.WebhookOutcome
}

// StatsSource reports dedup cache statistics.
type StatsSource interface {
	Stats() dedup.Stats
}

type ServerConfig struct {
	Host string
	Port int
	// APIKey, when set, is required as a bearer token on the API POST routes.
	APIKey string

	Search   Searcher
	Ask      Asker
	Workflow Runner

	Webhook       WebhookHandler // nil disables the webhook route
	WebhookPath   string         // default /webhook/kapso
	WebhookSecret string         // HMAC secret; empty skips verification

	Dedup       StatsSource
	Metrics     *metrics.Recorder // nil disables /metrics
	MetricsPath string            // default /metrics

	Logger *slog.Logger
}

// Server is the HTTP front door.
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger
	server *http.Server
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook/kapso"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: cfg.Logger}
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /search", s.requireKey(s.handleSearch))
	mux.HandleFunc("POST /ask", s.requireKey(s.handleAsk))
	mux.HandleFunc("POST /workflow", s.requireKey(s.handleWorkflow))
	mux.HandleFunc("GET /dedup/stats", s.handleDedupStats)
	if s.cfg.Webhook != nil {
		mux.HandleFunc("POST "+s.cfg.WebhookPath, s.handleWebhook)
	}
	if s.cfg.Metrics != nil {
		mux.HandleFunc("GET "+s.cfg.MetricsPath, s.handleMetrics)
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      150 * time.Second, // a workflow turn may wait on the LLM
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", "addr", addr, "webhook", s.cfg.Webhook != nil)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// --- Requests ---

type searchRequest struct {
	Query       string             `json:"query"`
	Constraints domain.Constraints `json:"constraints"`
	K           int                `json:"k"`
}

type askRequest struct {
	Query string `json:"query"`
}

type workflowRequest struct {
	Query            string   `json:"query"`
	PreviousSearches []string `json:"previous_searches"`
	Timestamp        string   `json:"timestamp"`
	ConversationID   string   `json:"conversation_id"`
}

// --- Handlers ---

func (s *Server) handleRoot(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]string{"status": "ok", "service": "shopbot"})
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleSearch(rw http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(rw, r, &req) {
		return
	}
	if err := validateSearch(req); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	if s.cfg.Search == nil {
		writeError(rw, http.StatusServiceUnavailable, "search is not configured")
		return
	}

	items, err := s.cfg.Search.Search(r.Context(), req.Query, req.Constraints, req.K)
	if err != nil {
		s.logger.Error("search failed", "query", req.Query, "error", err)
		writeError(rw, http.StatusBadGateway, "search failed")
		return
	}
	if items == nil {
		items = []domain.ProductCard{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"items": items})
}

func validateSearch(req searchRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return errors.New("query is required")
	}
	if req.K < 0 || req.K > retrieval.MaxK {
		return fmt.Errorf("k must be between 1 and %d", retrieval.MaxK)
	}
	c := req.Constraints
	if (c.PriceMin != nil && *c.PriceMin < 0) || (c.PriceMax != nil && *c.PriceMax < 0) {
		return errors.New("prices must not be negative")
	}
	return nil
}

func (s *Server) handleAsk(rw http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !s.decode(rw, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(rw, http.StatusBadRequest, "query is required")
		return
	}
	if s.cfg.Ask == nil {
		writeError(rw, http.StatusServiceUnavailable, "assistant is not configured")
		return
	}

	reply := s.cfg.Ask.Ask(r.Context(), req.Query)
	if reply.Err != nil {
		s.logger.Warn("ask degraded", "query", req.Query, "error", reply.Err)
	}
	if reply.Items == nil {
		reply.Items = []domain.ProductCard{}
	}
	writeJSON(rw, http.StatusOK, reply)
}

func (s *Server) handleWorkflow(rw http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if !s.decode(rw, r, &req) {
		return
	}
	if s.cfg.Workflow == nil {
		writeError(rw, http.StatusServiceUnavailable, "workflow is not configured")
		return
	}

	res := s.cfg.Workflow.Run(r.Context(), workflow.Turn{
		Query:          req.Query,
		Prior:          req.PreviousSearches,
		At:             parseTimestamp(req.Timestamp),
		ConversationID: req.ConversationID,
		Destination:    domain.Destination{ConversationID: req.ConversationID},
		Source:         "api",
	})
	if res.Items == nil {
		res.Items = []domain.ProductCard{}
	}
	writeJSON(rw, http.StatusOK, res)
}

// parseTimestamp accepts RFC 3339 and falls back to now.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Now()
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Now()
	}
	return t
}

func (s *Server) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "failed to read body")
		return
	}

	if s.cfg.WebhookSecret != "" {
		if !verifyHMAC(body, s.cfg.WebhookSecret, r.Header.Get(signatureHeader)) {
			s.logger.Warn("webhook signature mismatch", "remote", r.RemoteAddr)
			writeError(rw, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	// Malformed payloads are acknowledged so the sender stops retrying.
	writeJSON(rw, http.StatusOK, s.cfg.Webhook.HandleWebhook(r.Context(), body))
}

func (s *Server) handleDedupStats(rw http.ResponseWriter, r *http.Request) {
	if s.cfg.Dedup == nil {
		writeError(rw, http.StatusServiceUnavailable, "dedup cache is not configured")
		return
	}
	writeJSON(rw, http.StatusOK, s.cfg.Dedup.Stats())
}

func (s *Server) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	if s.cfg.Dedup != nil {
		s.cfg.Metrics.DedupEntries(s.cfg.Dedup.Stats().TotalEntries)
	}
	s.cfg.Metrics.Collector().Handler().ServeHTTP(rw, r)
}

// --- Helpers ---

// requireKey enforces the bearer API key when one is configured.
func (s *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.APIKey == "" {
		return next
	}
	return func(rw http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || !hmac.Equal([]byte(token), []byte(s.cfg.APIKey)) {
			writeError(rw, http.StatusUnauthorized, "invalid API key")
			return
		}
		next(rw, r)
	}
}

func (s *Server) decode(rw http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "failed to read body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}

// verifyHMAC checks a "sha256=<hex>" signature of body.
func verifyHMAC(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
