package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"shopbot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.HistoryStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	logger.Debug("history store ready", "driver", "sqlite", "path", dbPath)
	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

// RecentQueries returns up to limit of the conversation's latest queries, oldest first.
func (s *SQLiteStore) RecentQueries(ctx context.Context, conversationID string, limit int) ([]string, error) {
	if conversationID == "" || limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT query FROM (
			SELECT id, query FROM queries WHERE conversation_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent queries: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendQuery(ctx context.Context, conversationID, query string) error {
	if conversationID == "" || query == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO queries (conversation_id, query, created_at) VALUES (?, ?, ?)",
		conversationID, query, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append query: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordTurn(ctx context.Context, turn domain.TurnRecord) error {
	created := turn.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO turns
			(id, conversation_id, source, query, intent_type, confidence, items, notified, fallbacks, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.ConversationID, turn.Source, turn.Query, string(turn.IntentType),
		turn.Confidence, turn.Items, turn.Notified, turn.Fallbacks, turn.LatencyMs, created.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record turn %s: %w", turn.ID, err)
	}
	return nil
}

func (s *SQLiteStore) RecordNotification(ctx context.Context, rec domain.NotificationRecord) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (turn_id, sink, subject, delivered, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.TurnID, rec.Sink, rec.Subject, rec.Delivered, rec.Error, created.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	return nil
}

// ListTurns returns the newest turns first. An empty conversationID lists every conversation.
func (s *SQLiteStore) ListTurns(ctx context.Context, conversationID string, limit int) ([]domain.TurnRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, conversation_id, source, query, intent_type, confidence, items, notified, fallbacks, latency_ms, created_at
		FROM turns`
	args := []any{}
	if conversationID != "" {
		query += " WHERE conversation_id = ?"
		args = append(args, conversationID)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var out []domain.TurnRecord
	for rows.Next() {
		var (
			t       domain.TurnRecord
			intent  string
			created int64
		)
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Source, &t.Query, &intent,
			&t.Confidence, &t.Items, &t.Notified, &t.Fallbacks, &t.LatencyMs, &created); err != nil {
			return nil, err
		}
		t.IntentType = domain.IntentType(intent)
		t.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// Prune deletes queries, turns and notifications created before olderThan.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoff := olderThan.UnixMilli()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, table := range []string{"queries", "turns", "notifications"} {
		res, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE created_at < ?", cutoff)
		if err != nil {
			return 0, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("prune commit: %w", err)
	}
	if total > 0 {
		s.logger.Info("history pruned", "rows", total, "before", olderThan.Format(time.RFC3339))
	}
	return total, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
