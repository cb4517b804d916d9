package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"shopbot/internal/domain"
)

// postgresSchema is idempotent; it runs on every NewPostgresStore.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS queries (
	id              BIGSERIAL PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	query           TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_queries_conversation ON queries(conversation_id, id);
CREATE INDEX IF NOT EXISTS idx_queries_created ON queries(created_at);

CREATE TABLE IF NOT EXISTS turns (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL DEFAULT '',
	source          TEXT NOT NULL DEFAULT '',
	query           TEXT NOT NULL,
	intent_type     TEXT NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
	items           INTEGER NOT NULL DEFAULT 0,
	notified        BOOLEAN NOT NULL DEFAULT false,
	fallbacks       TEXT NOT NULL DEFAULT '',
	latency_ms      BIGINT NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, created_at);
CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);

CREATE TABLE IF NOT EXISTS notifications (
	id         BIGSERIAL PRIMARY KEY,
	turn_id    TEXT NOT NULL,
	sink       TEXT NOT NULL,
	subject    TEXT NOT NULL DEFAULT '',
	delivered  BOOLEAN NOT NULL DEFAULT false,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_notifications_turn ON notifications(turn_id);
`

// PostgresStore implements domain.HistoryStore on a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects, pings and ensures the schema.
func NewPostgresStore(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	for _, stmt := range splitSQL(postgresSchema) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres schema: %w\nSQL: %s", err, truncate(stmt, 200))
		}
	}
	logger.Debug("history store ready", "driver", "postgres")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) RecentQueries(ctx context.Context, conversationID string, limit int) ([]string, error) {
	if conversationID == "" || limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT query FROM (
			SELECT id, query FROM queries WHERE conversation_id = $1 ORDER BY id DESC LIMIT $2
		) recent ORDER BY id ASC
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent queries: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("recent queries: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AppendQuery(ctx context.Context, conversationID, query string) error {
	if conversationID == "" || query == "" {
		return nil
	}
	if _, err := s.pool.Exec(ctx,
		"INSERT INTO queries (conversation_id, query) VALUES ($1, $2)",
		conversationID, query,
	); err != nil {
		return fmt.Errorf("append query: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordTurn(ctx context.Context, turn domain.TurnRecord) error {
	created := turn.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO turns
			(id, conversation_id, source, query, intent_type, confidence, items, notified, fallbacks, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			intent_type = EXCLUDED.intent_type,
			confidence  = EXCLUDED.confidence,
			items       = EXCLUDED.items,
			notified    = EXCLUDED.notified,
			fallbacks   = EXCLUDED.fallbacks,
			latency_ms  = EXCLUDED.latency_ms
	`, turn.ID, turn.ConversationID, turn.Source, turn.Query, string(turn.IntentType),
		turn.Confidence, turn.Items, turn.Notified, turn.Fallbacks, turn.LatencyMs, created)
	if err != nil {
		return fmt.Errorf("record turn %s: %w", turn.ID, err)
	}
	return nil
}

func (s *PostgresStore) RecordNotification(ctx context.Context, rec domain.NotificationRecord) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (turn_id, sink, subject, delivered, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.TurnID, rec.Sink, rec.Subject, rec.Delivered, rec.Error, created)
	if err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTurns(ctx context.Context, conversationID string, limit int) ([]domain.TurnRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, source, query, intent_type, confidence, items, notified, fallbacks, latency_ms, created_at
		FROM turns
		WHERE $1 = '' OR conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.TurnRecord, error) {
		var (
			t      domain.TurnRecord
			intent string
		)
		err := row.Scan(&t.ID, &t.ConversationID, &t.Source, &t.Query, &intent,
			&t.Confidence, &t.Items, &t.Notified, &t.Fallbacks, &t.LatencyMs, &t.CreatedAt)
		t.IntentType = domain.IntentType(intent)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	var total int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, table := range []string{"queries", "turns", "notifications"} {
			tag, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE created_at < $1", olderThan)
			if err != nil {
				return fmt.Errorf("prune %s: %w", table, err)
			}
			total += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if total > 0 {
		s.logger.Info("history pruned", "rows", total, "before", olderThan.Format(time.RFC3339))
	}
	return total, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
