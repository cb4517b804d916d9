package memory

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

// migration represents a single schema migration step.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of SQLite schema migrations.
// Timestamps are stored as unix milliseconds so range deletes stay index friendly.
var migrations = []migration{
	{
		Version:     1,
		Description: "history: queries and turns",
		SQL: `
		CREATE TABLE IF NOT EXISTS queries (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			query           TEXT NOT NULL,
			created_at      INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_queries_conversation ON queries(conversation_id, id);
		CREATE INDEX IF NOT EXISTS idx_queries_created ON queries(created_at);

		CREATE TABLE IF NOT EXISTS turns (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL DEFAULT '',
			source          TEXT NOT NULL DEFAULT '',
			query           TEXT NOT NULL,
			intent_type     TEXT NOT NULL,
			confidence      REAL NOT NULL DEFAULT 0,
			items           INTEGER NOT NULL DEFAULT 0,
			notified        INTEGER NOT NULL DEFAULT 0,
			latency_ms      INTEGER NOT NULL DEFAULT 0,
			created_at      INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);
		`,
	},
	{
		Version:     2,
		Description: "notification attempts and turn fallbacks",
		SQL: `
		ALTER TABLE turns ADD COLUMN fallbacks TEXT NOT NULL DEFAULT '';

		CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS notifications (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			turn_id    TEXT NOT NULL,
			sink       TEXT NOT NULL,
			subject    TEXT NOT NULL DEFAULT '',
			delivered  INTEGER NOT NULL DEFAULT 0,
			error      TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_notifications_turn ON notifications(turn_id);
		CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at);
		`,
	},
}

// RunMigrations applies every migration newer than the recorded schema version.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		if err := applyMigrationTx(db, m); err != nil {
			// A column or table left over from a partial upgrade fails the whole batch.
			// Re-run statement by statement and skip the ones already applied.
			logger.Warn("migration batch failed, retrying per statement", "version", m.Version, "err", err)
			if err := applyMigrationStatements(db, m, logger); err != nil {
				return err
			}
		}

		logger.Info("migration applied", "version", m.Version)
	}

	return nil
}

func applyMigrationTx(db *sql.DB, m migration) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.Version, err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	for _, stmt := range splitSQL(m.SQL) {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
	}
	if err := recordVersion(tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

func applyMigrationStatements(db *sql.DB, m migration, logger *slog.Logger) error {
	for _, stmt := range splitSQL(m.SQL) {
		if _, err := db.Exec(stmt); err != nil {
			if alreadyApplied(err) {
				logger.Debug("migration statement skipped (already applied)", "stmt_prefix", truncate(stmt, 60))
				continue
			}
			return fmt.Errorf("migration v%d statement failed: %w\nSQL: %s", m.Version, err, truncate(stmt, 200))
		}
	}
	return recordVersion(db, m)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func recordVersion(db execer, m migration) error {
	if _, err := db.Exec(
		"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	return nil
}

func alreadyApplied(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}

// splitSQL splits a migration script into its non-empty statements.
func splitSQL(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// GetSchemaVersion returns the highest applied migration, or 0 on a fresh database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}
