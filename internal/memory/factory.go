package memory

import (
	"context"
	"fmt"
	"log/slog"

	"shopbot/internal/config"
	"shopbot/internal/domain"
)

// New opens the history store selected by cfg.Driver. It returns (nil, nil)
// when storage is disabled.
func New(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (domain.HistoryStore, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Driver {
	case "", "sqlite":
		store, err := NewSQLiteStore(cfg.DBPath, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("storage.databaseUrl is required for the postgres driver")
		}
		store, err := NewPostgresStore(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
