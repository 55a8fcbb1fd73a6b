package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/rcwatch/rcwatch/internal/core/config"
	"github.com/rcwatch/rcwatch/internal/core/db"
)

// openDatabase opens the history database named by --db-url or RCW_DB_URL.
// Returns nil without error when no database is configured and required is
// false.
func openDatabase(ctx context.Context, required bool) (*sqlx.DB, error) {
	url := config.DatabaseURL(dbURL)
	if url == "" {
		if required {
			return nil, fmt.Errorf("--db-url or %s required", config.DatabaseURLEnv)
		}
		return nil, nil
	}

	database, err := db.Open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	slog.Debug("database opened", "url", config.RedactURL(url), "driver", database.DriverName())
	return database, nil
}

// requireMigrated fails when migrations are pending.
func requireMigrated(ctx context.Context, database *sqlx.DB) error {
	statuses, err := db.MigrateStatus(ctx, database)
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			return fmt.Errorf("migration %s not applied - run 'rcwatch migrate' first", s.ID)
		}
	}
	return nil
}
