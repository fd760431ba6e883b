package credentials

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
			CREATE TABLE credentials (
				id TEXT PRIMARY KEY,
				protocol TEXT NOT NULL,
				host TEXT NOT NULL,
				port INTEGER NOT NULL DEFAULT 0,
				share TEXT NOT NULL DEFAULT '',
				username TEXT NOT NULL DEFAULT '',
				password TEXT NOT NULL DEFAULT '',
				private_key TEXT NOT NULL DEFAULT '',
				passphrase TEXT NOT NULL DEFAULT '',
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);

			CREATE INDEX idx_credentials_server ON credentials(protocol, host, port);
		`,
	},
	{
		version: 2,
		sql: `
			ALTER TABLE credentials ADD COLUMN domain TEXT NOT NULL DEFAULT '';
			ALTER TABLE credentials ADD COLUMN updated_at DATETIME;
		`,
	},
}

// migrate applies every migration newer than the recorded schema version.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	const createMigrationsTable = `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int

	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}

		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("failed to apply migration %d: %w", m.version, err)
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (version) VALUES (?)", m.version); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}

		s.logger.Info("applied credential store migration", zap.Int("version", m.version))
	}

	return nil
}
