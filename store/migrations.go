package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// CurrentDBVersion is the schema version frozen into meta.db_version at
// store creation.
const CurrentDBVersion = 1

// migration is a single idempotent schema step, applied in order and
// recorded so it never reapplies.
type migration struct {
	version     int
	description string
	apply       func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations beyond the
// base schemaSQL. New migrations are appended at the end; never modify
// existing entries.
var migrations = []migration{
	{
		version:     1,
		description: "base schema (applied via schemaSQL)",
		apply:       func(tx *sql.Tx) error { return nil },
	},
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.writeDB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	row := s.writeDB.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		slog.Info("applying migration", "version", m.version, "description", m.description)

		if err := s.w.write(ctx, func(tx *sql.Tx) error {
			if err := m.apply(tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_version(version, description) VALUES (?, ?)`,
				m.version, m.description)
			return err
		}); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
	}
	return nil
}
