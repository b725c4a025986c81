package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of schema migrations. The SQL is shared by
// SQLite and Postgres, so it sticks to the common subset.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: servers with channel and webhook identity",
		SQL: `
		CREATE TABLE IF NOT EXISTS servers (
			server_id          TEXT PRIMARY KEY,
			channel_id         TEXT,
			webhook_id         TEXT,
			webhook_token      TEXT,
			webhook_name       TEXT,
			webhook_avatar_url TEXT,
			created_at         TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_servers_channel ON servers(channel_id);
		`,
	},
	{
		Version:     2,
		Description: "v2: personality text and enabled switch",
		SQL: `
		ALTER TABLE servers ADD COLUMN personality TEXT;
		ALTER TABLE servers ADD COLUMN enabled BOOLEAN NOT NULL DEFAULT TRUE;
		`,
	},
}

// RunMigrations applies all pending schema migrations, tracked in schema_version.
func (s *SQLStore) RunMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		s.logger.Info("applying migration",
			"dialect", s.dialect.name,
			"version", m.Version,
			"description", m.Description,
		)

		if err := s.applyInTx(ctx, m); err != nil {
			// ADD COLUMN fails when the column already exists (databases created
			// by older tooling). Retry statement by statement, skipping those.
			s.logger.Warn("migration failed in transaction, retrying per statement",
				"version", m.Version,
				"err", err,
			)
			if err := s.applyStatements(ctx, m); err != nil {
				return err
			}
		}

		s.logger.Info("migration applied", "version", m.Version)
	}
	return nil
}

func (s *SQLStore) applyInTx(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.Version, err)
	}
	for _, stmt := range splitSQL(m.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		s.dialect.rebind("INSERT INTO schema_version (version, description) VALUES (?, ?)"),
		m.Version, m.Description,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration v%d: %w", m.Version, err)
	}
	return nil
}

// applyStatements runs each statement on its own, ignoring "duplicate column"
// and "already exists" errors.
func (s *SQLStore) applyStatements(ctx context.Context, m migration) error {
	for _, stmt := range splitSQL(m.SQL) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists") {
				s.logger.Debug("migration statement skipped (already applied)", "stmt_prefix", truncate(stmt, 60))
				continue
			}
			return fmt.Errorf("migration v%d statement failed: %w\nSQL: %s", m.Version, err, truncate(stmt, 200))
		}
	}
	if _, err := s.db.ExecContext(ctx,
		s.dialect.rebind("INSERT INTO schema_version (version, description) VALUES (?, ?)"),
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	return nil
}

// SchemaVersion returns the highest applied migration, 0 for a fresh database.
func (s *SQLStore) SchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return int(version.Int64), nil
}

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
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
