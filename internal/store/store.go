package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lurkbot/internal/domain"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// SQLStore implements domain.ServerStore on database/sql. The same queries
// serve SQLite and Postgres (Supabase); only placeholders differ.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
	now     func() time.Time
}

// Open opens the store for the given driver ("sqlite" or "postgres") and
// applies pending migrations.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*SQLStore, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLiteStore(ctx, dsn, logger)
	case "postgres", "supabase":
		return NewPostgresStore(ctx, dsn, logger)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", driver)
	}
}

// NewSQLiteStore opens (creating if needed) a SQLite database at dbPath.
func NewSQLiteStore(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open(sqliteDialect.driver, dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return newSQLStore(ctx, db, sqliteDialect, logger)
}

// NewPostgresStore connects to Postgres with a libpq-style DSN or URL.
func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres store: dsn is required")
	}
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return newSQLStore(ctx, db, postgresDialect, logger)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, logger *slog.Logger) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d, logger: logger, now: time.Now}
	if err := s.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

const selectServer = `SELECT server_id, channel_id, webhook_id, webhook_token, webhook_name,
	webhook_avatar_url, personality, enabled FROM servers`

func (s *SQLStore) ListServers(ctx context.Context) ([]domain.ServerConfig, error) {
	rows, err := s.db.QueryContext(ctx, selectServer+" ORDER BY server_id")
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var out []domain.ServerConfig
	for rows.Next() {
		cfg, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetServer(ctx context.Context, serverID string) (*domain.ServerConfig, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(selectServer+" WHERE server_id = ?"), serverID)
	cfg, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *SQLStore) UpsertServer(ctx context.Context, serverID string, patch domain.ServerPatch) error {
	cols, args := patchColumns(patch)
	now := s.now().UTC()

	insertCols := []string{"server_id"}
	insertArgs := []any{serverID}
	if patch.Enabled == nil {
		insertCols = append(insertCols, "enabled")
		insertArgs = append(insertArgs, true)
	}
	insertCols = append(insertCols, cols...)
	insertArgs = append(insertArgs, args...)
	insertCols = append(insertCols, "created_at", "updated_at")
	insertArgs = append(insertArgs, now, now)

	sets := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, c+" = excluded."+c)
	}
	sets = append(sets, "updated_at = excluded.updated_at")

	query := fmt.Sprintf(
		"INSERT INTO servers (%s) VALUES (%s) ON CONFLICT (server_id) DO UPDATE SET %s",
		strings.Join(insertCols, ", "),
		placeholders(len(insertCols)),
		strings.Join(sets, ", "),
	)
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(query), insertArgs...); err != nil {
		return fmt.Errorf("upsert server %s: %w", serverID, err)
	}
	return nil
}

func (s *SQLStore) UpdateServer(ctx context.Context, serverID string, patch domain.ServerPatch) error {
	cols, args := patchColumns(patch)
	sets := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, c+" = ?")
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.now().UTC(), serverID)

	query := "UPDATE servers SET " + strings.Join(sets, ", ") + " WHERE server_id = ?"
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("update server %s: %w", serverID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update server %s: %w", serverID, err)
	}
	if n == 0 {
		return domain.ErrServerNotConfigured
	}
	return nil
}

func (s *SQLStore) DeleteServer(ctx context.Context, serverID string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind("DELETE FROM servers WHERE server_id = ?"), serverID)
	if err != nil {
		return fmt.Errorf("delete server %s: %w", serverID, err)
	}
	return nil
}

// Dialect returns the backend name, "sqlite" or "postgres".
func (s *SQLStore) Dialect() string { return s.dialect.name }

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// patchColumns lists the columns a patch touches, in a fixed order.
func patchColumns(p domain.ServerPatch) ([]string, []any) {
	var cols []string
	var args []any
	if p.WatchedChannelID != nil {
		cols = append(cols, "channel_id")
		args = append(args, *p.WatchedChannelID)
	}
	if p.Webhook != nil {
		cols = append(cols, "webhook_id", "webhook_token")
		args = append(args, p.Webhook.ID, p.Webhook.Token)
	}
	if p.DisplayName != nil {
		cols = append(cols, "webhook_name")
		args = append(args, *p.DisplayName)
	}
	if p.AvatarURL != nil {
		cols = append(cols, "webhook_avatar_url")
		args = append(args, *p.AvatarURL)
	}
	if p.Personality != nil {
		cols = append(cols, "personality")
		args = append(args, *p.Personality)
	}
	if p.Enabled != nil {
		cols = append(cols, "enabled")
		args = append(args, *p.Enabled)
	}
	return cols, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(r rowScanner) (domain.ServerConfig, error) {
	var (
		cfg                          domain.ServerConfig
		channelID, hookID, hookToken sql.NullString
		name, avatar, personality    sql.NullString
		enabled                      sql.NullBool
	)
	if err := r.Scan(&cfg.ServerID, &channelID, &hookID, &hookToken, &name,
		&avatar, &personality, &enabled); err != nil {
		return cfg, err
	}
	// Rows written by older tooling may leave enabled NULL; that means on.
	cfg.Enabled = !enabled.Valid || enabled.Bool
	cfg.WatchedChannelID = channelID.String
	if hookID.String != "" && hookToken.String != "" {
		cfg.Webhook = &domain.WebhookIdentity{ID: hookID.String, Token: hookToken.String}
	}
	cfg.DisplayName = name.String
	cfg.AvatarURL = avatar.String
	cfg.Personality = personality.String
	return cfg, nil
}
