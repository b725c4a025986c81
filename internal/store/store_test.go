package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"lurkbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func TestSQLiteStore_MigratesFreshDB(t *testing.T) {
	s := testStore(t)
	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != schemaVersion {
		t.Fatalf("expected schema version %d, got %d", schemaVersion, v)
	}
}

func TestSQLiteStore_MigrationsIdempotent(t *testing.T) {
	s := testStore(t)
	if err := s.RunMigrations(context.Background()); err != nil {
		t.Fatalf("second migration run failed: %v", err)
	}
	v, _ := s.SchemaVersion(context.Background())
	if v != schemaVersion {
		t.Fatalf("expected schema version %d, got %d", schemaVersion, v)
	}
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := NewSQLiteStore(ctx, path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertServer(ctx, "g1", domain.ServerPatch{WatchedChannelID: ptr("c1")}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewSQLiteStore(ctx, path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.GetServer(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if got.WatchedChannelID != "c1" {
		t.Fatalf("expected c1 after reopen, got %q", got.WatchedChannelID)
	}
}

func TestSQLiteStore_LegacyNullEnabled(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.db")

	db, err := sql.Open(sqliteDialect.driver, path)
	if err != nil {
		t.Fatalf("open legacy db: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE servers (
		server_id TEXT PRIMARY KEY, channel_id TEXT, webhook_id TEXT, webhook_token TEXT,
		webhook_name TEXT, webhook_avatar_url TEXT, personality TEXT, enabled BOOLEAN
	)`); err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO servers (server_id, personality) VALUES ('g1', 'calm')`); err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO servers (server_id, enabled) VALUES ('g2', FALSE)`); err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}
	db.Close()

	s, err := NewSQLiteStore(ctx, path, testLogger())
	if err != nil {
		t.Fatalf("open store over legacy table: %v", err)
	}
	defer s.Close()

	list, err := s.ListServers(ctx)
	if err != nil {
		t.Fatalf("ListServers: %v", err)
	}
	got := map[string]domain.ServerConfig{}
	for _, cfg := range list {
		got[cfg.ServerID] = cfg
	}
	if cfg := got["g1"]; !cfg.Enabled || cfg.Personality != "calm" {
		t.Fatalf("NULL enabled should read as enabled: %+v", cfg)
	}
	if got["g2"].Enabled {
		t.Fatal("explicit FALSE should stay disabled")
	}
}

func TestUpsertServer_InsertDefaultsEnabled(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	err := s.UpsertServer(ctx, "g1", domain.ServerPatch{
		WatchedChannelID: ptr("c1"),
		Webhook:          &domain.WebhookIdentity{ID: "w1", Token: "tok"},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetServer(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Enabled {
		t.Error("new row should default to enabled")
	}
	if got.Webhook == nil || got.Webhook.ID != "w1" || got.Webhook.Token != "tok" {
		t.Errorf("unexpected webhook: %+v", got.Webhook)
	}
	if got.DisplayName != "" || got.Name() != domain.DefaultDisplayName {
		t.Errorf("expected default name, got %q", got.DisplayName)
	}
}

func TestUpsertServer_PreservesUnpatchedColumns(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertServer(ctx, "g1", domain.ServerPatch{
		WatchedChannelID: ptr("c1"),
		DisplayName:      ptr("Mika"),
		Personality:      ptr("grumpy"),
		Enabled:          ptr(false),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertServer(ctx, "g1", domain.ServerPatch{
		WatchedChannelID: ptr("c2"),
		Webhook:          &domain.WebhookIdentity{ID: "w2", Token: "t2"},
	}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetServer(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if got.WatchedChannelID != "c2" {
		t.Errorf("channel not updated: %q", got.WatchedChannelID)
	}
	if got.DisplayName != "Mika" || got.Personality != "grumpy" {
		t.Errorf("name/personality lost: %+v", got)
	}
	if got.Enabled {
		t.Error("enabled=false must survive a channel upsert")
	}
}

func TestUpdateServer_MissingRow(t *testing.T) {
	s := testStore(t)
	err := s.UpdateServer(context.Background(), "nope", domain.ServerPatch{Enabled: ptr(true)})
	if !errors.Is(err, domain.ErrServerNotConfigured) {
		t.Fatalf("expected ErrServerNotConfigured, got %v", err)
	}
}

func TestUpdateServer_ExistingRow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.UpsertServer(ctx, "g1", domain.ServerPatch{WatchedChannelID: ptr("c1")}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateServer(ctx, "g1", domain.ServerPatch{AvatarURL: ptr("https://x/a.png"), Enabled: ptr(false)}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetServer(ctx, "g1")
	if got.AvatarURL != "https://x/a.png" || got.Enabled {
		t.Fatalf("update not applied: %+v", got)
	}
}

func TestGetServer_NotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.GetServer(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListAndDeleteServers(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for _, id := range []string{"b", "a", "c"} {
		if err := s.UpsertServer(ctx, id, domain.ServerPatch{}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.DeleteServer(ctx, "b"); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListServers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ServerID != "a" || list[1].ServerID != "c" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestWebhookRequiresIDAndToken(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.UpsertServer(ctx, "g1", domain.ServerPatch{Webhook: &domain.WebhookIdentity{ID: "w1"}}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetServer(ctx, "g1")
	if got.Webhook != nil {
		t.Fatalf("webhook without token should load as absent, got %+v", got.Webhook)
	}
}

func TestRebind(t *testing.T) {
	q := "UPDATE servers SET a = ?, b = ? WHERE server_id = ?"
	if got := sqliteDialect.rebind(q); got != q {
		t.Errorf("sqlite rebind changed query: %s", got)
	}
	want := "UPDATE servers SET a = $1, b = $2 WHERE server_id = $3"
	if got := postgresDialect.rebind(q); got != want {
		t.Errorf("postgres rebind:\n got  %s\n want %s", got, want)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mongo", "", testLogger()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestSplitSQL(t *testing.T) {
	stmts := splitSQL("CREATE TABLE a (x INT);\n\n  ;CREATE INDEX i ON a(x);  ")
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
}
