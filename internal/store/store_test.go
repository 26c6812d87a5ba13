package store

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/BTreeMap/RelayNote/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "sqlite_store_test_")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	dbPath := filepath.Join(tempDir, "test.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}

func TestDetectDSNType(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost/db":        "postgres",
		"postgresql://localhost/db":          "postgres",
		"host=localhost user=x dbname=relay": "postgres",
		"/var/lib/relaynote/relaynote.db":    "sqlite3",
		"relaynote.db":                       "sqlite3",
	}
	for dsn, want := range tests {
		if got := DetectDSNType(dsn); got != want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestOpen(t *testing.T) {
	mem, err := Open("")
	if err != nil {
		t.Fatalf("Open(\"\"): %v", err)
	}
	if _, ok := mem.(*InMemoryStore); !ok {
		t.Errorf("expected InMemoryStore for empty DSN, got %T", mem)
	}

	s, err := Open(filepath.Join(t.TempDir(), "open.db"))
	if err != nil {
		t.Fatalf("Open(sqlite): %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("expected SQLiteStore for file DSN, got %T", s)
	}
}

func TestNewSQLiteStore_RequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestSQLiteStore_ReopenKeepsWatermark(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "nested", "relay.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := s.AppendOffset(ctx, 41, time.Now()); err != nil {
		t.Fatalf("AppendOffset failed: %v", err)
	}
	s.Close()

	s2, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()
	last, ok, err := s2.GetLastOffset(ctx)
	if err != nil || !ok || last != 41 {
		t.Fatalf("GetLastOffset after reopen = (%d, %v, %v), want (41, true, nil)", last, ok, err)
	}
}

func TestSQLiteStore_Entries(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now()

	id1, err := s.SaveEntry(ctx, models.Entry{
		ChatID: 1, SourceUpdateID: 100, Kind: models.EntryKindNote,
		Content: "hello", Tags: []string{"work", "ideas"}, CreatedAt: now.Add(-2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("SaveEntry failed: %v", err)
	}
	again, err := s.SaveEntry(ctx, models.Entry{ChatID: 1, SourceUpdateID: 100, Kind: models.EntryKindNote, Content: "dup"})
	if err != nil {
		t.Fatalf("SaveEntry duplicate failed: %v", err)
	}
	if again != id1 {
		t.Errorf("duplicate SaveEntry returned %d, want %d", again, id1)
	}
	if _, err := s.SaveEntry(ctx, models.Entry{ChatID: 1, SourceUpdateID: 101, Kind: models.EntryKindLink,
		Content: "https://go.dev", URL: "https://go.dev", CreatedAt: now.AddDate(0, 0, -10)}); err != nil {
		t.Fatalf("SaveEntry old failed: %v", err)
	}

	entries, err := s.ListEntriesSince(ctx, now.AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("ListEntriesSince failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 recent entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Content != "hello" || len(e.Tags) != 2 || e.Tags[0] != "work" || e.URL != "" {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestInMemoryStore_Entries(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	id, _ := s.SaveEntry(ctx, models.Entry{SourceUpdateID: 5, Content: "a"})
	dup, _ := s.SaveEntry(ctx, models.Entry{SourceUpdateID: 5, Content: "b"})
	if id != dup {
		t.Errorf("expected idempotent save, got %d and %d", id, dup)
	}
	entries, _ := s.ListEntriesSince(ctx, time.Now().Add(-time.Minute))
	if len(entries) != 1 || entries[0].Content != "a" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestPostgresStore(t *testing.T) {
	// Requires a running PostgreSQL instance; set DATABASE_URL.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	pgStore, err := NewPostgresStore(WithPostgresDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer pgStore.Close()
	ctx := context.Background()
	pgStore.db.Exec("DELETE FROM message_offset")
	pgStore.db.Exec("DELETE FROM processed_updates")

	offsets := NewOffsetStore(pgStore)
	if _, ok := offsets.GetLastOffset(ctx); ok {
		t.Fatal("expected cold start on empty table")
	}
	u := models.NewMessageUpdate(9, &models.Message{ID: 1, ChatID: 2})
	if err := offsets.MarkProcessed(ctx, u); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	if err := offsets.MarkProcessed(ctx, u); err != nil {
		t.Fatalf("second MarkProcessed failed: %v", err)
	}
	if err := offsets.UpdateOffset(ctx, 9); err != nil {
		t.Fatalf("UpdateOffset failed: %v", err)
	}
	if last, ok := offsets.GetLastOffset(ctx); !ok || last != 9 {
		t.Errorf("GetLastOffset = (%d, %v), want (9, true)", last, ok)
	}
	if !offsets.IsProcessed(ctx, 9) {
		t.Error("expected update 9 to be processed")
	}
}
