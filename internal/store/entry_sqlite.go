package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/RelayNote/internal/models"
)

// Compile-time check that SQLiteStore implements EntryRepo.
var _ EntryRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) SaveEntry(ctx context.Context, e models.Entry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO entries (chat_id, source_update_id, kind, content, summary, tags, url, photo_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ChatID, e.SourceUpdateID, string(e.Kind), e.Content, nilIfEmpty(e.Summary),
		nilIfEmpty(joinTags(e.Tags)), nilIfEmpty(e.URL), e.PhotoCount, e.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("save entry for update %d failed: %w", e.SourceUpdateID, err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM entries WHERE source_update_id = ?`, e.SourceUpdateID).Scan(&id); err != nil {
		return 0, fmt.Errorf("read entry id for update %d failed: %w", e.SourceUpdateID, err)
	}
	slog.Debug("SQLiteStore.SaveEntry", "id", id, "updateID", e.SourceUpdateID, "kind", e.Kind)
	return id, nil
}

func (s *SQLiteStore) ListEntriesSince(ctx context.Context, since time.Time) ([]models.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, source_update_id, kind, content, summary, tags, url, photo_count, created_at
		 FROM entries WHERE created_at >= ? ORDER BY created_at ASC, id ASC`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list entries failed: %w", err)
	}
	defer rows.Close()

	var entries []models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entries iteration failed: %w", err)
	}
	return entries, nil
}
