package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/RelayNote/internal/models"
)

// Compile-time check that PostgresStore implements EntryRepo.
var _ EntryRepo = (*PostgresStore)(nil)

func (s *PostgresStore) SaveEntry(ctx context.Context, e models.Entry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO entries (chat_id, source_update_id, kind, content, summary, tags, url, photo_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (source_update_id) DO UPDATE SET source_update_id = EXCLUDED.source_update_id
		 RETURNING id`,
		e.ChatID, e.SourceUpdateID, string(e.Kind), e.Content, nilIfEmpty(e.Summary),
		nilIfEmpty(joinTags(e.Tags)), nilIfEmpty(e.URL), e.PhotoCount, e.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save entry for update %d failed: %w", e.SourceUpdateID, err)
	}
	slog.Debug("PostgresStore.SaveEntry", "id", id, "updateID", e.SourceUpdateID, "kind", e.Kind)
	return id, nil
}

func (s *PostgresStore) ListEntriesSince(ctx context.Context, since time.Time) ([]models.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, source_update_id, kind, content, summary, tags, url, photo_count, created_at
		 FROM entries WHERE created_at >= $1 ORDER BY created_at ASC, id ASC`,
		since,
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
