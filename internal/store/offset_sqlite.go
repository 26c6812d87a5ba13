package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Compile-time check that SQLiteStore implements OffsetRepo.
var _ OffsetRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) GetLastOffset(ctx context.Context) (int64, bool, error) {
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(last_update_id) FROM message_offset`).Scan(&last)
	if err != nil {
		return 0, false, fmt.Errorf("get last offset failed: %w", err)
	}
	return last.Int64, last.Valid, nil
}

func (s *SQLiteStore) AppendOffset(ctx context.Context, updateID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_offset (last_update_id, processed_at) VALUES (?, ?)`,
		updateID, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append offset %d failed: %w", updateID, err)
	}
	return nil
}

func (s *SQLiteStore) IsProcessed(ctx context.Context, updateID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM processed_updates WHERE update_id = ?`, updateID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("processed check failed: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) UpsertProcessed(ctx context.Context, rec ProcessedRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO processed_updates (update_id, chat_id, message_id, kind, processed_at) VALUES (?, ?, ?, ?, ?)`,
		rec.UpdateID, rec.ChatID, rec.MessageID, string(rec.Kind), rec.ProcessedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert processed %d failed: %w", rec.UpdateID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM processed_updates WHERE processed_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete processed failed: %w", err)
	}
	n, _ := result.RowsAffected()
	slog.Debug("SQLiteStore.DeleteProcessedBefore", "cutoff", cutoff, "deleted", n)
	return n, nil
}

func (s *SQLiteStore) TrimOffsets(ctx context.Context, keep int) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM message_offset WHERE id NOT IN (SELECT id FROM message_offset ORDER BY last_update_id DESC, id DESC LIMIT ?)`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("trim offsets failed: %w", err)
	}
	n, _ := result.RowsAffected()
	slog.Debug("SQLiteStore.TrimOffsets", "keep", keep, "deleted", n)
	return n, nil
}
