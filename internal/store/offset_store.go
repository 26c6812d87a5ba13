package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/RelayNote/internal/models"
)

// OffsetStore wraps an OffsetRepo with the delivery policy: reads never fail
// the caller (errors degrade to "no offset" and "not processed") and writes
// are serialized through a single mutex.
type OffsetStore struct {
	repo        OffsetRepo
	mu          sync.Mutex
	historyKeep int
	now         func() time.Time
}

// OffsetStoreOption configures an OffsetStore.
type OffsetStoreOption func(*OffsetStore)

// WithOffsetHistory sets how many watermark rows Cleanup keeps.
func WithOffsetHistory(keep int) OffsetStoreOption {
	return func(s *OffsetStore) {
		if keep > 0 {
			s.historyKeep = keep
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) OffsetStoreOption {
	return func(s *OffsetStore) {
		s.now = now
	}
}

// NewOffsetStore creates an OffsetStore over repo.
func NewOffsetStore(repo OffsetRepo, opts ...OffsetStoreOption) *OffsetStore {
	s := &OffsetStore{
		repo:        repo,
		historyKeep: DefaultOffsetHistoryKeep,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetLastOffset returns the highest durable watermark. A storage error is
// logged and reported as no offset.
func (s *OffsetStore) GetLastOffset(ctx context.Context) (int64, bool) {
	last, ok, err := s.repo.GetLastOffset(ctx)
	if err != nil {
		slog.Error("OffsetStore.GetLastOffset: read failed, treating as cold start", "error", err)
		return 0, false
	}
	return last, ok
}

// UpdateOffset records updateID as the newest watermark.
func (s *OffsetStore) UpdateOffset(ctx context.Context, updateID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.AppendOffset(ctx, updateID, s.now()); err != nil {
		slog.Error("OffsetStore.UpdateOffset: write failed", "updateID", updateID, "error", err)
		return err
	}
	slog.Debug("OffsetStore.UpdateOffset", "updateID", updateID)
	return nil
}

// IsProcessed reports whether the update was already handled. A storage
// error is logged and reported as false so the update is reprocessed
// rather than lost.
func (s *OffsetStore) IsProcessed(ctx context.Context, updateID int64) bool {
	ok, err := s.repo.IsProcessed(ctx, updateID)
	if err != nil {
		slog.Error("OffsetStore.IsProcessed: check failed, assuming unprocessed", "updateID", updateID, "error", err)
		return false
	}
	return ok
}

// MarkProcessed adds the update to the processed set. Calling it twice for
// the same update leaves a single record.
func (s *OffsetStore) MarkProcessed(ctx context.Context, u models.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := NewProcessedRecord(u, s.now())
	if err := s.repo.UpsertProcessed(ctx, rec); err != nil {
		slog.Error("OffsetStore.MarkProcessed: write failed", "updateID", u.ID, "kind", u.Kind, "error", err)
		return err
	}
	slog.Debug("OffsetStore.MarkProcessed", "updateID", u.ID, "chatID", rec.ChatID, "kind", u.Kind)
	return nil
}

// Cleanup prunes processed records older than retentionDays (the default
// when <= 0) and trims the watermark history.
func (s *OffsetStore) Cleanup(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().AddDate(0, 0, -retentionDays)
	var errs []error
	deleted, err := s.repo.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("prune processed: %w", err))
	}
	trimmed, err := s.repo.TrimOffsets(ctx, s.historyKeep)
	if err != nil {
		errs = append(errs, fmt.Errorf("trim offsets: %w", err))
	}
	if len(errs) > 0 {
		slog.Error("OffsetStore.Cleanup: failed", "errors", errs)
		return errors.Join(errs...)
	}
	slog.Info("OffsetStore.Cleanup: done", "retentionDays", retentionDays, "processedDeleted", deleted, "offsetsTrimmed", trimmed)
	return nil
}
