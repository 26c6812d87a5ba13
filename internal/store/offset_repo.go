// This file declares the OffsetRepo interface for the update watermark and
// the processed-update dedup set.
package store

import (
	"context"
	"time"

	"github.com/BTreeMap/RelayNote/internal/models"
)

// Retention defaults for Cleanup.
const (
	DefaultRetentionDays     = 7
	DefaultOffsetHistoryKeep = 10
)

// ProcessedRecord is one row of the processed-update dedup set.
type ProcessedRecord struct {
	UpdateID    int64             `json:"update_id"`
	ChatID      int64             `json:"chat_id"`
	MessageID   int64             `json:"message_id"`
	Kind        models.UpdateKind `json:"kind"`
	ProcessedAt time.Time         `json:"processed_at"`
}

// NewProcessedRecord extracts the dedup fields from any update variant.
func NewProcessedRecord(u models.Update, at time.Time) ProcessedRecord {
	return ProcessedRecord{
		UpdateID:    u.ID,
		ChatID:      u.ChatID(),
		MessageID:   u.MessageID(),
		Kind:        u.Kind,
		ProcessedAt: at,
	}
}

// OffsetRepo persists the update watermark log and the processed-update set.
// Implementations return raw storage errors; OffsetStore applies the
// fail-soft policy on top.
type OffsetRepo interface {
	// GetLastOffset returns the highest recorded watermark and whether any exists.
	GetLastOffset(ctx context.Context) (int64, bool, error)

	// AppendOffset appends a watermark row. It does not enforce monotonicity.
	AppendOffset(ctx context.Context, updateID int64, at time.Time) error

	// IsProcessed reports whether updateID is in the processed set.
	IsProcessed(ctx context.Context, updateID int64) (bool, error)

	// UpsertProcessed records rec, replacing any previous row for the same update.
	UpsertProcessed(ctx context.Context, rec ProcessedRecord) error

	// DeleteProcessedBefore removes processed rows older than cutoff.
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// TrimOffsets keeps only the keep highest watermark rows. Rows are
	// ranked by value, not insertion order, so trimming never lowers MAX.
	TrimOffsets(ctx context.Context, keep int) (int64, error)
}
