// Package queue drains the upstream backlog through the durable offset
// store and a per-kind handler table, and watches upstream liveness so the
// backlog is drained again after every outage.
package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/RelayNote/internal/models"
)

// Source is the upstream batch API.
type Source interface {
	GetUpdates(ctx context.Context, offset *int64, limit int, timeout time.Duration) ([]models.Update, error)
}

// Fetcher pulls backlog batches and never fails the caller: transport
// errors are logged and reported as an empty batch.
type Fetcher struct {
	source  Source
	timeout time.Duration
}

// NewFetcher creates a Fetcher. timeout is the upstream long-poll wait for
// each batch; zero returns immediately when nothing is pending.
func NewFetcher(source Source, timeout time.Duration) *Fetcher {
	return &Fetcher{source: source, timeout: timeout}
}

// Fetch returns up to limit updates starting at offset (nil = no lower bound).
func (f *Fetcher) Fetch(ctx context.Context, offset *int64, limit int) []models.Update {
	updates, err := f.source.GetUpdates(ctx, offset, limit, f.timeout)
	if err != nil {
		slog.Error("Fetcher.Fetch: upstream fetch failed", "offset", offsetAttr(offset), "limit", limit, "error", err)
		return nil
	}
	return updates
}

func offsetAttr(offset *int64) any {
	if offset == nil {
		return "none"
	}
	return *offset
}
