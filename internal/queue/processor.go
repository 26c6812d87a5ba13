package queue

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/RelayNote/internal/models"
	"github.com/google/uuid"
)

// Drain defaults.
const (
	DefaultBatchSize       = 100
	DefaultProcessingDelay = 100 * time.Millisecond
)

// OffsetTracker is the durable accounting the processor relies on. Reads
// are expected to be fail-soft.
type OffsetTracker interface {
	GetLastOffset(ctx context.Context) (int64, bool)
	UpdateOffset(ctx context.Context, updateID int64) error
	IsProcessed(ctx context.Context, updateID int64) bool
	MarkProcessed(ctx context.Context, u models.Update) error
}

// BatchFetcher returns backlog batches; an empty result ends the drain.
type BatchFetcher interface {
	Fetch(ctx context.Context, offset *int64, limit int) []models.Update
}

// DrainResult summarizes one drain run.
type DrainResult struct {
	RunID      string    `json:"run_id"`
	Processed  int       `json:"processed"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Deferred   int       `json:"deferred"`
	Batches    int       `json:"batches"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithBatchSize sets how many updates are requested per fetch.
func WithBatchSize(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithProcessingDelay sets the pause after each handled update.
func WithProcessingDelay(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d >= 0 {
			p.delay = d
		}
	}
}

// Processor drains pending updates. The durable offset advances only after
// an update was handled successfully. Drains are serialized.
type Processor struct {
	offsets   OffsetTracker
	fetcher   BatchFetcher
	handlers  HandlerTable
	batchSize int
	delay     time.Duration

	drainMu sync.Mutex
	ackMu   sync.Mutex

	mu        sync.Mutex
	lastDrain *DrainResult
}

// NewProcessor creates a Processor.
func NewProcessor(offsets OffsetTracker, fetcher BatchFetcher, handlers HandlerTable, opts ...ProcessorOption) *Processor {
	p := &Processor{
		offsets:   offsets,
		fetcher:   fetcher,
		handlers:  handlers,
		batchSize: DefaultBatchSize,
		delay:     DefaultProcessingDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acknowledge records u as handled: it joins the processed set and, when
// it is above the current watermark, becomes the new watermark. Late
// acknowledgements (album members flushed after newer updates) never move
// the watermark back. The live path uses it too so both paths share one
// watermark.
func (p *Processor) Acknowledge(ctx context.Context, u models.Update) error {
	p.ackMu.Lock()
	defer p.ackMu.Unlock()
	if err := p.offsets.MarkProcessed(ctx, u); err != nil {
		return err
	}
	if last, ok := p.offsets.GetLastOffset(ctx); ok && u.ID <= last {
		return nil
	}
	return p.offsets.UpdateOffset(ctx, u.ID)
}

// Exclusive runs fn while no drain is in progress. The live path wraps its
// check-dispatch-acknowledge sequence in it so an update is never handled by
// the poller and a drain at the same time.
func (p *Processor) Exclusive(fn func()) {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()
	fn()
}

// IsProcessed reports whether u was already acknowledged.
func (p *Processor) IsProcessed(ctx context.Context, updateID int64) bool {
	return p.offsets.IsProcessed(ctx, updateID)
}

// Drain processes everything pending after the durable watermark. The
// returned error is non-nil only when ctx was cancelled mid-drain; the
// counts cover the work done up to that point.
func (p *Processor) Drain(ctx context.Context) (res DrainResult, err error) {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()

	res = DrainResult{RunID: uuid.NewString(), StartedAt: time.Now()}
	defer func() {
		res.FinishedAt = time.Now()
		p.mu.Lock()
		snapshot := res
		p.lastDrain = &snapshot
		p.mu.Unlock()
	}()

	var start *int64
	if last, ok := p.offsets.GetLastOffset(ctx); ok {
		next := last + 1
		start = &next
	}
	slog.Info("Processor.Drain: starting", "runID", res.RunID, "start", offsetAttr(start), "batchSize", p.batchSize)

	for {
		if err := ctx.Err(); err != nil {
			slog.Warn("Processor.Drain: cancelled", "runID", res.RunID, "processed", res.Processed, "failed", res.Failed)
			return res, err
		}

		batch := p.fetcher.Fetch(ctx, start, p.batchSize)
		if len(batch) == 0 {
			slog.Debug("Processor.Drain: no more pending updates", "runID", res.RunID)
			break
		}
		res.Batches++
		sort.Slice(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })
		slog.Info("Processor.Drain: batch fetched", "runID", res.RunID, "count", len(batch),
			"firstID", batch[0].ID, "lastID", batch[len(batch)-1].ID)

		for _, u := range batch {
			next := u.ID + 1
			start = &next

			if p.offsets.IsProcessed(ctx, u.ID) {
				slog.Debug("Processor.Drain: skipping processed update", "runID", res.RunID, "updateID", u.ID)
				res.Skipped++
				continue
			}

			if err := p.handlers.Dispatch(ctx, u); errors.Is(err, ErrDeferred) {
				res.Deferred++
				slog.Debug("Processor.Drain: update deferred", "runID", res.RunID, "updateID", u.ID)
			} else if err != nil {
				res.Failed++
				slog.Error("Processor.Drain: update failed", "runID", res.RunID, "updateID", u.ID,
					"kind", u.Kind, "retryable", IsRetryable(err), "error", err)
			} else if err := p.Acknowledge(ctx, u); err != nil {
				// Handled but not durably recorded; it may be handled again after a restart.
				res.Processed++
				slog.Error("Processor.Drain: acknowledge failed", "runID", res.RunID, "updateID", u.ID, "error", err)
			} else {
				res.Processed++
			}

			if err := sleepCtx(ctx, p.delay); err != nil {
				slog.Warn("Processor.Drain: cancelled", "runID", res.RunID, "processed", res.Processed, "failed", res.Failed)
				return res, err
			}
		}

		if len(batch) < p.batchSize {
			break
		}
	}

	slog.Info("Processor.Drain: finished", "runID", res.RunID, "processed", res.Processed,
		"failed", res.Failed, "skipped", res.Skipped, "deferred", res.Deferred, "batches", res.Batches)
	return res, nil
}

// LastDrain returns the result of the most recent drain, if any.
func (p *Processor) LastDrain() (DrainResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastDrain == nil {
		return DrainResult{}, false
	}
	return *p.lastDrain, true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
