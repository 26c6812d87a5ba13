package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/RelayNote/internal/queue"
)

// Drainer runs a backlog drain. *queue.Processor implements it.
type Drainer interface {
	Drain(ctx context.Context) (queue.DrainResult, error)
}

// Cleaner applies the retention policy. *store.OffsetStore implements it.
type Cleaner interface {
	Cleanup(ctx context.Context, retentionDays int) error
}

// DrainReportFunc receives the result of the startup drain.
type DrainReportFunc func(ctx context.Context, res queue.DrainResult)

type drainRecoverable struct {
	drainer Drainer
	report  DrainReportFunc
}

// DrainRecovery drains everything that arrived while the process was down.
// report, if non-nil, is called when the drain did any work.
func DrainRecovery(d Drainer, report DrainReportFunc) Recoverable {
	return &drainRecoverable{drainer: d, report: report}
}

func (r *drainRecoverable) Name() string { return "backlog-drain" }

func (r *drainRecoverable) Recover(ctx context.Context) error {
	res, err := r.drainer.Drain(ctx)
	slog.Info("Recovering backlog",
		"runID", res.RunID,
		"processed", res.Processed,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"deferred", res.Deferred)
	if err != nil {
		return fmt.Errorf("startup drain: %w", err)
	}
	if r.report != nil && (res.Processed > 0 || res.Failed > 0 || res.Deferred > 0) {
		r.report(ctx, res)
	}
	return nil
}

type cleanupRecoverable struct {
	cleaner       Cleaner
	retentionDays int
}

// CleanupRecovery applies the retention policy once at startup.
func CleanupRecovery(c Cleaner, retentionDays int) Recoverable {
	return &cleanupRecoverable{cleaner: c, retentionDays: retentionDays}
}

func (r *cleanupRecoverable) Name() string { return "retention-cleanup" }

func (r *cleanupRecoverable) Recover(ctx context.Context) error {
	return r.cleaner.Cleanup(ctx, r.retentionDays)
}
