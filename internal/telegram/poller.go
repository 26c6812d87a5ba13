package telegram

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BTreeMap/RelayNote/internal/models"
)

// Live polling defaults.
const (
	DefaultPollLimit   = 100
	DefaultPollTimeout = 30 * time.Second
	maxPollBackoff     = 30 * time.Second
)

// UpdateSource fetches updates from upstream.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset *int64, limit int, timeout time.Duration) ([]models.Update, error)
}

// UpdateHandler receives every live update in arrival order.
type UpdateHandler func(ctx context.Context, u models.Update)

// Poller runs the live long-poll loop.
type Poller struct {
	source  UpdateSource
	limit   int
	timeout time.Duration
	next    *int64
}

// NewPoller creates a poller that starts at next (nil means whatever
// upstream still holds).
func NewPoller(source UpdateSource, next *int64) *Poller {
	return &Poller{
		source:  source,
		limit:   DefaultPollLimit,
		timeout: DefaultPollTimeout,
		next:    next,
	}
}

// Run polls until ctx is cancelled. Each update is passed to handle and
// then confirmed upstream by the next getUpdates call, whether or not the
// handler succeeded; durable accounting is the handler's job.
func (p *Poller) Run(ctx context.Context, handle UpdateHandler) {
	slog.Info("Poller.Run: polling started", "limit", p.limit, "timeout", p.timeout)
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			slog.Info("Poller.Run: polling stopped")
			return
		}

		updates, err := p.source.GetUpdates(ctx, p.next, p.limit, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Poller.Run: polling stopped")
				return
			}
			wait := backoff
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > wait {
				wait = apiErr.RetryAfter
			}
			slog.Warn("Poller.Run: getUpdates error", "error", err, "backoff", wait)
			select {
			case <-ctx.Done():
				slog.Info("Poller.Run: polling stopped")
				return
			case <-time.After(wait):
			}
			if backoff < maxPollBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, u := range updates {
			if p.next == nil || u.ID >= *p.next {
				n := u.ID + 1
				p.next = &n
			}
			handle(ctx, u)
		}
	}
}
