// Package mediagroup batches album messages that share a media group id.
//
// Upstream delivers each photo of an album as its own update, in no
// guaranteed order and with no end marker. The Collector buffers them per
// group and releases the group once no new member arrived for a quiet period.
package mediagroup

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/RelayNote/internal/models"
)

// DefaultTimeout is the quiet period after the last member of a group.
const DefaultTimeout = 1500 * time.Millisecond

// Group is a flushed album.
type Group struct {
	ID string
	// Updates are the member updates sorted by ascending message id.
	Updates []models.Update
	// Representative is the first member that arrived.
	Representative models.Update
}

// Messages returns the member messages in order.
func (g Group) Messages() []*models.Message {
	out := make([]*models.Message, 0, len(g.Updates))
	for _, u := range g.Updates {
		out = append(out, u.Message)
	}
	return out
}

// FlushFunc receives each group exactly once.
type FlushFunc func(ctx context.Context, g Group) error

// Option configures a Collector.
type Option func(*Collector)

// WithTimeout sets the quiet period.
func WithTimeout(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithContext sets the context passed to the flush callback.
func WithContext(ctx context.Context) Option {
	return func(c *Collector) { c.ctx = ctx }
}

type buffer struct {
	updates        []models.Update
	representative models.Update
	timer          *time.Timer
	gen            uint64
}

// Collector buffers grouped messages until their quiet period elapses.
// A single mutex guards the buffer table and the timers.
type Collector struct {
	flush   FlushFunc
	timeout time.Duration
	ctx     context.Context

	mu      sync.Mutex
	buffers map[string]*buffer
	stopped bool
}

// NewCollector creates a Collector that hands finished groups to flush.
func NewCollector(flush FlushFunc, opts ...Option) *Collector {
	c := &Collector{
		flush:   flush,
		timeout: DefaultTimeout,
		ctx:     context.Background(),
		buffers: make(map[string]*buffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add buffers u if it belongs to a media group and reports whether it did.
// Each newly accepted message restarts the group's quiet period; an update
// that is already buffered is reported as handled and ignored.
func (c *Collector) Add(u models.Update) bool {
	groupID := u.MediaGroupID()
	if groupID == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}

	b, ok := c.buffers[groupID]
	if !ok {
		b = &buffer{representative: u}
		c.buffers[groupID] = b
		slog.Debug("Collector.Add: new media group", "groupID", groupID, "updateID", u.ID)
	}

	for _, existing := range b.updates {
		if existing.ID == u.ID {
			// Redelivered while still buffered: already accounted for.
			return true
		}
	}

	i := sort.Search(len(b.updates), func(i int) bool { return b.updates[i].MessageID() > u.MessageID() })
	b.updates = append(b.updates, models.Update{})
	copy(b.updates[i+1:], b.updates[i:])
	b.updates[i] = u

	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	gen := b.gen
	b.timer = time.AfterFunc(c.timeout, func() { c.expire(groupID, gen) })

	slog.Debug("Collector.Add: buffered", "groupID", groupID, "updateID", u.ID, "size", len(b.updates))
	return true
}

// PendingCount returns how many groups are waiting to flush.
func (c *Collector) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffers)
}

// Stop cancels all quiet-period timers and flushes pending groups right
// away. Later calls to Add are rejected.
func (c *Collector) Stop() {
	c.mu.Lock()
	c.stopped = true
	pending := make([]Group, 0, len(c.buffers))
	for id, b := range c.buffers {
		b.timer.Stop()
		pending = append(pending, Group{ID: id, Updates: b.updates, Representative: b.representative})
	}
	c.buffers = make(map[string]*buffer)
	c.mu.Unlock()

	if len(pending) > 0 {
		slog.Info("Collector.Stop: flushing pending media groups", "count", len(pending))
	}
	for _, g := range pending {
		c.invoke(g)
	}
}

// expire runs on the timer goroutine. A timer superseded by a later Add
// finds a newer generation and does nothing.
func (c *Collector) expire(groupID string, gen uint64) {
	c.mu.Lock()
	b, ok := c.buffers[groupID]
	if !ok || b.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.buffers, groupID)
	c.mu.Unlock()

	c.invoke(Group{ID: groupID, Updates: b.updates, Representative: b.representative})
}

func (c *Collector) invoke(g Group) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Collector: flush callback panicked", "groupID", g.ID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	slog.Debug("Collector: flushing media group", "groupID", g.ID, "size", len(g.Updates))
	if err := c.flush(c.ctx, g); err != nil {
		slog.Error("Collector: flush callback failed", "groupID", g.ID, "size", len(g.Updates), "error", err)
	}
}
