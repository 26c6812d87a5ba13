package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/RelayNote/internal/models"
)

// InMemoryStore is a non-durable Store used by tests and short-lived runs.
type InMemoryStore struct {
	mu        sync.Mutex
	offsets   []int64
	processed map[int64]ProcessedRecord
	entries   []models.Entry
	outbox    map[string]*OutboxMessage
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		processed: make(map[int64]ProcessedRecord),
		outbox:    make(map[string]*OutboxMessage),
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) GetLastOffset(ctx context.Context) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.offsets) == 0 {
		return 0, false, nil
	}
	max := s.offsets[0]
	for _, o := range s.offsets[1:] {
		if o > max {
			max = o
		}
	}
	return max, true, nil
}

func (s *InMemoryStore) AppendOffset(ctx context.Context, updateID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets = append(s.offsets, updateID)
	return nil
}

// OffsetHistory returns a copy of the watermark log in insertion order.
func (s *InMemoryStore) OffsetHistory() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.offsets...)
}

func (s *InMemoryStore) IsProcessed(ctx context.Context, updateID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[updateID]
	return ok, nil
}

func (s *InMemoryStore) UpsertProcessed(ctx context.Context, rec ProcessedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[rec.UpdateID] = rec
	return nil
}

// ProcessedCount returns the size of the processed set.
func (s *InMemoryStore) ProcessedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processed)
}

func (s *InMemoryStore) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.processed {
		if rec.ProcessedAt.Before(cutoff) {
			delete(s.processed, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) TrimOffsets(ctx context.Context, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.offsets) <= keep {
		return 0, nil
	}
	idx := make([]int, len(s.offsets))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return s.offsets[idx[a]] > s.offsets[idx[b]] })
	kept := make(map[int]bool, keep)
	for _, i := range idx[:keep] {
		kept[i] = true
	}
	out := make([]int64, 0, keep)
	for i, o := range s.offsets {
		if kept[i] {
			out = append(out, o)
		}
	}
	n := len(s.offsets) - len(out)
	s.offsets = out
	return int64(n), nil
}

func (s *InMemoryStore) SaveEntry(ctx context.Context, e models.Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.entries {
		if existing.SourceUpdateID == e.SourceUpdateID {
			return existing.ID, nil
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.ID = int64(len(s.entries) + 1)
	s.entries = append(s.entries, e)
	return e.ID, nil
}

func (s *InMemoryStore) ListEntriesSince(ctx context.Context, since time.Time) ([]models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Entry
	for _, e := range s.entries {
		if !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) EnqueueOutboxMessage(ctx context.Context, channel OutboxChannel, recipient, body, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && m.Status != OutboxStatusSent && m.Status != OutboxStatusCanceled {
				return m.ID, nil
			}
		}
	}
	now := time.Now()
	m := &OutboxMessage{
		ID:        newOutboxID(),
		Recipient: recipient,
		Channel:   channel,
		Body:      body,
		Status:    OutboxStatusQueued,
		DedupeKey: dedupeKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.outbox[m.ID] = m
	return m.ID, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*OutboxMessage
	for _, m := range s.outbox {
		if m.Status == OutboxStatusQueued && (m.NextAttemptAt == nil || !m.NextAttemptAt.After(now)) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]OutboxMessage, 0, len(due))
	for _, m := range due {
		locked := now
		m.Status = OutboxStatusSending
		m.LockedAt = &locked
		m.UpdatedAt = now
		out = append(out, *m)
	}
	return out, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(ctx context.Context, id string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusSent
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) FailOutboxMessage(ctx context.Context, id string, errMsg string, nextAttemptAt time.Time) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusQueued
		m.Attempts++
		m.LastError = errMsg
		m.NextAttemptAt = &nextAttemptAt
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) CancelOutboxMessage(ctx context.Context, id string, reason string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusCanceled
		m.LastError = reason
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			m.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) DeleteFinishedOutboxMessages(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.outbox {
		if (m.Status == OutboxStatusSent || m.Status == OutboxStatusCanceled) && m.UpdatedAt.Before(before) {
			delete(s.outbox, id)
			n++
		}
	}
	return n, nil
}

// OutboxMessages returns a snapshot of every outbox message.
func (s *InMemoryStore) OutboxMessages() []OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OutboxMessage, 0, len(s.outbox))
	for _, m := range s.outbox {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *InMemoryStore) updateOutbox(id string, fn func(*OutboxMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return nil
	}
	fn(m)
	m.UpdatedAt = time.Now()
	return nil
}
