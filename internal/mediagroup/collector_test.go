package mediagroup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/RelayNote/internal/models"
)

type flushRecord struct {
	group Group
	at    time.Time
}

type flushRecorder struct {
	mu      sync.Mutex
	flushes []flushRecord
	ch      chan flushRecord
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{ch: make(chan flushRecord, 16)}
}

func (r *flushRecorder) flush(ctx context.Context, g Group) error {
	rec := flushRecord{group: g, at: time.Now()}
	r.mu.Lock()
	r.flushes = append(r.flushes, rec)
	r.mu.Unlock()
	r.ch <- rec
	return nil
}

func (r *flushRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flushes)
}

func (r *flushRecorder) wait(t *testing.T, timeout time.Duration) flushRecord {
	t.Helper()
	select {
	case rec := <-r.ch:
		return rec
	case <-time.After(timeout):
		t.Fatal("timed out waiting for flush")
		return flushRecord{}
	}
}

func albumUpdate(updateID, messageID int64, group string) models.Update {
	return models.NewMessageUpdate(updateID, &models.Message{ID: messageID, ChatID: 1, MediaGroupID: group})
}

func TestCollector_UngroupedNotHandled(t *testing.T) {
	c := NewCollector(newFlushRecorder().flush)
	if c.Add(models.NewMessageUpdate(1, &models.Message{ID: 1, Text: "plain"})) {
		t.Error("message without media group must not be handled")
	}
	if c.Add(models.NewInlineQueryUpdate(2, &models.InlineQuery{ID: "q"})) {
		t.Error("inline query must not be handled")
	}
	if c.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", c.PendingCount())
	}
}

func TestCollector_OrdersByMessageID(t *testing.T) {
	rec := newFlushRecorder()
	c := NewCollector(rec.flush, WithTimeout(50*time.Millisecond))

	for i, mid := range []int64{103, 101, 102} {
		if !c.Add(albumUpdate(int64(10+i), mid, "g")) {
			t.Fatalf("Add(%d) not handled", mid)
		}
	}
	if c.PendingCount() != 1 {
		t.Errorf("PendingCount = %d, want 1", c.PendingCount())
	}

	got := rec.wait(t, time.Second).group
	if len(got.Updates) != 3 {
		t.Fatalf("expected 3 members, got %d", len(got.Updates))
	}
	for i, want := range []int64{101, 102, 103} {
		if got.Updates[i].MessageID() != want {
			t.Errorf("member %d = %d, want %d", i, got.Updates[i].MessageID(), want)
		}
	}
	if got.Representative.MessageID() != 103 {
		t.Errorf("representative = %d, want first arrival 103", got.Representative.MessageID())
	}
	if msgs := got.Messages(); len(msgs) != 3 || msgs[0].ID != 101 {
		t.Errorf("Messages() not in order: %+v", msgs)
	}
	if c.PendingCount() != 0 {
		t.Errorf("buffer must be removed after flush, PendingCount = %d", c.PendingCount())
	}
}

// Scaled-down version of: G1 at 0s, 1.0s, 1.4s and G2 at 0s with a 1.5s
// window. G2 flushes once at about 1.5s; G1 not before 2.9s, once.
func TestCollector_DebounceResetsPerGroup(t *testing.T) {
	const window = 150 * time.Millisecond
	rec := newFlushRecorder()
	c := NewCollector(rec.flush, WithTimeout(window))

	start := time.Now()
	c.Add(albumUpdate(1, 1, "G1"))
	c.Add(albumUpdate(2, 50, "G2"))
	time.Sleep(100 * time.Millisecond)
	c.Add(albumUpdate(3, 2, "G1"))
	time.Sleep(40 * time.Millisecond)
	c.Add(albumUpdate(4, 3, "G1"))

	first := rec.wait(t, time.Second)
	second := rec.wait(t, time.Second)

	if first.group.ID != "G2" || second.group.ID != "G1" {
		t.Fatalf("flush order = %s, %s; want G2, G1", first.group.ID, second.group.ID)
	}
	if d := first.at.Sub(start); d < window {
		t.Errorf("G2 flushed after %v, before its window", d)
	}
	if d := second.at.Sub(start); d < 290*time.Millisecond {
		t.Errorf("G1 flushed after %v, want >= 290ms", d)
	}
	if len(second.group.Updates) != 3 {
		t.Errorf("G1 flushed with %d members, want 3", len(second.group.Updates))
	}

	time.Sleep(2 * window)
	if n := rec.count(); n != 2 {
		t.Errorf("expected exactly 2 flushes, got %d", n)
	}
}

func TestCollector_CallbackFailureIsContained(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	done := make(chan struct{}, 4)
	c := NewCollector(func(ctx context.Context, g Group) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		defer func() { done <- struct{}{} }()
		if n == 1 {
			panic("renderer crashed")
		}
		return errors.New("save failed")
	}, WithTimeout(20*time.Millisecond))

	c.Add(albumUpdate(1, 1, "g"))
	<-done
	c.Add(albumUpdate(2, 2, "g"))
	<-done

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("each group instance should flush once with no retry, got %d calls", calls)
	}
	if c.PendingCount() != 0 {
		t.Errorf("failed groups must not be resurrected, PendingCount = %d", c.PendingCount())
	}
}

func TestCollector_StopFlushesPending(t *testing.T) {
	rec := newFlushRecorder()
	c := NewCollector(rec.flush, WithTimeout(time.Hour))
	c.Add(albumUpdate(1, 1, "a"))
	c.Add(albumUpdate(2, 2, "b"))

	c.Stop()
	if rec.count() != 2 {
		t.Errorf("Stop should flush 2 pending groups, flushed %d", rec.count())
	}
	if c.Add(albumUpdate(3, 3, "c")) {
		t.Error("Add after Stop must be rejected")
	}
}

func TestCollector_RedeliveredUpdateBufferedOnce(t *testing.T) {
	rec := newFlushRecorder()
	c := NewCollector(rec.flush, WithTimeout(20*time.Millisecond))
	defer c.Stop()

	for _, u := range []models.Update{albumUpdate(1, 10, "g"), albumUpdate(2, 11, "g"), albumUpdate(1, 10, "g")} {
		if !c.Add(u) {
			t.Fatalf("Add(%d) should be handled", u.ID)
		}
	}

	got := rec.wait(t, time.Second)
	if n := len(got.group.Updates); n != 2 {
		t.Errorf("flushed %d updates, want 2", n)
	}
}
