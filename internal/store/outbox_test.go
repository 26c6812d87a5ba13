package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestOutboxIDsAreUUIDs(t *testing.T) {
	stores := map[string]OutboxRepo{
		"sqlite":   newTestSQLiteStore(t),
		"inmemory": NewInMemoryStore(),
	}
	for name, repo := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, err := repo.EnqueueOutboxMessage(ctx, OutboxChannelTelegram, "1", "hello", "")
			if err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			b, err := repo.EnqueueOutboxMessage(ctx, OutboxChannelTelegram, "1", "again", "")
			if err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			if a == b {
				t.Errorf("ids must be unique, got %q twice", a)
			}
			rest, ok := strings.CutPrefix(a, "outbox_")
			if !ok {
				t.Fatalf("id %q lacks the outbox_ prefix", a)
			}
			if _, err := uuid.Parse(rest); err != nil {
				t.Errorf("id %q is not a uuid: %v", a, err)
			}
		})
	}
}

func TestSQLiteStore_Outbox_EnqueueDedupeAndClaim(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id1, err := s.EnqueueOutboxMessage(ctx, OutboxChannelTelegram, "1001", "hello", "drain-1")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage failed: %v", err)
	}
	id2, err := s.EnqueueOutboxMessage(ctx, OutboxChannelTelegram, "1001", "hello", "drain-1")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage dedupe failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected dedupe to return %q, got %q", id1, id2)
	}
	if _, err := s.EnqueueOutboxMessage(ctx, OutboxChannelSMS, "+15550001", "alert", ""); err != nil {
		t.Fatalf("EnqueueOutboxMessage sms failed: %v", err)
	}

	msgs, err := s.ClaimDueOutboxMessages(ctx, time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("ClaimDueOutboxMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 claimed messages, got %d", len(msgs))
	}
	if msgs[0].Channel != OutboxChannelTelegram || msgs[0].Recipient != "1001" || msgs[0].Body != "hello" {
		t.Errorf("unexpected first message: %+v", msgs[0])
	}
	if msgs[0].Status != OutboxStatusSending {
		t.Errorf("expected sending status, got %q", msgs[0].Status)
	}

	again, err := s.ClaimDueOutboxMessages(ctx, time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("claimed messages must not be claimed twice, got %d", len(again))
	}
}

func TestSQLiteStore_Outbox_FailAndRequeue(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, _ := s.EnqueueOutboxMessage(ctx, OutboxChannelTelegram, "7", "x", "")
	claimed, _ := s.ClaimDueOutboxMessages(ctx, time.Now().Add(time.Second), 10)
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimed, got %d", len(claimed))
	}

	next := time.Now().Add(time.Hour)
	if err := s.FailOutboxMessage(ctx, id, "timeout", next); err != nil {
		t.Fatalf("FailOutboxMessage failed: %v", err)
	}
	due, _ := s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
	if len(due) != 0 {
		t.Errorf("message with future next_attempt_at must not be due, got %d", len(due))
	}
	due, _ = s.ClaimDueOutboxMessages(ctx, next.Add(time.Second), 10)
	if len(due) != 1 || due[0].Attempts != 1 || due[0].LastError != "timeout" {
		t.Fatalf("unexpected retry claim: %+v", due)
	}

	n, err := s.RequeueStaleSendingMessages(ctx, time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("RequeueStaleSendingMessages failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 requeued message, got %d", n)
	}
}

func TestOutboxSender_PollSendsAndBacksOff(t *testing.T) {
	mem := NewInMemoryStore()
	ctx := context.Background()
	okID, _ := mem.EnqueueOutboxMessage(ctx, OutboxChannelTelegram, "1", "ok", "")
	badID, _ := mem.EnqueueOutboxMessage(ctx, OutboxChannelSMS, "+1", "bad", "")

	var sent []string
	sender := NewOutboxSender(mem, func(ctx context.Context, msg OutboxMessage) error {
		if msg.ID == badID {
			return errors.New("carrier rejected")
		}
		sent = append(sent, msg.ID)
		return nil
	}, time.Second)
	sender.poll(ctx)

	if len(sent) != 1 || sent[0] != okID {
		t.Fatalf("expected only %q sent, got %v", okID, sent)
	}
	for _, m := range mem.OutboxMessages() {
		switch m.ID {
		case okID:
			if m.Status != OutboxStatusSent {
				t.Errorf("ok message status = %q, want sent", m.Status)
			}
		case badID:
			if m.Status != OutboxStatusQueued || m.Attempts != 1 || m.NextAttemptAt == nil {
				t.Errorf("failed message not rescheduled: %+v", m)
			}
		}
	}
}

func TestOutboxSender_CancelsAfterMaxAttempts(t *testing.T) {
	mem := NewInMemoryStore()
	ctx := context.Background()
	id, _ := mem.EnqueueOutboxMessage(ctx, OutboxChannelTelegram, "1", "never", "")

	sender := NewOutboxSender(mem, func(ctx context.Context, msg OutboxMessage) error {
		return errors.New("chat not found")
	}, time.Second)
	sender.maxAttempts = 1
	sender.poll(ctx)

	msgs := mem.OutboxMessages()
	if len(msgs) != 1 || msgs[0].ID != id || msgs[0].Status != OutboxStatusCanceled {
		t.Fatalf("expected message canceled, got %+v", msgs)
	}
}

func TestOutboxSender_Recover(t *testing.T) {
	mem := NewInMemoryStore()
	ctx := context.Background()
	mem.EnqueueOutboxMessage(ctx, OutboxChannelTelegram, "1", "stuck", "")
	mem.ClaimDueOutboxMessages(ctx, time.Now().Add(-time.Hour), 10)

	sender := NewOutboxSender(mem, nil, time.Second)
	if err := sender.Recover(ctx); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if msgs := mem.OutboxMessages(); msgs[0].Status != OutboxStatusQueued {
		t.Errorf("expected stale message requeued, got %q", msgs[0].Status)
	}
}
