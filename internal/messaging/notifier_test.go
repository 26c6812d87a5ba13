package messaging

import (
	"context"
	"testing"

	"github.com/BTreeMap/RelayNote/internal/store"
)

func TestNotifier_FansOutToRecipients(t *testing.T) {
	mem := store.NewInMemoryStore()
	n := NewNotifier(mem, WithTelegramRecipients([]int64{1, 2}), WithSMSRecipient("+15550100000"))
	if n.Recipients() != 3 {
		t.Fatalf("Recipients = %d, want 3", n.Recipients())
	}
	if err := n.Notify(context.Background(), "drain finished"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	msgs := mem.OutboxMessages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 outbox rows, got %d", len(msgs))
	}
	channels := map[store.OutboxChannel]int{}
	for _, m := range msgs {
		channels[m.Channel]++
		if m.Body != "drain finished" {
			t.Errorf("unexpected body %q", m.Body)
		}
	}
	if channels[store.OutboxChannelTelegram] != 2 || channels[store.OutboxChannelSMS] != 1 {
		t.Errorf("unexpected channel split %v", channels)
	}
}

func TestNotifier_KeyedIsDeduplicated(t *testing.T) {
	mem := store.NewInMemoryStore()
	n := NewNotifier(mem, WithTelegramRecipients([]int64{7}))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := n.NotifyKeyed(ctx, "weekly:2026-42", "report"); err != nil {
			t.Fatalf("NotifyKeyed: %v", err)
		}
	}
	if got := len(mem.OutboxMessages()); got != 1 {
		t.Errorf("expected 1 queued message, got %d", got)
	}
}

func TestNotifier_NoRecipients(t *testing.T) {
	mem := store.NewInMemoryStore()
	if err := NewNotifier(mem).Notify(context.Background(), "x"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(mem.OutboxMessages()) != 0 {
		t.Error("expected nothing queued")
	}
}
