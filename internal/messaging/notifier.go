package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/BTreeMap/RelayNote/internal/store"
)

// Notifier fans an operator notification out to every configured recipient
// by enqueueing one outbox row each. Delivery happens in store.OutboxSender.
type Notifier struct {
	outbox  store.OutboxRepo
	chatIDs []int64
	smsTo   string
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithTelegramRecipients sets the chats that receive notifications.
func WithTelegramRecipients(chatIDs []int64) NotifierOption {
	return func(n *Notifier) { n.chatIDs = append([]int64(nil), chatIDs...) }
}

// WithSMSRecipient adds a phone number that also receives notifications.
func WithSMSRecipient(to string) NotifierOption {
	return func(n *Notifier) { n.smsTo = to }
}

// NewNotifier creates a Notifier backed by the outbox.
func NewNotifier(outbox store.OutboxRepo, opts ...NotifierOption) *Notifier {
	n := &Notifier{outbox: outbox}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Recipients returns how many outbox rows one notification produces.
func (n *Notifier) Recipients() int {
	count := len(n.chatIDs)
	if n.smsTo != "" {
		count++
	}
	return count
}

// Notify enqueues text for every recipient.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	return n.NotifyKeyed(ctx, "", text)
}

// NotifyKeyed enqueues text for every recipient, deduplicated per recipient
// by key while an earlier copy is still pending.
func (n *Notifier) NotifyKeyed(ctx context.Context, key, text string) error {
	var errs []error
	for _, id := range n.chatIDs {
		recipient := strconv.FormatInt(id, 10)
		if err := n.enqueue(ctx, store.OutboxChannelTelegram, recipient, key, text); err != nil {
			errs = append(errs, err)
		}
	}
	if n.smsTo != "" {
		if err := n.enqueue(ctx, store.OutboxChannelSMS, n.smsTo, key, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) enqueue(ctx context.Context, channel store.OutboxChannel, recipient, key, text string) error {
	dedupe := ""
	if key != "" {
		dedupe = fmt.Sprintf("%s:%s:%s", key, channel, recipient)
	}
	id, err := n.outbox.EnqueueOutboxMessage(ctx, channel, recipient, text, dedupe)
	if err != nil {
		slog.Error("Notifier.enqueue failed", "channel", channel, "recipient", recipient, "error", err)
		return fmt.Errorf("enqueue %s notification: %w", channel, err)
	}
	slog.Debug("Notifier.enqueue: queued", "id", id, "channel", channel, "recipient", recipient)
	return nil
}
