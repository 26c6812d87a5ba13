// This file declares the OutboxRepo interface and model for restart-safe
// outgoing notifications.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// newOutboxID returns a fresh outbox message id.
func newOutboxID() string {
	return "outbox_" + uuid.NewString()
}

// OutboxStatus represents the lifecycle state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusQueued   OutboxStatus = "queued"
	OutboxStatusSending  OutboxStatus = "sending"
	OutboxStatusSent     OutboxStatus = "sent"
	OutboxStatusCanceled OutboxStatus = "canceled"
)

// OutboxChannel selects the transport that delivers an outbox message.
type OutboxChannel string

const (
	// OutboxChannelTelegram delivers to a Telegram chat id.
	OutboxChannelTelegram OutboxChannel = "telegram"
	// OutboxChannelSMS delivers to a phone number.
	OutboxChannelSMS OutboxChannel = "sms"
)

// OutboxMessage represents a durable outgoing message record.
type OutboxMessage struct {
	ID            string        `json:"id"`
	Recipient     string        `json:"recipient"`
	Channel       OutboxChannel `json:"channel"`
	Body          string        `json:"body"`
	Status        OutboxStatus  `json:"status"`
	Attempts      int           `json:"attempts"`
	NextAttemptAt *time.Time    `json:"next_attempt_at"`
	DedupeKey     string        `json:"dedupe_key"`
	LockedAt      *time.Time    `json:"locked_at"`
	LastError     string        `json:"last_error"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// OutboxRepo defines the interface for durable outbox message persistence.
type OutboxRepo interface {
	// EnqueueOutboxMessage inserts a new outbox message. If dedupeKey is non-empty
	// and a non-terminal message with that key exists, returns the existing ID.
	EnqueueOutboxMessage(ctx context.Context, channel OutboxChannel, recipient, body, dedupeKey string) (string, error)

	// ClaimDueOutboxMessages marks up to limit queued messages whose
	// next_attempt_at <= now (or is NULL) as sending and returns them.
	ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error)

	// MarkOutboxMessageSent marks a message as successfully sent.
	MarkOutboxMessageSent(ctx context.Context, id string) error

	// FailOutboxMessage records a send failure and schedules a retry at nextAttemptAt.
	FailOutboxMessage(ctx context.Context, id string, errMsg string, nextAttemptAt time.Time) error

	// CancelOutboxMessage moves a message to the terminal canceled state.
	CancelOutboxMessage(ctx context.Context, id string, reason string) error

	// RequeueStaleSendingMessages resets messages stuck in sending since before
	// staleBefore back to queued (crash recovery).
	RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error)

	// DeleteFinishedOutboxMessages removes sent and canceled messages last
	// updated before the cutoff.
	DeleteFinishedOutboxMessages(ctx context.Context, before time.Time) (int64, error)
}
