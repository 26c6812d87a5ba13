package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/RelayNote/internal/store"
)

type recordingChat struct {
	chatIDs []int64
	texts   []string
	err     error
}

func (c *recordingChat) SendMessage(ctx context.Context, chatID int64, text string) error {
	if c.err != nil {
		return c.err
	}
	c.chatIDs = append(c.chatIDs, chatID)
	c.texts = append(c.texts, text)
	return nil
}

func TestTelegramSender_Send(t *testing.T) {
	chat := &recordingChat{}
	s := NewTelegramSender(chat)
	if err := s.Send(context.Background(), "-100123", "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(chat.chatIDs) != 1 || chat.chatIDs[0] != -100123 || chat.texts[0] != "hi" {
		t.Errorf("unexpected send: %v %v", chat.chatIDs, chat.texts)
	}
	if err := s.Send(context.Background(), "not-a-chat", "hi"); !errors.Is(err, ErrInvalidRecipient) {
		t.Errorf("expected ErrInvalidRecipient, got %v", err)
	}
}

func TestCanonicalizePhoneNumber(t *testing.T) {
	got, err := CanonicalizePhoneNumber("+1 (555) 010-9999")
	if err != nil || got != "+15550109999" {
		t.Errorf("CanonicalizePhoneNumber = %q, %v", got, err)
	}
	if _, err := CanonicalizePhoneNumber("12-34"); !errors.Is(err, ErrInvalidRecipient) {
		t.Errorf("expected ErrInvalidRecipient for short number, got %v", err)
	}
}

func TestNewSMSSender_RequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, err := NewSMSSender(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewSMSSender(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without from number")
	}
	s, err := NewSMSSender(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromNumber("+15550100000"))
	if err != nil || s == nil {
		t.Fatalf("NewSMSSender: %v", err)
	}
}

func TestDelivery_RoutesByChannel(t *testing.T) {
	tg := &MockSender{}
	sms := &MockSender{}
	d := NewDelivery()
	d.Register(store.OutboxChannelTelegram, tg)
	d.Register(store.OutboxChannelSMS, sms)

	ctx := context.Background()
	if err := d.Deliver(ctx, store.OutboxMessage{Channel: store.OutboxChannelTelegram, Recipient: "42", Body: "a"}); err != nil {
		t.Fatalf("Deliver telegram: %v", err)
	}
	if err := d.Deliver(ctx, store.OutboxMessage{Channel: store.OutboxChannelSMS, Recipient: "+1555", Body: "b"}); err != nil {
		t.Fatalf("Deliver sms: %v", err)
	}
	if got := tg.Messages(); len(got) != 1 || got[0].To != "42" {
		t.Errorf("telegram sender got %v", got)
	}
	if got := sms.Messages(); len(got) != 1 || got[0].Body != "b" {
		t.Errorf("sms sender got %v", got)
	}

	if err := d.Deliver(ctx, store.OutboxMessage{Channel: "fax"}); !errors.Is(err, ErrNoSender) {
		t.Errorf("expected ErrNoSender, got %v", err)
	}
	if !d.Has(store.OutboxChannelSMS) || d.Has("fax") {
		t.Error("Has reported wrong channels")
	}
}
