package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"sync"

	"github.com/BTreeMap/RelayNote/internal/store"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Error variables for delivery
var (
	ErrNoSender         = errors.New("no sender registered for channel")
	ErrInvalidRecipient = errors.New("invalid recipient")
)

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Sender delivers a text body to a recipient on one channel.
type Sender interface {
	Send(ctx context.Context, recipient, body string) error
}

// ChatSender is the part of the Telegram client used for outgoing messages.
type ChatSender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// TelegramSender sends outbox messages to Telegram chats. Recipients are
// decimal chat ids.
type TelegramSender struct {
	client ChatSender
}

// NewTelegramSender wraps a Telegram client as a Sender.
func NewTelegramSender(client ChatSender) *TelegramSender {
	return &TelegramSender{client: client}
}

// Send implements Sender.
func (s *TelegramSender) Send(ctx context.Context, recipient, body string) error {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: chat id %q", ErrInvalidRecipient, recipient)
	}
	return s.client.SendMessage(ctx, chatID, body)
}

// SMSOpts holds configuration options for the Twilio SMS sender.
type SMSOpts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// SMSOption defines a configuration option for the Twilio SMS sender.
type SMSOption func(*SMSOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) SMSOption {
	return func(o *SMSOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) SMSOption {
	return func(o *SMSOpts) { o.AuthToken = token }
}

// WithFromNumber sets the sending phone number.
func WithFromNumber(from string) SMSOption {
	return func(o *SMSOpts) { o.FromNumber = from }
}

// SMSSender sends plain SMS through the Twilio REST API.
type SMSSender struct {
	client     *twilio.RestClient
	fromNumber string
}

// NewSMSSender creates a Twilio SMS sender, falling back to the TWILIO_*
// environment variables for unset options.
func NewSMSSender(opts ...SMSOption) (*SMSSender, error) {
	var cfg SMSOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("NewSMSSender: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &SMSSender{client: client, fromNumber: cfg.FromNumber}, nil
}

// CanonicalizePhoneNumber strips everything but digits and requires at least
// six of them. The result carries a leading '+'.
func CanonicalizePhoneNumber(recipient string) (string, error) {
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if len(canonical) < 6 {
		return "", fmt.Errorf("%w: phone number %q", ErrInvalidRecipient, recipient)
	}
	return "+" + canonical, nil
}

// Send implements Sender.
func (s *SMSSender) Send(ctx context.Context, recipient, body string) error {
	to, err := CanonicalizePhoneNumber(recipient)
	if err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.fromNumber)
	params.SetBody(body)

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		slog.Error("SMSSender.Send failed", "to", to, "error", err)
		return fmt.Errorf("failed to send sms to %s: %w", to, err)
	}
	slog.Debug("SMSSender.Send: sent", "to", to)
	return nil
}

// SentMessage is one message recorded by MockSender.
type SentMessage struct {
	To   string
	Body string
}

// MockSender records messages instead of sending them.
type MockSender struct {
	mu   sync.Mutex
	Sent []SentMessage
	Err  error
}

// Send implements Sender.
func (m *MockSender) Send(ctx context.Context, recipient, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentMessage{To: recipient, Body: body})
	return nil
}

// Messages returns a copy of the recorded messages.
func (m *MockSender) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}

// Delivery routes outbox messages to the Sender registered for their channel.
type Delivery struct {
	senders map[store.OutboxChannel]Sender
}

// NewDelivery creates an empty channel router.
func NewDelivery() *Delivery {
	return &Delivery{senders: make(map[store.OutboxChannel]Sender)}
}

// Register sets the sender for a channel.
func (d *Delivery) Register(channel store.OutboxChannel, s Sender) {
	d.senders[channel] = s
}

// Has reports whether a sender is registered for channel.
func (d *Delivery) Has(channel store.OutboxChannel) bool {
	_, ok := d.senders[channel]
	return ok
}

// Deliver sends msg; it has the signature of store.OutboxSendFunc.
func (d *Delivery) Deliver(ctx context.Context, msg store.OutboxMessage) error {
	s, ok := d.senders[msg.Channel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSender, msg.Channel)
	}
	return s.Send(ctx, msg.Recipient, msg.Body)
}
