// Package models defines the core data structures for RelayNote.
//
// It includes the upstream update envelope, its per-kind payloads and the
// knowledge-base entry types shared across modules.
package models

import (
	"errors"
	"time"
)

// UpdateKind identifies which payload an Update carries.
type UpdateKind string

const (
	// UpdateKindMessage is a new incoming chat message.
	UpdateKindMessage UpdateKind = "message"
	// UpdateKindCallbackQuery is a press on an inline keyboard button.
	UpdateKindCallbackQuery UpdateKind = "callback_query"
	// UpdateKindInlineQuery is an inline-mode query typed by a user.
	UpdateKindInlineQuery UpdateKind = "inline_query"
)

// Error variables for envelope validation
var (
	ErrInvalidUpdateKind = errors.New("invalid update kind")
	ErrMissingPayload    = errors.New("update payload does not match its kind")
	ErrInvalidUpdateID   = errors.New("update id must be positive")
)

// IsValidUpdateKind checks if the given kind is one of the supported variants.
func IsValidUpdateKind(k UpdateKind) bool {
	switch k {
	case UpdateKindMessage, UpdateKindCallbackQuery, UpdateKindInlineQuery:
		return true
	default:
		return false
	}
}

// User is the sender of an update.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// PhotoSize is one resolution of an attached photo.
type PhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size,omitempty"`
}

// Document is a generic file attachment.
type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// Message is the payload of an UpdateKindMessage update.
type Message struct {
	ID           int64       `json:"message_id"`
	ChatID       int64       `json:"chat_id"`
	From         *User       `json:"from,omitempty"`
	Date         time.Time   `json:"date"`
	Text         string      `json:"text,omitempty"`
	Caption      string      `json:"caption,omitempty"`
	MediaGroupID string      `json:"media_group_id,omitempty"`
	Photo        []PhotoSize `json:"photo,omitempty"`
	Document     *Document   `json:"document,omitempty"`
}

// Body returns the text of the message, falling back to the media caption.
func (m *Message) Body() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// CallbackQuery is the payload of an UpdateKindCallbackQuery update.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Data    string   `json:"data,omitempty"`
	Message *Message `json:"message,omitempty"` // message the keyboard was attached to
}

// InlineQuery is the payload of an UpdateKindInlineQuery update.
type InlineQuery struct {
	ID    string `json:"id"`
	From  User   `json:"from"`
	Query string `json:"query"`
}

// Update is the envelope for every event received from upstream.
// Exactly one payload pointer is set and it must match Kind.
type Update struct {
	ID            int64          `json:"update_id"`
	Kind          UpdateKind     `json:"kind"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
	InlineQuery   *InlineQuery   `json:"inline_query,omitempty"`
}

// NewMessageUpdate wraps a message into an update envelope.
func NewMessageUpdate(id int64, m *Message) Update {
	return Update{ID: id, Kind: UpdateKindMessage, Message: m}
}

// NewCallbackQueryUpdate wraps a callback query into an update envelope.
func NewCallbackQueryUpdate(id int64, q *CallbackQuery) Update {
	return Update{ID: id, Kind: UpdateKindCallbackQuery, CallbackQuery: q}
}

// NewInlineQueryUpdate wraps an inline query into an update envelope.
func NewInlineQueryUpdate(id int64, q *InlineQuery) Update {
	return Update{ID: id, Kind: UpdateKindInlineQuery, InlineQuery: q}
}

// Validate checks that the envelope is well formed.
func (u *Update) Validate() error {
	if u.ID <= 0 {
		return ErrInvalidUpdateID
	}
	if !IsValidUpdateKind(u.Kind) {
		return ErrInvalidUpdateKind
	}
	switch u.Kind {
	case UpdateKindMessage:
		if u.Message == nil || u.CallbackQuery != nil || u.InlineQuery != nil {
			return ErrMissingPayload
		}
	case UpdateKindCallbackQuery:
		if u.CallbackQuery == nil || u.Message != nil || u.InlineQuery != nil {
			return ErrMissingPayload
		}
	case UpdateKindInlineQuery:
		if u.InlineQuery == nil || u.Message != nil || u.CallbackQuery != nil {
			return ErrMissingPayload
		}
	}
	return nil
}

// sourceMessage returns the chat message an update refers to, if any.
func (u *Update) sourceMessage() *Message {
	switch u.Kind {
	case UpdateKindMessage:
		return u.Message
	case UpdateKindCallbackQuery:
		if u.CallbackQuery != nil {
			return u.CallbackQuery.Message
		}
	}
	return nil
}

// ChatID returns the chat the update belongs to, or 0 when it has none
// (inline queries, callback queries on inline messages).
func (u *Update) ChatID() int64 {
	if m := u.sourceMessage(); m != nil {
		return m.ChatID
	}
	return 0
}

// MessageID returns the chat message id the update refers to, or 0.
func (u *Update) MessageID() int64 {
	if m := u.sourceMessage(); m != nil {
		return m.ID
	}
	return 0
}

// MediaGroupID returns the album identifier of a message update.
func (u *Update) MediaGroupID() string {
	if u.Kind == UpdateKindMessage && u.Message != nil {
		return u.Message.MediaGroupID
	}
	return ""
}

// SenderID returns the id of the user who caused the update, or 0.
func (u *Update) SenderID() int64 {
	switch u.Kind {
	case UpdateKindMessage:
		if u.Message != nil && u.Message.From != nil {
			return u.Message.From.ID
		}
	case UpdateKindCallbackQuery:
		if u.CallbackQuery != nil {
			return u.CallbackQuery.From.ID
		}
	case UpdateKindInlineQuery:
		if u.InlineQuery != nil {
			return u.InlineQuery.From.ID
		}
	}
	return 0
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
