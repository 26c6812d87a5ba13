package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/RelayNote/internal/models"
)

type tgUpdate struct {
	UpdateID      int64            `json:"update_id"`
	Message       *tgMessage       `json:"message"`
	CallbackQuery *tgCallbackQuery `json:"callback_query"`
	InlineQuery   *tgInlineQuery   `json:"inline_query"`
}

type tgMessage struct {
	MessageID    int64       `json:"message_id"`
	From         *tgUser     `json:"from"`
	Chat         tgChat      `json:"chat"`
	Date         int64       `json:"date"`
	Text         string      `json:"text"`
	Caption      string      `json:"caption"`
	MediaGroupID string      `json:"media_group_id"`
	Photo        []tgPhoto   `json:"photo"`
	Document     *tgDocument `json:"document"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
	IsBot     bool   `json:"is_bot"`
}

type tgChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type tgPhoto struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size"`
}

type tgDocument struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

type tgCallbackQuery struct {
	ID      string     `json:"id"`
	From    tgUser     `json:"from"`
	Message *tgMessage `json:"message"`
	Data    string     `json:"data"`
}

type tgInlineQuery struct {
	ID    string `json:"id"`
	From  tgUser `json:"from"`
	Query string `json:"query"`
}

// GetUpdates fetches up to limit pending updates. A nil offset means no
// lower bound. timeout > 0 turns the call into a long poll.
func (c *Client) GetUpdates(ctx context.Context, offset *int64, limit int, timeout time.Duration) ([]models.Update, error) {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()

	payload := map[string]any{
		"limit":           limit,
		"timeout":         int(timeout / time.Second),
		"allowed_updates": AllowedUpdates,
	}
	if offset != nil {
		payload["offset"] = *offset
	}
	data, err := c.apiCall(ctx, "getUpdates", payload)
	if err != nil {
		return nil, err
	}
	var raw []tgUpdate
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("telegram: parsing updates: %w", err)
	}

	updates := make([]models.Update, 0, len(raw))
	for _, u := range raw {
		converted, ok := convertUpdate(u)
		if !ok {
			slog.Warn("telegram.GetUpdates: skipping update with unsupported payload", "updateID", u.UpdateID)
			continue
		}
		updates = append(updates, converted)
	}
	return updates, nil
}

func convertUpdate(u tgUpdate) (models.Update, bool) {
	switch {
	case u.Message != nil:
		return models.NewMessageUpdate(u.UpdateID, convertMessage(u.Message)), true
	case u.CallbackQuery != nil:
		q := &models.CallbackQuery{
			ID:   u.CallbackQuery.ID,
			From: convertUser(u.CallbackQuery.From),
			Data: u.CallbackQuery.Data,
		}
		if u.CallbackQuery.Message != nil {
			q.Message = convertMessage(u.CallbackQuery.Message)
		}
		return models.NewCallbackQueryUpdate(u.UpdateID, q), true
	case u.InlineQuery != nil:
		return models.NewInlineQueryUpdate(u.UpdateID, &models.InlineQuery{
			ID:    u.InlineQuery.ID,
			From:  convertUser(u.InlineQuery.From),
			Query: u.InlineQuery.Query,
		}), true
	default:
		return models.Update{ID: u.UpdateID}, false
	}
}

func convertMessage(m *tgMessage) *models.Message {
	out := &models.Message{
		ID:           m.MessageID,
		ChatID:       m.Chat.ID,
		Date:         time.Unix(m.Date, 0).UTC(),
		Text:         m.Text,
		Caption:      m.Caption,
		MediaGroupID: m.MediaGroupID,
	}
	if m.From != nil {
		u := convertUser(*m.From)
		out.From = &u
	}
	for _, p := range m.Photo {
		out.Photo = append(out.Photo, models.PhotoSize{FileID: p.FileID, Width: p.Width, Height: p.Height, FileSize: p.FileSize})
	}
	if m.Document != nil {
		out.Document = &models.Document{
			FileID:   m.Document.FileID,
			FileName: m.Document.FileName,
			MimeType: m.Document.MimeType,
			FileSize: m.Document.FileSize,
		}
	}
	return out
}

func convertUser(u tgUser) models.User {
	return models.User{ID: u.ID, Username: u.Username, FirstName: u.FirstName}
}
