// Package telegram talks to the Telegram Bot API over plain HTTPS.
//
// It covers the small surface RelayNote needs: the getMe liveness check,
// getUpdates for backlog and live polling, and sendMessage for replies and
// notifications. Wire objects are converted into models.Update at the edge.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// AllowedUpdates are the update types requested from upstream. They map
// one-to-one onto models.UpdateKind.
var AllowedUpdates = []string{"message", "callback_query", "inline_query"}

// Opts holds configuration options for the Bot API client.
type Opts struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

// Option defines a configuration option for the Bot API client.
type Option func(*Opts)

// WithToken sets the bot token issued by BotFather.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithBaseURL overrides the API endpoint (tests, local Bot API servers).
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// APIError is a non-ok response from the Bot API.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram: %s: %d %s (retry after %s)", e.Method, e.Code, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram: %s: %d %s", e.Method, e.Code, e.Description)
}

// BotUser is the identity returned by getMe.
type BotUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// Client is a minimal Bot API client. getUpdates calls are serialized since
// upstream rejects concurrent long polls on the same token.
type Client struct {
	baseURL string
	http    *http.Client
	pollMu  sync.Mutex
}

// NewClient creates a Bot API client. The token falls back to the
// TELEGRAM_BOT_TOKEN environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	slog.Debug("telegram.NewClient: config loaded", "Token_set", cfg.Token != "", "baseURL", cfg.BaseURL)
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token must be provided")
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/") + "/bot" + cfg.Token,
		http:    cfg.HTTPClient,
	}, nil
}

func (c *Client) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		ErrorCode   int             `json:"error_code"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
		Parameters  *struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response (HTTP %d): %w", method, resp.StatusCode, err)
	}
	if !result.OK {
		apiErr := &APIError{Method: method, Code: result.ErrorCode, Description: result.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		if result.Parameters != nil {
			apiErr.RetryAfter = time.Duration(result.Parameters.RetryAfter) * time.Second
		}
		return nil, apiErr
	}
	return result.Result, nil
}

// GetMe returns the bot identity. It doubles as the upstream liveness check.
func (c *Client) GetMe(ctx context.Context) (*BotUser, error) {
	data, err := c.apiCall(ctx, "getMe", map[string]any{})
	if err != nil {
		return nil, err
	}
	var me BotUser
	if err := json.Unmarshal(data, &me); err != nil {
		return nil, fmt.Errorf("telegram: parsing getMe: %w", err)
	}
	return &me, nil
}

// Ping checks upstream liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.GetMe(ctx)
	return err
}

// SendMessage sends a plain-text message to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := c.apiCall(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		slog.Error("telegram.SendMessage: failed", "chatID", chatID, "error", err)
		return err
	}
	slog.Debug("telegram.SendMessage: sent", "chatID", chatID, "length", len(text))
	return nil
}

// AnswerCallbackQuery acknowledges an inline keyboard press.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	payload := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
	}
	_, err := c.apiCall(ctx, "answerCallbackQuery", payload)
	return err
}
