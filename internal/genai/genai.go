// Package genai provides GenAI-enhanced operations using OpenAI API.
//
// It is optional: when no API key is configured RelayNote stores entries
// without a summary and falls back to plain weekly reports.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/RelayNote/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default configuration values
const (
	DefaultModel               = "gpt-4o-mini"
	DefaultTemperature         = 0.2
	DefaultMaxCompletionTokens = 800
	// maxAnalyzeInput bounds how much of a message is sent for analysis.
	maxAnalyzeInput = 8000
)

// Error variables
var (
	ErrNoChoicesReturned = errors.New("no choices returned")
	ErrMissingAPIKey     = errors.New("OPENAI_API_KEY not set")
	ErrEmptyContent      = errors.New("content is empty")
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openAIChat adapts the SDK client to chatService.
type openAIChat struct {
	client openai.Client
}

func (o *openAIChat) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey              string
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Option defines a function that modifies GenAI client Opts.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxCompletionTokens caps the length of each completion.
func WithMaxCompletionTokens(n int64) Option {
	return func(o *Opts) { o.MaxCompletionTokens = n }
}

// Client wraps the OpenAI ChatCompletion service for content analysis.
type Client struct {
	chat                chatService
	model               string
	temperature         float64
	maxCompletionTokens int64
}

// NewClient initializes a new GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:               DefaultModel,
		Temperature:         DefaultTemperature,
		MaxCompletionTokens: DefaultMaxCompletionTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	slog.Debug("genai.NewClient: client created", "model", cfg.Model, "temperature", cfg.Temperature)
	return &Client{
		chat:                &openAIChat{client: openai.NewClient(option.WithAPIKey(cfg.APIKey))},
		model:               cfg.Model,
		temperature:         cfg.Temperature,
		maxCompletionTokens: cfg.MaxCompletionTokens,
	}, nil
}

// GeneratePrompt generates a response based on the provided system and user prompts.
func (c *Client) GeneratePrompt(systemPrompt, userPrompt string) (string, error) {
	return c.Complete(context.Background(), systemPrompt, userPrompt)
}

// Complete runs a single system+user chat completion and returns the first choice.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxCompletionTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxCompletionTokens)
	}

	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("Client.Complete: chat completion failed", "model", c.model, "error", err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		slog.Warn("Client.Complete: empty completion", "model", c.model)
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

var analyzeSystemPrompt = fmt.Sprintf(`You organise a personal knowledge base.
Given a note, reply with a JSON object only, no prose and no code fences:
{"summary": "<one or two sentence summary in the note's language>", "tags": ["<tag>", ...]}
Pick one to three tags, only from this list: %s.`, strings.Join(models.PredefinedTags, ", "))

// Analyze summarises content and assigns predefined tags. A reply that is
// not valid JSON is kept as the summary with the "others" tag.
func (c *Client) Analyze(ctx context.Context, content string) (models.Analysis, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Analysis{}, ErrEmptyContent
	}
	if len(content) > maxAnalyzeInput {
		content = content[:maxAnalyzeInput]
	}

	raw, err := c.Complete(ctx, analyzeSystemPrompt, content)
	if err != nil {
		return models.Analysis{}, fmt.Errorf("analyze: %w", err)
	}
	return parseAnalysis(raw), nil
}

// parseAnalysis decodes a model reply, tolerating markdown fences and
// dropping tags outside the predefined set.
func parseAnalysis(raw string) models.Analysis {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var decoded struct {
		Summary string   `json:"summary"`
		Tags    []string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		slog.Warn("genai.parseAnalysis: reply is not JSON, using raw text", "error", err)
		return models.Analysis{Summary: text, Tags: []string{"others"}}
	}

	seen := make(map[string]bool)
	var tags []string
	for _, t := range decoded.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if !models.IsPredefinedTag(t) || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	if len(tags) == 0 {
		tags = []string{"others"}
	}
	return models.Analysis{Summary: strings.TrimSpace(decoded.Summary), Tags: tags}
}

const weeklySystemPrompt = `You write a short weekly digest of a personal knowledge base.
Group related items, highlight recurring themes and open todos, and keep it under 250 words.
Reply in plain text suitable for a chat message.`

// WeeklySummary produces a digest of the given entries.
func (c *Client) WeeklySummary(ctx context.Context, entries []models.Entry) (string, error) {
	if len(entries) == 0 {
		return "", ErrEmptyContent
	}
	var b strings.Builder
	for _, e := range entries {
		line := e.Summary
		if line == "" {
			line = e.Content
		}
		if len(line) > 300 {
			line = line[:300]
		}
		fmt.Fprintf(&b, "- [%s] %s", e.Kind, line)
		if len(e.Tags) > 0 {
			fmt.Fprintf(&b, " (#%s)", strings.Join(e.Tags, " #"))
		}
		b.WriteByte('\n')
	}
	out, err := c.Complete(ctx, weeklySystemPrompt, b.String())
	if err != nil {
		return "", fmt.Errorf("weekly summary: %w", err)
	}
	return strings.TrimSpace(out), nil
}
