// Package messaging turns Telegram updates into knowledge-base entries and
// delivers outgoing notifications.
//
// The Router owns the handler table shared by the live poller and the
// backlog drain, so both paths apply identical semantics and acknowledge
// updates through the same watermark.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/RelayNote/internal/mediagroup"
	"github.com/BTreeMap/RelayNote/internal/models"
	"github.com/BTreeMap/RelayNote/internal/queue"
	"github.com/BTreeMap/RelayNote/internal/store"
	"github.com/BTreeMap/RelayNote/internal/webpage"
)

// Acknowledger records handled updates. *queue.Processor implements it.
type Acknowledger interface {
	Acknowledge(ctx context.Context, u models.Update) error
	IsProcessed(ctx context.Context, updateID int64) bool
	Exclusive(fn func())
}

// PageFetcher downloads the readable text of a linked page. *webpage.Fetcher implements it.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (webpage.Page, error)
}

// Analyzer enriches content with a summary and tags. *genai.Client implements it.
type Analyzer interface {
	Analyze(ctx context.Context, content string) (models.Analysis, error)
}

// Replier is the part of the Telegram client the handlers talk back through.
type Replier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

// WeeklyReporter builds the weekly digest on demand for /weekly.
type WeeklyReporter interface {
	Build(ctx context.Context) (string, error)
}

// RouterOpts holds configuration for the Router.
type RouterOpts struct {
	AllowedUsers      []int64
	Analyzer          Analyzer
	Reporter          WeeklyReporter
	Pages             PageFetcher
	MediaGroupTimeout time.Duration
	Context           context.Context
}

// RouterOption modifies RouterOpts.
type RouterOption func(*RouterOpts)

// WithAllowedUsers restricts handling to the given user ids. An empty list
// allows everyone.
func WithAllowedUsers(ids []int64) RouterOption {
	return func(o *RouterOpts) { o.AllowedUsers = ids }
}

// WithAnalyzer enables enrichment of saved entries.
func WithAnalyzer(a Analyzer) RouterOption {
	return func(o *RouterOpts) { o.Analyzer = a }
}

// WithReporter enables the /weekly command.
func WithReporter(r WeeklyReporter) RouterOption {
	return func(o *RouterOpts) { o.Reporter = r }
}

// WithPageFetcher enables fetching linked pages so link entries are
// summarized from the page content.
func WithPageFetcher(f PageFetcher) RouterOption {
	return func(o *RouterOpts) { o.Pages = f }
}

// WithMediaGroupTimeout sets the album quiet period.
func WithMediaGroupTimeout(d time.Duration) RouterOption {
	return func(o *RouterOpts) { o.MediaGroupTimeout = d }
}

// WithRouterContext sets the context album flushes run under.
func WithRouterContext(ctx context.Context) RouterOption {
	return func(o *RouterOpts) { o.Context = ctx }
}

// Router dispatches updates to the per-kind handlers.
type Router struct {
	entries   store.EntryRepo
	replier   Replier
	analyzer  Analyzer
	reporter  WeeklyReporter
	pages     PageFetcher
	allowed   map[int64]bool
	collector *mediagroup.Collector
	table     queue.HandlerTable

	mu  sync.RWMutex
	ack Acknowledger
}

// NewRouter creates a Router and its media-group collector.
func NewRouter(entries store.EntryRepo, replier Replier, opts ...RouterOption) *Router {
	cfg := RouterOpts{
		MediaGroupTimeout: mediagroup.DefaultTimeout,
		Context:           context.Background(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Router{
		entries:  entries,
		replier:  replier,
		analyzer: cfg.Analyzer,
		reporter: cfg.Reporter,
		pages:    cfg.Pages,
		allowed:  make(map[int64]bool),
	}
	for _, id := range cfg.AllowedUsers {
		r.allowed[id] = true
	}
	if len(r.allowed) == 0 {
		slog.Warn("NewRouter: no allowed users configured, accepting updates from everyone")
	}

	r.collector = mediagroup.NewCollector(r.flushAlbum,
		mediagroup.WithTimeout(cfg.MediaGroupTimeout),
		mediagroup.WithContext(cfg.Context))
	r.table = queue.HandlerTable{
		models.UpdateKindMessage:       r.handleMessage,
		models.UpdateKindCallbackQuery: r.handleCallbackQuery,
	}
	return r
}

// Handlers returns the table used by both the drain and the live path.
// Inline queries have no handler.
func (r *Router) Handlers() queue.HandlerTable { return r.table }

// Collector returns the album collector.
func (r *Router) Collector() *mediagroup.Collector { return r.collector }

// SetAcknowledger attaches the watermark owner. It must be called before
// the live poller starts.
func (r *Router) SetAcknowledger(a Acknowledger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ack = a
}

func (r *Router) acknowledger() Acknowledger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ack
}

// HandleLive processes one update from the live poller. It has the
// signature of telegram.UpdateHandler. Live handling waits for a running
// drain so the same update is never dispatched by both at once.
func (r *Router) HandleLive(ctx context.Context, u models.Update) {
	if err := u.Validate(); err != nil {
		slog.Warn("Router.HandleLive: dropping malformed update", "updateID", u.ID, "error", err)
		return
	}
	ack := r.acknowledger()
	if ack == nil {
		r.handleLive(ctx, u, nil)
		return
	}
	ack.Exclusive(func() { r.handleLive(ctx, u, ack) })
}

func (r *Router) handleLive(ctx context.Context, u models.Update, ack Acknowledger) {
	if ack != nil && ack.IsProcessed(ctx, u.ID) {
		slog.Debug("Router.HandleLive: already processed", "updateID", u.ID)
		return
	}

	// Album members are acknowledged when the whole group is flushed.
	if r.collector.Add(u) {
		return
	}

	err := r.table.Dispatch(ctx, u)
	switch {
	case errors.Is(err, queue.ErrDeferred):
		return
	case err != nil:
		slog.Error("Router.HandleLive: handler failed", "updateID", u.ID, "kind", u.Kind,
			"retryable", queue.IsRetryable(err), "error", err)
		return
	}
	if ack == nil {
		return
	}
	if err := ack.Acknowledge(ctx, u); err != nil {
		slog.Error("Router.HandleLive: acknowledge failed", "updateID", u.ID, "error", err)
	}
}

func (r *Router) isAllowed(userID int64) bool {
	return len(r.allowed) == 0 || r.allowed[userID]
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	if r.replier == nil || chatID == 0 {
		return
	}
	if err := r.replier.SendMessage(ctx, chatID, text); err != nil {
		slog.Warn("Router.reply failed", "chatID", chatID, "error", err)
	}
}

// handleMessage is the handler for UpdateKindMessage.
func (r *Router) handleMessage(ctx context.Context, u models.Update) error {
	m := u.Message
	if m == nil {
		return models.ErrMissingPayload
	}
	// During a drain albums reach the table directly. Buffer them and let
	// the flush acknowledge them once the album is saved.
	if r.collector.Add(u) {
		return queue.ErrDeferred
	}

	text := m.Body()
	if cmd, ok := ParseCommand(text); ok {
		return r.handleCommand(ctx, u, cmd)
	}
	if !r.isAllowed(u.SenderID()) {
		slog.Warn("Router.handleMessage: ignoring unauthorized sender", "updateID", u.ID, "userID", u.SenderID())
		return nil
	}

	hashtags := ExtractHashtags(text)
	if containsTag(hashtags, "test") {
		r.reply(ctx, m.ChatID, text)
		return nil
	}
	if len(m.Photo) > 0 && text == "" {
		r.reply(ctx, m.ChatID, "Received a photo without a caption. Add a caption and send it again, or send the text on its own.")
		return nil
	}

	if strings.TrimSpace(text) == "" && m.Document == nil {
		slog.Debug("Router.handleMessage: nothing to save", "updateID", u.ID)
		return nil
	}
	return r.save(ctx, m.ChatID, r.buildEntry(ctx, u, hashtags))
}

// buildEntry classifies a single message and enriches it.
func (r *Router) buildEntry(ctx context.Context, u models.Update, hashtags []string) models.Entry {
	m := u.Message
	text := m.Body()
	cleaned := RemoveHashtags(text)
	forAnalysis := cleaned
	if len([]rune(strings.TrimSpace(cleaned))) < 10 {
		forAnalysis = text
	}

	entry := models.Entry{
		ChatID:         m.ChatID,
		SourceUpdateID: u.ID,
		Kind:           models.EntryKindNote,
		Content:        text,
		CreatedAt:      m.Date,
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if len(m.Photo) > 0 {
		entry.Content = "[from a photo message] " + text
		entry.PhotoCount = 1
	}
	if m.Document != nil {
		entry.Kind = models.EntryKindDocument
		if entry.Content == "" {
			entry.Content = m.Document.FileName
		}
		if entry.Content == "" {
			entry.Content = "[document]"
		}
		forAnalysis = entry.Content
	}

	userTags := withoutTags(hashtags, "todo", "test")
	urls := ExtractURLs(text)
	if len(urls) > 0 {
		entry.URL = urls[0]
	}

	switch {
	case containsTag(hashtags, "todo"):
		entry.Kind = models.EntryKindTodo
		entry.Summary = cleaned
		entry.Tags = userTags
		return entry
	case entry.Kind == models.EntryKindNote && len(urls) == 1 && IsURLOnly(cleaned):
		entry.Kind = models.EntryKindLink
		entry.Summary = urls[0]
		entry.Tags = userTags
		r.enrichLink(ctx, &entry)
		return entry
	}

	analysis := r.analyze(ctx, forAnalysis)
	entry.Tags = MergeTags(userTags, analysis.Tags)
	if len([]rune(forAnalysis)) < shortContentLimit || analysis.Summary == "" {
		entry.Summary = cleaned
		if entry.Summary == "" {
			entry.Summary = entry.Content
		}
	} else {
		entry.Summary = analysis.Summary
	}
	return entry
}

// enrichLink replaces a bare link with the linked page's text and, when
// enrichment is configured, summarizes that text. A page that cannot be
// fetched leaves the entry as a plain link.
func (r *Router) enrichLink(ctx context.Context, entry *models.Entry) {
	if r.pages == nil {
		return
	}
	page, err := r.pages.Fetch(ctx, entry.URL)
	if err != nil {
		slog.Warn("Router.enrichLink: page fetch failed, saving the bare link", "url", entry.URL, "error", err)
		return
	}
	entry.Content = entry.URL + "\n\n" + page.Markdown()
	if page.Title != "" {
		entry.Summary = page.Title
	}
	a := r.analyze(ctx, page.Markdown())
	entry.Tags = MergeTags(entry.Tags, a.Tags)
	if a.Summary != "" {
		entry.Summary = a.Summary
	}
}

// analyze runs enrichment when configured. Failures fall back to no analysis.
func (r *Router) analyze(ctx context.Context, content string) models.Analysis {
	if r.analyzer == nil || strings.TrimSpace(content) == "" {
		return models.Analysis{}
	}
	a, err := r.analyzer.Analyze(ctx, content)
	if err != nil {
		slog.Warn("Router.analyze: enrichment failed, storing raw text", "error", err)
		return models.Analysis{}
	}
	return a
}

func (r *Router) save(ctx context.Context, chatID int64, entry models.Entry) error {
	id, err := r.entries.SaveEntry(ctx, entry)
	if err != nil {
		slog.Error("Router.save: SaveEntry failed", "updateID", entry.SourceUpdateID, "error", err)
		return queue.Retryable(fmt.Errorf("save entry: %w", err))
	}
	slog.Info("Router.save: entry saved", "entryID", id, "updateID", entry.SourceUpdateID, "kind", entry.Kind, "tags", len(entry.Tags))
	r.reply(ctx, chatID, savedReply(entry))
	return nil
}

func savedReply(e models.Entry) string {
	var b strings.Builder
	switch e.Kind {
	case models.EntryKindTodo:
		b.WriteString("Added to todos")
	case models.EntryKindLink:
		b.WriteString("Link saved")
	case models.EntryKindAlbum:
		fmt.Fprintf(&b, "Album saved (%d photos)", e.PhotoCount)
	default:
		b.WriteString("Saved")
	}
	if len(e.Tags) > 0 {
		fmt.Fprintf(&b, " with %d tags: #%s", len(e.Tags), strings.Join(e.Tags, " #"))
	}
	return b.String()
}

const helpText = `Send any message, link or file and it is saved to your knowledge base.

- A message that is only a URL is saved as a link
- #todo adds the message to your todo list
- #test echoes the message back without saving
- Other #hashtags are kept and merged with generated tags
- Albums are saved as a single entry

Commands:
/start - show the welcome message
/help - show this help
/weekly - build this week's report now`

func (r *Router) handleCommand(ctx context.Context, u models.Update, cmd string) error {
	chatID := u.ChatID()
	if !r.isAllowed(u.SenderID()) {
		if cmd == "start" {
			r.reply(ctx, chatID, "Sorry, you are not allowed to use this bot.")
		}
		return nil
	}
	switch cmd {
	case "start":
		r.reply(ctx, chatID, "Welcome to RelayNote!\n\n"+helpText)
	case "help":
		r.reply(ctx, chatID, helpText)
	case "weekly":
		if r.reporter == nil {
			r.reply(ctx, chatID, "Weekly reports are not configured.")
			return nil
		}
		r.reply(ctx, chatID, "Building this week's report...")
		report, err := r.reporter.Build(ctx)
		if err != nil {
			slog.Error("Router.handleCommand: weekly report failed", "error", err)
			r.reply(ctx, chatID, "Could not build the weekly report: "+err.Error())
			return nil
		}
		r.reply(ctx, chatID, report)
	default:
		slog.Debug("Router.handleCommand: unknown command", "command", cmd)
		r.reply(ctx, chatID, "Unknown command. Try /help.")
	}
	return nil
}

// flushAlbum saves a completed media group as one entry and acknowledges
// every member update.
func (r *Router) flushAlbum(ctx context.Context, g mediagroup.Group) error {
	if len(g.Updates) == 0 {
		return nil
	}
	first := g.Updates[0]

	if r.isAllowed(g.Representative.SenderID()) {
		entry := albumEntry(g)
		if strings.TrimSpace(entry.Content) == "" {
			entry.Content = fmt.Sprintf("[album of %d photos]", entry.PhotoCount)
		}
		a := r.analyze(ctx, entry.Content)
		entry.Tags = MergeTags(entry.Tags, a.Tags)
		entry.Summary = a.Summary
		if entry.Summary == "" {
			entry.Summary = RemoveHashtags(entry.Content)
		}
		if err := r.save(ctx, first.ChatID(), entry); err != nil {
			return err
		}
	} else {
		slog.Warn("Router.flushAlbum: ignoring unauthorized sender", "groupID", g.ID, "userID", g.Representative.SenderID())
	}

	ack := r.acknowledger()
	if ack == nil {
		return nil
	}
	var errs []error
	for _, u := range g.Updates {
		if err := ack.Acknowledge(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// albumEntry joins the captions of a group in message order.
func albumEntry(g mediagroup.Group) models.Entry {
	first := g.Updates[0]
	var captions []string
	var hashtags []string
	photos := 0
	created := time.Time{}
	for _, m := range g.Messages() {
		if len(m.Photo) > 0 || m.Document != nil {
			photos++
		}
		if body := strings.TrimSpace(m.Body()); body != "" {
			captions = append(captions, body)
			hashtags = MergeTags(hashtags, ExtractHashtags(body))
		}
		if created.IsZero() || (!m.Date.IsZero() && m.Date.Before(created)) {
			created = m.Date
		}
	}
	if created.IsZero() {
		created = time.Now()
	}
	return models.Entry{
		ChatID:         first.ChatID(),
		SourceUpdateID: first.ID,
		Kind:           models.EntryKindAlbum,
		Content:        strings.Join(captions, "\n"),
		Tags:           withoutTags(hashtags, "todo", "test"),
		PhotoCount:     photos,
		CreatedAt:      created,
	}
}

// handleCallbackQuery acknowledges inline keyboard presses.
func (r *Router) handleCallbackQuery(ctx context.Context, u models.Update) error {
	q := u.CallbackQuery
	if q == nil {
		return models.ErrMissingPayload
	}
	slog.Info("Router.handleCallbackQuery", "updateID", u.ID, "userID", q.From.ID, "data", q.Data)
	if r.replier == nil {
		return nil
	}
	if err := r.replier.AnswerCallbackQuery(ctx, q.ID, ""); err != nil {
		return queue.Retryable(fmt.Errorf("answer callback query: %w", err))
	}
	return nil
}
