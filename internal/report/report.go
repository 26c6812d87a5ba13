// Package report builds the weekly knowledge-base digest.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BTreeMap/RelayNote/internal/models"
)

// DefaultWindow is the period a weekly report covers.
const DefaultWindow = 7 * 24 * time.Hour

// ErrNoEntries is returned by Build when nothing was saved in the window.
var ErrNoEntries = errors.New("no entries in report window")

// maxListed bounds the plain listing used when no summarizer is configured.
const maxListed = 20

// EntryLister reads saved entries. store.EntryRepo implements it.
type EntryLister interface {
	ListEntriesSince(ctx context.Context, since time.Time) ([]models.Entry, error)
}

// Summarizer writes the digest body. *genai.Client implements it.
type Summarizer interface {
	WeeklySummary(ctx context.Context, entries []models.Entry) (string, error)
}

// Notifier delivers the finished report. *messaging.Notifier implements it.
type Notifier interface {
	NotifyKeyed(ctx context.Context, key, text string) error
}

// Option configures a Job.
type Option func(*Job)

// WithSummarizer enables generated digests.
func WithSummarizer(s Summarizer) Option {
	return func(j *Job) { j.summarizer = s }
}

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(j *Job) {
		if d > 0 {
			j.window = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(j *Job) { j.now = now }
}

// Job builds and sends the weekly report.
type Job struct {
	entries    EntryLister
	notifier   Notifier
	summarizer Summarizer
	window     time.Duration
	now        func() time.Time
}

// NewJob creates a weekly report job.
func NewJob(entries EntryLister, notifier Notifier, opts ...Option) *Job {
	j := &Job{
		entries:  entries,
		notifier: notifier,
		window:   DefaultWindow,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Build returns the report text for the window ending now.
func (j *Job) Build(ctx context.Context) (string, error) {
	now := j.now()
	since := now.Add(-j.window)
	entries, err := j.entries.ListEntriesSince(ctx, since)
	if err != nil {
		return "", fmt.Errorf("list entries: %w", err)
	}
	if len(entries) == 0 {
		return "", ErrNoEntries
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Weekly report: %s to %s\n", since.Format("2006-01-02"), now.Format("2006-01-02"))
	b.WriteString(stats(entries))
	b.WriteString("\n")

	body := ""
	if j.summarizer != nil {
		body, err = j.summarizer.WeeklySummary(ctx, entries)
		if err != nil {
			slog.Warn("Job.Build: summary failed, using plain listing", "error", err)
			body = ""
		}
	}
	if body == "" {
		body = listing(entries)
	}
	b.WriteString(body)
	return b.String(), nil
}

// Run builds the report and queues it for every recipient. An empty week
// produces a short notice instead.
func (j *Job) Run(ctx context.Context) error {
	year, week := j.now().ISOWeek()
	key := fmt.Sprintf("weekly:%d-%02d", year, week)

	text, err := j.Build(ctx)
	switch {
	case errors.Is(err, ErrNoEntries):
		slog.Info("Job.Run: no entries this week")
		text = "Nothing was saved this week, so there is no weekly report."
	case err != nil:
		slog.Error("Job.Run: building report failed", "error", err)
		return err
	}

	if err := j.notifier.NotifyKeyed(ctx, key, text); err != nil {
		return fmt.Errorf("queue weekly report: %w", err)
	}
	slog.Info("Job.Run: weekly report queued", "key", key)
	return nil
}

// stats summarizes entry kinds and the most used tags.
func stats(entries []models.Entry) string {
	kinds := make(map[models.EntryKind]int)
	tags := make(map[string]int)
	for _, e := range entries {
		kinds[e.Kind]++
		for _, t := range e.Tags {
			tags[t]++
		}
	}

	var kindParts []string
	for _, k := range []models.EntryKind{models.EntryKindNote, models.EntryKindLink, models.EntryKindDocument, models.EntryKindAlbum, models.EntryKindTodo} {
		if n := kinds[k]; n > 0 {
			kindParts = append(kindParts, fmt.Sprintf("%d %s", n, k))
		}
	}

	type tagCount struct {
		tag string
		n   int
	}
	var counts []tagCount
	for t, n := range tags {
		counts = append(counts, tagCount{t, n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].n != counts[j].n {
			return counts[i].n > counts[j].n
		}
		return counts[i].tag < counts[j].tag
	})
	if len(counts) > 5 {
		counts = counts[:5]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d entries (%s)\n", len(entries), strings.Join(kindParts, ", "))
	if len(counts) > 0 {
		parts := make([]string, len(counts))
		for i, c := range counts {
			parts[i] = fmt.Sprintf("#%s (%d)", c.tag, c.n)
		}
		fmt.Fprintf(&b, "Top tags: %s\n", strings.Join(parts, " "))
	}
	return b.String()
}

func listing(entries []models.Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i == maxListed {
			fmt.Fprintf(&b, "... and %d more\n", len(entries)-maxListed)
			break
		}
		line := e.Summary
		if line == "" {
			line = e.Content
		}
		if r := []rune(line); len(r) > 120 {
			line = string(r[:120]) + "..."
		}
		fmt.Fprintf(&b, "- %s\n", strings.ReplaceAll(line, "\n", " "))
	}
	return b.String()
}
