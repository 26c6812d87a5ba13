package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/BTreeMap/RelayNote/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// scanEntry scans a models.Entry from sql.Rows.
func scanEntry(rows *sql.Rows) (models.Entry, error) {
	var e models.Entry
	var kind string
	var summary, tags, url sql.NullString
	err := rows.Scan(
		&e.ID, &e.ChatID, &e.SourceUpdateID, &kind, &e.Content, &summary, &tags, &url, &e.PhotoCount, &e.CreatedAt,
	)
	if err != nil {
		return e, fmt.Errorf("scan entry failed: %w", err)
	}
	e.Kind = models.EntryKind(kind)
	e.Summary = summary.String
	e.Tags = splitTags(tags.String)
	e.URL = url.String
	return e, nil
}

// scanOutboxMessage scans an OutboxMessage from sql.Rows.
func scanOutboxMessage(rows *sql.Rows) (OutboxMessage, error) {
	var m OutboxMessage
	var channel, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := rows.Scan(
		&m.ID, &m.Recipient, &channel, &m.Body, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.Channel = OutboxChannel(channel.String)
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}
