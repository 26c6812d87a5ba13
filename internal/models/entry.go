package models

import (
	"strings"
	"time"
)

// EntryKind classifies a stored knowledge-base entry.
type EntryKind string

const (
	// EntryKindNote is plain text.
	EntryKindNote EntryKind = "note"
	// EntryKindLink is a message made of a single URL.
	EntryKindLink EntryKind = "link"
	// EntryKindDocument is a file attachment.
	EntryKindDocument EntryKind = "document"
	// EntryKindAlbum is a media group saved as one entry.
	EntryKindAlbum EntryKind = "album"
	// EntryKindTodo is a message tagged #todo.
	EntryKindTodo EntryKind = "todo"
)

// PredefinedTags is the closed set of categories the analyzer may assign.
var PredefinedTags = []string{
	"tools", "academic", "knowledge", "mental",
	"technology", "math", "management", "culture",
	"life", "work", "reading", "writing", "health",
	"exercise", "entertainment", "travel", "social",
	"relationship", "spiritual", "others",
}

// IsPredefinedTag reports whether tag is one of PredefinedTags (case-insensitive).
func IsPredefinedTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, t := range PredefinedTags {
		if t == tag {
			return true
		}
	}
	return false
}

// Entry is one saved item in the knowledge base.
type Entry struct {
	ID             int64     `json:"id"`
	ChatID         int64     `json:"chat_id"`
	SourceUpdateID int64     `json:"source_update_id"`
	Kind           EntryKind `json:"kind"`
	Content        string    `json:"content"`
	Summary        string    `json:"summary,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	URL            string    `json:"url,omitempty"`
	PhotoCount     int       `json:"photo_count,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Analysis is the enrichment result for a piece of content.
type Analysis struct {
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}
