// This file declares the EntryRepo interface for knowledge-base entries.
package store

import (
	"context"
	"time"

	"github.com/BTreeMap/RelayNote/internal/models"
)

// EntryRepo persists knowledge-base entries.
type EntryRepo interface {
	// SaveEntry inserts e and returns its id. Saving a second entry for the
	// same SourceUpdateID returns the id of the existing one.
	SaveEntry(ctx context.Context, e models.Entry) (int64, error)

	// ListEntriesSince returns entries created at or after since, oldest first.
	ListEntriesSince(ctx context.Context, since time.Time) ([]models.Entry, error)
}
