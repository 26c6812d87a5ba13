// Package testutil provides common test utilities and helpers for RelayNote tests.
package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/RelayNote/internal/models"
)

// FixedDate is the message date used by the update builders.
var FixedDate = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

// TextUpdate builds a private-chat text message update from userID.
// The message id is derived from the update id.
func TextUpdate(id, userID int64, text string) models.Update {
	return models.NewMessageUpdate(id, &models.Message{
		ID:     id * 10,
		ChatID: userID,
		From:   &models.User{ID: userID},
		Date:   FixedDate,
		Text:   text,
	})
}

// AlbumUpdate builds one photo of a media group.
func AlbumUpdate(id, messageID, userID int64, groupID, caption string) models.Update {
	return models.NewMessageUpdate(id, &models.Message{
		ID:           messageID,
		ChatID:       userID,
		From:         &models.User{ID: userID},
		Date:         FixedDate,
		Caption:      caption,
		MediaGroupID: groupID,
		Photo:        []models.PhotoSize{{FileID: "photo-" + groupID, Width: 800, Height: 600}},
	})
}

// Eventually polls cond until it holds or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, what)
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeAPIResponse decodes a models.APIResponse body, keeping the result raw.
func DecodeAPIResponse(t *testing.T, rr *httptest.ResponseRecorder) (status, message string, result json.RawMessage) {
	t.Helper()
	var body struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode JSON response %q: %v", rr.Body.String(), err)
	}
	return body.Status, body.Message, body.Result
}

// MustUnmarshalJSON unmarshals JSON data and fails the test if unmarshaling fails.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
