package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/RelayNote/internal/models"
)

// fakeBotAPI serves canned responses keyed by method name and records request bodies.
type fakeBotAPI struct {
	responses map[string]string
	requests  map[string][]map[string]any
}

func newFakeBotAPI(t *testing.T, responses map[string]string) (*fakeBotAPI, *Client) {
	t.Helper()
	f := &fakeBotAPI{responses: responses, requests: make(map[string][]map[string]any)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/bottest-token/") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		method := strings.TrimPrefix(r.URL.Path, "/bottest-token/")
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		json.Unmarshal(body, &payload)
		f.requests[method] = append(f.requests[method], payload)
		resp, ok := f.responses[method]
		if !ok {
			resp = `{"ok":false,"error_code":404,"description":"Not Found"}`
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(WithToken("test-token"), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return f, c
}

func TestNewClient_RequiresToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestClient_GetMe(t *testing.T) {
	_, c := newFakeBotAPI(t, map[string]string{
		"getMe": `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"Relay","username":"relay_bot"}}`,
	})
	me, err := c.GetMe(context.Background())
	if err != nil {
		t.Fatalf("GetMe failed: %v", err)
	}
	if me.ID != 42 || me.Username != "relay_bot" {
		t.Errorf("unexpected bot user: %+v", me)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestClient_APIError(t *testing.T) {
	_, c := newFakeBotAPI(t, map[string]string{
		"sendMessage": `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":3}}`,
	})
	err := c.SendMessage(context.Background(), 1, "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Code != 429 || apiErr.RetryAfter != 3*time.Second {
		t.Errorf("unexpected APIError: %+v", apiErr)
	}
}

func TestClient_GetUpdatesConvertsVariants(t *testing.T) {
	f, c := newFakeBotAPI(t, map[string]string{
		"getUpdates": `{"ok":true,"result":[
			{"update_id":10,"message":{"message_id":5,"chat":{"id":900,"type":"private"},"from":{"id":7,"first_name":"A"},
				"date":1700000000,"caption":"album","media_group_id":"g1","photo":[{"file_id":"p1","width":90,"height":90}]}},
			{"update_id":11,"callback_query":{"id":"cb","from":{"id":7},"data":"yes","message":{"message_id":6,"chat":{"id":900}}}},
			{"update_id":12,"inline_query":{"id":"iq","from":{"id":8},"query":"find"}},
			{"update_id":13,"poll":{"id":"x"}}
		]}`,
	})

	offset := int64(10)
	updates, err := c.GetUpdates(context.Background(), &offset, 100, 0)
	if err != nil {
		t.Fatalf("GetUpdates failed: %v", err)
	}
	if len(updates) != 3 {
		t.Fatalf("expected 3 supported updates, got %d", len(updates))
	}

	msg := updates[0]
	if msg.Kind != models.UpdateKindMessage || msg.MediaGroupID() != "g1" || msg.ChatID() != 900 || msg.Message.Body() != "album" {
		t.Errorf("unexpected message update: %+v", msg)
	}
	if len(msg.Message.Photo) != 1 || msg.Message.Date.Unix() != 1700000000 {
		t.Errorf("photo or date not converted: %+v", msg.Message)
	}
	if updates[1].Kind != models.UpdateKindCallbackQuery || updates[1].MessageID() != 6 {
		t.Errorf("unexpected callback update: %+v", updates[1])
	}
	if updates[2].Kind != models.UpdateKindInlineQuery || updates[2].InlineQuery.Query != "find" {
		t.Errorf("unexpected inline update: %+v", updates[2])
	}

	req := f.requests["getUpdates"][0]
	if req["offset"].(float64) != 10 || req["limit"].(float64) != 100 {
		t.Errorf("unexpected getUpdates payload: %v", req)
	}
}

func TestClient_GetUpdatesWithoutOffset(t *testing.T) {
	f, c := newFakeBotAPI(t, map[string]string{"getUpdates": `{"ok":true,"result":[]}`})
	if _, err := c.GetUpdates(context.Background(), nil, 100, 0); err != nil {
		t.Fatalf("GetUpdates failed: %v", err)
	}
	if _, ok := f.requests["getUpdates"][0]["offset"]; ok {
		t.Error("offset must be omitted when no lower bound is requested")
	}
}
