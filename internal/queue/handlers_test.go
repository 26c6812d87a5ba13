package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/RelayNote/internal/models"
)

func TestHandlerTable_Dispatch(t *testing.T) {
	errTransient := errors.New("timeout")
	errBad := errors.New("malformed")
	table := HandlerTable{
		models.UpdateKindMessage: func(ctx context.Context, u models.Update) error {
			switch u.ID {
			case 1:
				return nil
			case 2:
				return Retryable(errTransient)
			case 3:
				return errBad
			default:
				panic("boom")
			}
		},
	}
	ctx := context.Background()
	msg := func(id int64) models.Update { return models.NewMessageUpdate(id, &models.Message{ID: id}) }

	if err := table.Dispatch(ctx, msg(1)); err != nil {
		t.Errorf("expected success, got %v", err)
	}

	err := table.Dispatch(ctx, msg(2))
	var he *HandlerError
	if !errors.As(err, &he) || !he.Retryable || he.UpdateID != 2 || !errors.Is(err, errTransient) {
		t.Errorf("expected retryable HandlerError wrapping timeout, got %#v", err)
	}
	if !IsRetryable(err) {
		t.Error("IsRetryable should report true")
	}

	err = table.Dispatch(ctx, msg(3))
	if IsRetryable(err) || !errors.Is(err, errBad) {
		t.Errorf("expected permanent error wrapping errBad, got %v", err)
	}

	err = table.Dispatch(ctx, msg(4))
	if !errors.As(err, &he) || he.UpdateID != 4 {
		t.Errorf("expected panic converted to HandlerError, got %v", err)
	}

	err = table.Dispatch(ctx, models.NewInlineQueryUpdate(5, &models.InlineQuery{ID: "q"}))
	if !errors.Is(err, ErrNoHandler) {
		t.Errorf("expected ErrNoHandler, got %v", err)
	}
}

func TestRetryableNil(t *testing.T) {
	if Retryable(nil) != nil {
		t.Error("Retryable(nil) should be nil")
	}
}
