package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/BTreeMap/RelayNote/internal/models"
)

var (
	// ErrNoHandler is reported when no handler is registered for an update kind.
	ErrNoHandler = errors.New("no handler registered for update kind")
	// ErrDeferred is returned by a handler that accepted an update but will
	// finish it later, for example an album member waiting for its group.
	// The update is not acknowledged; whoever finishes it acknowledges it.
	ErrDeferred = errors.New("update deferred")
)

// Handler processes one update. A nil return acknowledges it.
type Handler func(ctx context.Context, u models.Update) error

// HandlerTable maps each update kind to its handler. Kinds without an entry
// are tolerated and counted as failures.
type HandlerTable map[models.UpdateKind]Handler

// HandlerError describes a failed dispatch.
type HandlerError struct {
	UpdateID  int64
	Kind      models.UpdateKind
	Retryable bool
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("update %d (%s): %v", e.UpdateID, e.Kind, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// retryableError marks an error as transient.
type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

// Retryable marks err as transient so callers may choose to try again.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err: err}
}

// IsRetryable reports whether err was marked transient.
func IsRetryable(err error) bool {
	var he *HandlerError
	if errors.As(err, &he) {
		return he.Retryable
	}
	var re retryableError
	return errors.As(err, &re)
}

// Dispatch runs the handler registered for u.Kind. Handler panics are
// recovered and reported as errors. Every failure is a *HandlerError.
func (t HandlerTable) Dispatch(ctx context.Context, u models.Update) (err error) {
	h, ok := t[u.Kind]
	if !ok || h == nil {
		return &HandlerError{UpdateID: u.ID, Kind: u.Kind, Err: ErrNoHandler}
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("HandlerTable.Dispatch: handler panicked", "updateID", u.ID, "kind", u.Kind, "panic", r, "stack", string(debug.Stack()))
			err = &HandlerError{UpdateID: u.ID, Kind: u.Kind, Err: fmt.Errorf("handler panic: %v", r)}
		}
	}()
	if herr := h(ctx, u); herr != nil {
		var re retryableError
		return &HandlerError{UpdateID: u.ID, Kind: u.Kind, Retryable: errors.As(herr, &re), Err: herr}
	}
	return nil
}
