// Package api provides the status HTTP server for RelayNote.
//
// It exposes liveness, the reconnection monitor's view of the upstream
// connection, the last drain result, and a way to trigger a drain manually.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/RelayNote/internal/queue"
)

// DefaultAddr is the address the status server listens on.
const DefaultAddr = ":8080"

// ConnectionMonitor reports the upstream connection state. *queue.Monitor implements it.
type ConnectionMonitor interface {
	State() queue.State
	LastCheck() time.Time
}

// DrainRunner drains the backlog on demand. *queue.Processor implements it.
type DrainRunner interface {
	Drain(ctx context.Context) (queue.DrainResult, error)
	LastDrain() (queue.DrainResult, bool)
}

// OffsetReader exposes the durable watermark. *store.OffsetStore implements it.
type OffsetReader interface {
	GetLastOffset(ctx context.Context) (int64, bool)
}

// PendingCounter reports buffered media groups. *mediagroup.Collector implements it.
type PendingCounter interface {
	PendingCount() int
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr    string
	Monitor ConnectionMonitor
	Drainer DrainRunner
	Offsets OffsetReader
	Pending PendingCounter
}

// Option defines a function that modifies server Opts.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithMonitor sets the connection monitor.
func WithMonitor(m ConnectionMonitor) Option {
	return func(o *Opts) { o.Monitor = m }
}

// WithDrainer sets the drain runner.
func WithDrainer(d DrainRunner) Option {
	return func(o *Opts) { o.Drainer = d }
}

// WithOffsets sets the watermark reader.
func WithOffsets(r OffsetReader) Option {
	return func(o *Opts) { o.Offsets = r }
}

// WithPending sets the media-group counter.
func WithPending(p PendingCounter) Option {
	return func(o *Opts) { o.Pending = p }
}

// Server serves the status API.
type Server struct {
	addr    string
	monitor ConnectionMonitor
	drainer DrainRunner
	offsets OffsetReader
	pending PendingCounter
	httpSrv *http.Server
}

// NewServer creates a status server. Unset components are reported as unknown.
func NewServer(opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		addr:    cfg.Addr,
		monitor: cfg.Monitor,
		drainer: cfg.Drainer,
		offsets: cfg.Offsets,
		pending: cfg.Pending,
	}
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for use in tests or embedding.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/drain", s.drainHandler)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: status API listening", "addr", s.addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		slog.Error("Server.Run: listener failed", "addr", s.addr, "error", err)
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: shutdown failed", "error", err)
		return err
	}
	slog.Info("Server.Run: status API stopped")
	return nil
}
