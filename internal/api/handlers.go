package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/RelayNote/internal/models"
	"github.com/BTreeMap/RelayNote/internal/queue"
)

// StatusReport is the body of GET /status.
type StatusReport struct {
	State              string             `json:"state"`
	LastCheck          *time.Time         `json:"last_check,omitempty"`
	LastOffset         *int64             `json:"last_offset,omitempty"`
	PendingMediaGroups int                `json:"pending_media_groups"`
	LastDrain          *queue.DrainResult `json:"last_drain,omitempty"`
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allow string) bool {
	if r.Method == allow {
		return false
	}
	w.Header().Set("Allow", allow)
	slog.Warn("Server: method not allowed", "method", r.Method, "path", r.URL.Path)
	writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	return true
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodGet) {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodGet) {
		return
	}
	slog.Debug("Server.statusHandler: building status report")

	report := StatusReport{State: "unknown"}
	if s.monitor != nil {
		report.State = s.monitor.State().String()
		if last := s.monitor.LastCheck(); !last.IsZero() {
			report.LastCheck = &last
		}
	}
	if s.offsets != nil {
		if last, ok := s.offsets.GetLastOffset(r.Context()); ok {
			report.LastOffset = &last
		}
	}
	if s.pending != nil {
		report.PendingMediaGroups = s.pending.PendingCount()
	}
	if s.drainer != nil {
		if res, ok := s.drainer.LastDrain(); ok {
			report.LastDrain = &res
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(report))
}

// drainHandler runs a drain synchronously. The drain is detached from the
// request so a disconnecting client does not abort it half way.
func (s *Server) drainHandler(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodPost) {
		return
	}
	if s.drainer == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Drain not available"))
		return
	}

	slog.Info("Server.drainHandler: manual drain requested", "remote", r.RemoteAddr)
	res, err := s.drainer.Drain(context.WithoutCancel(r.Context()))
	if err != nil {
		slog.Error("Server.drainHandler: drain interrupted", "error", err, "processed", res.Processed)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Drain interrupted: "+err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}
