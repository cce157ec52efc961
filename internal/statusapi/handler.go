// Package statusapi exposes a connection manager over HTTP.
package statusapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/rickgao/adw-relay/internal/connection"
	"github.com/rickgao/adw-relay/internal/health"
	"github.com/rickgao/adw-relay/internal/journal"
	"github.com/rickgao/adw-relay/internal/version"
)

// MaxSendBody bounds POST /send payloads.
const MaxSendBody = 1 << 20

// Controller is the part of connection.Manager the API drives.
type Controller interface {
	Status() connection.Status
	Connect()
	Disconnect()
	Send(payload []byte)
}

// JournalStats reports journal activity. Optional.
type JournalStats interface {
	Stats() journal.Metrics
}

// Overall health labels.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status     string         `json:"status"`
	Components map[string]any `json:"components"`
}

// NewHandler creates the HTTP handler. journalStats may be nil.
func NewHandler(ctrl Controller, journalStats JournalStats, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "statusapi")

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		st := ctrl.Status()

		resp := HealthResponse{
			Status: overall(st),
			Components: map[string]any{
				"connection": map[string]any{
					"state":     st.State,
					"health":    st.Health,
					"latencyMs": st.LatencyMs,
					"queued":    st.QueuedCount,
				},
			},
		}
		if journalStats != nil {
			resp.Components["journal"] = journalStats.Stats()
		}

		code := http.StatusOK
		if st.State == connection.StateFailed {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp, logger)
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctrl.Status(), logger)
	})

	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, version.Get(), logger)
	})

	mux.HandleFunc("POST /connect", func(w http.ResponseWriter, r *http.Request) {
		ctrl.Connect()
		logger.Info("connect requested", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusAccepted, ctrl.Status(), logger)
	})

	mux.HandleFunc("POST /disconnect", func(w http.ResponseWriter, r *http.Request) {
		ctrl.Disconnect()
		logger.Info("disconnect requested", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusOK, ctrl.Status(), logger)
	})

	mux.HandleFunc("POST /send", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxSendBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "body exceeds limit", logger)
				return
			}
			logger.Debug("read send body", "error", err)
			writeError(w, http.StatusBadRequest, "cannot read body", logger)
			return
		}
		if len(body) == 0 {
			writeError(w, http.StatusBadRequest, "empty body", logger)
			return
		}

		ctrl.Send(body)
		st := ctrl.Status()
		writeJSON(w, http.StatusAccepted, map[string]any{
			"state":  st.State,
			"queued": st.QueuedCount,
		}, logger)
	})

	return mux
}

// overall folds the connection status into one label.
func overall(st connection.Status) string {
	switch st.State {
	case connection.StateConnected:
		if st.Health == health.Unhealthy {
			return StatusDegraded
		}
		return StatusHealthy
	case connection.StateFailed:
		return StatusUnhealthy
	default:
		return StatusDegraded
	}
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string, logger *slog.Logger) {
	writeJSON(w, code, map[string]string{"error": msg}, logger)
}
