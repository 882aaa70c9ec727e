package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/agrisense/agrisense-core/internal/alert"
)

// handleListAlerts returns the most recent alerts across all devices.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimitParam(w, r)
	if !ok {
		return
	}

	alerts, err := s.alerts.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list alerts", "error", err)
		writeInternalError(w, "failed to list alerts")
		return
	}

	if alerts == nil {
		alerts = []alert.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// handleListDeviceAlerts returns the most recent alerts for one device.
func (s *Server) handleListDeviceAlerts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit, ok := parseLimitParam(w, r)
	if !ok {
		return
	}

	alerts, err := s.alerts.ListByDevice(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to list alerts", "device_id", id, "error", err)
		writeInternalError(w, "failed to list alerts")
		return
	}

	if alerts == nil {
		alerts = []alert.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// parseLimitParam parses the optional limit query parameter. A parse
// failure writes a 400 response and returns ok=false.
func parseLimitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		writeBadRequest(w, "limit must be a positive integer")
		return 0, false
	}
	return limit, true
}
