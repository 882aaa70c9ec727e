package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agrisense/agrisense-core/internal/device"
	"github.com/agrisense/agrisense-core/internal/reading"
)

// handleListReadings returns a device's reading history, newest first.
//
// Query parameters:
//   - from, to: optional RFC 3339 timestamps bounding the range
//   - limit: optional result cap (default 100, maximum 1000)
func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.directory.Get(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("failed to get device", "id", id, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}

	from, ok := parseTimeParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := parseTimeParam(w, r, "to")
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	readings, err := s.readings.QueryByDevice(r.Context(), id, from, to, limit)
	if err != nil {
		if errors.Is(err, reading.ErrInvalidRange) {
			writeBadRequest(w, "from must not be after to")
			return
		}
		s.logger.Error("failed to query readings", "device_id", id, "error", err)
		writeInternalError(w, "failed to query readings")
		return
	}

	if readings == nil {
		readings = []reading.Reading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

// parseTimeParam parses an optional RFC 3339 query parameter. A parse
// failure writes a 400 response and returns ok=false.
func parseTimeParam(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeBadRequest(w, name+" must be an RFC 3339 timestamp")
		return nil, false
	}
	return &t, true
}
