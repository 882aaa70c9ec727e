package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agrisense/agrisense-core/internal/device"
)

// handleListDevices returns all known devices, optionally filtered by
// category (?category=temperature).
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.directory.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	if category := r.URL.Query().Get("category"); category != "" {
		if !device.Category(category).IsValid() {
			writeBadRequest(w, "unknown category: "+category)
			return
		}
		filtered := devices[:0]
		for _, d := range devices {
			if d.Category == device.Category(category) {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.directory.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("failed to get device", "id", id, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// updateDeviceRequest is the payload for modifying a device.
// Nil fields are left unchanged; bounds may be cleared by sending null
// with the clear flags.
type updateDeviceRequest struct {
	Name        *string  `json:"name"`
	Category    *string  `json:"category"`
	Unit        *string  `json:"unit"`
	Active      *bool    `json:"active"`
	MinValue    *float64 `json:"min_value"`
	MaxValue    *float64 `json:"max_value"`
	ClearBounds bool     `json:"clear_bounds"`
}

// handleUpdateDevice modifies a device's display name, category,
// activity flag, or alert bounds.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.directory.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("failed to get device", "id", id, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}

	var req updateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			writeBadRequest(w, "name cannot be empty")
			return
		}
		d.Name = *req.Name
	}
	if req.Category != nil {
		d.Category = device.Category(*req.Category)
	}
	if req.Unit != nil {
		d.Unit = *req.Unit
	}
	if req.Active != nil {
		d.Active = *req.Active
	}
	if req.ClearBounds {
		d.MinValue = nil
		d.MaxValue = nil
	}
	if req.MinValue != nil {
		d.MinValue = req.MinValue
	}
	if req.MaxValue != nil {
		d.MaxValue = req.MaxValue
	}

	if err := s.directory.Update(r.Context(), d); err != nil {
		switch {
		case errors.Is(err, device.ErrInvalidCategory):
			writeBadRequest(w, "unknown category")
		case errors.Is(err, device.ErrDeviceNotFound):
			writeNotFound(w, "device not found")
		default:
			s.logger.Error("failed to update device", "id", id, "error", err)
			writeInternalError(w, "failed to update device")
		}
		return
	}

	writeJSON(w, http.StatusOK, d)
}
