package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agrisense/agrisense-core/internal/broker"
)

// brokerResponse is a broker row plus its live connection state.
type brokerResponse struct {
	broker.Broker
	Connected bool `json:"connected"`
}

func (s *Server) brokerResponse(b *broker.Broker) brokerResponse {
	connected := false
	if s.manager != nil {
		connected = s.manager.IsConnected(b.ID)
	}
	return brokerResponse{Broker: *b, Connected: connected}
}

// handleListBrokers returns all registered brokers.
func (s *Server) handleListBrokers(w http.ResponseWriter, r *http.Request) {
	brokers, err := s.brokers.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list brokers", "error", err)
		writeInternalError(w, "failed to list brokers")
		return
	}

	responses := make([]brokerResponse, 0, len(brokers))
	for i := range brokers {
		responses = append(responses, s.brokerResponse(&brokers[i]))
	}
	writeJSON(w, http.StatusOK, responses)
}

// createBrokerRequest is the payload for registering a broker.
type createBrokerRequest struct {
	Name     string   `json:"name"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	TLS      bool     `json:"tls"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	Topics   []string `json:"topics"`
	Active   *bool    `json:"active"`
}

// handleCreateBroker registers a new broker and, when active, connects
// to it immediately.
func (s *Server) handleCreateBroker(w http.ResponseWriter, r *http.Request) {
	var req createBrokerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}
	if req.Host == "" {
		writeBadRequest(w, "host is required")
		return
	}
	if req.Port < 1 || req.Port > 65535 {
		writeBadRequest(w, "port must be between 1 and 65535")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	b := &broker.Broker{
		Name:     req.Name,
		Host:     req.Host,
		Port:     req.Port,
		TLS:      req.TLS,
		Username: req.Username,
		Password: req.Password,
		Topics:   req.Topics,
		Active:   active,
	}

	if err := s.brokers.Create(r.Context(), b); err != nil {
		if errors.Is(err, broker.ErrBrokerExists) {
			writeConflict(w, "a broker with this name already exists")
			return
		}
		s.logger.Error("failed to create broker", "error", err)
		writeInternalError(w, "failed to create broker")
		return
	}

	// Connection is a side-effect: a dial failure leaves the row in place
	// and is reported through the connected flag.
	if b.Active && s.manager != nil {
		if err := s.manager.Connect(r.Context(), b); err != nil {
			s.logger.Warn("broker registered but connection failed",
				"broker", b.Name,
				"error", err,
			)
		}
	}

	writeJSON(w, http.StatusCreated, s.brokerResponse(b))
}

// handleGetBroker returns a single broker by ID.
func (s *Server) handleGetBroker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b, err := s.brokers.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, broker.ErrBrokerNotFound) {
			writeNotFound(w, "broker not found")
			return
		}
		s.logger.Error("failed to get broker", "id", id, "error", err)
		writeInternalError(w, "failed to get broker")
		return
	}

	writeJSON(w, http.StatusOK, s.brokerResponse(b))
}

// updateBrokerRequest is the payload for modifying a broker.
// Nil fields are left unchanged.
type updateBrokerRequest struct {
	Name     *string   `json:"name"`
	Host     *string   `json:"host"`
	Port     *int      `json:"port"`
	TLS      *bool     `json:"tls"`
	Username *string   `json:"username"`
	Password *string   `json:"password"`
	Topics   *[]string `json:"topics"`
	Active   *bool     `json:"active"`
}

// handleUpdateBroker modifies a broker and reconciles its connection:
// an active broker is (re)connected with the new settings, an inactive
// one is disconnected.
func (s *Server) handleUpdateBroker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b, err := s.brokers.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, broker.ErrBrokerNotFound) {
			writeNotFound(w, "broker not found")
			return
		}
		s.logger.Error("failed to get broker", "id", id, "error", err)
		writeInternalError(w, "failed to get broker")
		return
	}

	var req updateBrokerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	// The built-in broker is matched by name on startup; renaming it
	// would orphan the row.
	if req.Name != nil && *req.Name != b.Name && b.BuiltIn {
		writeForbidden(w, "the built-in broker cannot be renamed")
		return
	}

	if req.Name != nil {
		b.Name = *req.Name
	}
	if req.Host != nil {
		b.Host = *req.Host
	}
	if req.Port != nil {
		if *req.Port < 1 || *req.Port > 65535 {
			writeBadRequest(w, "port must be between 1 and 65535")
			return
		}
		b.Port = *req.Port
	}
	if req.TLS != nil {
		b.TLS = *req.TLS
	}
	if req.Username != nil {
		b.Username = *req.Username
	}
	if req.Password != nil {
		b.Password = *req.Password
	}
	if req.Topics != nil {
		b.Topics = *req.Topics
	}
	if req.Active != nil {
		b.Active = *req.Active
	}

	if err := s.brokers.Update(r.Context(), b); err != nil {
		if errors.Is(err, broker.ErrBrokerExists) {
			writeConflict(w, "a broker with this name already exists")
			return
		}
		s.logger.Error("failed to update broker", "id", id, "error", err)
		writeInternalError(w, "failed to update broker")
		return
	}

	// Reconcile the live connection with the new settings.
	if s.manager != nil {
		if b.Active {
			if err := s.manager.Connect(r.Context(), b); err != nil {
				s.logger.Warn("broker updated but reconnection failed",
					"broker", b.Name,
					"error", err,
				)
			}
		} else {
			s.manager.Disconnect(b.ID)
		}
	}

	writeJSON(w, http.StatusOK, s.brokerResponse(b))
}

// handleDeleteBroker tears down a broker's connection and removes its
// row, in that order, so no session outlives its registry entry. The
// built-in broker is protected.
func (s *Server) handleDeleteBroker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b, err := s.brokers.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, broker.ErrBrokerNotFound) {
			writeNotFound(w, "broker not found")
			return
		}
		s.logger.Error("failed to get broker", "id", id, "error", err)
		writeInternalError(w, "failed to delete broker")
		return
	}
	if b.BuiltIn {
		writeForbidden(w, "the built-in broker cannot be deleted")
		return
	}

	if s.manager != nil {
		s.manager.Disconnect(id)
	}

	if err := s.brokers.Delete(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, broker.ErrBrokerNotFound):
			writeNotFound(w, "broker not found")
		case errors.Is(err, broker.ErrBrokerProtected):
			writeForbidden(w, "the built-in broker cannot be deleted")
		default:
			s.logger.Error("failed to delete broker", "id", id, "error", err)
			writeInternalError(w, "failed to delete broker")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}
